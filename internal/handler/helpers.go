package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/realtime"
	"github.com/chatsync/internal/repository"
)

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Status string `json:"status"`
}

var okResponse = statusResponse{Status: "ok"}

// Publisher рассылает кадр подписчикам канала (ws.Hub).
type Publisher interface {
	Publish(f realtime.Frame) int
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeStoreError отдаёт 404 для ErrNotFound, иначе 500 с сообщением msg.
func writeStoreError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	logger.Errorf("%s: %v", msg, err)
	writeError(w, http.StatusInternalServerError, msg)
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// publish кодирует payload и рассылает его в канал. Ошибки только логируются:
// изменение уже сохранено.
func publish(p Publisher, channel, event string, payload any) {
	f, err := realtime.NewFrame(channel, event, payload)
	if err != nil {
		logger.Errorf("publish %s %s: %v", event, channel, err)
		return
	}
	n := p.Publish(f)
	logger.Debugf("publish %s %s -> %d", event, channel, n)
}
