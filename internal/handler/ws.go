package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/ws"
	"github.com/gorilla/websocket"
)

// WSHandler поднимает realtime-соединения. Пользователь уже определён Identity.
type WSHandler struct {
	hub      *ws.Hub
	origins  map[string]struct{}
	upgrader websocket.Upgrader
}

// NewWSHandler: allowedOrigins задаются как в CORS, через запятую. Пусто или "*" разрешает любой origin.
func NewWSHandler(hub *ws.Hub, allowedOrigins string) *WSHandler {
	h := &WSHandler{hub: hub, origins: parseOrigins(allowedOrigins)}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.originAllowed,
	}
	return h
}

// parseOrigins возвращает nil, если разрешены все.
func parseOrigins(list string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, o := range strings.Split(list, ",") {
		o = strings.TrimSpace(o)
		if o == "*" {
			return nil
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func (h *WSHandler) originAllowed(r *http.Request) bool {
	if h.origins == nil {
		return true
	}
	// Без Origin приходят не браузеры (CLI, тесты)
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	_, ok := h.origins[origin]
	return ok
}

// ServeWS регистрирует соединение в хабе. Подписки клиент оформляет сам
// кадрами subscribe.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if !h.originAllowed(r) {
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade user=%s: %v", userID, err)
		return
	}

	client := ws.NewClient(h.hub, conn, userID)
	if !h.hub.Register(client) {
		refuse(conn, "too many connections")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	client.Start(ctx, cancel)
}

// refuse закрывает соединение с кодом 1013: клиент может переподключиться позже.
func refuse(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		logger.Debugf("ws refuse: %v", err)
	}
	conn.Close()
}
