package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/realtime"
	"github.com/chatsync/internal/repository"
	"github.com/go-chi/chi/v5"
)

const defaultMaxUpload = 20 << 20

type MessageHandler struct {
	store     repository.Store
	hub       Publisher
	maxUpload int64
}

func NewMessageHandler(store repository.Store, hub Publisher, maxUpload int64) *MessageHandler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &MessageHandler{store: store, hub: hub, maxUpload: maxUpload}
}

type createMessageRequest struct {
	Body                string            `json:"body"`
	Type                model.MessageType `json:"type"`
	TeamID              model.ID          `json:"team_id"`
	RecipientID         model.ID          `json:"recipient_id"`
	ReplyToMessageID    model.ID          `json:"reply_to_message_id"`
	ReplyToAttachmentID model.ID          `json:"reply_to_attachment_id"`
}

// messageChannel — канал переписки, в которой лежит сообщение.
func messageChannel(m *model.Message) string {
	if m.TeamID != "" {
		return realtime.TeamChannel(m.TeamID)
	}
	return realtime.DirectChannel(m.SenderID, m.RecipientID)
}

// canAccess: командные сообщения видны всем, личные только участникам.
func canAccess(m *model.Message, userID model.ID) bool {
	if m.TeamID != "" {
		return true
	}
	return m.SenderID == userID || m.RecipientID == userID
}

// CreateMessage принимает JSON или multipart (поля + части attachments[n]).
func (h *MessageHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var (
		req   createMessageRequest
		files []repository.File
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var err error
		req, files, err = h.parseMultipart(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if (req.TeamID == "") == (req.RecipientID == "") {
		writeError(w, http.StatusBadRequest, "exactly one of team_id and recipient_id is required")
		return
	}
	if strings.TrimSpace(req.Body) == "" && len(files) == 0 {
		writeError(w, http.StatusBadRequest, "body or attachments required")
		return
	}
	if req.Type == "" {
		req.Type = model.MessageTypeText
		if len(files) > 0 {
			req.Type = model.MessageTypeFile
		}
	}
	if req.Type != model.MessageTypeText && req.Type != model.MessageTypeFile {
		writeError(w, http.StatusBadRequest, "invalid type")
		return
	}
	if req.ReplyToMessageID != "" {
		reply, err := h.store.GetMessage(r.Context(), req.ReplyToMessageID)
		if err != nil || !canAccess(reply, userID) {
			writeError(w, http.StatusBadRequest, "invalid reply_to_message_id")
			return
		}
	}

	msg, err := h.store.CreateMessage(r.Context(), repository.NewMessage{
		TeamID:              req.TeamID,
		RecipientID:         req.RecipientID,
		SenderID:            userID,
		SenderName:          r.Header.Get("X-User-Name"),
		Body:                req.Body,
		Type:                req.Type,
		ReplyToMessageID:    req.ReplyToMessageID,
		ReplyToAttachmentID: req.ReplyToAttachmentID,
		Files:               files,
	})
	if err != nil {
		writeStoreError(w, err, "failed to create message")
		return
	}

	publish(h.hub, messageChannel(msg), realtime.EventMessageSent, realtime.MessageSentPayload{Message: *msg})
	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) parseMultipart(w http.ResponseWriter, r *http.Request) (createMessageRequest, []repository.File, error) {
	var req createMessageRequest
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, nil, errors.New("request too large")
		}
		return req, nil, errors.New("invalid multipart form")
	}
	req.Body = r.FormValue("body")
	req.Type = model.MessageType(r.FormValue("type"))
	req.TeamID = model.ID(r.FormValue("team_id"))
	req.RecipientID = model.ID(r.FormValue("recipient_id"))
	req.ReplyToMessageID = model.ID(r.FormValue("reply_to_message_id"))
	req.ReplyToAttachmentID = model.ID(r.FormValue("reply_to_attachment_id"))

	keys := make([]string, 0, len(r.MultipartForm.File))
	for k := range r.MultipartForm.File {
		if strings.HasPrefix(k, "attachments") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var files []repository.File
	for _, k := range keys {
		for _, fh := range r.MultipartForm.File[k] {
			f, err := fh.Open()
			if err != nil {
				return req, nil, errors.New("invalid attachment")
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return req, nil, errors.New("invalid attachment")
			}
			mime := fh.Header.Get("Content-Type")
			if mime == "" {
				mime = "application/octet-stream"
			}
			files = append(files, repository.File{Name: fh.Filename, MimeType: mime, Data: data})
		}
	}
	return req, files, nil
}

// GetMessages отдаёт страницу истории: ?team_id= или ?recipient_id=, before, limit.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	q := repository.HistoryQuery{
		TeamID: model.ID(r.URL.Query().Get("team_id")),
		UserID: userID,
		PeerID: model.ID(r.URL.Query().Get("recipient_id")),
		Before: model.ID(r.URL.Query().Get("before")),
		Limit:  queryInt(r, "limit", repository.DefaultHistoryLimit),
	}
	if (q.TeamID == "") == (q.PeerID == "") {
		writeError(w, http.StatusBadRequest, "exactly one of team_id and recipient_id is required")
		return
	}
	messages, err := h.store.History(r.Context(), q)
	if err != nil {
		writeStoreError(w, err, "failed to get messages")
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// MarkReadBatch сохраняет квитанции и отправляет каждому автору пакетный MessageRead
// в его личный канал.
func (h *MessageHandler) MarkReadBatch(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req struct {
		MessageIDs []model.ID `json:"message_ids"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.MessageIDs) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"reads": []model.ReadReceipt{}})
		return
	}

	stored, err := h.store.MarkRead(r.Context(), userID, req.MessageIDs)
	if err != nil {
		writeStoreError(w, err, "failed to mark as read")
		return
	}

	reads := make([]model.ReadReceipt, 0, len(stored))
	byAuthor := make(map[model.ID][]model.ReadReceipt)
	var authors []model.ID
	for _, rd := range stored {
		reads = append(reads, rd.ReadReceipt)
		if _, ok := byAuthor[rd.AuthorID]; !ok {
			authors = append(authors, rd.AuthorID)
		}
		byAuthor[rd.AuthorID] = append(byAuthor[rd.AuthorID], rd.ReadReceipt)
	}
	for _, author := range authors {
		publish(h.hub, realtime.UserChannel(author), realtime.EventMessageRead, realtime.MessageReadPayload{Reads: byAuthor[author]})
	}
	writeJSON(w, http.StatusOK, map[string]any{"reads": reads})
}

// loadAccessible возвращает сообщение {messageId}, если оно видно пользователю.
func (h *MessageHandler) loadAccessible(w http.ResponseWriter, r *http.Request, id model.ID) (*model.Message, bool) {
	m, err := h.store.GetMessage(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "failed to get message")
		return nil, false
	}
	if !canAccess(m, middleware.GetUserID(r.Context())) {
		writeError(w, http.StatusForbidden, "not a participant")
		return nil, false
	}
	return m, true
}

func messageIDParam(r *http.Request) model.ID { return model.ID(chi.URLParam(r, "messageId")) }

func attachmentIDParam(r *http.Request) model.ID { return model.ID(chi.URLParam(r, "attachmentId")) }
