package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/realtime"
)

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

func decodeEmoji(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req reactionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	emoji := strings.TrimSpace(req.Emoji)
	if emoji == "" || len(emoji) > 64 {
		writeError(w, http.StatusBadRequest, "invalid emoji")
		return "", false
	}
	return emoji, true
}

// AddReaction / RemoveReaction: POST|DELETE /messages/{messageId}/reactions.
// Повторное добавление или удаление отсутствующей реакции не рассылает событие.
func (h *MessageHandler) AddReaction(w http.ResponseWriter, r *http.Request) {
	h.messageReaction(w, r, true)
}

func (h *MessageHandler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	h.messageReaction(w, r, false)
}

func (h *MessageHandler) messageReaction(w http.ResponseWriter, r *http.Request, add bool) {
	emoji, ok := decodeEmoji(w, r)
	if !ok {
		return
	}
	m, ok := h.loadAccessible(w, r, messageIDParam(r))
	if !ok {
		return
	}
	rc := model.Reaction{
		MessageID: m.ID,
		UserID:    middleware.GetUserID(r.Context()),
		Emoji:     emoji,
		UserName:  r.Header.Get("X-User-Name"),
		CreatedAt: time.Now().UTC(),
	}

	var (
		changed bool
		err     error
	)
	event := realtime.EventMessageReactionAdded
	if add {
		changed, err = h.store.AddReaction(r.Context(), rc)
	} else {
		event = realtime.EventMessageReactionRemoved
		changed, err = h.store.RemoveReaction(r.Context(), rc.MessageID, rc.UserID, emoji)
	}
	if err != nil {
		writeStoreError(w, err, "failed to update reaction")
		return
	}
	if changed {
		publish(h.hub, messageChannel(m), event, realtime.ReactionPayload{Reaction: rc})
	}
	writeJSON(w, http.StatusOK, okResponse)
}

func (h *MessageHandler) AddAttachmentReaction(w http.ResponseWriter, r *http.Request) {
	h.attachmentReaction(w, r, true)
}

func (h *MessageHandler) RemoveAttachmentReaction(w http.ResponseWriter, r *http.Request) {
	h.attachmentReaction(w, r, false)
}

func (h *MessageHandler) attachmentReaction(w http.ResponseWriter, r *http.Request, add bool) {
	emoji, ok := decodeEmoji(w, r)
	if !ok {
		return
	}
	attID := attachmentIDParam(r)
	m, ok := h.loadAttachmentMessage(w, r, attID)
	if !ok {
		return
	}
	rc := model.AttachmentReaction{
		AttachmentID: attID,
		UserID:       middleware.GetUserID(r.Context()),
		Emoji:        emoji,
		UserName:     r.Header.Get("X-User-Name"),
		CreatedAt:    time.Now().UTC(),
	}

	var (
		changed bool
		err     error
	)
	event := realtime.EventAttachmentReactionAdded
	if add {
		_, changed, err = h.store.AddAttachmentReaction(r.Context(), rc)
	} else {
		event = realtime.EventAttachmentReactionRemoved
		_, changed, err = h.store.RemoveAttachmentReaction(r.Context(), attID, rc.UserID, emoji)
	}
	if err != nil {
		writeStoreError(w, err, "failed to update reaction")
		return
	}
	if changed {
		publish(h.hub, messageChannel(m), event, realtime.AttachmentReactionPayload{MessageID: m.ID, Reaction: rc})
	}
	writeJSON(w, http.StatusOK, okResponse)
}
