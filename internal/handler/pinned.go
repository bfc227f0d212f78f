package handler

import (
	"net/http"
	"time"

	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/realtime"
)

func (h *MessageHandler) PinMessage(w http.ResponseWriter, r *http.Request) {
	h.setPinned(w, r, true)
}

func (h *MessageHandler) UnpinMessage(w http.ResponseWriter, r *http.Request) {
	h.setPinned(w, r, false)
}

func (h *MessageHandler) setPinned(w http.ResponseWriter, r *http.Request, pinned bool) {
	m, ok := h.loadAccessible(w, r, messageIDParam(r))
	if !ok {
		return
	}
	changed, err := h.store.SetPinned(r.Context(), m.ID, pinned)
	if err != nil {
		writeStoreError(w, err, "failed to pin message")
		return
	}
	if changed {
		event := realtime.EventMessageUnpinned
		if pinned {
			event = realtime.EventMessagePinned
		}
		publish(h.hub, messageChannel(m), event, realtime.MessageStatePayload{
			MessageID: m.ID,
			UserID:    middleware.GetUserID(r.Context()),
		})
	}
	writeJSON(w, http.StatusOK, okResponse)
}

// DeleteMessage мягко удаляет сообщение. Удалять и восстанавливать может только автор.
func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	at := time.Now().UTC()
	h.setDeleted(w, r, &at)
}

func (h *MessageHandler) RestoreMessage(w http.ResponseWriter, r *http.Request) {
	h.setDeleted(w, r, nil)
}

func (h *MessageHandler) setDeleted(w http.ResponseWriter, r *http.Request, at *time.Time) {
	userID := middleware.GetUserID(r.Context())
	m, ok := h.loadAccessible(w, r, messageIDParam(r))
	if !ok {
		return
	}
	if m.SenderID != userID {
		writeError(w, http.StatusForbidden, "not the author")
		return
	}
	changed, err := h.store.SetDeleted(r.Context(), m.ID, at)
	if err != nil {
		writeStoreError(w, err, "failed to delete message")
		return
	}
	if changed {
		event := realtime.EventMessageRestored
		if at != nil {
			event = realtime.EventMessageDeleted
		}
		publish(h.hub, messageChannel(m), event, realtime.MessageStatePayload{MessageID: m.ID, UserID: userID, At: at})
	}
	writeJSON(w, http.StatusOK, okResponse)
}

func (h *MessageHandler) PinAttachment(w http.ResponseWriter, r *http.Request) {
	h.setAttachmentPinned(w, r, true)
}

func (h *MessageHandler) UnpinAttachment(w http.ResponseWriter, r *http.Request) {
	h.setAttachmentPinned(w, r, false)
}

func (h *MessageHandler) setAttachmentPinned(w http.ResponseWriter, r *http.Request, pinned bool) {
	attID := attachmentIDParam(r)
	m, ok := h.loadAttachmentMessage(w, r, attID)
	if !ok {
		return
	}
	_, changed, err := h.store.SetAttachmentPinned(r.Context(), attID, pinned)
	if err != nil {
		writeStoreError(w, err, "failed to pin attachment")
		return
	}
	if changed {
		event := realtime.EventAttachmentUnpinned
		if pinned {
			event = realtime.EventAttachmentPinned
		}
		publish(h.hub, messageChannel(m), event, realtime.AttachmentStatePayload{MessageID: m.ID, AttachmentID: attID})
	}
	writeJSON(w, http.StatusOK, okResponse)
}

func (h *MessageHandler) DeleteAttachment(w http.ResponseWriter, r *http.Request) {
	at := time.Now().UTC()
	h.setAttachmentDeleted(w, r, &at)
}

func (h *MessageHandler) RestoreAttachment(w http.ResponseWriter, r *http.Request) {
	h.setAttachmentDeleted(w, r, nil)
}

func (h *MessageHandler) setAttachmentDeleted(w http.ResponseWriter, r *http.Request, at *time.Time) {
	attID := attachmentIDParam(r)
	m, ok := h.loadAttachmentMessage(w, r, attID)
	if !ok {
		return
	}
	if m.SenderID != middleware.GetUserID(r.Context()) {
		writeError(w, http.StatusForbidden, "not the author")
		return
	}
	_, changed, err := h.store.SetAttachmentDeleted(r.Context(), attID, at)
	if err != nil {
		writeStoreError(w, err, "failed to delete attachment")
		return
	}
	if changed {
		event := realtime.EventAttachmentRestored
		if at != nil {
			event = realtime.EventAttachmentDeleted
		}
		publish(h.hub, messageChannel(m), event, realtime.AttachmentStatePayload{MessageID: m.ID, AttachmentID: attID, At: at})
	}
	writeJSON(w, http.StatusOK, okResponse)
}

// loadAttachmentMessage возвращает сообщение, которому принадлежит вложение, с проверкой доступа.
func (h *MessageHandler) loadAttachmentMessage(w http.ResponseWriter, r *http.Request, attID model.ID) (*model.Message, bool) {
	a, _, err := h.store.AttachmentData(r.Context(), attID)
	if err != nil {
		writeStoreError(w, err, "failed to get attachment")
		return nil, false
	}
	return h.loadAccessible(w, r, a.MessageID)
}
