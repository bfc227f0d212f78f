package handler

import (
	"bytes"
	"mime"
	"net/http"
	"path/filepath"
	"time"
)

// ServeAttachment отдаёт содержимое вложения: GET /attachments/{attachmentId}/file.
// На удалённое вложение отвечает 410.
func (h *MessageHandler) ServeAttachment(w http.ResponseWriter, r *http.Request) {
	attID := attachmentIDParam(r)
	a, data, err := h.store.AttachmentData(r.Context(), attID)
	if err != nil {
		writeStoreError(w, err, "failed to get attachment")
		return
	}
	if _, ok := h.loadAccessible(w, r, a.MessageID); !ok {
		return
	}
	if a.DeletedAt != nil {
		writeError(w, http.StatusGone, "attachment deleted")
		return
	}

	ct := a.MimeType
	if ct == "" {
		ct = mime.TypeByExtension(filepath.Ext(a.FileName))
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	if disp := mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(a.FileName)}); disp != "" {
		w.Header().Set("Content-Disposition", disp)
	}
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
}
