package engine

import (
	"github.com/chatsync/internal/model"
)

// appendUnique appends the messages of page whose ids are not in dst yet.
func appendUnique(dst []model.Message, page []model.Message) []model.Message {
	seen := make(map[model.ID]struct{}, len(dst)+len(page))
	for _, m := range dst {
		seen[m.ID] = struct{}{}
	}
	for _, m := range page {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		dst = append(dst, m)
	}
	return dst
}

// without drops the messages of page already present in history.
func without(page, history []model.Message) []model.Message {
	known := make(map[model.ID]struct{}, len(history))
	for _, m := range history {
		known[m.ID] = struct{}{}
	}
	out := page[:0]
	for _, m := range page {
		if _, ok := known[m.ID]; !ok {
			out = append(out, m)
		}
	}
	return out
}

func find(history []model.Message, id model.ID) *model.Message {
	for i := range history {
		if history[i].ID == id {
			return &history[i]
		}
	}
	return nil
}

// findAttachment looks in messageID first, then anywhere when messageID is
// empty.
func findAttachment(history []model.Message, messageID, attachmentID model.ID) *model.Attachment {
	if messageID != "" {
		if m := find(history, messageID); m != nil {
			return m.Attachment(attachmentID)
		}
		return nil
	}
	for i := range history {
		if a := history[i].Attachment(attachmentID); a != nil {
			return a
		}
	}
	return nil
}

func cloneMessages(history []model.Message) []model.Message {
	out := make([]model.Message, len(history))
	for i, m := range history {
		m.Attachments = cloneAttachments(m.Attachments)
		m.Reactions = append([]model.Reaction(nil), m.Reactions...)
		m.Reads = append([]model.ReadReceipt(nil), m.Reads...)
		out[i] = m
	}
	return out
}

func cloneAttachments(in []model.Attachment) []model.Attachment {
	if in == nil {
		return nil
	}
	out := make([]model.Attachment, len(in))
	for i, a := range in {
		a.Reactions = append([]model.AttachmentReaction(nil), a.Reactions...)
		out[i] = a
	}
	return out
}
