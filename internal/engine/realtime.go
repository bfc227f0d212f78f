package engine

import (
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/reaction"
	"github.com/chatsync/internal/realtime"
)

var _ realtime.Handler = (*Engine)(nil)

// HandleRealtime applies a bridged event to the open conversation. Events
// that do not match it are ignored.
func (e *Engine) HandleRealtime(ev realtime.Event) {
	if r, ok := ev.(realtime.MessagesRead); ok {
		e.applyReads(r.Reads)
		return
	}
	if t, ok := ev.(realtime.Typing); ok {
		if e.onTyping != nil {
			e.onTyping(t.UserID, t.UserName)
		}
		return
	}

	s, err := e.current()
	if err != nil {
		return
	}
	if sent, ok := ev.(realtime.MessageSent); ok {
		if !s.conv.Contains(&sent.Message, e.self.ID) {
			logger.Debugf("engine: message %s is not for %s", sent.Message.ID, s.conv)
			return
		}
		e.applyHistory(s, []model.Message{sent.Message}, PlacementNewer)
		return
	}

	e.mu.Lock()
	changed := e.applyEventLocked(s, ev)
	e.mu.Unlock()
	if changed {
		e.notify(s, false)
	}
}

func (e *Engine) applyEventLocked(s *session, ev realtime.Event) bool {
	switch ev := ev.(type) {
	case realtime.ReactionChanged:
		if e.reactions.Has(reaction.MessageKey(ev.Reaction.MessageID, ev.Reaction.UserID, ev.Reaction.Emoji)) {
			return false
		}
		m := find(s.history, ev.Reaction.MessageID)
		if m == nil {
			return false
		}
		var changed bool
		if ev.Added {
			m.Reactions, changed = reaction.AddMessageReaction(m.Reactions, ev.Reaction)
		} else {
			m.Reactions, changed = reaction.RemoveMessageReaction(m.Reactions, ev.Reaction.UserID, ev.Reaction.Emoji)
		}
		return changed

	case realtime.AttachmentReactionChanged:
		if e.reactions.Has(reaction.AttachmentKey(ev.Reaction.AttachmentID, ev.Reaction.UserID, ev.Reaction.Emoji)) {
			return false
		}
		a := findAttachment(s.history, ev.MessageID, ev.Reaction.AttachmentID)
		if a == nil {
			return false
		}
		var changed bool
		if ev.Added {
			a.Reactions, changed = reaction.AddAttachmentReaction(a.Reactions, ev.Reaction)
		} else {
			a.Reactions, changed = reaction.RemoveAttachmentReaction(a.Reactions, ev.Reaction.UserID, ev.Reaction.Emoji)
		}
		return changed

	case realtime.MessagePinChanged:
		m := find(s.history, ev.MessageID)
		if m == nil || m.IsPinned == ev.Pinned {
			return false
		}
		m.IsPinned = ev.Pinned
		return true

	case realtime.MessageDeletionChanged:
		m := find(s.history, ev.MessageID)
		if m == nil || m.IsDeleted() == ev.Deleted {
			return false
		}
		m.DeletedAt = ev.DeletedAt
		return true

	case realtime.AttachmentChanged:
		a := findAttachment(s.history, ev.MessageID, ev.AttachmentID)
		if a == nil {
			return false
		}
		switch ev.Change {
		case realtime.AttachmentPinned, realtime.AttachmentUnpinned:
			pinned := ev.Change == realtime.AttachmentPinned
			if a.IsPinned == pinned {
				return false
			}
			a.IsPinned = pinned
		case realtime.AttachmentDeleted:
			if a.DeletedAt != nil {
				return false
			}
			at := e.now().UTC()
			if ev.At != nil {
				at = *ev.At
			}
			a.DeletedAt = &at
		case realtime.AttachmentRestored:
			if a.DeletedAt == nil {
				return false
			}
			a.DeletedAt = nil
		}
		return true
	}
	logger.Debugf("engine: unhandled event %s", ev.EventName())
	return false
}

// applyReads records receipts on every opened conversation.
func (e *Engine) applyReads(receipts []model.ReadReceipt) {
	var touched []*session
	e.mu.Lock()
	for _, s := range e.sessions {
		hit := false
		for _, r := range receipts {
			m := find(s.history, r.MessageID)
			if m == nil || m.ReadBy(r.UserID) {
				continue
			}
			if r.ReadAt.IsZero() {
				r.ReadAt = e.now().UTC()
			}
			m.Reads = append(m.Reads, r)
			hit = true
		}
		if hit {
			touched = append(touched, s)
		}
	}
	e.mu.Unlock()
	for _, s := range touched {
		e.notify(s, false)
	}
}
