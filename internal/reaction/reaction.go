// Package reaction keeps reaction lists unique per (subject, user, emoji).
package reaction

import (
	"sync"

	"github.com/chatsync/internal/model"
)

// AddMessageReaction appends r unless the same user already reacted with the
// same emoji. It reports whether the list changed.
func AddMessageReaction(list []model.Reaction, r model.Reaction) ([]model.Reaction, bool) {
	for _, x := range list {
		if x.UserID == r.UserID && x.Emoji == r.Emoji {
			return list, false
		}
	}
	return append(list, r), true
}

// RemoveMessageReaction drops every matching record.
func RemoveMessageReaction(list []model.Reaction, user model.ID, emoji string) ([]model.Reaction, bool) {
	out := list[:0:0]
	for _, x := range list {
		if x.UserID == user && x.Emoji == emoji {
			continue
		}
		out = append(out, x)
	}
	return out, len(out) != len(list)
}

func AddAttachmentReaction(list []model.AttachmentReaction, r model.AttachmentReaction) ([]model.AttachmentReaction, bool) {
	for _, x := range list {
		if x.UserID == r.UserID && x.Emoji == r.Emoji {
			return list, false
		}
	}
	return append(list, r), true
}

func RemoveAttachmentReaction(list []model.AttachmentReaction, user model.ID, emoji string) ([]model.AttachmentReaction, bool) {
	out := list[:0:0]
	for _, x := range list {
		if x.UserID == user && x.Emoji == emoji {
			continue
		}
		out = append(out, x)
	}
	return out, len(out) != len(list)
}

// Subject tells message and attachment reactions apart; their ids come from
// separate sequences.
type Subject uint8

const (
	OnMessage Subject = iota + 1
	OnAttachment
)

// Key identifies a locally issued reaction change.
type Key struct {
	Subject Subject
	ID      model.ID
	User    model.ID
	Emoji   string
}

func MessageKey(messageID, user model.ID, emoji string) Key {
	return Key{Subject: OnMessage, ID: messageID, User: user, Emoji: emoji}
}

func AttachmentKey(attachmentID, user model.ID, emoji string) Key {
	return Key{Subject: OnAttachment, ID: attachmentID, User: user, Emoji: emoji}
}

// PendingKeys holds reaction changes the client applied optimistically and
// has not heard back about.
type PendingKeys struct {
	mu   sync.Mutex
	keys map[Key]struct{}
}

func NewPendingKeys() *PendingKeys {
	return &PendingKeys{keys: make(map[Key]struct{})}
}

// Add reports false when key was already pending.
func (p *PendingKeys) Add(key Key) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.keys[key]; ok {
		return false
	}
	p.keys[key] = struct{}{}
	return true
}

func (p *PendingKeys) Has(key Key) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.keys[key]
	return ok
}

func (p *PendingKeys) Remove(key Key) {
	p.mu.Lock()
	delete(p.keys, key)
	p.mu.Unlock()
}

func (p *PendingKeys) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}
