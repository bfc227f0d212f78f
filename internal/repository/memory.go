package repository

import (
	"context"
	"sync"
	"time"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/reaction"
)

// MemoryStore — хранилище в памяти для dev-сервера без DATABASE_URL и для тестов.
type MemoryStore struct {
	now func() time.Time

	mu          sync.RWMutex
	messages    []*model.Message
	byID        map[model.ID]*model.Message
	attachments map[model.ID]*memAttachment
	nextMsg     int64
	nextAtt     int64
}

type memAttachment struct {
	messageID model.ID
	data      []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         func() time.Time { return time.Now().UTC() },
		byID:        make(map[model.ID]*model.Message),
		attachments: make(map[model.ID]*memAttachment),
	}
}

func (s *MemoryStore) CreateMessage(_ context.Context, in NewMessage) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsg++
	m := &model.Message{
		ID:                  formatID(s.nextMsg),
		TeamID:              in.TeamID,
		RecipientID:         in.RecipientID,
		SenderID:            in.SenderID,
		SenderName:          in.SenderName,
		Body:                in.Body,
		Type:                in.Type,
		Attachments:         []model.Attachment{},
		ReplyToMessageID:    model.IDPtr(in.ReplyToMessageID),
		ReplyToAttachmentID: model.IDPtr(in.ReplyToAttachmentID),
		CreatedAt:           s.now(),
	}
	for _, f := range in.Files {
		s.nextAtt++
		id := formatID(s.nextAtt)
		m.Attachments = append(m.Attachments, model.Attachment{
			ID:        id,
			MessageID: m.ID,
			FileName:  f.Name,
			MimeType:  f.MimeType,
			Size:      int64(len(f.Data)),
			URL:       AttachmentURL(id),
		})
		s.attachments[id] = &memAttachment{messageID: m.ID, data: append([]byte(nil), f.Data...)}
	}
	s.messages = append(s.messages, m)
	s.byID[m.ID] = m
	return cloneMessage(m), nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id model.ID) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *MemoryStore) History(_ context.Context, q HistoryQuery) ([]model.Message, error) {
	limit := clampLimit(q.Limit)
	before, hasBefore := seq(q.Before)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var page []model.Message
	for i := len(s.messages) - 1; i >= 0 && len(page) < limit; i-- {
		m := s.messages[i]
		if hasBefore {
			if n, _ := seq(m.ID); n >= before {
				continue
			}
		}
		if !matches(m, q) {
			continue
		}
		page = append(page, *cloneMessage(m))
	}
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

func matches(m *model.Message, q HistoryQuery) bool {
	if q.TeamID != "" {
		return m.TeamID == q.TeamID
	}
	return model.Direct(q.PeerID).Contains(m, q.UserID)
}

func (s *MemoryStore) MarkRead(_ context.Context, userID model.ID, ids []model.ID) ([]Read, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Read, 0, len(ids))
	for _, id := range ids {
		m, ok := s.byID[id]
		if !ok || m.SenderID == userID {
			continue
		}
		var rc *model.ReadReceipt
		for i := range m.Reads {
			if m.Reads[i].UserID == userID {
				rc = &m.Reads[i]
				break
			}
		}
		if rc == nil {
			m.Reads = append(m.Reads, model.ReadReceipt{MessageID: id, UserID: userID, ReadAt: s.now()})
			rc = &m.Reads[len(m.Reads)-1]
		}
		out = append(out, Read{ReadReceipt: *rc, AuthorID: m.SenderID})
	}
	return out, nil
}

func (s *MemoryStore) AddReaction(_ context.Context, r model.Reaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[r.MessageID]
	if !ok {
		return false, ErrNotFound
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	var added bool
	m.Reactions, added = reaction.AddMessageReaction(m.Reactions, r)
	return added, nil
}

func (s *MemoryStore) RemoveReaction(_ context.Context, messageID, userID model.ID, emoji string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[messageID]
	if !ok {
		return false, ErrNotFound
	}
	var removed bool
	m.Reactions, removed = reaction.RemoveMessageReaction(m.Reactions, userID, emoji)
	return removed, nil
}

func (s *MemoryStore) attachmentLocked(id model.ID) (*model.Message, *model.Attachment, error) {
	a, ok := s.attachments[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	m := s.byID[a.messageID]
	return m, m.Attachment(id), nil
}

func (s *MemoryStore) AddAttachmentReaction(_ context.Context, r model.AttachmentReaction) (model.ID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, a, err := s.attachmentLocked(r.AttachmentID)
	if err != nil {
		return "", false, err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	var added bool
	a.Reactions, added = reaction.AddAttachmentReaction(a.Reactions, r)
	return m.ID, added, nil
}

func (s *MemoryStore) RemoveAttachmentReaction(_ context.Context, attachmentID, userID model.ID, emoji string) (model.ID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, a, err := s.attachmentLocked(attachmentID)
	if err != nil {
		return "", false, err
	}
	var removed bool
	a.Reactions, removed = reaction.RemoveAttachmentReaction(a.Reactions, userID, emoji)
	return m.ID, removed, nil
}

func (s *MemoryStore) SetPinned(_ context.Context, messageID model.ID, pinned bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[messageID]
	if !ok {
		return false, ErrNotFound
	}
	if m.IsPinned == pinned {
		return false, nil
	}
	m.IsPinned = pinned
	return true, nil
}

func (s *MemoryStore) SetDeleted(_ context.Context, messageID model.ID, at *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[messageID]
	if !ok {
		return false, ErrNotFound
	}
	if m.IsDeleted() == (at != nil) {
		return false, nil
	}
	m.DeletedAt = copyTime(at)
	return true, nil
}

func (s *MemoryStore) SetAttachmentPinned(_ context.Context, attachmentID model.ID, pinned bool) (model.ID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, a, err := s.attachmentLocked(attachmentID)
	if err != nil {
		return "", false, err
	}
	if a.IsPinned == pinned {
		return m.ID, false, nil
	}
	a.IsPinned = pinned
	return m.ID, true, nil
}

func (s *MemoryStore) SetAttachmentDeleted(_ context.Context, attachmentID model.ID, at *time.Time) (model.ID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, a, err := s.attachmentLocked(attachmentID)
	if err != nil {
		return "", false, err
	}
	if (a.DeletedAt != nil) == (at != nil) {
		return m.ID, false, nil
	}
	a.DeletedAt = copyTime(at)
	return m.ID, true, nil
}

func (s *MemoryStore) AttachmentData(_ context.Context, attachmentID model.ID) (*model.Attachment, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, a, err := s.attachmentLocked(attachmentID)
	if err != nil {
		return nil, nil, err
	}
	out := *a
	return &out, s.attachments[attachmentID].data, nil
}

func (s *MemoryStore) Close() {}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneMessage(m *model.Message) *model.Message {
	c := *m
	c.Attachments = make([]model.Attachment, len(m.Attachments))
	for i, a := range m.Attachments {
		a.Reactions = append([]model.AttachmentReaction(nil), a.Reactions...)
		a.DeletedAt = copyTime(a.DeletedAt)
		c.Attachments[i] = a
	}
	c.Reactions = append([]model.Reaction(nil), m.Reactions...)
	c.Reads = append([]model.ReadReceipt(nil), m.Reads...)
	c.DeletedAt = copyTime(m.DeletedAt)
	return &c
}

var _ Store = (*MemoryStore)(nil)
