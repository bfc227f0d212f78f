// Package outbox persists not-yet-confirmed messages so they survive a
// reload within the session.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/storage"
)

const (
	DefaultKey = "chat_outbox"
	DefaultTTL = 24 * time.Hour
)

// record is one stored entry. CreatedAt is unix milliseconds.
type record struct {
	ConversationKey string                  `json:"conversation_key"`
	CreatedAt       int64                   `json:"created_at"`
	Message         model.OptimisticMessage `json:"message"`
}

type Option func(*Store)

func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store keeps every conversation's entries in one list under one key.
// Storage and parse errors are logged and read as an empty store; they never
// reach the caller.
type Store struct {
	kv  storage.KV
	key string
	ttl time.Duration
	now func() time.Time
}

func New(kv storage.KV, opts ...Option) *Store {
	s := &Store{kv: kv, key: DefaultKey, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the live entries of the conversation in stored order.
// Expired entries of every conversation are pruned from storage.
func (s *Store) Load(ctx context.Context, conversationKey string) []model.OptimisticMessage {
	defer logger.DeferLogDuration("outbox.Load", time.Now())()
	records := s.read(ctx, "load")
	if len(records) == 0 {
		return nil
	}
	cutoff := s.now().Add(-s.ttl).UnixMilli()
	live := records[:0:0]
	for _, r := range records {
		if r.CreatedAt > cutoff {
			live = append(live, r)
		}
	}
	if len(live) != len(records) {
		logger.Debugf("outbox: pruned %d expired entries", len(records)-len(live))
		s.write(ctx, "prune", live)
	}

	var out []model.OptimisticMessage
	for _, r := range live {
		if r.ConversationKey == conversationKey {
			m := r.Message
			m.ConversationKey = r.ConversationKey
			out = append(out, m)
		}
	}
	return out
}

// Save replaces the conversation's entries with queue. Entries of other
// conversations are kept. Sent entries are not persisted: the server already
// has them.
func (s *Store) Save(ctx context.Context, conversationKey string, queue []model.OptimisticMessage) {
	defer logger.DeferLogDuration("outbox.Save", time.Now())()
	records := s.read(ctx, "save")
	merged := make([]record, 0, len(records)+len(queue))
	for _, r := range records {
		if r.ConversationKey != conversationKey {
			merged = append(merged, r)
		}
	}
	for _, m := range queue {
		if m.Status == model.StatusSent {
			continue
		}
		m.Result = nil
		merged = append(merged, record{
			ConversationKey: conversationKey,
			CreatedAt:       m.CreatedAt.UnixMilli(),
			Message:         m,
		})
	}
	s.write(ctx, "save", merged)
}

// Conversations lists the conversation keys that have stored entries,
// expired ones included.
func (s *Store) Conversations(ctx context.Context) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range s.read(ctx, "list") {
		if _, ok := seen[r.ConversationKey]; ok {
			continue
		}
		seen[r.ConversationKey] = struct{}{}
		out = append(out, r.ConversationKey)
	}
	return out
}

func (s *Store) read(ctx context.Context, op string) []record {
	raw, err := s.kv.Get(ctx, s.key)
	if err != nil {
		s.fail(op, err)
		return nil
	}
	if raw == "" {
		return nil
	}
	var records []record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		s.fail(op+"_parse", err)
		return nil
	}
	return records
}

// write stores records, or deletes the key when nothing is left.
func (s *Store) write(ctx context.Context, op string, records []record) {
	if len(records) == 0 {
		if err := s.kv.Delete(ctx, s.key); err != nil {
			s.fail(op, err)
		}
		return
	}
	data, err := json.Marshal(records)
	if err != nil {
		s.fail(op, err)
		return
	}
	if err := s.kv.Set(ctx, s.key, string(data)); err != nil {
		s.fail(op, err)
	}
}

func (s *Store) fail(op string, err error) {
	metrics.OutboxErrors.WithLabelValues(op).Inc()
	logger.Errorf("outbox.%s: %v", op, err)
}
