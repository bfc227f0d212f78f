// Package optimistic holds the not-yet-confirmed messages a user authored in
// one conversation and overlays them onto server history.
package optimistic

import (
	"sync"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/google/uuid"
)

// DefaultDuplicateWindow is how far apart the client and server timestamps of
// the same message may be for the body match fallback to treat them as one.
const DefaultDuplicateWindow = 5 * time.Second

// TempIDPrefix marks ids minted on the client. Server ids never carry it.
const TempIDPrefix = "temp-"

// Identity is the session user, snapshotted into every new entry.
type Identity struct {
	ID   model.ID
	Name string
}

type Option func(*Queue)

// WithIDGenerator replaces the temp-<uuid> generator.
func WithIDGenerator(gen func() string) Option {
	return func(q *Queue) { q.newID = gen }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func WithDuplicateWindow(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.window = d
		}
	}
}

// WithOnChange registers a hook that receives a snapshot after every mutation.
// Calls are serialized and always carry the latest state.
func WithOnChange(fn func(entries []model.OptimisticMessage)) Option {
	return func(q *Queue) { q.onChange = fn }
}

// Queue is the per-conversation set of optimistic messages. It is safe for
// concurrent use; hooks run outside the state lock.
type Queue struct {
	conv   model.Conversation
	self   Identity
	newID  func() string
	now    func() time.Time
	window time.Duration

	onChange func([]model.OptimisticMessage)
	notifyMu sync.Mutex

	mu       sync.Mutex
	entries  []*model.OptimisticMessage
	inFlight map[string]struct{}
}

func New(conv model.Conversation, self Identity, opts ...Option) *Queue {
	q := &Queue{
		conv:     conv,
		self:     self,
		newID:    func() string { return TempIDPrefix + uuid.NewString() },
		now:      time.Now,
		window:   DefaultDuplicateWindow,
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Conversation() model.Conversation { return q.conv }

// Key is the conversation key the queue is persisted under.
func (q *Queue) Key() string { return q.conv.Key() }

// Add creates a pending entry for the draft and returns it.
func (q *Queue) Add(d model.Draft) model.OptimisticMessage {
	o := &model.OptimisticMessage{
		TempID:              q.newID(),
		ConversationKey:     q.conv.Key(),
		Body:                d.Body,
		SenderID:            q.self.ID,
		SenderName:          q.self.Name,
		Attachments:         append([]model.LocalAttachment(nil), d.Attachments...),
		ReplyToMessageID:    d.ReplyToMessageID,
		ReplyToAttachmentID: d.ReplyToAttachmentID,
		CreatedAt:           q.now(),
		Status:              model.StatusPending,
	}
	q.mu.Lock()
	q.entries = append(q.entries, o)
	out := o.Clone()
	q.mu.Unlock()

	q.changed()
	return out
}

// UpdateStatus applies a send outcome. Only pending -> sent and
// pending -> failed are accepted; sent attaches the confirmed message.
func (q *Queue) UpdateStatus(tempID string, status model.OptimisticStatus, confirmed *model.Message) bool {
	q.mu.Lock()
	o := q.find(tempID)
	if o == nil || !validTransition(o.Status, status) {
		q.mu.Unlock()
		if o == nil {
			logger.Debugf("optimistic: update %s -> %s: not queued", tempID, status)
		} else {
			logger.Debugf("optimistic: update %s rejected: %s -> %s", tempID, o.Status, status)
		}
		return false
	}
	o.Status = status
	if status == model.StatusSent && confirmed != nil {
		c := *confirmed
		o.Result = &c
	}
	q.mu.Unlock()

	q.changed()
	return true
}

func validTransition(from, to model.OptimisticStatus) bool {
	return from == model.StatusPending && (to == model.StatusSent || to == model.StatusFailed)
}

// Remove deletes the entry outright.
func (q *Queue) Remove(tempID string) bool {
	q.mu.Lock()
	ok := q.removeLocked(tempID)
	q.mu.Unlock()
	if ok {
		q.changed()
	}
	return ok
}

// Dismiss drops a failed entry the user gave up on. Other statuses are kept.
func (q *Queue) Dismiss(tempID string) bool {
	q.mu.Lock()
	o := q.find(tempID)
	if o == nil || o.Status != model.StatusFailed {
		q.mu.Unlock()
		return false
	}
	q.removeLocked(tempID)
	q.mu.Unlock()

	q.changed()
	return true
}

// Retry moves a failed entry back to pending and bumps its retry count.
// The temp id is kept.
func (q *Queue) Retry(tempID string) (model.OptimisticMessage, bool) {
	q.mu.Lock()
	o := q.find(tempID)
	if o == nil || o.Status != model.StatusFailed {
		q.mu.Unlock()
		return model.OptimisticMessage{}, false
	}
	o.Status = model.StatusPending
	o.RetryCount++
	out := o.Clone()
	q.mu.Unlock()

	q.changed()
	return out, true
}

// Restore seeds the queue with entries loaded from the outbox. Entries of
// other conversations and temp ids already queued are skipped.
func (q *Queue) Restore(entries []model.OptimisticMessage) int {
	key := q.conv.Key()
	n := 0
	q.mu.Lock()
	for _, e := range entries {
		if e.ConversationKey != key || e.TempID == "" || q.find(e.TempID) != nil {
			continue
		}
		c := e.Clone()
		q.entries = append(q.entries, &c)
		n++
	}
	q.mu.Unlock()
	return n
}

// BeginSend marks a pending entry as in flight. It reports false when the
// entry is not pending or a send for it is already outstanding.
func (q *Queue) BeginSend(tempID string) (model.OptimisticMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	o := q.find(tempID)
	if o == nil || o.Status != model.StatusPending {
		return model.OptimisticMessage{}, false
	}
	if _, busy := q.inFlight[tempID]; busy {
		return model.OptimisticMessage{}, false
	}
	q.inFlight[tempID] = struct{}{}
	return o.Clone(), true
}

func (q *Queue) EndSend(tempID string) {
	q.mu.Lock()
	delete(q.inFlight, tempID)
	q.mu.Unlock()
}

func (q *Queue) InFlight(tempID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.inFlight[tempID]
	return ok
}

// HasPending reports whether any entry still waits for delivery.
func (q *Queue) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, o := range q.entries {
		if o.Status == model.StatusPending {
			return true
		}
	}
	return false
}

// Pending returns the pending entries in queue order.
func (q *Queue) Pending() []model.OptimisticMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []model.OptimisticMessage
	for _, o := range q.entries {
		if o.Status == model.StatusPending {
			out = append(out, o.Clone())
		}
	}
	return out
}

// Snapshot returns a copy of every entry in queue order.
func (q *Queue) Snapshot() []model.OptimisticMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) Get(tempID string) (model.OptimisticMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	o := q.find(tempID)
	if o == nil {
		return model.OptimisticMessage{}, false
	}
	return o.Clone(), true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Merge returns the confirmed messages followed by the optimistic entries
// that are not yet superseded. Neither part is reordered.
func (q *Queue) Merge(confirmed []model.Message) []model.DisplayMessage {
	q.mu.Lock()
	entries := q.snapshotLocked()
	q.mu.Unlock()

	out := make([]model.DisplayMessage, 0, len(confirmed)+len(entries))
	ids := make(map[model.ID]struct{}, len(confirmed))
	for _, m := range confirmed {
		ids[m.ID] = struct{}{}
		out = append(out, model.DisplayMessage{Message: m})
	}
	for i := range entries {
		if Superseded(&entries[i], confirmed, ids, q.window) {
			continue
		}
		out = append(out, entries[i].Display())
	}
	return out
}

// Superseded reports whether a confirmed message already stands for o:
// either o was sent and its result id is confirmed, or a confirmed message
// has the same body, sender and reply targets within window of o.
func Superseded(o *model.OptimisticMessage, confirmed []model.Message, ids map[model.ID]struct{}, window time.Duration) bool {
	if o.Status == model.StatusSent && o.Result != nil {
		if _, ok := ids[o.Result.ID]; ok {
			return true
		}
	}
	for i := range confirmed {
		if looksLike(o, &confirmed[i], window) {
			return true
		}
	}
	return false
}

func looksLike(o *model.OptimisticMessage, m *model.Message, window time.Duration) bool {
	if m.Body != o.Body || m.SenderID != o.SenderID {
		return false
	}
	if model.Deref(m.ReplyToMessageID) != o.ReplyToMessageID || model.Deref(m.ReplyToAttachmentID) != o.ReplyToAttachmentID {
		return false
	}
	d := m.CreatedAt.Sub(o.CreatedAt)
	if d < 0 {
		d = -d
	}
	return d <= window
}

func (q *Queue) find(tempID string) *model.OptimisticMessage {
	for _, o := range q.entries {
		if o.TempID == tempID {
			return o
		}
	}
	return nil
}

func (q *Queue) removeLocked(tempID string) bool {
	for i, o := range q.entries {
		if o.TempID == tempID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (q *Queue) snapshotLocked() []model.OptimisticMessage {
	out := make([]model.OptimisticMessage, 0, len(q.entries))
	for _, o := range q.entries {
		out = append(out, o.Clone())
	}
	return out
}

func (q *Queue) changed() {
	if q.onChange == nil {
		return
	}
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	q.onChange(q.Snapshot())
}
