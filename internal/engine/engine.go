// Package engine composes the outbox, the optimistic queue, the send
// processor, the realtime bridge and the read batcher into one controller
// per chat session.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/optimistic"
	"github.com/chatsync/internal/reaction"
	"github.com/chatsync/internal/reads"
	"github.com/chatsync/internal/sender"
)

var (
	ErrNoConversation = errors.New("engine: no conversation open")
	ErrClosed         = errors.New("engine: closed")
	ErrUnknownMessage = errors.New("engine: message not in history")
)

// API is the server surface the engine talks to.
type API interface {
	sender.Client
	reads.Client
	React(ctx context.Context, messageID model.ID, emoji string, add bool) error
	ReactAttachment(ctx context.Context, attachmentID model.ID, emoji string, add bool) error
	History(ctx context.Context, conv model.Conversation, before model.ID, limit int) ([]model.Message, error)
}

// Outbox persists queues across restarts.
type Outbox interface {
	Load(ctx context.Context, conversationKey string) []model.OptimisticMessage
	Save(ctx context.Context, conversationKey string, queue []model.OptimisticMessage)
}

// Bridge is the realtime side the engine drives.
type Bridge interface {
	Switch(conv model.Conversation) error
	Typing(userName string) bool
}

// Placement tells ApplyHistory where a page of messages belongs.
type Placement int

const (
	// PlacementOlder is a page loaded above the current history.
	PlacementOlder Placement = iota
	// PlacementNewer is new messages arriving at the bottom.
	PlacementNewer
)

// Change is delivered to the OnChange hook.
type Change struct {
	Conversation model.Conversation
	View         []model.DisplayMessage
	// Autoscroll is set when messages were appended at the bottom.
	Autoscroll bool
}

type Option func(*Engine)

func WithBridge(b Bridge) Option {
	return func(e *Engine) { e.bridge = b }
}

func WithOnChange(fn func(Change)) Option {
	return func(e *Engine) { e.onChange = fn }
}

func WithOnTyping(fn func(userID model.ID, userName string)) Option {
	return func(e *Engine) { e.onTyping = fn }
}

func WithReadDelay(d time.Duration) Option {
	return func(e *Engine) { e.readDelay = d }
}

func WithDuplicateWindow(d time.Duration) Option {
	return func(e *Engine) { e.queueOpts = append(e.queueOpts, optimistic.WithDuplicateWindow(d)) }
}

func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.queueOpts = append(e.queueOpts, optimistic.WithIDGenerator(gen)) }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
		e.queueOpts = append(e.queueOpts, optimistic.WithClock(now))
	}
}

// session is the state of one opened conversation.
type session struct {
	conv    model.Conversation
	queue   *optimistic.Queue
	proc    *sender.Processor
	history []model.Message
}

// Engine is safe for concurrent use. Its lock only guards in-memory state:
// network and storage calls happen outside it.
type Engine struct {
	api       API
	outbox    Outbox
	bridge    Bridge
	self      optimistic.Identity
	reads     *reads.Batcher
	reactions *reaction.PendingKeys
	now       func() time.Time
	readDelay time.Duration
	queueOpts []optimistic.Option
	onChange  func(Change)
	onTyping  func(model.ID, string)
	notifyMu  sync.Mutex

	mu       sync.Mutex
	sessions map[string]*session
	cur      *session
	closed   bool
	wg       sync.WaitGroup
}

func New(api API, outbox Outbox, self optimistic.Identity, opts ...Option) *Engine {
	e := &Engine{
		api:       api,
		outbox:    outbox,
		self:      self,
		reactions: reaction.NewPendingKeys(),
		now:       time.Now,
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.reads = reads.New(api,
		reads.WithDelay(e.readDelay),
		reads.WithGate(e.hasPending),
		reads.WithOnRead(e.applyReads),
	)
	return e
}

// Open makes conv the current conversation. The first open restores the
// conversation's outbox and resumes delivery of restored pending entries;
// history replaces the confirmed messages.
func (e *Engine) Open(ctx context.Context, conv model.Conversation, history []model.Message) error {
	if conv.IsZero() {
		return fmt.Errorf("engine.Open: empty conversation")
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	s, ok := e.sessions[conv.Key()]
	if !ok {
		s = e.newSessionLocked(conv)
	}
	s.history = appendUnique(nil, history)
	e.cur = s
	e.mu.Unlock()

	if !ok {
		restored := s.queue.Restore(e.outbox.Load(ctx, conv.Key()))
		if restored > 0 {
			logger.Infof("engine: restored %d queued messages for %s", restored, conv.Key())
		}
	}
	if e.bridge != nil {
		if err := e.bridge.Switch(conv); err != nil {
			logger.Errorf("engine: switch realtime to %s: %v", conv.Key(), err)
		}
	}
	e.process(s)
	e.notify(s, false)
	return nil
}

func (e *Engine) newSessionLocked(conv model.Conversation) *session {
	s := &session{conv: conv}
	key := conv.Key()
	opts := append([]optimistic.Option{
		optimistic.WithOnChange(func(entries []model.OptimisticMessage) {
			e.outbox.Save(context.Background(), key, entries)
			e.notify(s, false)
		}),
	}, e.queueOpts...)
	s.queue = optimistic.New(conv, e.self, opts...)
	s.proc = sender.New(s.queue, e.api, sender.Hooks{
		OnSent: func(_ model.OptimisticMessage, confirmed *model.Message) {
			e.mu.Lock()
			s.history = appendUnique(s.history, []model.Message{*confirmed})
			e.mu.Unlock()
		},
		OnIdle: e.reads.Kick,
	})
	e.sessions[key] = s
	return s
}

// Current returns the open conversation.
func (e *Engine) Current() (model.Conversation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur == nil {
		return model.Conversation{}, false
	}
	return e.cur.conv, true
}

func (e *Engine) current() (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if e.cur == nil {
		return nil, ErrNoConversation
	}
	return e.cur, nil
}

// Send queues a draft for the current conversation and returns the
// optimistic entry right away. Delivery happens in the background.
func (e *Engine) Send(ctx context.Context, d model.Draft) (model.OptimisticMessage, error) {
	if err := ctx.Err(); err != nil {
		return model.OptimisticMessage{}, err
	}
	s, err := e.current()
	if err != nil {
		return model.OptimisticMessage{}, err
	}
	if !d.Conversation.IsZero() && d.Conversation != s.conv {
		return model.OptimisticMessage{}, fmt.Errorf("engine.Send: draft for %s, open is %s", d.Conversation, s.conv)
	}
	o := s.queue.Add(d)
	e.process(s)
	return o, nil
}

// Retry puts a failed entry back in line.
func (e *Engine) Retry(tempID string) (model.OptimisticMessage, error) {
	s, err := e.current()
	if err != nil {
		return model.OptimisticMessage{}, err
	}
	o, ok := s.queue.Retry(tempID)
	if !ok {
		return model.OptimisticMessage{}, fmt.Errorf("engine.Retry %s: not a failed message", tempID)
	}
	e.process(s)
	return o, nil
}

// Dismiss drops a failed entry.
func (e *Engine) Dismiss(tempID string) bool {
	s, err := e.current()
	if err != nil {
		return false
	}
	return s.queue.Dismiss(tempID)
}

// View returns the merged view of the current conversation.
func (e *Engine) View() []model.DisplayMessage {
	s, err := e.current()
	if err != nil {
		return nil
	}
	return e.view(s)
}

func (e *Engine) view(s *session) []model.DisplayMessage {
	e.mu.Lock()
	history := cloneMessages(s.history)
	e.mu.Unlock()
	return s.queue.Merge(history)
}

// Pending returns the optimistic entries of the current conversation.
func (e *Engine) Pending() []model.OptimisticMessage {
	s, err := e.current()
	if err != nil {
		return nil
	}
	return s.queue.Snapshot()
}

// ApplyHistory adds confirmed messages to the current conversation and
// reports whether the consumer should scroll to the bottom. Known ids are
// skipped.
func (e *Engine) ApplyHistory(msgs []model.Message, placement Placement) bool {
	s, err := e.current()
	if err != nil {
		return false
	}
	return e.applyHistory(s, msgs, placement) > 0 && placement == PlacementNewer
}

func (e *Engine) applyHistory(s *session, msgs []model.Message, placement Placement) int {
	e.mu.Lock()
	before := len(s.history)
	if placement == PlacementOlder {
		page := without(appendUnique(nil, msgs), s.history)
		s.history = append(page, s.history...)
	} else {
		s.history = appendUnique(s.history, msgs)
	}
	added := len(s.history) - before
	e.mu.Unlock()

	if added > 0 {
		e.notify(s, placement == PlacementNewer)
	}
	return added
}

// LoadOlder fetches the page before the oldest known message and returns
// how many messages it added.
func (e *Engine) LoadOlder(ctx context.Context, limit int) (int, error) {
	s, err := e.current()
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	var before model.ID
	if len(s.history) > 0 {
		before = s.history[0].ID
	}
	e.mu.Unlock()

	page, err := e.api.History(ctx, s.conv, before, limit)
	if err != nil {
		return 0, fmt.Errorf("engine.LoadOlder: %w", err)
	}
	return e.applyHistory(s, page, PlacementOlder), nil
}

// MarkVisible queues read receipts for the visible messages other users wrote
// and the session user has not read yet.
func (e *Engine) MarkVisible(ids ...model.ID) int {
	s, err := e.current()
	if err != nil {
		return 0
	}
	want := make(map[model.ID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var unread []model.ID
	e.mu.Lock()
	for i := range s.history {
		m := &s.history[i]
		if _, ok := want[m.ID]; !ok {
			continue
		}
		if m.SenderID == e.self.ID || m.IsDeleted() || m.ReadBy(e.self.ID) {
			continue
		}
		unread = append(unread, m.ID)
	}
	e.mu.Unlock()
	return e.reads.Queue(unread...)
}

// Typing whispers a typing event, throttled by the bridge.
func (e *Engine) Typing() bool {
	if e.bridge == nil {
		return false
	}
	return e.bridge.Typing(e.self.Name)
}

// React adds or removes the session user's reaction. The change is shown at
// once and rolled back if the server rejects it. A repeat of a change still
// in flight is a no-op.
func (e *Engine) React(ctx context.Context, messageID model.ID, emoji string, add bool) error {
	s, err := e.current()
	if err != nil {
		return err
	}
	key := reaction.MessageKey(messageID, e.self.ID, emoji)
	if !e.reactions.Add(key) {
		return nil
	}
	defer e.reactions.Remove(key)

	r := model.Reaction{MessageID: messageID, UserID: e.self.ID, UserName: e.self.Name, Emoji: emoji, CreatedAt: e.now()}
	changed, err := e.applyReaction(s, r, add)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	e.notify(s, false)

	if err := e.api.React(ctx, messageID, emoji, add); err != nil {
		if _, rbErr := e.applyReaction(s, r, !add); rbErr == nil {
			e.notify(s, false)
		}
		return fmt.Errorf("engine.React %s: %w", messageID, err)
	}
	return nil
}

// ReactAttachment is React for an attachment of messageID.
func (e *Engine) ReactAttachment(ctx context.Context, messageID, attachmentID model.ID, emoji string, add bool) error {
	s, err := e.current()
	if err != nil {
		return err
	}
	key := reaction.AttachmentKey(attachmentID, e.self.ID, emoji)
	if !e.reactions.Add(key) {
		return nil
	}
	defer e.reactions.Remove(key)

	r := model.AttachmentReaction{AttachmentID: attachmentID, UserID: e.self.ID, UserName: e.self.Name, Emoji: emoji, CreatedAt: e.now()}
	changed, err := e.applyAttachmentReaction(s, messageID, r, add)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	e.notify(s, false)

	if err := e.api.ReactAttachment(ctx, attachmentID, emoji, add); err != nil {
		if _, rbErr := e.applyAttachmentReaction(s, messageID, r, !add); rbErr == nil {
			e.notify(s, false)
		}
		return fmt.Errorf("engine.ReactAttachment %s: %w", attachmentID, err)
	}
	return nil
}

func (e *Engine) applyReaction(s *session, r model.Reaction, add bool) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := find(s.history, r.MessageID)
	if m == nil {
		return false, fmt.Errorf("%w: %s", ErrUnknownMessage, r.MessageID)
	}
	var changed bool
	if add {
		m.Reactions, changed = reaction.AddMessageReaction(m.Reactions, r)
	} else {
		m.Reactions, changed = reaction.RemoveMessageReaction(m.Reactions, r.UserID, r.Emoji)
	}
	return changed, nil
}

func (e *Engine) applyAttachmentReaction(s *session, messageID model.ID, r model.AttachmentReaction, add bool) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := findAttachment(s.history, messageID, r.AttachmentID)
	if a == nil {
		return false, fmt.Errorf("%w: attachment %s", ErrUnknownMessage, r.AttachmentID)
	}
	var changed bool
	if add {
		a.Reactions, changed = reaction.AddAttachmentReaction(a.Reactions, r)
	} else {
		a.Reactions, changed = reaction.RemoveAttachmentReaction(a.Reactions, r.UserID, r.Emoji)
	}
	return changed, nil
}

// Close waits for in-flight sends and stops the read batcher.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.wg.Wait()
	e.reads.Stop()
	return nil
}

// process runs a drain of s in the background. Sends are bounded by the
// client timeout, not by a caller context.
func (e *Engine) process(s *session) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()
	go func() {
		defer e.wg.Done()
		s.proc.Process(context.Background())
	}()
}

func (e *Engine) hasPending() bool {
	e.mu.Lock()
	sessions := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()
	for _, s := range sessions {
		if s.queue.HasPending() {
			return true
		}
	}
	return false
}

// notify reports the merged view of s when s is the open conversation.
func (e *Engine) notify(s *session, autoscroll bool) {
	if e.onChange == nil {
		return
	}
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	e.mu.Lock()
	isCurrent := e.cur == s
	e.mu.Unlock()
	if !isCurrent {
		return
	}
	e.onChange(Change{Conversation: s.conv, View: e.view(s), Autoscroll: autoscroll})
}
