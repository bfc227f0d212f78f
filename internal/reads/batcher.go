// Package reads batches read receipts for visible messages.
package reads

import (
	"context"
	"sync"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/model"
)

const (
	DefaultDelay   = 300 * time.Millisecond
	DefaultTimeout = 10 * time.Second
)

// Client acknowledges a batch of messages.
type Client interface {
	MarkRead(ctx context.Context, ids []model.ID) ([]model.ReadReceipt, error)
}

type Option func(*Batcher)

func WithDelay(d time.Duration) Option {
	return func(b *Batcher) {
		if d > 0 {
			b.delay = d
		}
	}
}

// WithGate holds flushes while gate returns true. Held ids stay queued until Kick.
func WithGate(gate func() bool) Option {
	return func(b *Batcher) { b.gate = gate }
}

func WithOnRead(fn func(reads []model.ReadReceipt)) Option {
	return func(b *Batcher) { b.onRead = fn }
}

func WithTimeout(d time.Duration) Option {
	return func(b *Batcher) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// Batcher debounces read acknowledgements into one request per quiet period.
// An id is in marking from Queue until its request fails; after success it
// stays there so the same message is never acknowledged twice.
type Batcher struct {
	client  Client
	delay   time.Duration
	timeout time.Duration
	gate    func() bool
	onRead  func(reads []model.ReadReceipt)

	mu      sync.Mutex
	queued  []model.ID
	marking map[model.ID]struct{}
	timer   *time.Timer
	stopped bool
}

func New(client Client, opts ...Option) *Batcher {
	b := &Batcher{
		client:  client,
		delay:   DefaultDelay,
		timeout: DefaultTimeout,
		marking: make(map[model.ID]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Queue adds ids that are not already being acknowledged and restarts the
// debounce timer. It reports how many were added.
func (b *Batcher) Queue(ids ...model.ID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return 0
	}
	added := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := b.marking[id]; ok {
			continue
		}
		b.marking[id] = struct{}{}
		b.queued = append(b.queued, id)
		added++
	}
	if added > 0 {
		b.armLocked()
	}
	return added
}

// Kick restarts the timer if ids are waiting.
func (b *Batcher) Kick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.stopped && len(b.queued) > 0 {
		b.armLocked()
	}
}

// Waiting returns the number of queued ids.
func (b *Batcher) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queued)
}

func (b *Batcher) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Batcher) armLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.delay, b.fire)
}

func (b *Batcher) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	b.Flush(ctx)
}

// Flush sends every queued id in one request unless the gate holds it.
func (b *Batcher) Flush(ctx context.Context) {
	if b.gate != nil && b.gate() {
		metrics.ReadBatches.WithLabelValues("gated").Inc()
		logger.Debugf("reads: flush held, sends pending")
		return
	}

	b.mu.Lock()
	ids := b.queued
	b.queued = nil
	b.mu.Unlock()
	if len(ids) == 0 {
		return
	}

	reads, err := b.client.MarkRead(ctx, ids)
	if err != nil {
		b.mu.Lock()
		for _, id := range ids {
			delete(b.marking, id)
		}
		b.mu.Unlock()
		metrics.ReadBatches.WithLabelValues("error").Inc()
		logger.Errorf("reads: mark %d messages read: %v", len(ids), err)
		return
	}
	metrics.ReadBatches.WithLabelValues("ok").Inc()
	if b.onRead != nil && len(reads) > 0 {
		b.onRead(reads)
	}
}
