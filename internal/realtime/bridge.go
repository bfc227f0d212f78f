package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/model"
	"golang.org/x/time/rate"
)

const DefaultTypingThrottle = 3 * time.Second

// Handler receives validated events for the listened conversation and the
// user channel.
type Handler interface {
	HandleRealtime(ev Event)
}

type HandlerFunc func(ev Event)

func (f HandlerFunc) HandleRealtime(ev Event) { f(ev) }

type BridgeOption func(*Bridge)

func WithTypingThrottle(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.typing = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// Bridge turns transport frames into typed events for the current
// conversation. Leaving a conversation only stops listening: the channel
// subscription stays, other views may still use it.
type Bridge struct {
	t      Transport
	self   model.ID
	typing *rate.Limiter

	mu          sync.Mutex
	subscribed  map[string]struct{}
	current     model.Conversation
	listening   string
	userChannel string
}

func NewBridge(t Transport, self model.ID, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		t:          t,
		self:       self,
		typing:     rate.NewLimiter(rate.Every(DefaultTypingThrottle), 1),
		subscribed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start joins the private user channel.
func (b *Bridge) Start() error {
	ch := UserChannel(b.self)
	b.mu.Lock()
	b.userChannel = ch
	b.mu.Unlock()
	return b.subscribe(ch)
}

// Switch starts listening to conv instead of the previous conversation.
func (b *Bridge) Switch(conv model.Conversation) error {
	ch := ConversationChannel(conv, b.self)
	b.mu.Lock()
	prev := b.listening
	b.current = conv
	b.listening = ch
	b.mu.Unlock()
	if prev != "" && prev != ch {
		logger.Debugf("realtime: stop listening %s", prev)
	}
	return b.subscribe(ch)
}

func (b *Bridge) Current() model.Conversation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Listening returns the conversation channel events are accepted from.
func (b *Bridge) Listening() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listening
}

func (b *Bridge) subscribe(ch string) error {
	b.mu.Lock()
	if _, ok := b.subscribed[ch]; ok {
		b.mu.Unlock()
		return nil
	}
	b.subscribed[ch] = struct{}{}
	b.mu.Unlock()

	if err := b.t.Subscribe(ch); err != nil {
		b.mu.Lock()
		delete(b.subscribed, ch)
		b.mu.Unlock()
		return fmt.Errorf("realtime.subscribe %s: %w", ch, err)
	}
	return nil
}

// Typing whispers a typing event on the current conversation, at most once
// per throttle interval. It reports whether a whisper went out.
func (b *Bridge) Typing(userName string) bool {
	ch := b.Listening()
	if ch == "" || !b.typing.Allow() {
		return false
	}
	if err := b.t.Whisper(ch, EventTyping, TypingPayload{UserID: b.self, UserName: userName}); err != nil {
		logger.Errorf("realtime: typing whisper %s: %v", ch, err)
		return false
	}
	metrics.TypingWhispers.Inc()
	return true
}

// Accept decodes a frame and reports whether it should reach the handler.
func (b *Bridge) Accept(f Frame) (Event, bool) {
	b.mu.Lock()
	listening, userCh := b.listening, b.userChannel
	b.mu.Unlock()

	if f.Event == EventSubscribed {
		return nil, false
	}
	if f.Event == EventError {
		logger.Errorf("realtime: server error on %q: %s", f.Channel, string(f.Data))
		return nil, false
	}
	if f.Channel != listening && f.Channel != userCh {
		return nil, false
	}
	ev, err := Decode(f)
	if err != nil {
		label := "invalid"
		if errors.Is(err, ErrUnknownEvent) {
			label = "unknown"
		}
		metrics.RealtimeEvents.WithLabelValues(label).Inc()
		logger.Debugf("realtime: drop frame: %v", err)
		return nil, false
	}
	if b.selfEcho(ev) {
		return nil, false
	}
	metrics.RealtimeEvents.WithLabelValues(f.Event).Inc()
	return ev, true
}

// selfEcho reports events the session user caused and already applied locally.
func (b *Bridge) selfEcho(ev Event) bool {
	switch e := ev.(type) {
	case ReactionChanged:
		return e.Reaction.UserID == b.self
	case AttachmentReactionChanged:
		return e.Reaction.UserID == b.self
	case Typing:
		return e.UserID == b.self
	}
	return false
}

// Run dispatches frames until the transport closes or ctx ends.
func (b *Bridge) Run(ctx context.Context, h Handler) {
	frames := b.t.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				logger.Info("realtime: connection closed")
				return
			}
			if ev, ok := b.Accept(f); ok {
				h.HandleRealtime(ev)
			}
		}
	}
}
