package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/chatsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type whisper struct {
	channel string
	event   string
	data    any
}

type fakeTransport struct {
	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
	whispers     []whisper
	frames       chan Frame
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{frames: make(chan Frame, 16)}
}

func (f *fakeTransport) Subscribe(ch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, ch)
	return nil
}

func (f *fakeTransport) Unsubscribe(ch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, ch)
	return nil
}

func (f *fakeTransport) Whisper(ch, event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.whispers = append(f.whispers, whisper{ch, event, data})
	return nil
}

func (f *fakeTransport) Frames() <-chan Frame { return f.frames }
func (f *fakeTransport) Close() error         { close(f.frames); return nil }

func mustFrame(t *testing.T, channel, event string, payload any) Frame {
	t.Helper()
	f, err := NewFrame(channel, event, payload)
	require.NoError(t, err)
	return f
}

func TestSwitchKeepsOldSubscription(t *testing.T) {
	tr := newFakeTransport()
	b := NewBridge(tr, "1")
	require.NoError(t, b.Start())
	require.NoError(t, b.Switch(model.Direct("42")))
	require.NoError(t, b.Switch(model.Team("7")))
	require.NoError(t, b.Switch(model.Direct("42")))

	assert.Equal(t, []string{"user.1", "chat.dm.1.42", "chat.team.7"}, tr.subscribed)
	assert.Empty(t, tr.unsubscribed)
	assert.Equal(t, "chat.dm.1.42", b.Listening())
	assert.Equal(t, model.Direct("42"), b.Current())
}

func TestAcceptOnlyListenedChannels(t *testing.T) {
	tr := newFakeTransport()
	b := NewBridge(tr, "1")
	require.NoError(t, b.Start())
	require.NoError(t, b.Switch(model.Direct("42")))
	require.NoError(t, b.Switch(model.Team("7")))

	msg := MessageSentPayload{Message: model.Message{ID: "5", TeamID: "7", SenderID: "42", Body: "x"}}
	_, ok := b.Accept(mustFrame(t, "chat.team.7", EventMessageSent, msg))
	assert.True(t, ok)

	// still subscribed, no longer listened
	_, ok = b.Accept(mustFrame(t, "chat.dm.1.42", EventMessageSent, msg))
	assert.False(t, ok)

	read := MessageReadPayload{Read: &model.ReadReceipt{MessageID: "5", UserID: "42"}}
	ev, ok := b.Accept(mustFrame(t, "user.1", EventMessageRead, read))
	require.True(t, ok)
	assert.IsType(t, MessagesRead{}, ev)

	_, ok = b.Accept(Frame{Event: "Bogus", Channel: "chat.team.7", Data: json.RawMessage(`{}`)})
	assert.False(t, ok)
	_, ok = b.Accept(Frame{Event: EventSubscribed, Channel: "chat.team.7"})
	assert.False(t, ok)
}

func TestSelfEchoSuppression(t *testing.T) {
	b := NewBridge(newFakeTransport(), "1")
	require.NoError(t, b.Switch(model.Team("7")))
	ch := "chat.team.7"

	own := ReactionPayload{Reaction: model.Reaction{MessageID: "5", UserID: "1", Emoji: "👍"}}
	other := ReactionPayload{Reaction: model.Reaction{MessageID: "5", UserID: "2", Emoji: "👍"}}
	_, ok := b.Accept(mustFrame(t, ch, EventMessageReactionAdded, own))
	assert.False(t, ok)
	_, ok = b.Accept(mustFrame(t, ch, EventMessageReactionRemoved, own))
	assert.False(t, ok)
	_, ok = b.Accept(mustFrame(t, ch, EventMessageReactionAdded, other))
	assert.True(t, ok)

	ownAtt := AttachmentReactionPayload{MessageID: "5", Reaction: model.AttachmentReaction{AttachmentID: "3", UserID: "1", Emoji: "🔥"}}
	_, ok = b.Accept(mustFrame(t, ch, EventAttachmentReactionAdded, ownAtt))
	assert.False(t, ok)

	_, ok = b.Accept(mustFrame(t, ch, EventTyping, TypingPayload{UserID: "1"}))
	assert.False(t, ok)
	_, ok = b.Accept(mustFrame(t, ch, EventTyping, TypingPayload{UserID: "2"}))
	assert.True(t, ok)

	// non-reaction events from the session user still pass
	_, ok = b.Accept(mustFrame(t, ch, EventMessagePinned, MessageStatePayload{MessageID: "5", UserID: "1"}))
	assert.True(t, ok)
}

func TestTypingThrottle(t *testing.T) {
	tr := newFakeTransport()
	b := NewBridge(tr, "1", WithTypingThrottle(time.Hour))
	assert.False(t, b.Typing("Ann"), "no conversation yet")

	require.NoError(t, b.Switch(model.Direct("42")))
	assert.True(t, b.Typing("Ann"))
	assert.False(t, b.Typing("Ann"))
	assert.False(t, b.Typing("Ann"))

	require.Len(t, tr.whispers, 1)
	assert.Equal(t, "chat.dm.1.42", tr.whispers[0].channel)
	assert.Equal(t, EventTyping, tr.whispers[0].event)
	assert.Equal(t, TypingPayload{UserID: "1", UserName: "Ann"}, tr.whispers[0].data)
}

func TestTypingThrottleRefills(t *testing.T) {
	tr := newFakeTransport()
	b := NewBridge(tr, "1", WithTypingThrottle(20*time.Millisecond))
	require.NoError(t, b.Switch(model.Team("7")))
	assert.True(t, b.Typing(""))
	assert.False(t, b.Typing(""))
	assert.Eventually(t, func() bool { return b.Typing("") }, time.Second, 5*time.Millisecond)
}

func TestRunDispatchesUntilClosed(t *testing.T) {
	tr := newFakeTransport()
	b := NewBridge(tr, "1")
	require.NoError(t, b.Switch(model.Team("7")))

	var mu sync.Mutex
	var got []Event
	done := make(chan struct{})
	go func() {
		b.Run(context.Background(), HandlerFunc(func(ev Event) {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		}))
		close(done)
	}()

	tr.frames <- mustFrame(t, "chat.team.7", EventMessagePinned, MessageStatePayload{MessageID: "5"})
	tr.frames <- mustFrame(t, "chat.team.8", EventMessagePinned, MessageStatePayload{MessageID: "6"})
	tr.frames <- mustFrame(t, "chat.team.7", EventMessageUnpinned, MessageStatePayload{MessageID: "5"})
	require.NoError(t, tr.Close())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.True(t, got[0].(MessagePinChanged).Pinned)
	assert.False(t, got[1].(MessagePinChanged).Pinned)
}
