package reads

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chatsync/internal/api"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/optimistic"
	"github.com/chatsync/internal/sender"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu    sync.Mutex
	calls [][]model.ID
	err   error
}

func (f *fakeClient) MarkRead(_ context.Context, ids []model.ID) ([]model.ReadReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]model.ID(nil), ids...))
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.ReadReceipt, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.ReadReceipt{MessageID: id, UserID: "1"})
	}
	return out, nil
}

func (f *fakeClient) Calls() [][]model.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]model.ID(nil), f.calls...)
}

func (f *fakeClient) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func TestQueueDebouncesIntoOneRequest(t *testing.T) {
	client := &fakeClient{}
	var got atomic.Int32
	b := New(client, WithDelay(20*time.Millisecond), WithOnRead(func(r []model.ReadReceipt) {
		got.Add(int32(len(r)))
	}))
	defer b.Stop()

	assert.Equal(t, 2, b.Queue("1", "2"))
	assert.Equal(t, 1, b.Queue("2", "3"))
	assert.Equal(t, 0, b.Queue("1", ""))

	require.Eventually(t, func() bool { return got.Load() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]model.ID{{"1", "2", "3"}}, client.Calls())

	// acknowledged ids are not sent again
	assert.Equal(t, 0, b.Queue("3"))
}

func TestFailureReleasesIDs(t *testing.T) {
	client := &fakeClient{err: errors.New("offline")}
	b := New(client, WithDelay(time.Hour))
	defer b.Stop()

	b.Queue("1", "2")
	b.Flush(context.Background())
	require.Len(t, client.Calls(), 1)

	client.setErr(nil)
	assert.Equal(t, 2, b.Queue("1", "2"), "released ids can be queued again")
	b.Flush(context.Background())
	assert.Equal(t, [][]model.ID{{"1", "2"}, {"1", "2"}}, client.Calls())
}

// No read request goes out while a send is pending; held ids are sent after
// the sender goes idle and kicks the batcher.
func TestGateHoldsUntilKick(t *testing.T) {
	client := &fakeClient{}
	var pending atomic.Bool
	pending.Store(true)
	b := New(client, WithDelay(10*time.Millisecond), WithGate(pending.Load))
	defer b.Stop()

	b.Queue("7")
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, client.Calls())
	assert.Equal(t, 1, b.Waiting())

	pending.Store(false)
	b.Kick()
	require.Eventually(t, func() bool { return len(client.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []model.ID{"7"}, client.Calls()[0])
	assert.Zero(t, b.Waiting())
}

type failingSender struct{ release chan struct{} }

func (f failingSender) SendMessage(context.Context, api.SendRequest) (*model.Message, error) {
	<-f.release
	return nil, errors.New("offline")
}

// A failed send leaves nothing pending, so the sender kicks the held ids out.
func TestGateReleasedByFailedSend(t *testing.T) {
	client := &fakeClient{}
	q := optimistic.New(model.Direct("42"), optimistic.Identity{ID: "1"})
	b := New(client, WithDelay(10*time.Millisecond), WithGate(q.HasPending))
	defer b.Stop()

	o := q.Add(model.Draft{Body: "x"})
	send := failingSender{release: make(chan struct{})}
	p := sender.New(q, send, sender.Hooks{OnIdle: b.Kick})
	done := make(chan struct{})
	go func() {
		p.Process(context.Background())
		close(done)
	}()

	b.Queue("7", "8")
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, client.Calls())

	close(send.release)
	<-done
	got, ok := q.Get(o.TempID)
	require.True(t, ok)
	assert.Equal(t, model.StatusFailed, got.Status)
	require.Eventually(t, func() bool { return len(client.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []model.ID{"7", "8"}, client.Calls()[0])
	assert.Zero(t, b.Waiting())
}

func TestStopCancelsTimer(t *testing.T) {
	client := &fakeClient{}
	b := New(client, WithDelay(10*time.Millisecond))
	b.Queue("1")
	b.Stop()
	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, client.Calls())
	assert.Equal(t, 0, b.Queue("2"))
}

func TestFlushEmptyIsNoop(t *testing.T) {
	client := &fakeClient{}
	New(client).Flush(context.Background())
	assert.Empty(t, client.Calls())
}
