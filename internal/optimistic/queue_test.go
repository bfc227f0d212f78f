package optimistic

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chatsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	q       *Queue
	now     time.Time
	mu      sync.Mutex
	changes [][]model.OptimisticMessage
}

func newFixture(t *testing.T, conv model.Conversation) *fixture {
	t.Helper()
	f := &fixture{now: t0}
	n := 0
	f.q = New(conv, Identity{ID: "1", Name: "Ann"},
		WithIDGenerator(func() string { n++; return fmt.Sprintf("temp-%d", n) }),
		WithClock(func() time.Time { return f.now }),
		WithOnChange(func(entries []model.OptimisticMessage) {
			f.mu.Lock()
			f.changes = append(f.changes, entries)
			f.mu.Unlock()
		}),
	)
	return f
}

func (f *fixture) lastChange() []model.OptimisticMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.changes) == 0 {
		return nil
	}
	return f.changes[len(f.changes)-1]
}

func rowIDs(rows []model.DisplayMessage) []model.ID {
	out := make([]model.ID, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out
}

func TestAddCreatesPendingEntry(t *testing.T) {
	f := newFixture(t, model.Direct("42"))
	o := f.q.Add(model.Draft{Body: "hello", ReplyToMessageID: "5"})

	assert.Equal(t, "temp-1", o.TempID)
	assert.Equal(t, "dm-42", o.ConversationKey)
	assert.Equal(t, model.ID("1"), o.SenderID)
	assert.Equal(t, "Ann", o.SenderName)
	assert.Equal(t, t0, o.CreatedAt)
	assert.Equal(t, model.StatusPending, o.Status)
	assert.Zero(t, o.RetryCount)
	assert.True(t, f.q.HasPending())
	require.Len(t, f.lastChange(), 1)
}

func TestDefaultTempIDsAreDistinguishable(t *testing.T) {
	q := New(model.Team("7"), Identity{ID: "1"})
	a := q.Add(model.Draft{Body: "a"})
	b := q.Add(model.Draft{Body: "b"})
	assert.True(t, strings.HasPrefix(a.TempID, TempIDPrefix))
	assert.NotEqual(t, a.TempID, b.TempID)
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture(t, model.Direct("42"))
	o := f.q.Add(model.Draft{Body: "x"})

	assert.False(t, f.q.UpdateStatus(o.TempID, model.StatusPending, nil))
	assert.False(t, f.q.UpdateStatus("temp-404", model.StatusSent, nil))

	require.True(t, f.q.UpdateStatus(o.TempID, model.StatusFailed, nil))
	assert.False(t, f.q.UpdateStatus(o.TempID, model.StatusSent, &model.Message{ID: "9"}), "failed must go through retry")
	assert.False(t, f.q.HasPending())

	_, ok := f.q.Retry(o.TempID)
	require.True(t, ok)
	require.True(t, f.q.UpdateStatus(o.TempID, model.StatusSent, &model.Message{ID: "9"}))
	assert.False(t, f.q.UpdateStatus(o.TempID, model.StatusFailed, nil))

	got, ok := f.q.Get(o.TempID)
	require.True(t, ok)
	require.NotNil(t, got.Result)
	assert.Equal(t, model.ID("9"), got.Result.ID)

	_, ok = f.q.Retry(o.TempID)
	assert.False(t, ok, "sent entries cannot be retried")
}

func TestRetryResetsToPendingAndCounts(t *testing.T) {
	f := newFixture(t, model.Direct("42"))
	o := f.q.Add(model.Draft{Body: "x"})

	_, ok := f.q.Retry(o.TempID)
	assert.False(t, ok, "pending entries cannot be retried")

	for i := 1; i <= 3; i++ {
		require.True(t, f.q.UpdateStatus(o.TempID, model.StatusFailed, nil))
		r, ok := f.q.Retry(o.TempID)
		require.True(t, ok)
		assert.Equal(t, o.TempID, r.TempID)
		assert.Equal(t, model.StatusPending, r.Status)
		assert.Equal(t, i, r.RetryCount)
	}
}

func TestDismissOnlyFailed(t *testing.T) {
	f := newFixture(t, model.Direct("42"))
	o := f.q.Add(model.Draft{Body: "x"})
	assert.False(t, f.q.Dismiss(o.TempID))

	f.q.UpdateStatus(o.TempID, model.StatusFailed, nil)
	assert.True(t, f.q.Dismiss(o.TempID))
	assert.Zero(t, f.q.Len())
	assert.Empty(t, f.lastChange())
}

func TestInFlightMarker(t *testing.T) {
	f := newFixture(t, model.Direct("42"))
	o := f.q.Add(model.Draft{Body: "x"})

	_, ok := f.q.BeginSend(o.TempID)
	require.True(t, ok)
	_, ok = f.q.BeginSend(o.TempID)
	assert.False(t, ok)
	assert.True(t, f.q.InFlight(o.TempID))

	f.q.EndSend(o.TempID)
	_, ok = f.q.BeginSend(o.TempID)
	assert.True(t, ok)
	f.q.EndSend(o.TempID)

	f.q.UpdateStatus(o.TempID, model.StatusFailed, nil)
	_, ok = f.q.BeginSend(o.TempID)
	assert.False(t, ok, "failed entries are not sent until retried")
}

func TestRestoreSkipsForeignAndDuplicateEntries(t *testing.T) {
	f := newFixture(t, model.Direct("42"))
	existing := f.q.Add(model.Draft{Body: "x"})

	n := f.q.Restore([]model.OptimisticMessage{
		{TempID: "temp-a", ConversationKey: "dm-42", Status: model.StatusFailed},
		{TempID: "temp-b", ConversationKey: "dm-43", Status: model.StatusPending},
		existing,
	})
	assert.Equal(t, 1, n)
	snap := f.q.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, existing.TempID, snap[0].TempID)
	assert.Equal(t, "temp-a", snap[1].TempID)
}

func TestMergeOrderingContract(t *testing.T) {
	f := newFixture(t, model.Team("7"))
	f.q.Add(model.Draft{Body: "first"})
	f.now = t0.Add(time.Minute)
	f.q.Add(model.Draft{Body: "second"})

	confirmed := []model.Message{
		{ID: "3", SenderID: "2", Body: "c", CreatedAt: t0.Add(time.Hour)},
		{ID: "1", SenderID: "2", Body: "a", CreatedAt: t0.Add(-time.Hour)},
	}
	rows := f.q.Merge(confirmed)

	// caller order is kept even though it is not chronological
	assert.Equal(t, []model.ID{"3", "1", "temp-1", "temp-2"}, rowIDs(rows))
	assert.False(t, rows[0].IsOptimistic())
	assert.True(t, rows[2].IsOptimistic())
	assert.Equal(t, model.ID("7"), rows[2].TeamID)
}

func TestMergeSupersededBySentResult(t *testing.T) {
	f := newFixture(t, model.Direct("42"))
	o := f.q.Add(model.Draft{Body: "hello"})
	require.True(t, f.q.UpdateStatus(o.TempID, model.StatusSent, &model.Message{ID: "917", Body: "hello"}))

	// sent but not yet in history: still shown
	rows := f.q.Merge(nil)
	require.Len(t, rows, 1)
	assert.Equal(t, model.StatusSent, rows[0].Status)

	// result id present, body edited server-side so the heuristic cannot match
	rows = f.q.Merge([]model.Message{{ID: "917", SenderID: "1", Body: "hello (edited)", CreatedAt: t0.Add(time.Hour)}})
	assert.Equal(t, []model.ID{"917"}, rowIDs(rows))
}

func TestMergeDuplicateFallback(t *testing.T) {
	f := newFixture(t, model.Direct("42"))
	f.q.Add(model.Draft{Body: "hello", ReplyToMessageID: "5"})

	base := model.Message{ID: "917", SenderID: "1", RecipientID: "42", Body: "hello", ReplyToMessageID: model.IDPtr("5")}

	inside := base
	inside.CreatedAt = t0.Add(4 * time.Second)
	assert.Equal(t, []model.ID{"917"}, rowIDs(f.q.Merge([]model.Message{inside})), "broadcast raced the status update")

	outside := base
	outside.CreatedAt = t0.Add(6 * time.Second)
	assert.Len(t, f.q.Merge([]model.Message{outside}), 2)

	otherReply := inside
	otherReply.ReplyToMessageID = model.IDPtr("6")
	assert.Len(t, f.q.Merge([]model.Message{otherReply}), 2)

	otherSender := inside
	otherSender.SenderID = "42"
	assert.Len(t, f.q.Merge([]model.Message{otherSender}), 2)

	otherAttachmentReply := inside
	otherAttachmentReply.ReplyToAttachmentID = model.IDPtr("8")
	assert.Len(t, f.q.Merge([]model.Message{otherAttachmentReply}), 2)
}

func TestMergeShowsFailedEntries(t *testing.T) {
	f := newFixture(t, model.Direct("42"))
	o := f.q.Add(model.Draft{Body: "x"})
	f.q.UpdateStatus(o.TempID, model.StatusFailed, nil)

	rows := f.q.Merge([]model.Message{{ID: "1", SenderID: "42", Body: "hi"}})
	require.Len(t, rows, 2)
	assert.Equal(t, model.StatusFailed, rows[1].Status)
}

// A local send whose confirmation arrives through the send response, a
// history fetch and a realtime broadcast is shown exactly once at every step.
func TestNoDuplicationAcrossConfirmationPaths(t *testing.T) {
	f := newFixture(t, model.Direct("42"))
	o := f.q.Add(model.Draft{Body: "hello"})
	server := model.Message{ID: "917", SenderID: "1", RecipientID: "42", Body: "hello", CreatedAt: t0.Add(300 * time.Millisecond)}

	count := func(rows []model.DisplayMessage) int {
		n := 0
		for _, r := range rows {
			if r.Body == "hello" {
				n++
			}
		}
		return n
	}

	// broadcast first, status update still outstanding
	assert.Equal(t, 1, count(f.q.Merge([]model.Message{server})))

	require.True(t, f.q.UpdateStatus(o.TempID, model.StatusSent, &server))
	assert.Equal(t, 1, count(f.q.Merge(nil)))
	assert.Equal(t, 1, count(f.q.Merge([]model.Message{server})))

	f.q.Remove(o.TempID)
	rows := f.q.Merge([]model.Message{server})
	assert.Equal(t, 1, count(rows))
	assert.Equal(t, []model.ID{"917"}, rowIDs(rows))
}

func TestWithDuplicateWindowIgnoresNonPositive(t *testing.T) {
	q := New(model.Team("1"), Identity{}, WithDuplicateWindow(0))
	assert.Equal(t, DefaultDuplicateWindow, q.window)
	q = New(model.Team("1"), Identity{}, WithDuplicateWindow(time.Second))
	assert.Equal(t, time.Second, q.window)
}
