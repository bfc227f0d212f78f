package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chatsync/internal/api"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/realtime"
	"github.com/chatsync/internal/repository"
	"github.com/chatsync/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	store *repository.MemoryStore
	hub   *ws.Hub
}

func newTestServer(t *testing.T, sessions map[string][]byte) *testServer {
	t.Helper()
	store := repository.NewMemoryStore()
	hub := ws.NewHub(ws.Limits{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	srv := httptest.NewServer(NewRouter(RouterConfig{Store: store, Hub: hub, Sessions: sessions}))
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return &testServer{Server: srv, store: store, hub: hub}
}

func (s *testServer) client(t *testing.T, user model.ID) *api.Client {
	t.Helper()
	c, err := api.New(api.Options{BaseURL: s.URL, UserID: user, UserName: "user" + string(user)})
	require.NoError(t, err)
	return c
}

// dial connects user and subscribes to channels, waiting for each confirmation.
func (s *testServer) dial(t *testing.T, user model.ID, channels ...string) *realtime.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?user_id=" + string(user)
	conn, err := realtime.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	for _, ch := range channels {
		require.NoError(t, conn.Subscribe(ch))
		f := nextFrame(t, conn)
		require.Equal(t, realtime.EventSubscribed, f.Event, "subscribe %s: %s", ch, string(f.Data))
	}
	return conn
}

func nextFrame(t *testing.T, conn *realtime.Conn) realtime.Frame {
	t.Helper()
	select {
	case f, ok := <-conn.Frames():
		require.True(t, ok, "connection closed")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame")
	}
	return realtime.Frame{}
}

func statusCode(err error) int {
	var se *api.StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

func TestCreateBroadcastsAndPagesHistory(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	peer := s.dial(t, "2", realtime.DirectChannel("1", "2"))

	msg, err := s.client(t, "1").SendMessage(ctx, api.SendRequest{Body: "hello", RecipientID: "2"})
	require.NoError(t, err)
	assert.Equal(t, model.ID("1"), msg.ID)
	assert.Equal(t, "user1", msg.SenderName)

	f := nextFrame(t, peer)
	require.Equal(t, realtime.EventMessageSent, f.Event)
	ev, err := realtime.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, "hello", ev.(realtime.MessageSent).Message.Body)

	_, err = s.client(t, "1").SendMessage(ctx, api.SendRequest{Body: "second", RecipientID: "2"})
	require.NoError(t, err)

	page, err := s.client(t, "2").History(ctx, model.Direct("1"), "", 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "hello", page[0].Body)

	older, err := s.client(t, "2").History(ctx, model.Direct("1"), page[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, page[0].ID, older[0].ID)

	none, err := s.client(t, "3").History(ctx, model.Direct("1"), "", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCreateValidation(t *testing.T) {
	s := newTestServer(t, nil)
	c := s.client(t, "1")
	ctx := context.Background()

	_, err := c.SendMessage(ctx, api.SendRequest{Body: "x"})
	assert.Equal(t, http.StatusBadRequest, statusCode(err))
	_, err = c.SendMessage(ctx, api.SendRequest{Body: "x", TeamID: "7", RecipientID: "2"})
	assert.Equal(t, http.StatusBadRequest, statusCode(err))
	_, err = c.SendMessage(ctx, api.SendRequest{Body: "  ", TeamID: "7"})
	assert.Equal(t, http.StatusBadRequest, statusCode(err))
	_, err = c.SendMessage(ctx, api.SendRequest{Body: "x", TeamID: "7", ReplyToMessageID: "404"})
	assert.Equal(t, http.StatusBadRequest, statusCode(err))

	resp, err := http.Post(s.URL+"/api/chat/messages", "application/json", strings.NewReader(`{"body":"x","team_id":"7"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMultipartAttachmentRoundTrip(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	msg, err := s.client(t, "1").SendMessage(ctx, api.SendRequest{
		Body:        "photo",
		RecipientID: "2",
		Uploads:     []api.Upload{{Name: "a.png", MimeType: "image/png", Data: []byte("PNGDATA")}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.MessageTypeFile, msg.Type)
	require.Len(t, msg.Attachments, 1)
	att := msg.Attachments[0]
	assert.Equal(t, "a.png", att.FileName)
	assert.Equal(t, int64(7), att.Size)

	get := func(user string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, s.URL+att.URL, nil)
		require.NoError(t, err)
		req.Header.Set("X-User-Id", user)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := get("2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(body))
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "a.png")

	assert.Equal(t, http.StatusForbidden, get("3").StatusCode)

	require.NoError(t, s.client(t, "1").DeleteAttachment(ctx, att.ID))
	assert.Equal(t, http.StatusGone, get("2").StatusCode)
}

func TestReadBatchNotifiesAuthors(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	author := s.dial(t, "1", realtime.UserChannel("1"))

	a, err := s.client(t, "1").SendMessage(ctx, api.SendRequest{Body: "a", TeamID: "7"})
	require.NoError(t, err)
	b, err := s.client(t, "1").SendMessage(ctx, api.SendRequest{Body: "b", TeamID: "7"})
	require.NoError(t, err)
	own, err := s.client(t, "2").SendMessage(ctx, api.SendRequest{Body: "own", TeamID: "7"})
	require.NoError(t, err)

	reads, err := s.client(t, "2").MarkRead(ctx, []model.ID{a.ID, b.ID, own.ID})
	require.NoError(t, err)
	require.Len(t, reads, 2)

	f := nextFrame(t, author)
	require.Equal(t, realtime.EventMessageRead, f.Event)
	ev, err := realtime.Decode(f)
	require.NoError(t, err)
	got := ev.(realtime.MessagesRead).Reads
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].MessageID)
	assert.Equal(t, model.ID("2"), got[0].UserID)
}

func TestReactionsPinAndDelete(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	watcher := s.dial(t, "3", realtime.TeamChannel("7"))

	msg, err := s.client(t, "1").SendMessage(ctx, api.SendRequest{Body: "hi", TeamID: "7"})
	require.NoError(t, err)
	assert.Equal(t, realtime.EventMessageSent, nextFrame(t, watcher).Event)

	require.NoError(t, s.client(t, "2").React(ctx, msg.ID, "👍", true))
	f := nextFrame(t, watcher)
	require.Equal(t, realtime.EventMessageReactionAdded, f.Event)
	ev, err := realtime.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, model.ID("2"), ev.(realtime.ReactionChanged).Reaction.UserID)

	// a repeated add changes nothing and broadcasts nothing
	require.NoError(t, s.client(t, "2").React(ctx, msg.ID, "👍", true))
	require.NoError(t, s.client(t, "2").SetPinned(ctx, msg.ID, true))
	assert.Equal(t, realtime.EventMessagePinned, nextFrame(t, watcher).Event)

	err = s.client(t, "2").DeleteMessage(ctx, msg.ID)
	assert.Equal(t, http.StatusForbidden, statusCode(err))
	require.NoError(t, s.client(t, "1").DeleteMessage(ctx, msg.ID))
	f = nextFrame(t, watcher)
	require.Equal(t, realtime.EventMessageDeleted, f.Event)
	var p realtime.MessageStatePayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	require.NotNil(t, p.At)

	require.NoError(t, s.client(t, "1").RestoreMessage(ctx, msg.ID))
	assert.Equal(t, realtime.EventMessageRestored, nextFrame(t, watcher).Event)

	got, err := s.store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPinned)
	assert.False(t, got.IsDeleted())
	assert.Len(t, got.Reactions, 1)

	err = s.client(t, "2").React(ctx, "404", "👍", true)
	assert.Equal(t, http.StatusNotFound, statusCode(err))
}

func TestAttachmentReactionBroadcast(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	watcher := s.dial(t, "2", realtime.DirectChannel("1", "2"))

	msg, err := s.client(t, "1").SendMessage(ctx, api.SendRequest{
		RecipientID: "2",
		Uploads:     []api.Upload{{Name: "doc.txt", Data: []byte("x")}},
	})
	require.NoError(t, err)
	nextFrame(t, watcher)

	attID := msg.Attachments[0].ID
	require.NoError(t, s.client(t, "2").ReactAttachment(ctx, attID, "🔥", true))
	f := nextFrame(t, watcher)
	require.Equal(t, realtime.EventAttachmentReactionAdded, f.Event)
	ev, err := realtime.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, ev.(realtime.AttachmentReactionChanged).MessageID)

	require.NoError(t, s.client(t, "2").SetAttachmentPinned(ctx, attID, true))
	assert.Equal(t, realtime.EventAttachmentPinned, nextFrame(t, watcher).Event)

	err = s.client(t, "3").ReactAttachment(ctx, attID, "🔥", true)
	assert.Equal(t, http.StatusForbidden, statusCode(err))
}

func TestPrivateChannelsAndWhispers(t *testing.T) {
	s := newTestServer(t, nil)
	dm := realtime.DirectChannel("1", "2")

	outsider := s.dial(t, "3")
	require.NoError(t, outsider.Subscribe(dm))
	f := nextFrame(t, outsider)
	assert.Equal(t, realtime.EventError, f.Event)
	assert.Contains(t, string(f.Data), "forbidden")

	require.NoError(t, outsider.Subscribe(realtime.UserChannel("1")))
	assert.Equal(t, realtime.EventError, nextFrame(t, outsider).Event)

	ann := s.dial(t, "1", dm)
	bob := s.dial(t, "2", dm)
	require.NoError(t, ann.Whisper(dm, realtime.EventTyping, realtime.TypingPayload{UserID: "1"}))
	f = nextFrame(t, bob)
	assert.Equal(t, realtime.EventTyping, f.Event)

	// the whisperer never hears its own typing
	select {
	case f := <-ann.Frames():
		t.Fatalf("unexpected frame for sender: %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSignedRequests(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	s := newTestServer(t, map[string][]byte{"sess-1": secret})
	ctx := context.Background()

	signed, err := api.New(api.Options{
		BaseURL:       s.URL,
		UserID:        "1",
		SessionID:     "sess-1",
		SessionSecret: base64.StdEncoding.EncodeToString(secret),
	})
	require.NoError(t, err)
	_, err = signed.SendMessage(ctx, api.SendRequest{Body: "signed", TeamID: "7"})
	require.NoError(t, err)
	_, err = signed.SendMessage(ctx, api.SendRequest{TeamID: "7", Uploads: []api.Upload{{Name: "a", Data: []byte{1}}}})
	require.NoError(t, err)

	_, err = s.client(t, "1").SendMessage(ctx, api.SendRequest{Body: "unsigned", TeamID: "7"})
	assert.Equal(t, http.StatusUnauthorized, statusCode(err))
}
