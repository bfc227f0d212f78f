package api

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

	"github.com/chatsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func TestSendMessageJSON(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat/messages", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "1", r.Header.Get("X-User-Id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"id":917,"sender_id":1,"recipient_id":42,"body":"hello","attachments":[]}`)
	}, Options{UserID: "1"})

	msg, err := c.SendMessage(context.Background(), SendRequest{Body: "hello", RecipientID: "42", ReplyToMessageID: "5"})
	require.NoError(t, err)
	assert.Equal(t, model.ID("917"), msg.ID)
	assert.Equal(t, model.ID("42"), msg.RecipientID)

	assert.Equal(t, "hello", got["body"])
	assert.Equal(t, "text", got["type"])
	assert.Equal(t, "42", got["recipient_id"])
	assert.Equal(t, "5", got["reply_to_message_id"])
	assert.NotContains(t, got, "team_id")
	assert.NotContains(t, got, "reply_to_attachment_id")
}

func TestSendMessageMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "look", r.FormValue("body"))
		assert.Equal(t, "file", r.FormValue("type"))
		assert.Equal(t, "7", r.FormValue("team_id"))
		assert.Empty(t, r.FormValue("recipient_id"))

		f, hdr, err := r.FormFile("attachments[0]")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "a.png", hdr.Filename)
		assert.Equal(t, "image/png", hdr.Header.Get("Content-Type"))
		assert.Equal(t, []byte{1, 2, 3}, data)

		_, _, err = r.FormFile("attachments[1]")
		assert.NoError(t, err)

		_, _ = io.WriteString(w, `{"message":{"id":"918","team_id":"7","body":"look","attachments":[{"id":1,"file_name":"a.png"}]}}`)
	}, Options{})

	msg, err := c.SendMessage(context.Background(), SendRequest{
		Body:   "look",
		TeamID: "7",
		Uploads: []Upload{
			{Name: "a.png", MimeType: "image/png", Data: []byte{1, 2, 3}},
			{Name: "b.bin", Data: []byte{4}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.ID("918"), msg.ID)
	require.Len(t, msg.Attachments, 1)
}

func TestStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"error":"body is required"}`)
	}, Options{})

	_, err := c.SendMessage(context.Background(), SendRequest{RecipientID: "42"})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnprocessableEntity, se.Code)
	assert.Equal(t, "body is required", se.Message)
}

func TestResponseWithoutIDIsAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}, Options{})
	_, err := c.SendMessage(context.Background(), SendRequest{Body: "x", RecipientID: "42"})
	assert.Error(t, err)
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, Options{Timeout: 50 * time.Millisecond})
	defer close(release)

	_, err := c.SendMessage(context.Background(), SendRequest{Body: "x", RecipientID: "42"})
	assert.Error(t, err)
}

func TestMarkRead(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/messages/read-batch", r.URL.Path)
		var req struct {
			MessageIDs []string `json:"message_ids"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"1", "2"}, req.MessageIDs)
		_, _ = io.WriteString(w, `{"reads":[{"message_id":1,"user_id":9},{"message_id":2,"user_id":9}]}`)
	}, Options{})

	reads, err := c.MarkRead(context.Background(), []model.ID{"1", "2"})
	require.NoError(t, err)
	require.Len(t, reads, 2)
	assert.Equal(t, model.ID("2"), reads[1].MessageID)
}

func TestReactAndModeration(t *testing.T) {
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}, Options{})
	ctx := context.Background()

	require.NoError(t, c.React(ctx, "9", "👍", true))
	require.NoError(t, c.React(ctx, "9", "👍", false))
	require.NoError(t, c.ReactAttachment(ctx, "3", "🔥", true))
	require.NoError(t, c.SetPinned(ctx, "9", true))
	require.NoError(t, c.SetPinned(ctx, "9", false))
	require.NoError(t, c.DeleteMessage(ctx, "9"))
	require.NoError(t, c.RestoreMessage(ctx, "9"))
	require.NoError(t, c.SetAttachmentPinned(ctx, "3", true))
	require.NoError(t, c.DeleteAttachment(ctx, "3"))
	require.NoError(t, c.RestoreAttachment(ctx, "3"))

	assert.Equal(t, []string{
		"POST /api/chat/messages/9/reactions",
		"DELETE /api/chat/messages/9/reactions",
		"POST /api/chat/attachments/3/reactions",
		"POST /api/chat/messages/9/pin",
		"DELETE /api/chat/messages/9/pin",
		"DELETE /api/chat/messages/9",
		"POST /api/chat/messages/9/restore",
		"POST /api/chat/attachments/3/pin",
		"DELETE /api/chat/attachments/3",
		"POST /api/chat/attachments/3/restore",
	}, calls)
}

func TestHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("team_id"))
		assert.Equal(t, "100", r.URL.Query().Get("before"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `{"messages":[{"id":98,"body":"a"},{"id":99,"body":"b"}]}`)
	}, Options{})

	msgs, err := c.History(context.Background(), model.Team("7"), "100", 50)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.ID("99"), msgs[1].ID)
}

func TestRequestSigning(t *testing.T) {
	secret := []byte(strings.Repeat("k", 32))
	now := time.Unix(1767000000, 0)
	var checked int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		signed := string(body)
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			signed = ""
		}
		assert.Equal(t, "sess-1", r.Header.Get("X-Session-Id"))
		assert.Equal(t, "1767000000", r.Header.Get("X-Timestamp"))
		assert.Equal(t, Signature(secret, r.Method, r.URL.Path, signed, "1767000000"), r.Header.Get("X-Signature"))
		checked++
		_, _ = io.WriteString(w, `{"id":1,"attachments":[{"id":1}]}`)
	}, Options{SessionID: "sess-1", SessionSecret: base64.StdEncoding.EncodeToString(secret)})
	c.now = func() time.Time { return now }

	ctx := context.Background()
	_, err := c.SendMessage(ctx, SendRequest{Body: "x", RecipientID: "42"})
	require.NoError(t, err)
	_, err = c.SendMessage(ctx, SendRequest{Body: "x", RecipientID: "42", Uploads: []Upload{{Name: "a", Data: []byte("z")}}})
	require.NoError(t, err)
	assert.Equal(t, 2, checked)
}

func TestHandshakeHeader(t *testing.T) {
	secret := []byte(strings.Repeat("k", 32))
	c, err := New(Options{
		BaseURL:       "http://chat.local",
		UserID:        "1",
		UserName:      "Ann",
		SessionID:     "sess-1",
		SessionSecret: base64.StdEncoding.EncodeToString(secret),
	})
	require.NoError(t, err)
	c.now = func() time.Time { return time.Unix(1767000000, 0) }

	h := c.Header(http.MethodGet, "/ws")
	assert.Equal(t, "1", h.Get("X-User-Id"))
	assert.Equal(t, "Ann", h.Get("X-User-Name"))
	assert.Equal(t, Signature(secret, http.MethodGet, "/ws", "", "1767000000"), h.Get("X-Signature"))

	unsigned, err := New(Options{BaseURL: "http://chat.local", UserID: "1"})
	require.NoError(t, err)
	assert.Empty(t, unsigned.Header(http.MethodGet, "/ws").Get("X-Signature"))
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
	_, err = New(Options{BaseURL: "http://x", SessionSecret: "%%%"})
	assert.Error(t, err)
}
