// Package api is the HTTP client for the chat server endpoints the delivery
// core depends on.
package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

const DefaultTimeout = 10 * time.Second

// StatusError is returned for every non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Code)
	}
	return fmt.Sprintf("api: status %d: %s", e.Code, e.Message)
}

type Options struct {
	BaseURL  string
	UserID   model.ID
	UserName string
	// SessionID and SessionSecret (base64 of the 32-byte key) enable request signing.
	SessionID     string
	SessionSecret string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

type Client struct {
	baseURL   string
	http      *http.Client
	userID    model.ID
	userName  string
	sessionID string
	secret    []byte
	now       func() time.Time
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("api.New: base url is required")
	}
	c := &Client{
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/"),
		http:      opts.HTTPClient,
		userID:    opts.UserID,
		userName:  opts.UserName,
		sessionID: opts.SessionID,
		now:       time.Now,
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if opts.SessionSecret != "" {
		secret, err := base64.StdEncoding.DecodeString(opts.SessionSecret)
		if err != nil {
			return nil, fmt.Errorf("api.New: session secret: %w", err)
		}
		c.secret = secret
	}
	return c, nil
}

// Upload is one file part of a multipart send.
type Upload struct {
	Name     string
	MimeType string
	Data     []byte
}

// SendRequest is the message-create payload. Exactly one of TeamID and
// RecipientID is set.
type SendRequest struct {
	Body                string
	Type                model.MessageType
	TeamID              model.ID
	RecipientID         model.ID
	ReplyToMessageID    model.ID
	ReplyToAttachmentID model.ID
	Uploads             []Upload
}

type sendJSON struct {
	Body                string            `json:"body"`
	Type                model.MessageType `json:"type"`
	TeamID              *model.ID         `json:"team_id,omitempty"`
	RecipientID         *model.ID         `json:"recipient_id,omitempty"`
	ReplyToMessageID    *model.ID         `json:"reply_to_message_id,omitempty"`
	ReplyToAttachmentID *model.ID         `json:"reply_to_attachment_id,omitempty"`
}

// SendMessage posts a message: multipart when uploads are present, JSON otherwise.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (*model.Message, error) {
	defer logger.DeferLogDuration("api.SendMessage", time.Now())()
	if req.Type == "" {
		req.Type = model.MessageTypeText
		if len(req.Uploads) > 0 {
			req.Type = model.MessageTypeFile
		}
	}
	var (
		body        []byte
		contentType string
		err         error
	)
	if len(req.Uploads) > 0 {
		body, contentType, err = encodeMultipart(req)
	} else {
		body, err = json.Marshal(sendJSON{
			Body:                req.Body,
			Type:                req.Type,
			TeamID:              model.IDPtr(req.TeamID),
			RecipientID:         model.IDPtr(req.RecipientID),
			ReplyToMessageID:    model.IDPtr(req.ReplyToMessageID),
			ReplyToAttachmentID: model.IDPtr(req.ReplyToAttachmentID),
		})
		contentType = "application/json"
	}
	if err != nil {
		return nil, fmt.Errorf("api.SendMessage: encode: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, "/api/chat/messages", nil, body, contentType)
	if err != nil {
		return nil, fmt.Errorf("api.SendMessage: %w", err)
	}
	msg, err := decodeMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("api.SendMessage: %w", err)
	}
	return msg, nil
}

func encodeMultipart(req SendRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"body", req.Body},
		{"type", string(req.Type)},
		{"team_id", string(req.TeamID)},
		{"recipient_id", string(req.RecipientID)},
		{"reply_to_message_id", string(req.ReplyToMessageID)},
		{"reply_to_attachment_id", string(req.ReplyToAttachmentID)},
	}
	for _, f := range fields {
		if f[1] == "" && f[0] != "body" {
			continue
		}
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	for i, u := range req.Uploads {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachments[%d]"; filename=%q`, i, u.Name))
		ct := u.MimeType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(u.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// decodeMessage accepts a bare message or one wrapped as {"message": ...}.
func decodeMessage(raw []byte) (*model.Message, error) {
	var wrapped struct {
		Message *model.Message `json:"message"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Message != nil {
		return wrapped.Message, nil
	}
	var msg model.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if msg.ID == "" {
		return nil, fmt.Errorf("decode message: response has no id")
	}
	return &msg, nil
}

// MarkRead acknowledges a batch of messages and returns the stored receipts.
func (c *Client) MarkRead(ctx context.Context, ids []model.ID) ([]model.ReadReceipt, error) {
	body, err := json.Marshal(struct {
		MessageIDs []model.ID `json:"message_ids"`
	}{ids})
	if err != nil {
		return nil, fmt.Errorf("api.MarkRead: %w", err)
	}
	raw, err := c.do(ctx, http.MethodPost, "/api/chat/messages/read-batch", nil, body, "application/json")
	if err != nil {
		return nil, fmt.Errorf("api.MarkRead: %w", err)
	}
	var resp struct {
		Reads []model.ReadReceipt `json:"reads"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("api.MarkRead: decode: %w", err)
	}
	return resp.Reads, nil
}

// React adds (add=true) or removes the caller's emoji reaction on a message.
func (c *Client) React(ctx context.Context, messageID model.ID, emoji string, add bool) error {
	return c.react(ctx, "/api/chat/messages/"+url.PathEscape(string(messageID))+"/reactions", emoji, add)
}

// ReactAttachment is React for a single attachment.
func (c *Client) ReactAttachment(ctx context.Context, attachmentID model.ID, emoji string, add bool) error {
	return c.react(ctx, "/api/chat/attachments/"+url.PathEscape(string(attachmentID))+"/reactions", emoji, add)
}

func (c *Client) react(ctx context.Context, path, emoji string, add bool) error {
	body, err := json.Marshal(map[string]string{"emoji": emoji})
	if err != nil {
		return fmt.Errorf("api.React: %w", err)
	}
	method := http.MethodPost
	if !add {
		method = http.MethodDelete
	}
	if _, err := c.do(ctx, method, path, nil, body, "application/json"); err != nil {
		return fmt.Errorf("api.React: %w", err)
	}
	return nil
}

// SetPinned pins or unpins a message.
func (c *Client) SetPinned(ctx context.Context, messageID model.ID, pinned bool) error {
	method := http.MethodPost
	if !pinned {
		method = http.MethodDelete
	}
	if _, err := c.do(ctx, method, "/api/chat/messages/"+url.PathEscape(string(messageID))+"/pin", nil, nil, ""); err != nil {
		return fmt.Errorf("api.SetPinned: %w", err)
	}
	return nil
}

// DeleteMessage soft-deletes a message; RestoreMessage undoes it.
func (c *Client) DeleteMessage(ctx context.Context, messageID model.ID) error {
	if _, err := c.do(ctx, http.MethodDelete, "/api/chat/messages/"+url.PathEscape(string(messageID)), nil, nil, ""); err != nil {
		return fmt.Errorf("api.DeleteMessage: %w", err)
	}
	return nil
}

func (c *Client) RestoreMessage(ctx context.Context, messageID model.ID) error {
	if _, err := c.do(ctx, http.MethodPost, "/api/chat/messages/"+url.PathEscape(string(messageID))+"/restore", nil, nil, ""); err != nil {
		return fmt.Errorf("api.RestoreMessage: %w", err)
	}
	return nil
}

// SetAttachmentPinned pins or unpins a single attachment.
func (c *Client) SetAttachmentPinned(ctx context.Context, attachmentID model.ID, pinned bool) error {
	method := http.MethodPost
	if !pinned {
		method = http.MethodDelete
	}
	if _, err := c.do(ctx, method, "/api/chat/attachments/"+url.PathEscape(string(attachmentID))+"/pin", nil, nil, ""); err != nil {
		return fmt.Errorf("api.SetAttachmentPinned: %w", err)
	}
	return nil
}

func (c *Client) DeleteAttachment(ctx context.Context, attachmentID model.ID) error {
	if _, err := c.do(ctx, http.MethodDelete, "/api/chat/attachments/"+url.PathEscape(string(attachmentID)), nil, nil, ""); err != nil {
		return fmt.Errorf("api.DeleteAttachment: %w", err)
	}
	return nil
}

func (c *Client) RestoreAttachment(ctx context.Context, attachmentID model.ID) error {
	if _, err := c.do(ctx, http.MethodPost, "/api/chat/attachments/"+url.PathEscape(string(attachmentID))+"/restore", nil, nil, ""); err != nil {
		return fmt.Errorf("api.RestoreAttachment: %w", err)
	}
	return nil
}

// History returns one page of confirmed messages, oldest first. before
// pages backwards; an empty before returns the newest page.
func (c *Client) History(ctx context.Context, conv model.Conversation, before model.ID, limit int) ([]model.Message, error) {
	q := url.Values{}
	if conv.Kind == model.ConversationTeam {
		q.Set("team_id", string(conv.ID))
	} else {
		q.Set("recipient_id", string(conv.ID))
	}
	if before != "" {
		q.Set("before", string(before))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	raw, err := c.do(ctx, http.MethodGet, "/api/chat/messages", q, nil, "")
	if err != nil {
		return nil, fmt.Errorf("api.History: %w", err)
	}
	var resp struct {
		Messages []model.Message `json:"messages"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("api.History: decode: %w", err)
	}
	return resp.Messages, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, contentType string) ([]byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.userID != "" {
		req.Header.Set("X-User-Id", string(c.userID))
	}
	if c.userName != "" {
		req.Header.Set("X-User-Name", c.userName)
	}
	c.sign(req, path, body, contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return nil, &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	return raw, nil
}

// Header returns the identity and signing headers for a bodiless request,
// e.g. the realtime websocket handshake.
func (c *Client) Header(method, path string) http.Header {
	req := &http.Request{Method: method, Header: make(http.Header)}
	if c.userID != "" {
		req.Header.Set("X-User-Id", string(c.userID))
	}
	if c.userName != "" {
		req.Header.Set("X-User-Name", c.userName)
	}
	c.sign(req, path, nil, "")
	return req.Header
}

// sign adds X-Session-Id, X-Timestamp and X-Signature. Multipart bodies are
// signed as empty.
func (c *Client) sign(req *http.Request, path string, body []byte, contentType string) {
	if c.sessionID == "" || len(c.secret) == 0 {
		return
	}
	ts := strconv.FormatInt(c.now().Unix(), 10)
	signed := string(body)
	if strings.HasPrefix(contentType, "multipart/form-data") {
		signed = ""
	}
	req.Header.Set("X-Session-Id", c.sessionID)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", Signature(c.secret, req.Method, path, signed, ts))
}

// Signature is hex(HMAC-SHA256(secret, method+path+body+timestamp)).
func Signature(secret []byte, method, path, body, timestamp string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(method + path + body + timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}
