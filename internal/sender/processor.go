// Package sender delivers queued optimistic messages to the server.
package sender

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chatsync/internal/api"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/model"
)

var (
	// ErrStaleAttachment: an attachment lost its in-memory file, typically after a reload.
	ErrStaleAttachment = errors.New("sender: attachment file is no longer available")
	// ErrAttachmentsDropped: the server accepted the message but returned none of its attachments.
	ErrAttachmentsDropped = errors.New("sender: server dropped the attachments")
)

// Client posts one message.
type Client interface {
	SendMessage(ctx context.Context, req api.SendRequest) (*model.Message, error)
}

// Queue is the part of optimistic.Queue the processor drives.
type Queue interface {
	Conversation() model.Conversation
	Pending() []model.OptimisticMessage
	BeginSend(tempID string) (model.OptimisticMessage, bool)
	EndSend(tempID string)
	UpdateStatus(tempID string, status model.OptimisticStatus, confirmed *model.Message) bool
	Remove(tempID string) bool
	HasPending() bool
}

// Hooks are called outside any processor lock. All are optional.
type Hooks struct {
	// OnSent runs after the entry is marked sent and before it is removed.
	OnSent   func(o model.OptimisticMessage, confirmed *model.Message)
	OnFailed func(o model.OptimisticMessage, err error)
	// OnIdle runs after a send settles, confirmed or failed, and leaves
	// nothing pending.
	OnIdle func()
}

// Processor drains a queue serially. Concurrent Process calls coalesce into
// one more pass of the running drain.
type Processor struct {
	queue  Queue
	client Client
	hooks  Hooks

	mu      sync.Mutex
	running bool
	rerun   bool
}

func New(queue Queue, client Client, hooks Hooks) *Processor {
	return &Processor{queue: queue, client: client, hooks: hooks}
}

// Process attempts every pending entry once. It never retries a failure.
func (p *Processor) Process(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.rerun = true
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	for {
		for _, o := range p.queue.Pending() {
			p.send(ctx, o.TempID)
		}
		p.mu.Lock()
		if !p.rerun {
			p.running = false
			p.mu.Unlock()
			return
		}
		p.rerun = false
		p.mu.Unlock()
	}
}

func (p *Processor) send(ctx context.Context, tempID string) {
	o, ok := p.queue.BeginSend(tempID)
	if !ok {
		return
	}
	defer p.queue.EndSend(tempID)

	if o.HasStaleAttachment() {
		p.fail(o, ErrStaleAttachment, "stale")
		return
	}
	req, err := p.request(o)
	if err != nil {
		p.fail(o, err, "failed")
		return
	}
	start := time.Now()
	msg, err := p.client.SendMessage(ctx, req)
	if err != nil {
		p.fail(o, err, "failed")
		return
	}
	if len(o.Attachments) > 0 && len(msg.Attachments) == 0 {
		p.fail(o, ErrAttachmentsDropped, "dropped")
		return
	}

	p.queue.UpdateStatus(tempID, model.StatusSent, msg)
	if p.hooks.OnSent != nil {
		p.hooks.OnSent(o, msg)
	}
	p.queue.Remove(tempID)
	metrics.SendsTotal.WithLabelValues("sent").Inc()
	logger.Debugf("sender: %s confirmed as %s in %v", tempID, msg.ID, time.Since(start))
	p.settled()
}

func (p *Processor) settled() {
	if !p.queue.HasPending() && p.hooks.OnIdle != nil {
		p.hooks.OnIdle()
	}
}

func (p *Processor) request(o model.OptimisticMessage) (api.SendRequest, error) {
	req := api.SendRequest{
		Body:                o.Body,
		Type:                model.MessageTypeText,
		ReplyToMessageID:    o.ReplyToMessageID,
		ReplyToAttachmentID: o.ReplyToAttachmentID,
	}
	conv := p.queue.Conversation()
	if o.ConversationKey != "" && o.ConversationKey != conv.Key() {
		c, err := model.ParseConversation(o.ConversationKey)
		if err != nil {
			return req, err
		}
		conv = c
	}
	if conv.Kind == model.ConversationTeam {
		req.TeamID = conv.ID
	} else {
		req.RecipientID = conv.ID
	}
	if len(o.Attachments) > 0 {
		req.Type = model.MessageTypeFile
		for _, a := range o.Attachments {
			req.Uploads = append(req.Uploads, api.Upload{Name: a.Name, MimeType: a.MimeType, Data: a.Handle.Data})
		}
	}
	return req, nil
}

func (p *Processor) fail(o model.OptimisticMessage, err error, result string) {
	metrics.SendsTotal.WithLabelValues(result).Inc()
	logger.Errorf("sender: %s failed (retry %d): %v", o.TempID, o.RetryCount, err)
	p.queue.UpdateStatus(o.TempID, model.StatusFailed, nil)
	if p.hooks.OnFailed != nil {
		p.hooks.OnFailed(o, err)
	}
	p.settled()
}
