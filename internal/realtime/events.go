package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chatsync/internal/model"
)

// Server -> client event names.
const (
	EventMessageSent               = "MessageSent"
	EventMessageReactionAdded      = "MessageReactionAdded"
	EventMessageReactionRemoved    = "MessageReactionRemoved"
	EventAttachmentReactionAdded   = "AttachmentReactionAdded"
	EventAttachmentReactionRemoved = "AttachmentReactionRemoved"
	EventMessagePinned             = "MessagePinned"
	EventMessageUnpinned           = "MessageUnpinned"
	EventMessageDeleted            = "MessageDeleted"
	EventMessageRestored           = "MessageRestored"
	EventAttachmentPinned          = "AttachmentPinned"
	EventAttachmentUnpinned        = "AttachmentUnpinned"
	EventAttachmentDeleted         = "AttachmentDeleted"
	EventAttachmentRestored        = "AttachmentRestored"
	EventMessageRead               = "MessageRead"
	EventTyping                    = "typing"
	EventSubscribed                = "subscribed"
	EventError                     = "error"
)

// Client -> server actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionWhisper     = "whisper"
)

var (
	ErrUnknownEvent = errors.New("realtime: unknown event")
	ErrBadPayload   = errors.New("realtime: malformed payload")
)

// Frame is what the server sends.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ClientFrame is what the client sends.
type ClientFrame struct {
	Action  string          `json:"action"`
	Channel string          `json:"channel"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewFrame encodes payload as the frame data.
func NewFrame(channel, event string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("realtime.NewFrame %s: %w", event, err)
	}
	return Frame{Event: event, Channel: channel, Data: data}, nil
}

// Wire payloads.

type MessageSentPayload struct {
	Message model.Message `json:"message"`
}

type ReactionPayload struct {
	Reaction model.Reaction `json:"reaction"`
}

type AttachmentReactionPayload struct {
	MessageID model.ID                 `json:"message_id"`
	Reaction  model.AttachmentReaction `json:"reaction"`
}

type MessageStatePayload struct {
	MessageID model.ID   `json:"message_id"`
	UserID    model.ID   `json:"user_id,omitempty"`
	At        *time.Time `json:"at,omitempty"`
}

type AttachmentStatePayload struct {
	MessageID    model.ID   `json:"message_id"`
	AttachmentID model.ID   `json:"attachment_id"`
	At           *time.Time `json:"at,omitempty"`
}

// MessageReadPayload has either the single or the batched form.
type MessageReadPayload struct {
	Read  *model.ReadReceipt  `json:"read,omitempty"`
	Reads []model.ReadReceipt `json:"reads,omitempty"`
}

type TypingPayload struct {
	UserID   model.ID `json:"user_id"`
	UserName string   `json:"user_name,omitempty"`
}

// Event is one validated inbound event. The concrete type tells which.
type Event interface {
	EventName() string
	ChannelName() string
}

type Meta struct {
	Name    string
	Channel string
}

func (m Meta) EventName() string   { return m.Name }
func (m Meta) ChannelName() string { return m.Channel }

type MessageSent struct {
	Meta
	Message model.Message
}

type ReactionChanged struct {
	Meta
	Added    bool
	Reaction model.Reaction
}

type AttachmentReactionChanged struct {
	Meta
	Added     bool
	MessageID model.ID
	Reaction  model.AttachmentReaction
}

type MessagePinChanged struct {
	Meta
	MessageID model.ID
	Pinned    bool
}

type MessageDeletionChanged struct {
	Meta
	MessageID model.ID
	Deleted   bool
	DeletedAt *time.Time
}

type AttachmentChange string

const (
	AttachmentPinned   AttachmentChange = "pinned"
	AttachmentUnpinned AttachmentChange = "unpinned"
	AttachmentDeleted  AttachmentChange = "deleted"
	AttachmentRestored AttachmentChange = "restored"
)

type AttachmentChanged struct {
	Meta
	MessageID    model.ID
	AttachmentID model.ID
	Change       AttachmentChange
	At           *time.Time
}

// MessagesRead normalizes both read-receipt forms to a list.
type MessagesRead struct {
	Meta
	Reads []model.ReadReceipt
}

type Typing struct {
	Meta
	UserID   model.ID
	UserName string
}

// Decode validates a frame and narrows it to its typed event.
func Decode(f Frame) (Event, error) {
	meta := Meta{Name: f.Event, Channel: f.Channel}
	switch f.Event {
	case EventMessageSent:
		var p MessageSentPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		if p.Message.ID == "" {
			return nil, badPayload(f, "message.id")
		}
		return MessageSent{Meta: meta, Message: p.Message}, nil

	case EventMessageReactionAdded, EventMessageReactionRemoved:
		var p ReactionPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		if p.Reaction.MessageID == "" || p.Reaction.UserID == "" || p.Reaction.Emoji == "" {
			return nil, badPayload(f, "reaction")
		}
		return ReactionChanged{Meta: meta, Added: f.Event == EventMessageReactionAdded, Reaction: p.Reaction}, nil

	case EventAttachmentReactionAdded, EventAttachmentReactionRemoved:
		var p AttachmentReactionPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		if p.Reaction.AttachmentID == "" || p.Reaction.UserID == "" || p.Reaction.Emoji == "" {
			return nil, badPayload(f, "reaction")
		}
		return AttachmentReactionChanged{
			Meta:      meta,
			Added:     f.Event == EventAttachmentReactionAdded,
			MessageID: p.MessageID,
			Reaction:  p.Reaction,
		}, nil

	case EventMessagePinned, EventMessageUnpinned:
		var p MessageStatePayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		if p.MessageID == "" {
			return nil, badPayload(f, "message_id")
		}
		return MessagePinChanged{Meta: meta, MessageID: p.MessageID, Pinned: f.Event == EventMessagePinned}, nil

	case EventMessageDeleted, EventMessageRestored:
		var p MessageStatePayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		if p.MessageID == "" {
			return nil, badPayload(f, "message_id")
		}
		ev := MessageDeletionChanged{Meta: meta, MessageID: p.MessageID, Deleted: f.Event == EventMessageDeleted}
		if ev.Deleted {
			at := time.Now().UTC()
			if p.At != nil {
				at = *p.At
			}
			ev.DeletedAt = &at
		}
		return ev, nil

	case EventAttachmentPinned, EventAttachmentUnpinned, EventAttachmentDeleted, EventAttachmentRestored:
		var p AttachmentStatePayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		if p.AttachmentID == "" {
			return nil, badPayload(f, "attachment_id")
		}
		return AttachmentChanged{
			Meta:         meta,
			MessageID:    p.MessageID,
			AttachmentID: p.AttachmentID,
			Change:       attachmentChanges[f.Event],
			At:           p.At,
		}, nil

	case EventMessageRead:
		var p MessageReadPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		reads := p.Reads
		if p.Read != nil {
			reads = append([]model.ReadReceipt{*p.Read}, reads...)
		}
		if len(reads) == 0 {
			return nil, badPayload(f, "read")
		}
		for _, r := range reads {
			if r.MessageID == "" {
				return nil, badPayload(f, "read.message_id")
			}
		}
		return MessagesRead{Meta: meta, Reads: reads}, nil

	case EventTyping:
		var p TypingPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, badPayload(f, "user_id")
		}
		return Typing{Meta: meta, UserID: p.UserID, UserName: p.UserName}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
}

var attachmentChanges = map[string]AttachmentChange{
	EventAttachmentPinned:   AttachmentPinned,
	EventAttachmentUnpinned: AttachmentUnpinned,
	EventAttachmentDeleted:  AttachmentDeleted,
	EventAttachmentRestored: AttachmentRestored,
}

func unmarshal(f Frame, v any) error {
	if len(f.Data) == 0 {
		return badPayload(f, "data")
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadPayload, f.Event, err)
	}
	return nil
}

func badPayload(f Frame, field string) error {
	return fmt.Errorf("%w: %s: missing %s", ErrBadPayload, f.Event, field)
}
