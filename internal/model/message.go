package model

import "time"

type MessageType string

const (
	MessageTypeText MessageType = "text"
	MessageTypeFile MessageType = "file"
)

// Message is a server-confirmed chat message. It is never destroyed, only
// soft-deleted via DeletedAt.
type Message struct {
	ID                  ID            `json:"id"`
	TeamID              ID            `json:"team_id,omitempty"`
	RecipientID         ID            `json:"recipient_id,omitempty"`
	SenderID            ID            `json:"sender_id"`
	SenderName          string        `json:"sender_name,omitempty"`
	Body                string        `json:"body"`
	Type                MessageType   `json:"type,omitempty"`
	Attachments         []Attachment  `json:"attachments"`
	ReplyToMessageID    *ID           `json:"reply_to_message_id,omitempty"`
	ReplyToAttachmentID *ID           `json:"reply_to_attachment_id,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	DeletedAt           *time.Time    `json:"deleted_at,omitempty"`
	IsPinned            bool          `json:"is_pinned"`
	Reactions           []Reaction    `json:"reactions,omitempty"`
	Reads               []ReadReceipt `json:"reads,omitempty"`
}

func (m *Message) IsDeleted() bool { return m.DeletedAt != nil }

// Attachment returns the attachment with the given id, or nil.
func (m *Message) Attachment(id ID) *Attachment {
	for i := range m.Attachments {
		if m.Attachments[i].ID == id {
			return &m.Attachments[i]
		}
	}
	return nil
}

// ReadBy reports whether user has a read receipt on the message.
func (m *Message) ReadBy(user ID) bool {
	for _, r := range m.Reads {
		if r.UserID == user {
			return true
		}
	}
	return false
}

type Attachment struct {
	ID        ID                   `json:"id"`
	MessageID ID                   `json:"message_id,omitempty"`
	FileName  string               `json:"file_name"`
	MimeType  string               `json:"mime_type,omitempty"`
	Size      int64                `json:"size,omitempty"`
	URL       string               `json:"url,omitempty"`
	IsPinned  bool                 `json:"is_pinned"`
	DeletedAt *time.Time           `json:"deleted_at,omitempty"`
	Reactions []AttachmentReaction `json:"reactions,omitempty"`
}

// Reaction is unique per (message, user, emoji).
type Reaction struct {
	MessageID ID        `json:"message_id"`
	UserID    ID        `json:"user_id"`
	Emoji     string    `json:"emoji"`
	UserName  string    `json:"user_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AttachmentReaction is unique per (attachment, user, emoji).
type AttachmentReaction struct {
	AttachmentID ID        `json:"attachment_id"`
	UserID       ID        `json:"user_id"`
	Emoji        string    `json:"emoji"`
	UserName     string    `json:"user_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type ReadReceipt struct {
	MessageID ID        `json:"message_id"`
	UserID    ID        `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}
