package model

import "time"

type OptimisticStatus string

const (
	StatusPending OptimisticStatus = "pending"
	StatusSent    OptimisticStatus = "sent"
	StatusFailed  OptimisticStatus = "failed"
)

// FileHandle is the in-memory blob behind a locally attached file. It only
// lives as long as the process that created it.
type FileHandle struct {
	Data []byte
}

// LocalAttachment references a file the user attached to an unsent message.
// The handle is never serialized: an attachment restored from the outbox is
// stale and cannot be uploaded.
type LocalAttachment struct {
	Name     string      `json:"name"`
	MimeType string      `json:"mime_type,omitempty"`
	Size     int64       `json:"size"`
	Handle   *FileHandle `json:"-"`
}

func NewLocalAttachment(name, mimeType string, data []byte) LocalAttachment {
	return LocalAttachment{
		Name:     name,
		MimeType: mimeType,
		Size:     int64(len(data)),
		Handle:   &FileHandle{Data: data},
	}
}

// Live reports whether the file handle is still available for upload.
func (a LocalAttachment) Live() bool { return a.Handle != nil }

// Draft is what the user submits from the composer.
type Draft struct {
	Conversation        Conversation
	Body                string
	Attachments         []LocalAttachment
	ReplyToMessageID    ID
	ReplyToAttachmentID ID
}

// OptimisticMessage is the client-only shadow of a message between submit and
// confirmation.
type OptimisticMessage struct {
	TempID              string            `json:"temp_id"`
	ConversationKey     string            `json:"conversation_key"`
	Body                string            `json:"body"`
	SenderID            ID                `json:"sender_id"`
	SenderName          string            `json:"sender_name,omitempty"`
	Attachments         []LocalAttachment `json:"attachments,omitempty"`
	ReplyToMessageID    ID                `json:"reply_to_message_id,omitempty"`
	ReplyToAttachmentID ID                `json:"reply_to_attachment_id,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	Status              OptimisticStatus  `json:"status"`
	RetryCount          int               `json:"retry_count"`
	Result              *Message          `json:"result,omitempty"`
}

// Clone returns a copy that shares no slices with the original.
func (o OptimisticMessage) Clone() OptimisticMessage {
	if o.Attachments != nil {
		o.Attachments = append([]LocalAttachment(nil), o.Attachments...)
	}
	if o.Result != nil {
		r := *o.Result
		o.Result = &r
	}
	return o
}

// HasStaleAttachment reports whether any attachment lost its file handle.
func (o *OptimisticMessage) HasStaleAttachment() bool {
	for _, a := range o.Attachments {
		if !a.Live() {
			return true
		}
	}
	return false
}

// DisplayMessage is one row of the merged conversation view. Confirmed rows
// have an empty Status and TempID.
type DisplayMessage struct {
	Message
	TempID     string           `json:"temp_id,omitempty"`
	Status     OptimisticStatus `json:"status,omitempty"`
	RetryCount int              `json:"retry_count,omitempty"`
}

func (d DisplayMessage) IsOptimistic() bool { return d.TempID != "" }

// Display renders an optimistic message as a view row. The row id is the temp id.
func (o *OptimisticMessage) Display() DisplayMessage {
	m := Message{
		ID:                  ID(o.TempID),
		SenderID:            o.SenderID,
		SenderName:          o.SenderName,
		Body:                o.Body,
		Type:                MessageTypeText,
		ReplyToMessageID:    IDPtr(o.ReplyToMessageID),
		ReplyToAttachmentID: IDPtr(o.ReplyToAttachmentID),
		CreatedAt:           o.CreatedAt,
	}
	if len(o.Attachments) > 0 {
		m.Type = MessageTypeFile
		m.Attachments = make([]Attachment, 0, len(o.Attachments))
		for _, a := range o.Attachments {
			m.Attachments = append(m.Attachments, Attachment{FileName: a.Name, MimeType: a.MimeType, Size: a.Size})
		}
	}
	if conv, err := ParseConversation(o.ConversationKey); err == nil {
		if conv.Kind == ConversationTeam {
			m.TeamID = conv.ID
		} else {
			m.RecipientID = conv.ID
		}
	}
	return DisplayMessage{Message: m, TempID: o.TempID, Status: o.Status, RetryCount: o.RetryCount}
}
