package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/chatsync/internal/model"
)

var ErrNotFound = errors.New("not found")

// File — загруженное вложение нового сообщения.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// NewMessage — входные данные для CreateMessage. Ровно одно из TeamID и
// RecipientID заполнено.
type NewMessage struct {
	TeamID              model.ID
	RecipientID         model.ID
	SenderID            model.ID
	SenderName          string
	Body                string
	Type                model.MessageType
	ReplyToMessageID    model.ID
	ReplyToAttachmentID model.ID
	Files               []File
}

// HistoryQuery выбирает страницу переписки: либо TeamID, либо пару UserID/PeerID.
type HistoryQuery struct {
	TeamID model.ID
	UserID model.ID
	PeerID model.ID
	Before model.ID
	Limit  int
}

// Read — квитанция о прочтении вместе с автором сообщения, которому её нужно доставить.
type Read struct {
	model.ReadReceipt
	AuthorID model.ID
}

// Store хранит сообщения dev-сервера. Реализации: память и PostgreSQL.
type Store interface {
	CreateMessage(ctx context.Context, m NewMessage) (*model.Message, error)
	GetMessage(ctx context.Context, id model.ID) (*model.Message, error)
	// History возвращает страницу от старых к новым.
	History(ctx context.Context, q HistoryQuery) ([]model.Message, error)
	// MarkRead пропускает собственные и неизвестные сообщения. Повторная отметка
	// возвращает уже сохранённую квитанцию.
	MarkRead(ctx context.Context, userID model.ID, ids []model.ID) ([]Read, error)

	AddReaction(ctx context.Context, r model.Reaction) (bool, error)
	RemoveReaction(ctx context.Context, messageID, userID model.ID, emoji string) (bool, error)
	AddAttachmentReaction(ctx context.Context, r model.AttachmentReaction) (messageID model.ID, added bool, err error)
	RemoveAttachmentReaction(ctx context.Context, attachmentID, userID model.ID, emoji string) (messageID model.ID, removed bool, err error)

	SetPinned(ctx context.Context, messageID model.ID, pinned bool) (bool, error)
	SetDeleted(ctx context.Context, messageID model.ID, at *time.Time) (bool, error)
	SetAttachmentPinned(ctx context.Context, attachmentID model.ID, pinned bool) (messageID model.ID, changed bool, err error)
	SetAttachmentDeleted(ctx context.Context, attachmentID model.ID, at *time.Time) (messageID model.ID, changed bool, err error)
	AttachmentData(ctx context.Context, attachmentID model.ID) (*model.Attachment, []byte, error)

	Close()
}

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

func clampLimit(n int) int {
	if n <= 0 {
		return DefaultHistoryLimit
	}
	if n > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return n
}

// AttachmentURL — путь, по которому dev-сервер отдаёт файл вложения.
func AttachmentURL(id model.ID) string { return "/api/chat/attachments/" + string(id) + "/file" }

// seq парсит числовой id. Нечисловой id не может существовать в хранилище.
func seq(id model.ID) (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func formatID(n int64) model.ID { return model.ID(strconv.FormatInt(n, 10)) }
