package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore — хранилище dev-сервера в PostgreSQL (схема в migrations/001_chat.sql).
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Close() { s.pool.Close() }

const messageCols = `id, COALESCE(team_id, ''), COALESCE(recipient_id, ''), sender_id, sender_name, body, type,
	reply_to_message_id, reply_to_attachment_id, is_pinned, deleted_at, created_at`

// scanMessage сканирует строку в model.Message (порядок соответствует messageCols).
func scanMessage(row interface{ Scan(dest ...any) error }) (model.Message, error) {
	var (
		m                      model.Message
		id                     int64
		teamID, recipientID    string
		senderID, msgType      string
		replyMsgID, replyAttID *int64
	)
	err := row.Scan(&id, &teamID, &recipientID, &senderID, &m.SenderName, &m.Body, &msgType,
		&replyMsgID, &replyAttID, &m.IsPinned, &m.DeletedAt, &m.CreatedAt)
	if err != nil {
		return m, err
	}
	m.ID = formatID(id)
	m.TeamID = model.ID(teamID)
	m.RecipientID = model.ID(recipientID)
	m.SenderID = model.ID(senderID)
	m.Type = model.MessageType(msgType)
	m.ReplyToMessageID = seqPtr(replyMsgID)
	m.ReplyToAttachmentID = seqPtr(replyAttID)
	m.Attachments = []model.Attachment{}
	return m, nil
}

func (s *PGStore) CreateMessage(ctx context.Context, in NewMessage) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgStore.CreateMessage begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var id int64
	var created time.Time
	err = tx.QueryRow(ctx,
		`INSERT INTO chat_messages (team_id, recipient_id, sender_id, sender_name, body, type, reply_to_message_id, reply_to_attachment_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		nullText(in.TeamID), nullText(in.RecipientID), string(in.SenderID), in.SenderName, in.Body, string(in.Type),
		nullSeq(in.ReplyToMessageID), nullSeq(in.ReplyToAttachmentID),
	).Scan(&id, &created)
	if err != nil {
		return nil, fmt.Errorf("pgStore.CreateMessage insert: %w", err)
	}

	m := &model.Message{
		ID:                  formatID(id),
		TeamID:              in.TeamID,
		RecipientID:         in.RecipientID,
		SenderID:            in.SenderID,
		SenderName:          in.SenderName,
		Body:                in.Body,
		Type:                in.Type,
		Attachments:         make([]model.Attachment, 0, len(in.Files)),
		ReplyToMessageID:    model.IDPtr(in.ReplyToMessageID),
		ReplyToAttachmentID: model.IDPtr(in.ReplyToAttachmentID),
		CreatedAt:           created,
	}
	for _, f := range in.Files {
		var attID int64
		err := tx.QueryRow(ctx,
			`INSERT INTO chat_attachments (message_id, file_name, mime_type, size, data)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			id, f.Name, f.MimeType, int64(len(f.Data)), f.Data,
		).Scan(&attID)
		if err != nil {
			return nil, fmt.Errorf("pgStore.CreateMessage attachment %q: %w", f.Name, err)
		}
		aid := formatID(attID)
		m.Attachments = append(m.Attachments, model.Attachment{
			ID:        aid,
			MessageID: m.ID,
			FileName:  f.Name,
			MimeType:  f.MimeType,
			Size:      int64(len(f.Data)),
			URL:       AttachmentURL(aid),
		})
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("pgStore.CreateMessage commit: %w", err)
	}
	return m, nil
}

func (s *PGStore) GetMessage(ctx context.Context, id model.ID) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	n, ok := seq(id)
	if !ok {
		return nil, ErrNotFound
	}
	m, err := scanMessage(s.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM chat_messages WHERE id = $1`, n))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pgStore.GetMessage: %w", err)
	}
	msgs := []model.Message{m}
	if err := s.hydrate(ctx, msgs); err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

func (s *PGStore) History(ctx context.Context, q HistoryQuery) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.History", time.Now())()
	limit := clampLimit(q.Limit)
	before, _ := seq(q.Before)

	var (
		rows pgx.Rows
		err  error
	)
	if q.TeamID != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageCols+` FROM chat_messages
			 WHERE team_id = $1 AND ($2::bigint = 0 OR id < $2::bigint)
			 ORDER BY id DESC LIMIT $3`,
			string(q.TeamID), before, limit,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+messageCols+` FROM chat_messages
			 WHERE team_id IS NULL
			   AND ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
			   AND ($3::bigint = 0 OR id < $3::bigint)
			 ORDER BY id DESC LIMIT $4`,
			string(q.UserID), string(q.PeerID), before, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("pgStore.History query: %w", err)
	}
	defer rows.Close()

	page := make([]model.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("pgStore.History scan: %w", err)
		}
		page = append(page, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgStore.History rows: %w", err)
	}
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	if err := s.hydrate(ctx, page); err != nil {
		return nil, err
	}
	return page, nil
}

// hydrate подгружает вложения, реакции и квитанции для msgs.
func (s *PGStore) hydrate(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(msgs))
	index := make(map[model.ID]*model.Message, len(msgs))
	for i := range msgs {
		n, _ := seq(msgs[i].ID)
		ids = append(ids, n)
		index[msgs[i].ID] = &msgs[i]
	}

	if err := s.loadAttachments(ctx, ids, index); err != nil {
		return err
	}
	if err := s.loadReactions(ctx, ids, index); err != nil {
		return err
	}
	return s.loadReads(ctx, ids, index)
}

func (s *PGStore) loadAttachments(ctx context.Context, ids []int64, index map[model.ID]*model.Message) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, message_id, file_name, mime_type, size, is_pinned, deleted_at
		 FROM chat_attachments WHERE message_id = ANY($1) ORDER BY id`, ids,
	)
	if err != nil {
		return fmt.Errorf("pgStore.loadAttachments query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a         model.Attachment
			id, msgID int64
		)
		if err := rows.Scan(&id, &msgID, &a.FileName, &a.MimeType, &a.Size, &a.IsPinned, &a.DeletedAt); err != nil {
			return fmt.Errorf("pgStore.loadAttachments scan: %w", err)
		}
		a.ID = formatID(id)
		a.MessageID = formatID(msgID)
		a.URL = AttachmentURL(a.ID)
		if m, ok := index[a.MessageID]; ok {
			m.Attachments = append(m.Attachments, a)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("pgStore.loadAttachments rows: %w", err)
	}
	return nil
}

func (s *PGStore) AttachmentData(ctx context.Context, attachmentID model.ID) (*model.Attachment, []byte, error) {
	n, ok := seq(attachmentID)
	if !ok {
		return nil, nil, ErrNotFound
	}
	var (
		a     model.Attachment
		msgID int64
		data  []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT message_id, file_name, mime_type, size, is_pinned, deleted_at, data
		 FROM chat_attachments WHERE id = $1`, n,
	).Scan(&msgID, &a.FileName, &a.MimeType, &a.Size, &a.IsPinned, &a.DeletedAt, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("pgStore.AttachmentData: %w", err)
	}
	a.ID = attachmentID
	a.MessageID = formatID(msgID)
	a.URL = AttachmentURL(a.ID)
	return &a, data, nil
}

// attachmentMessage возвращает id сообщения, которому принадлежит вложение.
func (s *PGStore) attachmentMessage(ctx context.Context, attachmentID model.ID) (int64, int64, error) {
	n, ok := seq(attachmentID)
	if !ok {
		return 0, 0, ErrNotFound
	}
	var msgID int64
	err := s.pool.QueryRow(ctx, `SELECT message_id FROM chat_attachments WHERE id = $1`, n).Scan(&msgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, ErrNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("pgStore.attachmentMessage: %w", err)
	}
	return n, msgID, nil
}

func (s *PGStore) messageExists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chat_messages WHERE id = $1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("pgStore.messageExists: %w", err)
	}
	return ok, nil
}

func nullText(id model.ID) *string {
	if id == "" {
		return nil
	}
	s := string(id)
	return &s
}

func nullSeq(id model.ID) *int64 {
	n, ok := seq(id)
	if !ok {
		return nil
	}
	return &n
}

func seqPtr(n *int64) *model.ID {
	if n == nil {
		return nil
	}
	id := formatID(*n)
	return &id
}
