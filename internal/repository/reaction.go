package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

func (s *PGStore) AddReaction(ctx context.Context, r model.Reaction) (bool, error) {
	defer logger.DeferLogDuration("reaction.Add", time.Now())()
	id, ok := seq(r.MessageID)
	if !ok {
		return false, ErrNotFound
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO chat_message_reactions (message_id, user_id, user_name, emoji)
		 SELECT id, $2, $3, $4 FROM chat_messages WHERE id = $1
		 ON CONFLICT DO NOTHING`,
		id, string(r.UserID), r.UserName, r.Emoji,
	)
	if err != nil {
		return false, fmt.Errorf("pgStore.AddReaction: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, s.mustExist(ctx, id)
}

func (s *PGStore) RemoveReaction(ctx context.Context, messageID, userID model.ID, emoji string) (bool, error) {
	defer logger.DeferLogDuration("reaction.Remove", time.Now())()
	id, ok := seq(messageID)
	if !ok {
		return false, ErrNotFound
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM chat_message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`,
		id, string(userID), emoji,
	)
	if err != nil {
		return false, fmt.Errorf("pgStore.RemoveReaction: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, s.mustExist(ctx, id)
}

func (s *PGStore) AddAttachmentReaction(ctx context.Context, r model.AttachmentReaction) (model.ID, bool, error) {
	defer logger.DeferLogDuration("reaction.AddAttachment", time.Now())()
	attID, msgID, err := s.attachmentMessage(ctx, r.AttachmentID)
	if err != nil {
		return "", false, err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO chat_attachment_reactions (attachment_id, user_id, user_name, emoji)
		 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		attID, string(r.UserID), r.UserName, r.Emoji,
	)
	if err != nil {
		return "", false, fmt.Errorf("pgStore.AddAttachmentReaction: %w", err)
	}
	return formatID(msgID), tag.RowsAffected() == 1, nil
}

func (s *PGStore) RemoveAttachmentReaction(ctx context.Context, attachmentID, userID model.ID, emoji string) (model.ID, bool, error) {
	defer logger.DeferLogDuration("reaction.RemoveAttachment", time.Now())()
	attID, msgID, err := s.attachmentMessage(ctx, attachmentID)
	if err != nil {
		return "", false, err
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM chat_attachment_reactions WHERE attachment_id = $1 AND user_id = $2 AND emoji = $3`,
		attID, string(userID), emoji,
	)
	if err != nil {
		return "", false, fmt.Errorf("pgStore.RemoveAttachmentReaction: %w", err)
	}
	return formatID(msgID), tag.RowsAffected() == 1, nil
}

// loadReactions раскладывает реакции сообщений и их вложений по index.
func (s *PGStore) loadReactions(ctx context.Context, ids []int64, index map[model.ID]*model.Message) error {
	rows, err := s.pool.Query(ctx,
		`SELECT message_id, user_id, user_name, emoji, created_at
		 FROM chat_message_reactions WHERE message_id = ANY($1)
		 ORDER BY created_at`, ids,
	)
	if err != nil {
		return fmt.Errorf("pgStore.loadReactions query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rc    model.Reaction
			msgID int64
		)
		if err := rows.Scan(&msgID, &rc.UserID, &rc.UserName, &rc.Emoji, &rc.CreatedAt); err != nil {
			return fmt.Errorf("pgStore.loadReactions scan: %w", err)
		}
		rc.MessageID = formatID(msgID)
		if m, ok := index[rc.MessageID]; ok {
			m.Reactions = append(m.Reactions, rc)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("pgStore.loadReactions rows: %w", err)
	}
	return s.loadAttachmentReactions(ctx, ids, index)
}

func (s *PGStore) loadAttachmentReactions(ctx context.Context, ids []int64, index map[model.ID]*model.Message) error {
	rows, err := s.pool.Query(ctx,
		`SELECT a.message_id, ar.attachment_id, ar.user_id, ar.user_name, ar.emoji, ar.created_at
		 FROM chat_attachment_reactions ar
		 JOIN chat_attachments a ON a.id = ar.attachment_id
		 WHERE a.message_id = ANY($1)
		 ORDER BY ar.created_at`, ids,
	)
	if err != nil {
		return fmt.Errorf("pgStore.loadAttachmentReactions query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rc           model.AttachmentReaction
			msgID, attID int64
		)
		if err := rows.Scan(&msgID, &attID, &rc.UserID, &rc.UserName, &rc.Emoji, &rc.CreatedAt); err != nil {
			return fmt.Errorf("pgStore.loadAttachmentReactions scan: %w", err)
		}
		rc.AttachmentID = formatID(attID)
		m, ok := index[formatID(msgID)]
		if !ok {
			continue
		}
		if a := m.Attachment(rc.AttachmentID); a != nil {
			a.Reactions = append(a.Reactions, rc)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("pgStore.loadAttachmentReactions rows: %w", err)
	}
	return nil
}

// mustExist превращает «ничего не изменилось» в ErrNotFound, если сообщения нет.
func (s *PGStore) mustExist(ctx context.Context, id int64) error {
	ok, err := s.messageExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
