package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

func (s *PGStore) SetPinned(ctx context.Context, messageID model.ID, pinned bool) (bool, error) {
	defer logger.DeferLogDuration("pinned.SetMessage", time.Now())()
	id, ok := seq(messageID)
	if !ok {
		return false, ErrNotFound
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_messages SET is_pinned = $2 WHERE id = $1 AND is_pinned <> $2`,
		id, pinned,
	)
	if err != nil {
		return false, fmt.Errorf("pgStore.SetPinned: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, s.mustExist(ctx, id)
}

// SetDeleted мягко удаляет сообщение (at != nil) или восстанавливает его (at == nil).
func (s *PGStore) SetDeleted(ctx context.Context, messageID model.ID, at *time.Time) (bool, error) {
	defer logger.DeferLogDuration("pinned.SetDeleted", time.Now())()
	id, ok := seq(messageID)
	if !ok {
		return false, ErrNotFound
	}
	q := `UPDATE chat_messages SET deleted_at = NULL WHERE id = $1 AND deleted_at IS NOT NULL`
	args := []any{id}
	if at != nil {
		q = `UPDATE chat_messages SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`
		args = append(args, at.UTC())
	}
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("pgStore.SetDeleted: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, s.mustExist(ctx, id)
}

func (s *PGStore) SetAttachmentPinned(ctx context.Context, attachmentID model.ID, pinned bool) (model.ID, bool, error) {
	defer logger.DeferLogDuration("pinned.SetAttachment", time.Now())()
	attID, msgID, err := s.attachmentMessage(ctx, attachmentID)
	if err != nil {
		return "", false, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_attachments SET is_pinned = $2 WHERE id = $1 AND is_pinned <> $2`,
		attID, pinned,
	)
	if err != nil {
		return "", false, fmt.Errorf("pgStore.SetAttachmentPinned: %w", err)
	}
	return formatID(msgID), tag.RowsAffected() == 1, nil
}

func (s *PGStore) SetAttachmentDeleted(ctx context.Context, attachmentID model.ID, at *time.Time) (model.ID, bool, error) {
	defer logger.DeferLogDuration("pinned.SetAttachmentDeleted", time.Now())()
	attID, msgID, err := s.attachmentMessage(ctx, attachmentID)
	if err != nil {
		return "", false, err
	}
	q := `UPDATE chat_attachments SET deleted_at = NULL WHERE id = $1 AND deleted_at IS NOT NULL`
	args := []any{attID}
	if at != nil {
		q = `UPDATE chat_attachments SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`
		args = append(args, at.UTC())
	}
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return "", false, fmt.Errorf("pgStore.SetAttachmentDeleted: %w", err)
	}
	return formatID(msgID), tag.RowsAffected() == 1, nil
}
