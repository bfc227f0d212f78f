package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

func (s *PGStore) MarkRead(ctx context.Context, userID model.ID, ids []model.ID) ([]Read, error) {
	defer logger.DeferLogDuration("read.MarkBatch", time.Now())()
	nums := make([]int64, 0, len(ids))
	for _, id := range ids {
		if n, ok := seq(id); ok {
			nums = append(nums, n)
		}
	}
	if len(nums) == 0 {
		return nil, nil
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_message_reads (message_id, user_id, read_at)
		 SELECT id, $1, $3 FROM chat_messages WHERE id = ANY($2) AND sender_id <> $1
		 ON CONFLICT (message_id, user_id) DO NOTHING`,
		string(userID), nums, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("pgStore.MarkRead insert: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT r.message_id, r.read_at, m.sender_id
		 FROM chat_message_reads r
		 JOIN chat_messages m ON m.id = r.message_id
		 WHERE r.user_id = $1 AND r.message_id = ANY($2)
		 ORDER BY r.message_id`,
		string(userID), nums,
	)
	if err != nil {
		return nil, fmt.Errorf("pgStore.MarkRead query: %w", err)
	}
	defer rows.Close()

	var reads []Read
	for rows.Next() {
		var (
			rd    Read
			msgID int64
			author string
		)
		if err := rows.Scan(&msgID, &rd.ReadAt, &author); err != nil {
			return nil, fmt.Errorf("pgStore.MarkRead scan: %w", err)
		}
		rd.MessageID = formatID(msgID)
		rd.UserID = userID
		rd.AuthorID = model.ID(author)
		reads = append(reads, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgStore.MarkRead rows: %w", err)
	}
	return reads, nil
}

func (s *PGStore) loadReads(ctx context.Context, ids []int64, index map[model.ID]*model.Message) error {
	rows, err := s.pool.Query(ctx,
		`SELECT message_id, user_id, read_at FROM chat_message_reads
		 WHERE message_id = ANY($1) ORDER BY read_at`, ids,
	)
	if err != nil {
		return fmt.Errorf("pgStore.loadReads query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rd    model.ReadReceipt
			msgID int64
		)
		if err := rows.Scan(&msgID, &rd.UserID, &rd.ReadAt); err != nil {
			return fmt.Errorf("pgStore.loadReads scan: %w", err)
		}
		rd.MessageID = formatID(msgID)
		if m, ok := index[rd.MessageID]; ok {
			m.Reads = append(m.Reads, rd)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("pgStore.loadReads rows: %w", err)
	}
	return nil
}

var _ Store = (*PGStore)(nil)
