package startup

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnectDBWithRetry подключается к Postgres с повторами; при недоступности БД не падает сразу.
// logPrefix добавляется к сообщениям лога (например "devserver: ").
func ConnectDBWithRetry(ctx context.Context, poolCfg *pgxpool.Config, maxWait time.Duration, logPrefix string) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	err := retry(ctx, maxWait, logPrefix, "db connect", func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		p, err := pgxpool.NewWithConfig(cctx, poolCfg)
		cancel()
		if err != nil {
			return err
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err = p.Ping(pingCtx)
		pingCancel()
		if err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}
