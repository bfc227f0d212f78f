package startup

import (
	"context"
	"time"

	redisstorage "github.com/chatsync/internal/storage/redis"
)

// ConnectRedisWithRetry подключается к Redis с повторами.
// namespace — id сессии, под которым хранятся ключи outbox.
func ConnectRedisWithRetry(ctx context.Context, redisURL, namespace string, ttl, maxWait time.Duration, logPrefix string) (*redisstorage.Client, error) {
	var client *redisstorage.Client
	err := retry(ctx, maxWait, logPrefix, "redis connect", func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		c, err := redisstorage.New(cctx, redisURL, namespace, ttl)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
