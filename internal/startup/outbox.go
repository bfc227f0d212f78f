package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/storage"
	"github.com/chatsync/internal/storage/memory"
	pebblestorage "github.com/chatsync/internal/storage/pebble"
)

// OpenOutboxKV открывает хранилище outbox, выбранное в конфигурации.
// Ключи redis и pebble разделяются по id сессии (или пользователя, если сессии нет).
func OpenOutboxKV(ctx context.Context, cfg *config.Config) (storage.KV, error) {
	namespace := cfg.SessionID
	if namespace == "" {
		namespace = "user-" + cfg.UserID
	}
	switch cfg.Outbox.Backend {
	case config.OutboxMemory, "":
		logger.Info("outbox: хранилище в памяти")
		return memory.New(), nil
	case config.OutboxRedis:
		c, err := ConnectRedisWithRetry(ctx, cfg.Redis.URL, namespace, cfg.Outbox.TTL, 30*time.Second, "outbox: ")
		if err != nil {
			return nil, err
		}
		logger.Info("outbox: хранилище redis")
		return c, nil
	case config.OutboxPebble:
		c, err := pebblestorage.Open(cfg.Outbox.PebblePath, namespace)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("startup.OpenOutboxKV: unknown backend %q", cfg.Outbox.Backend)
}
