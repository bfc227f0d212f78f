package storage

import "context"

// KV — сессионное хранилище ключ/значение, в котором outbox держит сериализованную очередь.
// Реализации: memory.Client (по умолчанию), redis.Client, pebble.Client (переживает перезапуск).
// Get для отсутствующего ключа возвращает "", nil.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
