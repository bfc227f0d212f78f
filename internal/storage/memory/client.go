package memory

import (
	"context"
	"sync"
)

// Client — хранилище в памяти процесса. Сессия живёт столько же, сколько процесс:
// после перезапуска outbox пуст.
type Client struct {
	mu   sync.RWMutex
	data map[string]string
}

func New() *Client {
	return &Client{data: make(map[string]string)}
}

func (c *Client) Close() error { return nil }

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data[key], nil
}

func (c *Client) Set(ctx context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Len возвращает число ключей (для тестов и диагностики).
func (c *Client) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
