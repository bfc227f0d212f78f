package pebble

import (
	"context"
	"errors"
	"fmt"

	"github.com/chatsync/internal/logger"
	"github.com/cockroachdb/pebble"
)

// Client — дисковое хранилище на pebble. Нужен клиенту, который должен
// сохранять outbox между перезапусками процесса.
type Client struct {
	db     *pebble.DB
	prefix string
}

// Open открывает (или создаёт) базу по пути path. namespace отделяет сессии
// друг от друга внутри одной базы.
func Open(path, namespace string) (*Client, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open %s: %w", path, err)
	}
	if namespace == "" {
		namespace = "default"
	}
	logger.Infof("pebble: открыта база %s", path)
	return &Client{db: db, prefix: "chatsync:" + namespace + ":"}, nil
}

func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *Client) key(k string) []byte {
	return []byte(c.prefix + k)
}

// Get возвращает копию значения: буфер pebble валиден только до closer.Close().
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	val, closer, err := c.db.Get(c.key(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("pebble get %s: %w", key, err)
	}
	out := string(val)
	if err := closer.Close(); err != nil {
		return "", fmt.Errorf("pebble get %s: %w", key, err)
	}
	return out, nil
}

func (c *Client) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.db.Set(c.key(key), []byte(value), pebble.Sync); err != nil {
		return fmt.Errorf("pebble set %s: %w", key, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.db.Delete(c.key(key), pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete %s: %w", key, err)
	}
	return nil
}
