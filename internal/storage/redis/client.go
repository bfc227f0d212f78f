package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultSessionTTL — ключи сессии живут сутки с последней записи (как и записи outbox).
const DefaultSessionTTL = 24 * time.Hour

// Client хранит значения под ключами chatsync:{namespace}:{key}. namespace это id сессии.
type Client struct {
	cli       *redis.Client
	namespace string
	ttl       time.Duration
}

func New(ctx context.Context, url, namespace string, ttl time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return Wrap(cli, namespace, ttl), nil
}

// Wrap использует уже созданный клиент (тесты, общий пул соединений).
func Wrap(cli *redis.Client, namespace string, ttl time.Duration) *Client {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if namespace == "" {
		namespace = "default"
	}
	return &Client{cli: cli, namespace: namespace, ttl: ttl}
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) key(k string) string {
	return "chatsync:" + c.namespace + ":" + k
}

// Get возвращает значение. Для отсутствующего ключа это пустая строка без ошибки.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.cli.Get(ctx, c.key(key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set перезаписывает значение и продлевает TTL сессии.
func (c *Client) Set(ctx context.Context, key, value string) error {
	if err := c.cli.Set(ctx, c.key(key), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.cli.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// TTL возвращает оставшееся время жизни ключа. Если ключа нет, возвращает 0.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := c.cli.TTL(ctx, c.key(key)).Result()
	if err != nil || d < 0 {
		return 0, err
	}
	return d, nil
}
