package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/chatsync/internal/logger"
)

const (
	initialBackoff = 2 * time.Second
	maxBackoff     = 30 * time.Second
)

// retry вызывает connect, пока он не вернёт nil или не истечёт maxWait.
// Пауза между попытками растёт вдвое до maxBackoff.
func retry(ctx context.Context, maxWait time.Duration, logPrefix, what string, connect func(ctx context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	backoff := initialBackoff
	for {
		err := connect(ctx)
		if err == nil {
			return nil
		}
		if time.Now().Add(backoff).After(deadline) {
			return fmt.Errorf("%s (gave up after %v): %w", what, maxWait, err)
		}
		logger.Errorf("%s%s failed, retry in %v: %v", logPrefix, what, backoff, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
