package middleware

import (
	"context"

	"github.com/chatsync/internal/model"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	SessionIDKey contextKey = "session_id"
)

// GetUserID возвращает user_id из контекста (устанавливается Identity).
func GetUserID(ctx context.Context) model.ID {
	v, _ := ctx.Value(UserIDKey).(model.ID)
	return v
}

func GetSessionID(ctx context.Context) string {
	v, _ := ctx.Value(SessionIDKey).(string)
	return v
}

// WithUserID кладёт user_id в контекст. Используется Identity и тестами хендлеров.
func WithUserID(ctx context.Context, id model.ID) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}
