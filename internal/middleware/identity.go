package middleware

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
)

const TimestampSkew = 30 * time.Second

// Identity определяет пользователя по X-User-Id (для WebSocket также ?user_id=).
// Если sessions не пуст, запрос обязан быть подписан: X-Session-Id, X-Timestamp,
// X-Signature = hex(HMAC-SHA256(secret, method+path+body+timestamp)).
// Multipart подписывается с пустым телом.
func Identity(sessions map[string][]byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get("X-User-Id")
			if userID == "" {
				userID = r.URL.Query().Get("user_id")
			}
			if userID == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			ctx := WithUserID(r.Context(), model.ID(userID))
			if len(sessions) > 0 {
				sessionID, ok := verify(r, sessions)
				if !ok {
					writeError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
				ctx = context.WithValue(ctx, SessionIDKey, sessionID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func verify(r *http.Request, sessions map[string][]byte) (string, bool) {
	sessionID := firstOf(r.Header.Get("X-Session-Id"), r.URL.Query().Get("session_id"))
	timestampStr := firstOf(r.Header.Get("X-Timestamp"), r.URL.Query().Get("timestamp"))
	signature := firstOf(r.Header.Get("X-Signature"), r.URL.Query().Get("signature"))
	if sessionID == "" || timestampStr == "" || signature == "" {
		return "", false
	}
	secret, ok := sessions[sessionID]
	if !ok {
		logger.Errorf("identity: неизвестная сессия %s", maskSession(sessionID))
		return "", false
	}
	ts, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return "", false
	}
	reqTime := time.Unix(ts, 0)
	if time.Since(reqTime) > TimestampSkew || time.Until(reqTime) > TimestampSkew {
		return "", false
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return "", false
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		body = nil
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(r.Method + r.URL.Path + string(body) + timestampStr))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		logger.Errorf("identity: неверная подпись session_id=%s %s %s", maskSession(sessionID), r.Method, r.URL.Path)
		return "", false
	}
	return sessionID, true
}

func firstOf(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// maskSession оставляет в логах только начало id сессии.
func maskSession(id string) string {
	const visible = 4
	if len(id) <= visible {
		return strings.Repeat("*", len(id))
	}
	return id[:visible] + strings.Repeat("*", len(id)-visible)
}
