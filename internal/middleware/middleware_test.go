package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/chatsync/internal/api"
	"github.com/chatsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetUserID(r.Context())))
	})
}

func TestIdentityFromHeaderOrQuery(t *testing.T) {
	h := Identity(nil)(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/api/chat/messages", nil)
	req.Header.Set("X-User-Id", "42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?user_id=7", nil))
	assert.Equal(t, "7", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func signedRequest(secret []byte, method, path, contentType, body string, ts time.Time) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-User-Id", "1")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	stamp := strconv.FormatInt(ts.Unix(), 10)
	signed := body
	if strings.HasPrefix(contentType, "multipart/form-data") {
		signed = ""
	}
	req.Header.Set("X-Session-Id", "sess")
	req.Header.Set("X-Timestamp", stamp)
	req.Header.Set("X-Signature", api.Signature(secret, method, path, signed, stamp))
	return req
}

func TestIdentityVerifiesSignature(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	var gotSession string
	h := Identity(map[string][]byte{"sess": secret})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSession = GetSessionID(r.Context())
		assert.Equal(t, model.ID("1"), GetUserID(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))
	now := time.Now()

	cases := []struct {
		name string
		req  *http.Request
		code int
	}{
		{"json", signedRequest(secret, http.MethodPost, "/api/chat/messages", "application/json", `{"body":"x"}`, now), http.StatusNoContent},
		{"multipart signs empty body", signedRequest(secret, http.MethodPost, "/api/chat/messages", "multipart/form-data; boundary=x", "--x--", now), http.StatusNoContent},
		{"wrong secret", signedRequest([]byte("other"), http.MethodPost, "/api/chat/messages", "application/json", `{}`, now), http.StatusUnauthorized},
		{"stale timestamp", signedRequest(secret, http.MethodGet, "/api/chat/messages", "", "", now.Add(-time.Minute)), http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tc.req)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
	assert.Equal(t, "sess", gotSession)

	unsigned := httptest.NewRequest(http.MethodGet, "/api/chat/messages", nil)
	unsigned.Header.Set("X-User-Id", "1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, unsigned)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(RequestLog(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	h := RateLimit()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithUserID(req.Context(), "1"))

	limited := false
	for i := 0; i < rateLimitBurst+5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited)
}

func TestInternalOnly(t *testing.T) {
	h := InternalOnly(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "127.0.0.1:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "203.0.113.9:5000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestInternalAddr(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:80":           true,
		"[::1]:80":               true,
		"10.1.2.3":               true,
		"[::ffff:192.168.1.5]:9": true,
		"8.8.8.8:53":             false,
		"not-an-ip":              false,
	} {
		assert.Equal(t, want, internalAddr(addr), addr)
	}
}

func TestMaskSession(t *testing.T) {
	assert.Equal(t, "abcd****", maskSession("abcdefgh"))
	assert.Equal(t, "***", maskSession("abc"))
}

func TestErrorsAreJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	Identity(nil)(echoUser()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/messages", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
}
