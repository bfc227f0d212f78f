package handler

import (
	"net/http"
	"strings"

	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/repository"
	"github.com/chatsync/internal/ws"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig — зависимости HTTP-слоя dev-сервера.
type RouterConfig struct {
	Store              repository.Store
	Hub                *ws.Hub
	MaxUploadSize      int64
	CORSAllowedOrigins string
	// Sessions: session_id -> секрет HMAC. При пустой карте подпись не проверяется.
	Sessions map[string][]byte
}

func NewRouter(cfg RouterConfig) http.Handler {
	msgH := NewMessageHandler(cfg.Store, cfg.Hub, cfg.MaxUploadSize)
	wsH := NewWSHandler(cfg.Hub, cfg.CORSAllowedOrigins)

	origins := []string{"*"}
	if o := strings.TrimSpace(cfg.CORSAllowedOrigins); o != "" {
		origins = strings.Split(o, ",")
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// WebSocket не сжимаем: иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		compressed := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-User-Id", "X-User-Name", "X-Session-Id", "X-Timestamp", "X-Signature"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.With(middleware.InternalOnly).Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity(cfg.Sessions))
		r.Use(middleware.RateLimit())

		r.Route("/api/chat", func(r chi.Router) {
			r.Get("/messages", msgH.GetMessages)
			r.Post("/messages", msgH.CreateMessage)
			r.Post("/messages/read-batch", msgH.MarkReadBatch)
			r.Delete("/messages/{messageId}", msgH.DeleteMessage)
			r.Post("/messages/{messageId}/restore", msgH.RestoreMessage)
			r.Post("/messages/{messageId}/reactions", msgH.AddReaction)
			r.Delete("/messages/{messageId}/reactions", msgH.RemoveReaction)
			r.Post("/messages/{messageId}/pin", msgH.PinMessage)
			r.Delete("/messages/{messageId}/pin", msgH.UnpinMessage)

			r.Get("/attachments/{attachmentId}/file", msgH.ServeAttachment)
			r.Delete("/attachments/{attachmentId}", msgH.DeleteAttachment)
			r.Post("/attachments/{attachmentId}/restore", msgH.RestoreAttachment)
			r.Post("/attachments/{attachmentId}/reactions", msgH.AddAttachmentReaction)
			r.Delete("/attachments/{attachmentId}/reactions", msgH.RemoveAttachmentReaction)
			r.Post("/attachments/{attachmentId}/pin", msgH.PinAttachment)
			r.Delete("/attachments/{attachmentId}/pin", msgH.UnpinAttachment)
		})
		r.Get("/ws", wsH.ServeWS)
	})
	return r
}
