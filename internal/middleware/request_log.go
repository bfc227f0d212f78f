package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
)

// RequestLog логирует каждый HTTP-запрос (method, path, status, длительность) и считает его в метриках.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := wrapWriter(w)
		next.ServeHTTP(sw, r)
		status := strconv.Itoa(sw.status)
		metrics.DevserverHTTPRequests.WithLabelValues(r.Method, status).Inc()
		logger.LogDuration("http "+r.Method+" "+r.URL.Path+" "+status, start)
	})
}
