package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/chatsync/internal/logger"
)

// RecoverJSON превращает панику обработчика в JSON 500, если ответ ещё не начат.
func RecoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := wrapWriter(w)
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			logger.Errorf("panic %s %s: %v", r.Method, r.URL.Path, v)
			logger.Debugf("panic stack:\n%s", debug.Stack())
			if !sw.wrote {
				writeError(sw, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(sw, r)
	})
}
