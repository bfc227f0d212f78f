package middleware

import (
	"net"
	"net/http"
	"net/netip"

	"github.com/chatsync/internal/logger"
)

// InternalOnly пускает только loopback и приватные адреса (для /metrics).
// Адрес берётся из RemoteAddr: за прокси его переписывает chi RealIP.
func InternalOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !internalAddr(r.RemoteAddr) {
			logger.Errorf("internal: отказ %s %s", r.RemoteAddr, r.URL.Path)
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func internalAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	return ip.IsLoopback() || ip.IsPrivate()
}
