package relay

import (
	"log/slog"
	"net/http"
	"strings"
)

// UpgradeRouter is the single entry point for protocol upgrade requests.
// Recognized upgrade paths are dispatched to their registered handler;
// unrecognized ones get the raw socket destroyed rather than answered.
// Plain HTTP traffic passes through to the wrapped application handler.
type UpgradeRouter struct {
	routes map[string]http.Handler
	next   http.Handler
}

// NewUpgradeRouter wraps the application handler.
func NewUpgradeRouter(next http.Handler) *UpgradeRouter {
	return &UpgradeRouter{
		routes: make(map[string]http.Handler),
		next:   next,
	}
}

// Register binds an upgrade path to a handler. Not safe to call after the
// server has started; the routing table is fixed at startup.
func (ur *UpgradeRouter) Register(path string, h http.Handler) {
	ur.routes[path] = h
}

// ServeHTTP implements http.Handler.
func (ur *UpgradeRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isWebSocketUpgrade(r) {
		ur.next.ServeHTTP(w, r)
		return
	}

	if h, ok := ur.routes[r.URL.Path]; ok {
		h.ServeHTTP(w, r)
		return
	}

	slog.Warn("destroying upgrade request for unknown path", "path", r.URL.Path)
	hj, ok := w.(http.Hijacker)
	if !ok {
		// HTTP/2 writers cannot be hijacked; a bare status is the
		// closest available rejection.
		w.WriteHeader(http.StatusNotFound)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		slog.Error("failed to hijack rejected upgrade", "error", err)
		return
	}
	_ = conn.Close()
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
