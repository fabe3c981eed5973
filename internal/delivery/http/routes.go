package http

import (
	"net/http"

	"github.com/mmuslimabdulj/goat-space/internal/middleware"
)

// Routes wires the handlers into a mux. wsLimiter rate limits upgrades per IP;
// metrics is mounted on /metrics when non-nil.
func (h *Handler) Routes(wsLimiter *middleware.IPRateLimiter, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", h.HandleStatus)
	mux.HandleFunc("GET /healthz", h.HandleHealth)

	// WebSocket route with rate limiting
	if wsLimiter != nil {
		mux.HandleFunc("GET /ws", middleware.RateLimitFunc(wsLimiter, h.HandleWebSocket))
	} else {
		mux.HandleFunc("GET /ws", h.HandleWebSocket)
	}

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}
