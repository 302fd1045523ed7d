package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Logger logs one line per request once the handler returns. For websocket
// upgrades that is when the socket closes.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		slog.Info("request", "uri", r.RequestURI, "method", r.Method, "status", ww.Status(), "from", r.RemoteAddr, "duration", time.Since(start))
	})
}
