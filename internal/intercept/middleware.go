package intercept

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type interceptedKey struct{}

// markIntercepted flags the request for the access log.
func markIntercepted(r *http.Request) {
	if flag, ok := r.Context().Value(interceptedKey{}).(*bool); ok {
		*flag = true
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		intercepted := false
		r = r.WithContext(context.WithValue(r.Context(), interceptedKey{}, &intercepted))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("proxied request",
			"method", r.Method,
			"url", r.URL.String(),
			"client_id", r.Header.Get(ClientIDHeader),
			"intercepted", intercepted,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
