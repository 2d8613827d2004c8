package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"github.com/warp/reporting-engine/logging"
)

// RequestLogger attaches a request-scoped zerolog logger to the context and
// logs one line per request. It runs after chi's RequestID middleware and
// reuses that id.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := middleware.GetReqID(r.Context())
		if id == "" {
			id = logging.NewRequestID()
		}
		ctx := logging.WithRequestID(r.Context(), id)
		reqLogger := zerolog.Ctx(ctx).With().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_ip", r.RemoteAddr).
			Logger()
		ctx = reqLogger.WithContext(ctx)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		recordHTTPRequest(r.Method, route, status, elapsed)

		ev := reqLogger.Debug()
		if status >= http.StatusInternalServerError {
			ev = reqLogger.Error()
		}
		ev.Int("status", status).Dur("elapsed", elapsed).Msg("request")
	})
}

// RateLimit limits requests per client IP per minute. limit <= 0 disables it.
func RateLimit(limit int) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(limit, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", nil)
		}),
	)
}
