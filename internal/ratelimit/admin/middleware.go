package admin

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/google/uuid"
)

type contextKey struct{ name string }

var requestIDKey = contextKey{"request-id"}

// requestIDMiddleware stamps every admin request with a UUID, reusing an
// inbound X-Request-ID if the caller already supplied one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		fields := map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status_code": rec.status,
			"latency_ms":  time.Since(start).Milliseconds(),
			"request_id":  r.Context().Value(requestIDKey),
		}
		switch {
		case rec.status >= 500:
			s.logger.Error("admin request failed", fields)
		case rec.status >= 400:
			s.logger.Warn("admin request rejected", fields)
		default:
			s.logger.Debug("admin request handled", fields)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// throttleMiddleware self-limits the admin surface so a runaway dashboard
// poller can't starve the data-path goroutines it shares a process with.
// rps<=0 disables throttling entirely.
func throttleMiddleware(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				respondError(w, http.StatusTooManyRequests, "admin surface rate limit exceeded", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
