// Package gatewaydemo wires the Decision Pipeline into a minimal gin.Engine
// request path so the repository is runnable end-to-end: a toy
// reverse-proxy passthrough, not a production router (a production request
// router is an external collaborator per SPEC_FULL.md §1). The middleware
// chain mirrors the teacher's own gin-based security gateway router
// (cmd/security-gateway/main.go's setupRouter and
// transport/http/middleware.go's LoggingMiddleware,
// SecurityHeadersMiddleware, RequestIDMiddleware, RateLimitMiddleware) with
// RateLimitMiddleware's body swapped for the Decision Pipeline itself. The
// chain has no CORS middleware.
package gatewaydemo

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/pipeline"
	"github.com/secprog/poor-man-ratelimiter/pkg/logger"
)

// Handler builds the data-path gin.Engine: every request runs the Decision
// Pipeline, applies its verdict (delay, headers, admit/reject), and is then
// either rejected or forwarded to upstream.
func Handler(p *pipeline.Pipeline, upstream *url.URL, log *logger.Logger) http.Handler {
	log = log.Named("gatewaydemo")

	var proxy http.Handler
	if upstream != nil {
		proxy = httputil.NewSingleHostReverseProxy(upstream)
	} else {
		proxy = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware(log))
	router.Use(securityHeadersMiddleware())
	router.Use(rateLimitMiddleware(p, log))

	router.NoRoute(gin.WrapH(proxy))

	return router
}

// requestIDMiddleware stamps every request with a request id, reusing an
// inbound X-Request-ID if the caller already supplied one.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Set("request_id", id)
		c.Next()
	}
}

func loggingMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status_code": c.Writer.Status(),
			"latency_ms":  time.Since(start).Milliseconds(),
			"request_id":  c.GetString("request_id"),
		}
		switch {
		case c.Writer.Status() >= 500:
			log.Error("request failed", fields)
		case c.Writer.Status() >= 400:
			log.Warn("request rejected", fields)
		default:
			log.Debug("request handled", fields)
		}
	}
}

func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Next()
	}
}

// rateLimitMiddleware runs the Decision Pipeline (C6) and enforces its
// verdict. On a queued admission it sleeps for DelayMs, honoring request
// cancellation, before letting the request continue toward upstream — the
// HTTP layer applying the delay computed by the Queue Manager (C5), per
// SPEC_FULL.md §4.5.
func rateLimitMiddleware(p *pipeline.Pipeline, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := p.Evaluate(c.Request.Context(), c.Request)
		pipeline.ApplyHeaders(c.Writer, d)

		if !d.Allowed {
			log.Debug("request rejected", map[string]interface{}{
				"path":   c.Request.URL.Path,
				"reason": string(d.Reason),
			})
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}

		if d.Queued && d.DelayMs > 0 {
			timer := time.NewTimer(time.Duration(d.DelayMs) * time.Millisecond)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-c.Request.Context().Done():
				// Client disconnected while queued: per SPEC_FULL.md §5 the
				// request is abandoned with no compensation — the Queue
				// Manager's own scheduled depth-decrement still fires on
				// its timer regardless.
				c.AbortWithStatus(http.StatusRequestTimeout)
				return
			}
		}

		c.Next()
	}
}
