// Package identifier implements the Identifier Resolver (C3): the
// precedence chain over header, cookie, body field, JWT claims, and client
// IP that computes the rate-limit key for a request and matched rule.
package identifier

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/bodybuffer"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/rules"
	"github.com/secprog/poor-man-ratelimiter/pkg/logger"
)

// Request is the minimal view of an inbound request the resolver needs. It
// is satisfied directly by *http.Request plus the body buffer context,
// kept as its own type so the resolver never depends on the HTTP layer
// beyond this shape.
type Request struct {
	Method             string
	Path               string
	Headers            http.Header
	Cookies            []*http.Cookie
	RemoteAddr         string
	TrustXForwardedFor bool
}

// FromHTTPRequest builds a Request view from a *http.Request.
func FromHTTPRequest(r *http.Request, trustXFF bool) Request {
	return Request{
		Method:             r.Method,
		Path:               r.URL.Path,
		Headers:            r.Header,
		Cookies:            r.Cookies(),
		RemoteAddr:         r.RemoteAddr,
		TrustXForwardedFor: trustXFF,
	}
}

// Resolver computes rate-limit identifiers per the precedence chain in
// SPEC_FULL.md §4.3.
type Resolver struct {
	logger *logger.Logger
}

// New constructs a Resolver.
func New(log *logger.Logger) *Resolver {
	return &Resolver{logger: log.Named("identifier")}
}

// Resolve walks header → cookie → body → JWT claims → client IP in order,
// stopping at the first source that yields a non-empty value, and applies
// the winning source's combination mode. Client IP never fails, so Resolve
// always returns a non-empty identifier.
func (res *Resolver) Resolve(ctx context.Context, rule *rules.Rule, req Request) string {
	clientIP := res.clientIP(req)

	if rule.HeaderLimitEnabled {
		if v, ok := res.header(req, rule.HeaderName); ok {
			return combine(clientIP, v, rule.HeaderLimitType)
		}
		res.logger.Debug("header identifier source missed, falling back", map[string]interface{}{"header": rule.HeaderName})
	}

	if rule.CookieLimitEnabled {
		if v, ok := res.cookie(req, rule.CookieName); ok {
			return combine(clientIP, v, rule.CookieLimitType)
		}
		res.logger.Debug("cookie identifier source missed, falling back", map[string]interface{}{"cookie": rule.CookieName})
	}

	if rule.BodyLimitEnabled {
		if v, ok := res.bodyField(ctx, req, rule); ok {
			return combine(clientIP, v, rule.BodyLimitType)
		}
		res.logger.Debug("body identifier source missed, falling back", map[string]interface{}{"field": rule.BodyFieldPath})
	}

	if rule.JWTEnabled {
		if v, ok := res.jwtClaims(req, rule); ok {
			return v
		}
		res.logger.Debug("jwt identifier source missed, falling back to client ip", nil)
	}

	return clientIP
}

func combine(clientIP, value string, mode rules.LimitMode) string {
	if mode == rules.ModeCombineWithIP {
		return clientIP + ":" + value
	}
	return value
}

func (res *Resolver) header(req Request, name string) (string, bool) {
	v := req.Headers.Get(name)
	return v, v != ""
}

func (res *Resolver) cookie(req Request, name string) (string, bool) {
	for _, c := range req.Cookies {
		if c.Name == name {
			return c.Value, c.Value != ""
		}
	}
	return "", false
}

func (res *Resolver) bodyField(ctx context.Context, req Request, rule *rules.Rule) (string, bool) {
	data, ok := bodybuffer.FromContext(ctx)
	if !ok || len(data) == 0 {
		return "", false
	}
	contentType := bodybuffer.ContentType(req.Headers, rule.BodyContentType)
	v, err := extractBodyField(data, contentType, rule.BodyFieldPath)
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}

// clientIP resolves the transport remote address, honoring
// X-Forwarded-For when the rule's gateway configuration trusts it.
func (res *Resolver) clientIP(req Request) string {
	if req.TrustXForwardedFor {
		if xff := req.Headers.Get("X-Forwarded-For"); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if first != "" {
				return first
			}
		}
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
