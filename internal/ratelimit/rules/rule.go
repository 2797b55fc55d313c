// Package rules implements the rate-limit core's rule cache (C1): an
// in-memory, hot-reloadable, priority-ordered list of active rules.
package rules

import (
	"fmt"

	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/rlerrors"
)

// LimitMode controls how a non-IP identifier source combines with the
// caller's IP address.
type LimitMode string

const (
	ModeReplaceIP     LimitMode = "replace_ip"
	ModeCombineWithIP LimitMode = "combine_with_ip"
)

// Rule is a named policy selecting an identifier strategy and a quota.
type Rule struct {
	ID              string `json:"id"`
	PathPattern     string `json:"pathPattern"`
	AllowedRequests int    `json:"allowedRequests"`
	WindowSeconds   int    `json:"windowSeconds"`
	Active          bool   `json:"active"`
	Priority        int    `json:"priority"`

	QueueEnabled      bool `json:"queueEnabled"`
	MaxQueueSize      int  `json:"maxQueueSize"`
	DelayPerRequestMs int  `json:"delayPerRequestMs"`

	JWTEnabled        bool     `json:"jwtEnabled"`
	JWTClaims         []string `json:"jwtClaims"`
	JWTClaimSeparator string   `json:"jwtClaimSeparator"`

	BodyLimitEnabled bool      `json:"bodyLimitEnabled"`
	BodyFieldPath    string    `json:"bodyFieldPath"`
	BodyLimitType    LimitMode `json:"bodyLimitType"`
	BodyContentType  string    `json:"bodyContentType,omitempty"`

	HeaderLimitEnabled bool      `json:"headerLimitEnabled"`
	HeaderName         string    `json:"headerName"`
	HeaderLimitType    LimitMode `json:"headerLimitType"`

	CookieLimitEnabled bool      `json:"cookieLimitEnabled"`
	CookieName         string    `json:"cookieName"`
	CookieLimitType    LimitMode `json:"cookieLimitType"`

	// insertionSeq is assigned by the cache on Refresh and used only as
	// the final matching tie-break; it is not persisted by the store.
	insertionSeq int
}

// Validate enforces the invariants in SPEC_FULL.md §3. It never mutates the
// rule; callers that need defaults applied should do so before validating.
func (r *Rule) Validate() error {
	if r.AllowedRequests < 1 {
		return fmt.Errorf("%w: allowedRequests must be >= 1", rlerrors.ErrInvalidRule)
	}
	if r.WindowSeconds < 1 {
		return fmt.Errorf("%w: windowSeconds must be >= 1", rlerrors.ErrInvalidRule)
	}
	if r.QueueEnabled {
		if r.MaxQueueSize < 1 {
			return fmt.Errorf("%w: maxQueueSize must be >= 1 when queueing is enabled", rlerrors.ErrInvalidRule)
		}
		if r.DelayPerRequestMs < 1 {
			return fmt.Errorf("%w: delayPerRequestMs must be >= 1 when queueing is enabled", rlerrors.ErrInvalidRule)
		}
	}
	if r.JWTEnabled && len(r.JWTClaims) == 0 {
		return fmt.Errorf("%w: jwtClaims must be non-empty when jwtEnabled", rlerrors.ErrInvalidRule)
	}
	if r.BodyLimitEnabled && r.BodyFieldPath == "" {
		return fmt.Errorf("%w: bodyFieldPath must be set when bodyLimitEnabled", rlerrors.ErrInvalidRule)
	}
	if r.HeaderLimitEnabled && r.HeaderName == "" {
		return fmt.Errorf("%w: headerName must be set when headerLimitEnabled", rlerrors.ErrInvalidRule)
	}
	if r.CookieLimitEnabled && r.CookieName == "" {
		return fmt.Errorf("%w: cookieName must be set when cookieLimitEnabled", rlerrors.ErrInvalidRule)
	}
	return nil
}

// ApplyDefaults fills in optional fields that have sensible zero-value
// replacements, mirroring how the admin surface seeds a Rule from a partial
// create payload.
func (r *Rule) ApplyDefaults() {
	if r.JWTClaimSeparator == "" {
		r.JWTClaimSeparator = ":"
	}
	if r.BodyLimitType == "" {
		r.BodyLimitType = ModeReplaceIP
	}
	if r.HeaderLimitType == "" {
		r.HeaderLimitType = ModeReplaceIP
	}
	if r.CookieLimitType == "" {
		r.CookieLimitType = ModeReplaceIP
	}
}
