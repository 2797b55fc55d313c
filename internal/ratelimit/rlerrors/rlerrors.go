// Package rlerrors defines the sentinel error taxonomy shared across the
// rate-limit core. Request-path code wraps these with fmt.Errorf("...: %w")
// and matches with errors.Is; none of them should ever surface as an HTTP
// 5xx from the core itself.
package rlerrors

import "errors"

var (
	// ErrStoreUnavailable means the shared KV store could not be reached or
	// timed out. Callers on the request path must fail open.
	ErrStoreUnavailable = errors.New("ratelimit: store unavailable")

	// ErrMalformedPayload means a body, JWT, or claim value could not be
	// parsed. Callers treat this identically to "source not found".
	ErrMalformedPayload = errors.New("ratelimit: malformed payload")

	// ErrRuleRefreshFailed means a rule cache refresh could not load rules
	// from the store; the previous rule list remains installed.
	ErrRuleRefreshFailed = errors.New("ratelimit: rule refresh failed")

	// ErrQueueFull means the leaky-bucket queue for a key is at capacity.
	// This is surfaced as a normal REJECT decision, not propagated as an error.
	ErrQueueFull = errors.New("ratelimit: queue full")

	// ErrRuleNotFound means an admin lookup/update targeted a rule id that
	// does not exist in the store.
	ErrRuleNotFound = errors.New("ratelimit: rule not found")

	// ErrInvalidRule means a rule payload failed the invariants in §3 of the spec.
	ErrInvalidRule = errors.New("ratelimit: invalid rule")
)
