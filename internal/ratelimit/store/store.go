// Package store defines the narrow contract the rate-limit core expects
// from the shared configuration/rule persistence collaborator (treated as a
// black box per SPEC_FULL.md §1) and ships a Redis-backed adapter for it.
package store

import "context"

// RuleRecord is the wire shape of a rule as stored by the collaborator. It
// is deliberately a plain map-shaped JSON document: the core does not
// assume anything about the store's schema beyond "it round-trips JSON".
type RuleRecord = []byte

// RuleStore is the subset of the configuration/rule persistence store the
// rate-limit core depends on for rules. Implementations are free to back
// this with Redis, a SQL table, or an in-memory map (tests use the latter).
type RuleStore interface {
	GetRule(ctx context.Context, id string) (RuleRecord, error)
	PutRule(ctx context.Context, id string, data RuleRecord) error
	ListActiveRules(ctx context.Context) ([]RuleRecord, error)
	ListAllRules(ctx context.Context) ([]RuleRecord, error)
	DeleteRule(ctx context.Context, id string) error
}

// CounterStore is the atomic-increment-with-TTL contract the Counter Engine
// (C4) depends on. A single call implements the whole fixed-window
// algorithm from SPEC_FULL.md §4.4 atomically.
type CounterStore interface {
	// Admit atomically advances the fixed-window counter for key by one if
	// the current count is below limit, or resets the window if the
	// previous window has expired. It returns the count after the call and
	// whether the request is within quota (true when the window was reset or
	// the count advanced, false when the quota was already reached).
	Admit(ctx context.Context, key string, limit int, windowSeconds int) (count int, withinQuota bool, err error)
}

// ConfigStore is the system_config hash contract used by the admin surface.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value string) error
	ListConfig(ctx context.Context) (map[string]string, error)
}

// Store is the full black-box collaborator contract.
type Store interface {
	RuleStore
	CounterStore
	ConfigStore
	Ping(ctx context.Context) error
}
