package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/rlerrors"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/store"
	"github.com/secprog/poor-man-ratelimiter/pkg/logger"
)

// Cache holds the current ordered list of active rules in memory, swapping
// the whole list atomically on refresh so readers never observe a torn
// state (single-writer, many-reader discipline, per SPEC_FULL.md §4.1).
type Cache struct {
	rules  atomic.Pointer[[]*Rule]
	store  store.RuleStore
	logger *logger.Logger
}

// NewCache constructs an empty cache; call Refresh before serving traffic.
func NewCache(ruleStore store.RuleStore, log *logger.Logger) *Cache {
	c := &Cache{store: ruleStore, logger: log.Named("rules")}
	empty := []*Rule{}
	c.rules.Store(&empty)
	return c
}

// Refresh loads active rules from the store and installs them as the new
// in-memory list. On store failure the previous list is kept installed and
// ErrRuleRefreshFailed is returned, per SPEC_FULL.md §7.
func (c *Cache) Refresh(ctx context.Context) error {
	records, err := c.store.ListActiveRules(ctx)
	if err != nil {
		c.logger.Error("rule refresh failed, keeping previous rule list", map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("%w: %v", rlerrors.ErrRuleRefreshFailed, err)
	}

	loaded := make([]*Rule, 0, len(records))
	for i, data := range records {
		var r Rule
		if err := json.Unmarshal(data, &r); err != nil {
			c.logger.Warn("skipping malformed rule record during refresh", map[string]interface{}{"error": err.Error()})
			continue
		}
		if !r.Active {
			continue
		}
		r.insertionSeq = i
		loaded = append(loaded, &r)
	}

	sortRules(loaded)
	c.rules.Store(&loaded)
	c.logger.Info("rule cache refreshed", map[string]interface{}{"count": len(loaded)})
	return nil
}

// sortRules orders rules by the §4.1 tie-break chain: priority desc,
// specificity desc, insertion order asc. Match walks this slice in order and
// returns the first pattern match, so the ordering alone implements the
// tie-break; Match itself does no further comparison.
func sortRules(rs []*Rule) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Priority != rs[j].Priority {
			return rs[i].Priority > rs[j].Priority
		}
		si, sj := specificity(rs[i].PathPattern), specificity(rs[j].PathPattern)
		if si != sj {
			return si > sj
		}
		return rs[i].insertionSeq < rs[j].insertionSeq
	})
}

// Match returns the highest-priority active rule whose pathPattern matches
// path, or nil if none match.
func (c *Cache) Match(path string) *Rule {
	snapshot := *c.rules.Load()
	for _, r := range snapshot {
		if matchPath(r.PathPattern, path) {
			return r
		}
	}
	return nil
}

// Snapshot returns the full current rule list, in matching order.
func (c *Cache) Snapshot() []*Rule {
	snapshot := *c.rules.Load()
	out := make([]*Rule, len(snapshot))
	copy(out, snapshot)
	return out
}
