package rules

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secprog/poor-man-ratelimiter/pkg/logger"
)

type fakeRuleStore struct {
	active []RuleRecordForTest
	err    error
}

// RuleRecordForTest avoids importing the store package just to get the
// []byte alias in this package's tests.
type RuleRecordForTest = []byte

func (f *fakeRuleStore) ListActiveRules(ctx context.Context) ([]RuleRecordForTest, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.active, nil
}
func (f *fakeRuleStore) ListAllRules(ctx context.Context) ([]RuleRecordForTest, error) {
	return f.ListActiveRules(ctx)
}
func (f *fakeRuleStore) GetRule(ctx context.Context, id string) (RuleRecordForTest, error) {
	return nil, nil
}
func (f *fakeRuleStore) PutRule(ctx context.Context, id string, data RuleRecordForTest) error {
	return nil
}
func (f *fakeRuleStore) DeleteRule(ctx context.Context, id string) error { return nil }

func encodeRule(t *testing.T, r Rule) []byte {
	t.Helper()
	data, err := json.Marshal(r)
	require.NoError(t, err)
	return data
}

func TestCacheRefreshOrdersByTieBreakChain(t *testing.T) {
	store := &fakeRuleStore{active: []RuleRecordForTest{
		encodeRule(t, Rule{ID: "low-priority", PathPattern: "/api/*", Active: true, Priority: 1, AllowedRequests: 1, WindowSeconds: 1}),
		encodeRule(t, Rule{ID: "first-inserted", PathPattern: "/api/users", Active: true, Priority: 5, AllowedRequests: 1, WindowSeconds: 1}),
		encodeRule(t, Rule{ID: "second-inserted-same-priority-less-specific", PathPattern: "/api/*", Active: true, Priority: 5, AllowedRequests: 1, WindowSeconds: 1}),
		encodeRule(t, Rule{ID: "inactive", PathPattern: "/api/users", Active: false, Priority: 10, AllowedRequests: 1, WindowSeconds: 1}),
	}}

	cache := NewCache(store, logger.New("test"))
	require.NoError(t, cache.Refresh(context.Background()))

	snapshot := cache.Snapshot()
	ids := make([]string, len(snapshot))
	for i, r := range snapshot {
		ids[i] = r.ID
	}
	want := []string{"first-inserted", "second-inserted-same-priority-less-specific", "low-priority"}
	assert.Equal(t, want, ids)
}

func TestCacheMatchReturnsFirstMatchInOrder(t *testing.T) {
	store := &fakeRuleStore{active: []RuleRecordForTest{
		encodeRule(t, Rule{ID: "specific", PathPattern: "/api/users", Active: true, Priority: 1, AllowedRequests: 1, WindowSeconds: 1}),
		encodeRule(t, Rule{ID: "catchall", PathPattern: "/api/**", Active: true, Priority: 1, AllowedRequests: 1, WindowSeconds: 1}),
	}}
	cache := NewCache(store, logger.New("test"))
	require.NoError(t, cache.Refresh(context.Background()))

	r := cache.Match("/api/users")
	require.NotNil(t, r)
	assert.Equal(t, "specific", r.ID, "expected the more specific rule to win")

	r = cache.Match("/api/orders")
	require.NotNil(t, r)
	assert.Equal(t, "catchall", r.ID, "expected the catchall rule to match")

	assert.Nil(t, cache.Match("/unrelated"))
}

func TestCacheRefreshKeepsPreviousListOnStoreError(t *testing.T) {
	store := &fakeRuleStore{active: []RuleRecordForTest{
		encodeRule(t, Rule{ID: "r1", PathPattern: "/api/*", Active: true, AllowedRequests: 1, WindowSeconds: 1}),
	}}
	cache := NewCache(store, logger.New("test"))
	require.NoError(t, cache.Refresh(context.Background()))

	store.err = errors.New("store unavailable")
	require.Error(t, cache.Refresh(context.Background()))

	assert.Len(t, cache.Snapshot(), 1, "expected previous rule list to survive a failed refresh")
}
