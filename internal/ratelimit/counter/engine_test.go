package counter

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/secprog/poor-man-ratelimiter/pkg/logger"
)

type fakeCounterStore struct {
	mu     sync.Mutex
	counts map[string]int
	limit  int
	err    error
}

func (f *fakeCounterStore) Admit(ctx context.Context, key string, limit, windowSeconds int) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, false, f.err
	}
	if f.counts == nil {
		f.counts = make(map[string]int)
	}
	f.counts[key]++
	return f.counts[key], f.counts[key] <= limit, nil
}

func TestEngineAdmitWithinQuota(t *testing.T) {
	store := &fakeCounterStore{}
	zl, _ := zap.NewDevelopment()
	e := NewEngine(store, zl, logger.New("test"))

	for i := 0; i < 3; i++ {
		assert.Equalf(t, WithinQuota, e.Admit(context.Background(), "rule-1", "id-1", 3, 60), "request %d", i)
	}
	assert.Equal(t, Exceeded, e.Admit(context.Background(), "rule-1", "id-1", 3, 60), "expected Exceeded on the 4th request")
}

func TestEngineFailsOpenOnStoreError(t *testing.T) {
	store := &fakeCounterStore{err: errors.New("store down")}
	zl, _ := zap.NewDevelopment()

	var hookCalls int
	e := NewEngine(store, zl, logger.New("test"), WithFailOpenHook(func() { hookCalls++ }))

	assert.Equal(t, WithinQuota, e.Admit(context.Background(), "rule-1", "id-1", 1, 60), "expected fail-open to admit")
	assert.Equal(t, 1, hookCalls, "expected fail-open hook to fire once")
}

func TestEngineKeyIsolatesIdentifiers(t *testing.T) {
	store := &fakeCounterStore{}
	zl, _ := zap.NewDevelopment()
	e := NewEngine(store, zl, logger.New("test"))

	assert.Equal(t, WithinQuota, e.Admit(context.Background(), "rule-1", "alice", 1, 60), "alice's first request should be within quota")
	assert.Equal(t, WithinQuota, e.Admit(context.Background(), "rule-1", "bob", 1, 60), "bob's first request should be within quota regardless of alice's usage")
}
