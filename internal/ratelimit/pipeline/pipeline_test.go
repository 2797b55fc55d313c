package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/counter"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/identifier"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/queue"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/rules"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/store"
	"github.com/secprog/poor-man-ratelimiter/pkg/logger"
)

type fakeRuleStore struct {
	records []store.RuleRecord
}

func (f *fakeRuleStore) ListActiveRules(ctx context.Context) ([]store.RuleRecord, error) {
	return f.records, nil
}
func (f *fakeRuleStore) ListAllRules(ctx context.Context) ([]store.RuleRecord, error) {
	return f.records, nil
}
func (f *fakeRuleStore) GetRule(ctx context.Context, id string) (store.RuleRecord, error) {
	return nil, nil
}
func (f *fakeRuleStore) PutRule(ctx context.Context, id string, data store.RuleRecord) error {
	return nil
}
func (f *fakeRuleStore) DeleteRule(ctx context.Context, id string) error { return nil }

type fakeCounterStore struct {
	counts map[string]int
	limit  int
}

func (f *fakeCounterStore) Admit(ctx context.Context, key string, limit, windowSeconds int) (int, bool, error) {
	if f.counts == nil {
		f.counts = make(map[string]int)
	}
	f.counts[key]++
	return f.counts[key], f.counts[key] <= limit, nil
}

func buildPipeline(t *testing.T, rule rules.Rule, counterStore *fakeCounterStore) *Pipeline {
	t.Helper()
	data, err := json.Marshal(rule)
	require.NoError(t, err)

	log := logger.New("test")
	cache := rules.NewCache(&fakeRuleStore{records: []store.RuleRecord{data}}, log)
	require.NoError(t, cache.Refresh(context.Background()))

	zl, _ := zap.NewDevelopment()
	return New(Config{
		RuleCache: cache,
		Resolver:  identifier.New(log),
		Counter:   counter.NewEngine(counterStore, zl, log),
		Queue:     queue.NewManager(time.Minute, log),
		Hub:       NewHub(log),
	}, log)
}

func TestEvaluateNoRuleMatchedAllowsByDefault(t *testing.T) {
	p := buildPipeline(t, rules.Rule{ID: "r1", PathPattern: "/only-this", Active: true, AllowedRequests: 1, WindowSeconds: 60}, &fakeCounterStore{limit: 1})
	r := httptest.NewRequest(http.MethodGet, "/elsewhere", nil)
	r.RemoteAddr = "10.0.0.1:1"

	d := p.Evaluate(context.Background(), r)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonNoRuleMatched, d.Reason)
}

func TestEvaluateRejectsOnceQuotaExceededWithoutQueue(t *testing.T) {
	counterStore := &fakeCounterStore{limit: 2}
	p := buildPipeline(t, rules.Rule{ID: "r1", PathPattern: "/api/*", Active: true, AllowedRequests: 2, WindowSeconds: 60}, counterStore)

	newReq := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		r.RemoteAddr = "10.0.0.1:1"
		return r
	}

	for i := 0; i < 2; i++ {
		d := p.Evaluate(context.Background(), newReq())
		require.Truef(t, d.Allowed, "request %d: expected within quota", i)
	}
	d := p.Evaluate(context.Background(), newReq())
	assert.False(t, d.Allowed, "expected the 3rd request to be rejected")
	assert.Equal(t, ReasonExceededReject, d.Reason)
}

func TestEvaluateQueuesBeyondQuotaWhenQueueEnabled(t *testing.T) {
	counterStore := &fakeCounterStore{limit: 1}
	p := buildPipeline(t, rules.Rule{
		ID: "r1", PathPattern: "/api/*", Active: true, AllowedRequests: 1, WindowSeconds: 60,
		QueueEnabled: true, MaxQueueSize: 2, DelayPerRequestMs: 100,
	}, counterStore)

	newReq := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/users", nil)
		r.RemoteAddr = "10.0.0.1:1"
		return r
	}

	first := p.Evaluate(context.Background(), newReq())
	require.True(t, first.Allowed)
	assert.False(t, first.Queued, "expected the 1st request not queued")

	second := p.Evaluate(context.Background(), newReq())
	require.True(t, second.Allowed)
	assert.True(t, second.Queued)
	assert.Equal(t, 100, second.DelayMs)

	third := p.Evaluate(context.Background(), newReq())
	require.True(t, third.Allowed)
	assert.True(t, third.Queued)
	assert.Equal(t, 200, third.DelayMs)

	fourth := p.Evaluate(context.Background(), newReq())
	assert.False(t, fourth.Allowed, "expected the 4th request rejected as queue full")
	assert.Equal(t, ReasonQueueFull, fourth.Reason)
}

func TestApplyHeadersSetsQueueHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	ApplyHeaders(rec, allowQueued("r1", "id", 250))
	assert.Equal(t, "true", rec.Header().Get("X-RateLimit-Queued"))
	assert.Equal(t, "250", rec.Header().Get("X-RateLimit-Delay-Ms"))
}

func TestPublishFansOutToHubSubscribers(t *testing.T) {
	p := buildPipeline(t, rules.Rule{ID: "r1", PathPattern: "/api/*", Active: true, AllowedRequests: 5, WindowSeconds: 60}, &fakeCounterStore{limit: 5})
	sub := p.hub.Subscribe()
	defer p.hub.Unsubscribe(sub)

	// Drain the initial summary + snapshot messages sent on subscribe.
	<-sub.Messages()
	<-sub.Messages()

	r := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	r.RemoteAddr = "10.0.0.1:1"
	p.Evaluate(context.Background(), r)

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "traffic", msg.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published decision event")
	}
}
