package pipeline

import (
	"context"
	"net/http"
	"strconv"

	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/bodybuffer"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/counter"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/identifier"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/metrics"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/queue"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/rules"
	"github.com/secprog/poor-man-ratelimiter/pkg/logger"
)

// Pipeline orchestrates C1-C5 into a single decision per request and
// publishes the resulting DecisionEvent on the Hub, per SPEC_FULL.md §4.6.
type Pipeline struct {
	ruleCache *rules.Cache
	resolver  *identifier.Resolver
	counter   *counter.Engine
	queue     *queue.Manager
	hub       *Hub
	trustXFF  bool
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

// Config bundles the collaborators a Pipeline needs.
type Config struct {
	RuleCache          *rules.Cache
	Resolver           *identifier.Resolver
	Counter            *counter.Engine
	Queue              *queue.Manager
	Hub                *Hub
	Metrics            *metrics.Metrics
	TrustXForwardedFor bool
}

// New constructs a Pipeline.
func New(cfg Config, log *logger.Logger) *Pipeline {
	return &Pipeline{
		ruleCache: cfg.RuleCache,
		resolver:  cfg.Resolver,
		counter:   cfg.Counter,
		queue:     cfg.Queue,
		hub:       cfg.Hub,
		trustXFF:  cfg.TrustXForwardedFor,
		metrics:   cfg.Metrics,
		logger:    log.Named("pipeline"),
	}
}

// Evaluate runs the full decision pipeline for r and publishes the
// resulting DecisionEvent, returning the Decision for the HTTP layer to act
// on (apply delay, set headers, admit/reject).
func (p *Pipeline) Evaluate(ctx context.Context, r *http.Request) Decision {
	rule := p.ruleCache.Match(r.URL.Path)
	if rule == nil {
		d := allow("", "", ReasonNoRuleMatched)
		p.publish(r, d)
		return d
	}

	if rule.BodyLimitEnabled && bodybuffer.ShouldBuffer(r) {
		ctx = bodybuffer.Buffer(ctx, r, rule.BodyContentType)
	}

	req := identifier.FromHTTPRequest(r, p.trustXFF)
	id := p.resolver.Resolve(ctx, rule, req)

	result := p.counter.Admit(ctx, rule.ID, id, rule.AllowedRequests, rule.WindowSeconds)

	var d Decision
	switch {
	case result == counter.WithinQuota:
		d = allow(rule.ID, id, ReasonWithinQuota)
	case !rule.QueueEnabled:
		d = reject(rule.ID, id, ReasonExceededReject)
	default:
		outcome := p.queue.Enqueue(rule.ID, id, rule.MaxQueueSize, rule.DelayPerRequestMs)
		if outcome.Admitted {
			d = allowQueued(rule.ID, id, outcome.DelayMs)
		} else {
			d = reject(rule.ID, id, ReasonQueueFull)
		}
	}

	p.publish(r, d)
	return d
}

func (p *Pipeline) publish(r *http.Request, d Decision) {
	event := newDecisionEvent(r.URL.Path, r.Method, r.Host, d)
	if p.hub != nil {
		p.hub.Publish(event)
	}
	if p.metrics != nil {
		p.metrics.RecordDecision(string(d.Reason))
	}
}

// ApplyHeaders sets the response headers observable on the request path,
// per SPEC_FULL.md §6.
func ApplyHeaders(w http.ResponseWriter, d Decision) {
	if d.Queued {
		w.Header().Set("X-RateLimit-Queued", "true")
		w.Header().Set("X-RateLimit-Delay-Ms", strconv.Itoa(d.DelayMs))
		return
	}
	if !d.Allowed && d.Reason == ReasonQueueFull {
		w.Header().Set("X-RateLimit-Queued", "true")
	}
}
