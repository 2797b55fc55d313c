// Package queue implements the Queue Manager (C5): a per-key in-process
// leaky-bucket depth tracker with a background delay scheduler and
// periodic sweeper, grounded in the sharded-bucket-map idiom used by the
// example pack's token-bucket rate limiter.
package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/rlerrors"
	"github.com/secprog/poor-man-ratelimiter/pkg/logger"
)

const shardCount = 32

// entry holds the live depth for a single (ruleId, identifier) key.
type entry struct {
	depth int64
}

type shard struct {
	mu    sync.Mutex
	items map[string]*entry
}

// Manager tracks queue depth per key and schedules delayed decrements,
// implementing the cooperative leaky bucket of SPEC_FULL.md §4.5.
type Manager struct {
	shards         [shardCount]*shard
	sweepInterval  time.Duration
	logger         *logger.Logger
	stopSweep      chan struct{}
	sweepStartOnce sync.Once
	onDepthChange  func(ruleID string, depth int)
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithDepthHook registers a callback invoked with the new depth for ruleID
// every time a key's depth changes, for metrics wiring.
func WithDepthHook(hook func(ruleID string, depth int)) Option {
	return func(m *Manager) { m.onDepthChange = hook }
}

// NewManager constructs a Queue Manager. sweepInterval defaults to 60s,
// matching the spec's default cleanup cadence, if zero is passed.
func NewManager(sweepInterval time.Duration, log *logger.Logger, opts ...Option) *Manager {
	if sweepInterval <= 0 {
		sweepInterval = 60 * time.Second
	}
	m := &Manager{
		sweepInterval: sweepInterval,
		logger:        log.Named("queue"),
		stopSweep:     make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i] = &shard{items: make(map[string]*entry)}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartSweeper launches the background cleanup goroutine; it is safe to
// call more than once, only the first call has effect.
func (m *Manager) StartSweeper() {
	m.sweepStartOnce.Do(func() {
		go m.sweepLoop()
	})
}

// Stop halts the background sweeper.
func (m *Manager) Stop() {
	close(m.stopSweep)
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopSweep:
			return
		}
	}
}

func (m *Manager) sweep() {
	removed := 0
	for _, sh := range m.shards {
		sh.mu.Lock()
		for key, e := range sh.items {
			// Mark the entry dead (-1) so an Enqueue still holding it
			// re-fetches the live entry instead of counting on the orphan.
			if atomic.CompareAndSwapInt64(&e.depth, 0, -1) {
				delete(sh.items, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	if removed > 0 {
		m.logger.Debug("queue sweeper removed drained entries", map[string]interface{}{"count": removed})
	}
}

func (m *Manager) shardFor(key string) *shard {
	h := fnv32(key)
	return m.shards[h%shardCount]
}

func fnv32(s string) uint32 {
	const prime32 = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

func (m *Manager) entryFor(key string) *entry {
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.items[key]
	if !ok {
		e = &entry{}
		sh.items[key] = e
	}
	return e
}

// Outcome is the result of attempting to enqueue a request beyond quota.
type Outcome struct {
	Admitted bool
	Position int // 1-based position within the current depth cohort
	DelayMs  int
}

// Enqueue implements the atomic check-and-increment of §4.5: if depth is
// already at maxQueueSize the request is rejected (queue full); otherwise
// depth is incremented and a background timer is scheduled to decrement it
// after the computed delay.
func (m *Manager) Enqueue(ruleID, identifier string, maxQueueSize, delayPerRequestMs int) Outcome {
	key := ruleID + ":" + identifier
	e := m.entryFor(key)

	for {
		current := atomic.LoadInt64(&e.depth)
		if current < 0 {
			e = m.entryFor(key)
			continue
		}
		if int(current) >= maxQueueSize {
			m.logger.Debug("queue full, rejecting", map[string]interface{}{
				"key":   key,
				"error": rlerrors.ErrQueueFull.Error(),
			})
			return Outcome{Admitted: false}
		}
		if atomic.CompareAndSwapInt64(&e.depth, current, current+1) {
			position := int(current) + 1
			delayMs := position * delayPerRequestMs
			m.reportDepth(ruleID, position)
			m.scheduleDecrement(ruleID, e, time.Duration(delayMs)*time.Millisecond)
			return Outcome{Admitted: true, Position: position, DelayMs: delayMs}
		}
	}
}

func (m *Manager) scheduleDecrement(ruleID string, e *entry, delay time.Duration) {
	time.AfterFunc(delay, func() {
		depth := atomic.AddInt64(&e.depth, -1)
		m.reportDepth(ruleID, int(depth))
	})
}

func (m *Manager) reportDepth(ruleID string, depth int) {
	if m.onDepthChange != nil {
		m.onDepthChange(ruleID, depth)
	}
}

// Depth returns the current depth for a key, for tests and metrics.
func (m *Manager) Depth(ruleID, identifier string) int {
	key := ruleID + ":" + identifier
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.items[key]
	if !ok {
		return 0
	}
	return int(atomic.LoadInt64(&e.depth))
}
