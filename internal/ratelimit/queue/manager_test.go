package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secprog/poor-man-ratelimiter/pkg/logger"
)

func TestEnqueueRespectsMaxQueueSize(t *testing.T) {
	m := NewManager(time.Minute, logger.New("test"))

	for i := 1; i <= 3; i++ {
		out := m.Enqueue("rule-1", "id-1", 3, 1000)
		require.Truef(t, out.Admitted, "request %d: expected admission", i)
		assert.Equal(t, i, out.Position)
	}

	out := m.Enqueue("rule-1", "id-1", 3, 1000)
	assert.False(t, out.Admitted, "expected 4th request to be rejected, queue full")
}

func TestEnqueueDelayIsLinearInPosition(t *testing.T) {
	m := NewManager(time.Minute, logger.New("test"))

	first := m.Enqueue("rule-1", "id-2", 5, 50)
	second := m.Enqueue("rule-1", "id-2", 5, 50)
	assert.Equal(t, 50, first.DelayMs)
	assert.Equal(t, 100, second.DelayMs)
}

func TestDepthDecrementsAfterDelay(t *testing.T) {
	m := NewManager(time.Minute, logger.New("test"))
	m.Enqueue("rule-1", "id-3", 5, 20)

	require.Equal(t, 1, m.Depth("rule-1", "id-3"), "expected depth 1 immediately after enqueue")

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, m.Depth("rule-1", "id-3"), "expected depth to drain back to 0 after the delay")
}

func TestEnqueueIsolatesKeysByRuleAndIdentifier(t *testing.T) {
	m := NewManager(time.Minute, logger.New("test"))
	m.Enqueue("rule-1", "id-4", 1, 1000)

	out := m.Enqueue("rule-2", "id-4", 1, 1000)
	assert.True(t, out.Admitted, "expected a different rule to have its own independent queue depth")
}

func TestEnqueueConcurrentCASNeverExceedsMax(t *testing.T) {
	m := NewManager(time.Minute, logger.New("test"))
	const workers = 50
	const maxQueueSize = 10

	var wg sync.WaitGroup
	admitted := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := m.Enqueue("rule-1", "id-5", maxQueueSize, 10_000)
			admitted <- out.Admitted
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for ok := range admitted {
		if ok {
			count++
		}
	}
	assert.Equal(t, maxQueueSize, count, "expected exactly maxQueueSize admissions under concurrent access")
}

func TestDepthHookFiresOnChange(t *testing.T) {
	var mu sync.Mutex
	var depths []int
	m := NewManager(time.Minute, logger.New("test"), WithDepthHook(func(ruleID string, depth int) {
		mu.Lock()
		depths = append(depths, depth)
		mu.Unlock()
	}))

	m.Enqueue("rule-1", "id-6", 5, 10)
	time.Sleep(40 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(depths), 2, "expected at least an increment and a decrement hook call")
	assert.Equal(t, 1, depths[0], "expected first reported depth 1")
	assert.Equal(t, 0, depths[len(depths)-1], "expected final reported depth 0")
}
