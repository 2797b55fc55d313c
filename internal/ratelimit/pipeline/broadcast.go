package pipeline

import (
	"sync"

	"github.com/secprog/poor-man-ratelimiter/pkg/logger"
)

// snapshotSize is the number of recent decision events replayed to a new
// subscriber before it starts receiving live events, per SPEC_FULL.md §4.6.
const snapshotSize = 100

// subscriberBuffer bounds each subscriber's pending-event channel; when full,
// the oldest pending event is dropped rather than blocking the publisher.
const subscriberBuffer = 64

// WireMessage is the event-stream wire format of SPEC_FULL.md §6.
type WireMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Sink receives every published decision event, in addition to the
// in-process broadcast, for forwarding to an external analytics aggregator.
// Sinks must never block Publish.
type Sink interface {
	Send(event DecisionEvent)
}

// Hub is the bounded multiple-producer, multiple-consumer broadcast stream
// for decision events, generalized from the example pack's WebSocket
// market-data Hub/Client register-unregister-broadcast pattern.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	recent      []DecisionEvent
	sinks       []Sink
	logger      *logger.Logger
}

// Subscriber is a single connected observer's outbound message channel.
type Subscriber struct {
	ch chan WireMessage
}

// NewHub constructs an empty Hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		subscribers: make(map[*Subscriber]struct{}),
		logger:      log.Named("event-stream"),
	}
}

// AddSink registers an additional delivery target (e.g. Kafka) for every
// published event.
func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

// Subscribe registers a new observer and immediately enqueues two messages
// on its channel, a "summary" (aggregate counts) followed by a "snapshot"
// (the most recent N events), before returning it; live events follow on
// the same channel.
func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscriber{ch: make(chan WireMessage, subscriberBuffer)}
	h.subscribers[sub] = struct{}{}

	snapshot := make([]DecisionEvent, len(h.recent))
	copy(snapshot, h.recent)

	// Deliver snapshot + summary without blocking: the channel is freshly
	// allocated so these two sends cannot fail to enqueue.
	sub.ch <- WireMessage{Type: "summary", Payload: summarize(snapshot)}
	sub.ch <- WireMessage{Type: "snapshot", Payload: snapshot}

	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.ch)
	}
}

// Messages returns the subscriber's receive channel.
func (s *Subscriber) Messages() <-chan WireMessage {
	return s.ch
}

// Publish fans event out to every subscriber and sink. A slow subscriber
// has its oldest pending message dropped rather than stalling the
// publisher, per SPEC_FULL.md §5's no-blocking-on-I/O-suspension rule.
func (h *Hub) Publish(event DecisionEvent) {
	h.mu.Lock()
	h.recent = append(h.recent, event)
	if len(h.recent) > snapshotSize {
		h.recent = h.recent[len(h.recent)-snapshotSize:]
	}
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	sinks := append([]Sink(nil), h.sinks...)
	h.mu.Unlock()

	msg := WireMessage{Type: "traffic", Payload: event}
	for _, sub := range subs {
		select {
		case sub.ch <- msg:
		default:
			// Buffer full: drop the oldest pending message to make room,
			// then retry once. If it's still full, drop this event for
			// this subscriber (best-effort delivery).
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- msg:
			default:
			}
		}
	}

	for _, sink := range sinks {
		sink.Send(event)
	}
}

// Summary is the aggregate delivered to new subscribers alongside the
// recent-events snapshot.
type Summary struct {
	TotalEvents   int `json:"totalEvents"`
	AllowedCount  int `json:"allowedCount"`
	RejectedCount int `json:"rejectedCount"`
	QueuedCount   int `json:"queuedCount"`
}

func summarize(events []DecisionEvent) Summary {
	var s Summary
	s.TotalEvents = len(events)
	for _, e := range events {
		if e.Allowed {
			s.AllowedCount++
		} else {
			s.RejectedCount++
		}
		if e.Queued {
			s.QueuedCount++
		}
	}
	return s
}
