package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/secprog/poor-man-ratelimiter/pkg/logger"
)

// KafkaSink forwards decision events to a Kafka topic for the external
// analytics aggregator, satisfying the Sink interface. Writes never block
// the request path: Send hands off to a small buffered worker goroutine and
// drops events if that buffer is full, matching the Hub's own
// never-block-the-publisher discipline.
type KafkaSink struct {
	writer *kafka.Writer
	logger *logger.Logger
	events chan DecisionEvent
	done   chan struct{}
}

// NewKafkaSink constructs a sink that writes JSON-encoded decision events to
// topic on the given brokers.
func NewKafkaSink(brokers []string, topic string, log *logger.Logger) *KafkaSink {
	s := &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
			Async:        true,
		},
		logger: log.Named("event-stream-kafka"),
		events: make(chan DecisionEvent, 256),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Send enqueues event for asynchronous delivery; it never blocks.
func (s *KafkaSink) Send(event DecisionEvent) {
	select {
	case s.events <- event:
	default:
		s.logger.Warn("kafka sink buffer full, dropping decision event", nil)
	}
}

func (s *KafkaSink) run() {
	for {
		select {
		case event := <-s.events:
			s.write(event)
		case <-s.done:
			return
		}
	}
}

func (s *KafkaSink) write(event DecisionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, kafka.Message{Value: data}); err != nil {
		s.logger.Warn("failed to publish decision event to kafka", map[string]interface{}{"error": err.Error()})
	}
}

// Close stops the sink's background worker and flushes the writer.
func (s *KafkaSink) Close() error {
	close(s.done)
	return s.writer.Close()
}
