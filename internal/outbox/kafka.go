package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Message headers set on every published record.
const (
	HeaderEventID   = "event-id"
	HeaderEventType = "event-type"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes messages to one topic keyed by aggregate id, so events
// of the same order keep their relative order. Writes go through a circuit
// breaker that stops hammering an unavailable cluster.
type KafkaPublisher struct {
	w  messageWriter
	cb *gobreaker.CircuitBreaker
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, lg *zap.Logger) *KafkaPublisher {
	return newKafkaPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}, lg)
}

func newKafkaPublisher(w messageWriter, lg *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		w:  w,
		cb: newBreaker("outbox-kafka", lg),
	}
}

func newBreaker(name string, lg *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Info("Circuit breaker state changed",
				zap.String("circuit", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
}

// Publish writes msgs as one Kafka batch.
func (p *KafkaPublisher) Publish(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	records := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		records[i] = kafka.Message{
			Key:   []byte(m.Key),
			Value: m.Payload,
			Time:  m.CreatedAt.UTC(),
			Headers: []kafka.Header{
				{Key: HeaderEventID, Value: []byte(m.EventID.String())},
				{Key: HeaderEventType, Value: []byte(m.Topic)},
			},
		}
	}
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.w.WriteMessages(ctx, records...)
	})
	if err != nil {
		return errors.Wrap(err, "write kafka messages")
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
