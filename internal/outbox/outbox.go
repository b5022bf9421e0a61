// Package outbox relays domain events stored in the outbox table to Kafka.
package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Message is a stored event awaiting delivery.
type Message struct {
	ID        int64
	EventID   uuid.UUID
	Topic     string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// Store hands out unsent messages.
type Store interface {
	// Process claims up to limit unsent messages and passes them to fn. The
	// messages are marked sent only if fn succeeds. It returns the number of
	// messages claimed.
	Process(ctx context.Context, limit int, fn func(ctx context.Context, msgs []Message) error) (int, error)
}

// Publisher delivers messages to the broker.
type Publisher interface {
	Publish(ctx context.Context, msgs []Message) error
}

// RelayConfig controls polling.
type RelayConfig struct {
	BatchSize int
	Interval  time.Duration
}

// Relay polls the Store and publishes pending messages. Delivery is at least
// once: a crash between publish and commit re-sends the batch.
type Relay struct {
	store Store
	pub   Publisher
	cfg   RelayConfig
}

// NewRelay creates a Relay.
func NewRelay(store Store, pub Publisher, cfg RelayConfig) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Relay{store: store, pub: pub, cfg: cfg}
}

// Run flushes on every tick until ctx is canceled. Flush errors are logged
// and retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		n, err := r.Flush(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			lg.Warn("Outbox flush failed", zap.Int("published", n), zap.Error(err))
		case n > 0:
			lg.Debug("Outbox flushed", zap.Int("published", n))
		}
	}
}

// Flush publishes batches until the backlog is drained and returns the number
// of messages published.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.store.Process(ctx, r.cfg.BatchSize, r.pub.Publish)
		if err != nil {
			return total, errors.Wrap(err, "process outbox batch")
		}
		total += n
		if n < r.cfg.BatchSize {
			return total, nil
		}
	}
}
