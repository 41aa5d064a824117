package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Store is the relay's source of pending events.
type Store interface {
	FetchUnpublished(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, id int64) error
}

// Publisher forwards one event to the message bus.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Relay polls the outbox and forwards rows to the bus. An event is marked
// published only after the bus accepted it, so a crash in between re-delivers:
// consumers must be idempotent.
type Relay struct {
	store     Store
	publisher Publisher
	batchSize int
	log       zerolog.Logger
}

func NewRelay(store Store, publisher Publisher, batchSize int, log zerolog.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		batchSize: batchSize,
		log:       log,
	}
}

// RunOnce forwards at most one batch and returns how many events were
// delivered. A publish failure stops the run so ordering within a topic is
// preserved across retries.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.store.FetchUnpublished(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch outbox batch: %w", err)
	}

	delivered := 0
	for _, ev := range events {
		if err := r.publisher.Publish(ctx, ev); err != nil {
			return delivered, fmt.Errorf("publish event %d (%s): %w", ev.ID, ev.EventType, err)
		}
		if err := r.store.MarkPublished(ctx, ev.ID); err != nil {
			return delivered, err
		}
		delivered++
	}

	return delivered, nil
}

// Run loops RunOnce on the given interval until the context is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("outbox relay stopping")
			return
		case <-ticker.C:
			n, err := r.RunOnce(ctx)
			if err != nil {
				r.log.Error().Err(err).Msg("outbox relay run failed")
				continue
			}
			if n > 0 {
				r.log.Info().Int("delivered", n).Msg("outbox relay run complete")
			}
		}
	}
}
