package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Append writes the event with the caller's transaction so it commits or rolls
// back together with the domain mutation.
func Append(ctx context.Context, tx pgx.Tx, ev Event) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, topic, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.AggregateType, ev.AggregateID, ev.EventType, ev.Payload, ev.Topic, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}

// PgStore is the relay's view of the outbox table.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) FetchUnpublished(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, topic, created_at, published_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unpublished events: %w", err)
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(
			&ev.ID,
			&ev.AggregateType,
			&ev.AggregateID,
			&ev.EventType,
			&ev.Payload,
			&ev.Topic,
			&ev.CreatedAt,
			&ev.PublishedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *PgStore) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark event %d published: %w", id, err)
	}
	return nil
}
