package outbox

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is one transactional-outbox row. Rows are appended inside the same
// database transaction as the state change they describe and relayed to the
// message bus afterwards, so delivery is at-least-once.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Topic         string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// NewEvent marshals the payload map up front so a bad payload fails the
// surrounding transaction instead of surfacing at relay time.
func NewEvent(aggregateType, aggregateID, eventType string, payload map[string]any, topic string) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event payload for %s: %w", eventType, err)
	}
	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		Topic:         topic,
		CreatedAt:     time.Now(),
	}, nil
}
