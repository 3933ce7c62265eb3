package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/radioarchive/trawler/internal/product"
	"github.com/radioarchive/trawler/pkg/kafka"
)

// EventPublisher is the slice of the Kafka producer the coordinator needs;
// tests substitute a recorder.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// TransferEvent is published on every product lifecycle transition for
// downstream archive monitoring.
type TransferEvent struct {
	EventID   string    `json:"event_id"`
	ProductID string    `json:"product_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Bytes     int64     `json:"bytes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// publishTransition emits a lifecycle event keyed by product id. Event
// delivery is best effort; a broker outage must not fail an ingest that the
// catalog has already recorded.
func (c *Coordinator) publishTransition(ctx context.Context, id string, from, to product.TransferStatus, reason string, bytes int64) {
	if c.events == nil {
		return
	}
	event := TransferEvent{
		EventID:   uuid.NewString(),
		ProductID: id,
		From:      string(from),
		To:        string(to),
		Reason:    reason,
		Bytes:     bytes,
		Timestamp: time.Now().UTC(),
	}
	if err := c.events.Publish(ctx, kafka.Event{Key: id, Value: event}); err != nil {
		slog.Default().Warn("failed to publish transfer event",
			"component", "ingest",
			"product_id", id,
			"to", to,
			"error", err,
		)
	}
}
