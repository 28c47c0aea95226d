// Package notify dispatches ledger events to an external push/notification
// pipeline. Publishing is fire-and-forget: a failed publish is logged and
// never fails the operation that produced the event.
package notify

import (
	"context"
	"time"
)

// Event types emitted after ledger mutations.
const (
	EventPurchaseRecorded   = "purchase_recorded"
	EventPriceAnomaly       = "price_anomaly"
	EventLowStock           = "low_stock"
	EventStockAdjustment    = "stock_adjustment"
	EventProductionComplete = "production_complete"
	EventProductionReversed = "production_reversed"
)

type Event struct {
	Type string            `json:"type"`
	At   time.Time         `json:"at"`
	Data map[string]string `json:"data,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ Event) error {
	return nil
}
