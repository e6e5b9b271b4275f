// Package execution converts trade intents into venue-routed IOC orders and
// tracks each slice through its lifecycle.
package execution

import (
	"context"

	"flowtrader/internal/models"
)

// OrderUpdate is an asynchronous event from a venue adapter, keyed by the
// venue order id. Adapter-reported timestamps are authoritative for fill
// ordering.
type OrderUpdate struct {
	VenueOrderID string
	Status       models.OrderStatus
	Fill         *models.Fill // set when the update carries an execution
	Reason       string       // set on rejections
}

// VenueAdapter is the exchange-facing surface the engine depends on. Wire
// protocol, authentication, and rate limiting all live behind it, outside
// the core. Submit returns the venue order id once the order is accepted for
// processing, or an error for an immediate reject. Updates delivers
// acknowledgements, fills, and terminal states; for a given order they are
// emitted only after Submit has returned.
type VenueAdapter interface {
	Submit(ctx context.Context, order *models.OrderState) (string, error)
	Cancel(ctx context.Context, venueOrderID string) error
	Updates() <-chan OrderUpdate
}

// MarkSource provides the current mid price used to recompute retry prices.
type MarkSource interface {
	Mid(instrument string) (float64, bool)
}
