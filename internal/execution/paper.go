package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"flowtrader/internal/models"
)

// PaperAdapter simulates a venue for paper trading and tests. Each submitted
// order fills immediately against configured liquidity: whatever the venue
// can serve is filled at the cached price, the remainder is cancelled, so the
// immediate-or-cancel contract holds.
type PaperAdapter struct {
	venue   models.Venue
	latency time.Duration
	updates chan OrderUpdate

	mu           sync.Mutex
	prices       map[string]float64
	liquidity    map[string]float64 // available qty per instrument; missing means unlimited
	silent       map[string]bool    // instruments that never produce updates
	rejectNext   map[string]string  // instrument -> reject reason for next order
	orderCounter int
	orders       map[string]*models.OrderState
}

// NewPaperAdapter creates a simulated venue adapter.
func NewPaperAdapter(venue models.Venue, latency time.Duration) *PaperAdapter {
	return &PaperAdapter{
		venue:      venue,
		latency:    latency,
		updates:    make(chan OrderUpdate, 256),
		prices:     make(map[string]float64),
		liquidity:  make(map[string]float64),
		silent:     make(map[string]bool),
		rejectNext: make(map[string]string),
		orders:     make(map[string]*models.OrderState),
	}
}

// UpdatePrice sets the simulated execution price for an instrument.
func (p *PaperAdapter) UpdatePrice(instrument string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[instrument] = price
}

// SetLiquidity caps how much quantity the venue can fill per order for an
// instrument. Orders above the cap partially fill.
func (p *PaperAdapter) SetLiquidity(instrument string, qty float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.liquidity[instrument] = qty
}

// SetSilent makes the venue accept orders but never report on them, so
// timeout reconciliation paths can be exercised.
func (p *PaperAdapter) SetSilent(instrument string, silent bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silent[instrument] = silent
}

// RejectNext makes the venue reject the next order for an instrument with
// the given reason.
func (p *PaperAdapter) RejectNext(instrument, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectNext[instrument] = reason
}

// Submit simulates IOC order acceptance. The resulting fill, partial fill,
// or cancel is delivered asynchronously on Updates.
func (p *PaperAdapter) Submit(ctx context.Context, order *models.OrderState) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	if reason, ok := p.rejectNext[order.Instrument]; ok {
		delete(p.rejectNext, order.Instrument)
		p.mu.Unlock()
		return "", fmt.Errorf("order rejected: %s", reason)
	}

	p.orderCounter++
	venueOrderID := fmt.Sprintf("%s_%d_%d", p.venue, time.Now().Unix(), p.orderCounter)
	snapshot := *order
	p.orders[venueOrderID] = &snapshot

	price, havePrice := p.prices[order.Instrument]
	if !havePrice {
		price = order.Price
	}
	available, capped := p.liquidity[order.Instrument]
	if !capped {
		available = order.Quantity
	}
	silent := p.silent[order.Instrument]
	p.mu.Unlock()

	if silent {
		return venueOrderID, nil
	}

	fillQty := order.Quantity
	if available < fillQty {
		fillQty = available
	}

	go p.report(venueOrderID, order, fillQty, price)
	return venueOrderID, nil
}

func (p *PaperAdapter) report(venueOrderID string, order *models.OrderState, fillQty, price float64) {
	if p.latency > 0 {
		time.Sleep(p.latency)
	}

	p.updates <- OrderUpdate{
		VenueOrderID: venueOrderID,
		Status:       models.OrderAcknowledged,
	}

	if fillQty <= 0 {
		p.updates <- OrderUpdate{
			VenueOrderID: venueOrderID,
			Status:       models.OrderCancelled,
			Reason:       "no-liquidity",
		}
		return
	}

	status := models.OrderFilled
	if fillQty < order.Quantity {
		status = models.OrderPartiallyFilled
	}
	p.updates <- OrderUpdate{
		VenueOrderID: venueOrderID,
		Status:       status,
		Fill: &models.Fill{
			ID:           venueOrderID + "_fill",
			VenueOrderID: venueOrderID,
			Venue:        p.venue,
			Instrument:   order.Instrument,
			Side:         order.Side,
			Quantity:     fillQty,
			Price:        price,
			Timestamp:    time.Now(),
		},
	}
}

// Cancel acknowledges a cancel request. IOC orders settle at submission, so
// there is nothing resting to remove.
func (p *PaperAdapter) Cancel(ctx context.Context, venueOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[venueOrderID]; !ok {
		return fmt.Errorf("order not found: %s", venueOrderID)
	}
	return nil
}

// Updates returns the simulated update stream.
func (p *PaperAdapter) Updates() <-chan OrderUpdate {
	return p.updates
}

var _ VenueAdapter = (*PaperAdapter)(nil)
