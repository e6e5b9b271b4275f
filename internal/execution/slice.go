package execution

import (
	"context"

	"flowtrader/internal/audit"
	"flowtrader/internal/models"
)

// register binds a venue order id to the slice's update channel, replaying
// any updates the dispatcher saw before registration.
func (e *Engine) register(venueOrderID string, ch chan OrderUpdate) {
	e.mu.Lock()
	e.pending[venueOrderID] = ch
	queued := e.orphans[venueOrderID]
	delete(e.orphans, venueOrderID)
	e.mu.Unlock()
	for _, u := range queued {
		ch <- u
	}
}

func (e *Engine) unregister(venueOrderID string) {
	e.mu.Lock()
	delete(e.pending, venueOrderID)
	delete(e.orphans, venueOrderID)
	e.finished[venueOrderID] = true
	e.mu.Unlock()
}

// runSlice drives one venue slice to a terminal state. An attempt that ends
// with zero fill may be retried once at a repriced level; any fill at all is
// terminal because the orders are immediate-or-cancel.
func (e *Engine) runSlice(ctx context.Context, o *models.OrderState) {
	adapter := e.adapters[o.Venue]
	for {
		if e.attempt(ctx, adapter, o) {
			return
		}
		if o.Retries >= e.cfg.MaxRetries {
			e.transition(o, models.OrderCancelled, "retries-exhausted")
			return
		}
		o.Retries++
		if !e.reprice(o) {
			e.transition(o, models.OrderCancelled, "slippage-bound-exceeded")
			return
		}
		e.logger.Debug().
			Str("order_id", o.ID).
			Str("venue", string(o.Venue)).
			Int("retry", o.Retries).
			Float64("price", o.Price).
			Msg("retrying slice")
	}
}

// attempt submits the slice once and follows its updates until a terminal
// state or the order timeout. It returns true when the slice is done and
// false when a retry is allowed.
func (e *Engine) attempt(ctx context.Context, adapter VenueAdapter, o *models.OrderState) bool {
	o.Deadline = e.now().Add(e.cfg.OrderTimeout)
	attemptCtx, cancel := context.WithDeadline(ctx, o.Deadline)
	defer cancel()

	venueOrderID, err := adapter.Submit(attemptCtx, o)
	if err != nil {
		e.transition(o, models.OrderRejected, err.Error())
		// An immediate reject with nothing filled may still be retried at a
		// fresh price.
		return o.FilledQty > 0
	}
	o.VenueOrderID = venueOrderID

	ch := make(chan OrderUpdate, 16)
	e.register(venueOrderID, ch)
	defer e.unregister(venueOrderID)

	e.transition(o, models.OrderAcknowledged, "")

	for {
		select {
		case <-attemptCtx.Done():
			return e.reconcile(ctx, adapter, o)
		case u := <-ch:
			if done, terminal := e.apply(o, u); done {
				return terminal
			}
		}
	}
}

// apply folds one adapter update into the slice. The first return value is
// true when the attempt loop should stop; the second is true when the slice
// as a whole is done, false when a retry is allowed.
func (e *Engine) apply(o *models.OrderState, u OrderUpdate) (bool, bool) {
	if u.Fill != nil {
		total := o.FilledQty + u.Fill.Quantity
		if total > 0 {
			o.AvgFillPrice = (o.AvgFillPrice*o.FilledQty + u.Fill.Price*u.Fill.Quantity) / total
		}
		o.FilledQty = total
	}

	switch u.Status {
	case models.OrderAcknowledged:
		return false, false
	case models.OrderFilled:
		e.transition(o, models.OrderFilled, "")
		return true, true
	case models.OrderPartiallyFilled:
		// Remainder was cancelled at the venue; the slice is done.
		e.transition(o, models.OrderPartiallyFilled, "")
		return true, true
	case models.OrderCancelled:
		if o.FilledQty > 0 {
			e.transition(o, models.OrderPartiallyFilled, "")
			return true, true
		}
		e.transition(o, models.OrderCancelled, u.Reason)
		return true, false
	case models.OrderRejected:
		e.transition(o, models.OrderRejected, u.Reason)
		return true, o.FilledQty > 0
	default:
		return false, false
	}
}

// reconcile handles an attempt that hit the order timeout without a terminal
// update: the venue is told to cancel and the slice is settled from what has
// been observed so far. Fills reported after this point are dropped by the
// dispatcher.
func (e *Engine) reconcile(ctx context.Context, adapter VenueAdapter, o *models.OrderState) bool {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.OrderTimeout)
	defer cancel()
	if err := adapter.Cancel(cancelCtx, o.VenueOrderID); err != nil {
		e.logger.Warn().
			Str("order_id", o.ID).
			Str("venue", string(o.Venue)).
			Err(err).
			Msg("cancel after timeout failed")
	}

	if o.FilledQty > 0 {
		e.transition(o, models.OrderPartiallyFilled, "order-timeout")
		return true
	}
	e.transition(o, models.OrderCancelled, "order-timeout")
	return false
}

// reprice moves the slice to the current mid, bounded by the original
// reference price and the slippage limit. It returns false when no acceptable
// price exists.
func (e *Engine) reprice(o *models.OrderState) bool {
	mid, ok := e.marks.Mid(o.Instrument)
	if !ok || mid <= 0 {
		return false
	}
	var bound float64
	if o.Side == models.SideBuy {
		bound = o.ReferencePrice * (1 + e.cfg.MaxSlippage)
		if mid > bound {
			return false
		}
	} else {
		bound = o.ReferencePrice * (1 - e.cfg.MaxSlippage)
		if mid < bound {
			return false
		}
	}
	o.Price = mid
	o.Status = models.OrderPending
	return true
}

func (e *Engine) transition(o *models.OrderState, status models.OrderStatus, reason string) {
	o.Status = status
	o.UpdatedAt = e.now()
	e.sink.Record(audit.Event{
		Type:       audit.OrderTransition,
		Instrument: o.Instrument,
		Reference:  o.ID,
		Reason:     reason,
		Details: map[string]interface{}{
			"intent_id":      o.IntentID,
			"venue":          string(o.Venue),
			"venue_order_id": o.VenueOrderID,
			"status":         string(status),
			"filled":         o.FilledQty,
			"avg_price":      o.AvgFillPrice,
			"retries":        o.Retries,
		},
	})
}
