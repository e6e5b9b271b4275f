package models

import "time"

// OrderStatus represents the lifecycle state of one order slice.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderAcknowledged    OrderStatus = "ACKNOWLEDGED"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the status admits no further transitions.
// Orders are immediate-or-cancel, so PartiallyFilled is itself terminal:
// the unfilled remainder was cancelled at submission.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderPartiallyFilled, OrderFilled, OrderCancelled, OrderRejected:
		return true
	case OrderPending, OrderAcknowledged:
		return false
	}
	return false
}

// OrderState tracks one venue slice of a trade intent. The retry counter and
// deadline live in the record itself rather than in loop state.
type OrderState struct {
	ID             string
	VenueOrderID   string // empty until acknowledged
	IntentID       string
	Venue          Venue
	Instrument     string
	Side           Side
	Quantity       float64
	Price          float64
	ReferencePrice float64 // original reference, bounds retry repricing
	FilledQty      float64
	AvgFillPrice   float64
	Status         OrderStatus
	Retries        int
	Deadline       time.Time
	UpdatedAt      time.Time
}

// Remaining returns the unfilled quantity.
func (o *OrderState) Remaining() float64 {
	r := o.Quantity - o.FilledQty
	if r < 0 {
		return 0
	}
	return r
}

// Fill is a single execution report from a venue adapter.
type Fill struct {
	ID           string
	VenueOrderID string
	Venue        Venue
	Instrument   string
	Side         Side
	Quantity     float64
	Price        float64
	Timestamp    time.Time
}

// FillReport summarizes the terminal outcome of one intent across all of its
// slices. Exactly one report is emitted per intent; unfilled remainder is
// reported, never dropped.
type FillReport struct {
	ID           string
	IntentID     string
	Instrument   string
	Side         Side
	RequestedQty float64
	FilledQty    float64
	AvgPrice     float64 // volume-weighted across slices
	UnfilledQty  float64
	StopPrice    float64
	TakeProfit   float64
	Closing      bool
	CompletedAt  time.Time
}
