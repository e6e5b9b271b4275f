package models

import "time"

// Signal is an order-flow-momentum reading for one instrument. Signals are
// immutable once produced; the contributing inputs are retained for audit.
type Signal struct {
	ID         string
	Instrument string
	Timestamp  time.Time
	Side       Side
	Score      float64
	Regime     Regime

	// Contributing inputs.
	ImbalanceRatio  float64
	VolumeVelocity  float64
	SpreadTightness float64
	VWAPDistance    float64 // (mid - vwap) / vwap

	// Reference mark at evaluation time.
	ReferencePrice float64
	Sequence       uint64
}

// TradeIntent is a sized, risk-bounded instruction produced by the risk
// manager. It is immutable and consumed exactly once by the execution engine
// or explicitly discarded.
type TradeIntent struct {
	ID         string
	Instrument string
	Side       Side
	Quantity   float64
	EntryPrice float64
	StopPrice  float64
	TakeProfit float64
	SignalID   string
	CreatedAt  time.Time

	// Closing marks intents generated internally by the ledger when a
	// position breaches its stop or target. They route through the same
	// execution path as any other intent.
	Closing bool
}
