package models

import "time"

// Position is one open position. At most one position exists per instrument;
// a flip closes the existing position before opening the new one so P&L
// attribution stays exact.
type Position struct {
	Instrument    string
	Quantity      float64 // signed: positive long, negative short
	AvgEntryPrice float64
	UnrealizedPnL float64
	StopPrice     float64
	TakeProfit    float64
	OpenedAt      time.Time
}

// Long reports whether the position is long.
func (p *Position) Long() bool { return p.Quantity > 0 }

// MarkToPrice returns the unrealized P&L at the given mark price.
func (p *Position) MarkToPrice(mark float64) float64 {
	return p.Quantity * (mark - p.AvgEntryPrice)
}

// Breached reports whether the mark price has crossed the position's stop or
// take-profit level.
func (p *Position) Breached(mark float64) bool {
	if p.Quantity == 0 {
		return false
	}
	if p.Long() {
		return mark <= p.StopPrice || mark >= p.TakeProfit
	}
	return mark >= p.StopPrice || mark <= p.TakeProfit
}

// PortfolioState is a point-in-time-consistent snapshot of the ledger. It is
// handed out by value; readers never see the ledger's live state.
type PortfolioState struct {
	Positions   map[string]Position
	Equity      float64
	RealizedPnL float64
	// Correlation holds pairwise rolling return correlations keyed by
	// instrument, symmetric.
	Correlation map[string]map[string]float64
	OpenCount   int
	AsOf        time.Time
}

// Position returns the open position for an instrument, if any.
func (s *PortfolioState) Position(instrument string) (Position, bool) {
	p, ok := s.Positions[instrument]
	return p, ok
}

// CorrelationBetween returns the rolling correlation between two instruments,
// or 0 when either has insufficient history.
func (s *PortfolioState) CorrelationBetween(a, b string) float64 {
	if m, ok := s.Correlation[a]; ok {
		return m[b]
	}
	return 0
}
