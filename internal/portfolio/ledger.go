// Package portfolio tracks open positions, realized P&L, and equity. All
// mutations flow through a single writer goroutine; readers receive immutable
// snapshots so position checks and sizing always see a point-in-time
// consistent state.
package portfolio

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"flowtrader/internal/audit"
	"flowtrader/internal/errors"
	"flowtrader/internal/models"
)

// Halter receives instrument halts when the ledger detects an invariant
// violation.
type Halter interface {
	Halt(instrument string)
}

// Config holds ledger configuration.
type Config struct {
	InitialEquity     float64
	CorrelationWindow int
	FillHistory       int
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig() Config {
	return Config{
		InitialEquity:     100000,
		CorrelationWindow: 120,
		FillHistory:       256,
	}
}

// Ledger is the portfolio of record. Fill reports and mark updates are
// serialized through one writer goroutine; Snapshot and the read accessors
// return copies that never alias live state.
type Ledger struct {
	cfg    Config
	sink   audit.Sink
	halter Halter
	logger zerolog.Logger
	now    func() time.Time

	cmds    chan func()
	drained chan struct{}
	intents chan *models.TradeIntent

	closeMu sync.RWMutex
	closed  bool

	// Writer-goroutine state. Only the run loop touches these.
	positions   map[string]*models.Position
	equity      float64
	realizedPnL float64
	seenFills   map[string]bool
	closing     map[string]bool // instruments with a breach close in flight
	marks       map[string]float64
	fills       []*models.FillReport
	corr        *correlationTracker
}

// NewLedger creates a ledger and starts its writer goroutine.
func NewLedger(cfg Config, sink audit.Sink, halter Halter, logger zerolog.Logger) *Ledger {
	l := &Ledger{
		cfg:       cfg,
		sink:      sink,
		halter:    halter,
		logger:    logger.With().Str("component", "portfolio").Logger(),
		now:       time.Now,
		cmds:      make(chan func(), 128),
		drained:   make(chan struct{}),
		intents:   make(chan *models.TradeIntent, 32),
		positions: make(map[string]*models.Position),
		equity:    cfg.InitialEquity,
		seenFills: make(map[string]bool),
		closing:   make(map[string]bool),
		marks:     make(map[string]float64),
		corr:      newCorrelationTracker(cfg.CorrelationWindow),
	}
	go l.run()
	return l
}

func (l *Ledger) run() {
	for cmd := range l.cmds {
		cmd()
	}
	close(l.drained)
	close(l.intents)
}

// Close stops the writer goroutine after draining queued commands. Further
// calls into the ledger return ErrLedgerClosed.
func (l *Ledger) Close() {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		<-l.drained
		return
	}
	l.closed = true
	close(l.cmds)
	l.closeMu.Unlock()
	<-l.drained
}

// Intents returns closing intents generated when a position breaches its
// stop or take-profit level.
func (l *Ledger) Intents() <-chan *models.TradeIntent {
	return l.intents
}

// do runs cmd on the writer goroutine and waits for it. The read lock keeps
// Close from closing the command channel mid-send.
func (l *Ledger) do(cmd func()) error {
	l.closeMu.RLock()
	if l.closed {
		l.closeMu.RUnlock()
		return errors.ErrLedgerClosed
	}
	done := make(chan struct{})
	l.cmds <- func() { cmd(); close(done) }
	l.closeMu.RUnlock()
	<-done
	return nil
}

// ApplyFill folds one fill report into the portfolio. Reports are
// deduplicated by id, so replaying one is a no-op.
func (l *Ledger) ApplyFill(report *models.FillReport) error {
	return l.do(func() { l.applyFill(report) })
}

// Mark updates the mark price for an instrument, refreshes unrealized P&L,
// and emits a closing intent if the position's stop or target is breached.
func (l *Ledger) Mark(instrument string, price float64) error {
	return l.do(func() { l.mark(instrument, price) })
}

// Snapshot returns a point-in-time-consistent copy of the portfolio.
func (l *Ledger) Snapshot() *models.PortfolioState {
	var state *models.PortfolioState
	if err := l.do(func() { state = l.snapshot() }); err != nil {
		return &models.PortfolioState{Positions: map[string]models.Position{}}
	}
	return state
}

// RecentFills returns up to n most recent fill reports, newest first.
func (l *Ledger) RecentFills(n int) []*models.FillReport {
	var out []*models.FillReport
	l.do(func() {
		if n > len(l.fills) {
			n = len(l.fills)
		}
		out = make([]*models.FillReport, 0, n)
		for i := len(l.fills) - 1; i >= len(l.fills)-n; i-- {
			cp := *l.fills[i]
			out = append(out, &cp)
		}
	})
	return out
}

func (l *Ledger) applyFill(report *models.FillReport) {
	if l.seenFills[report.ID] {
		return
	}
	l.seenFills[report.ID] = true

	if report.Closing {
		l.closing[report.Instrument] = false
	}
	l.recordFill(report)

	if report.FilledQty <= 0 {
		return
	}

	signed := report.FilledQty * report.Side.Sign()
	pos, open := l.positions[report.Instrument]

	switch {
	case !open:
		if report.Closing {
			// A closing fill with no position means state diverged from the
			// venue. Halt the instrument rather than guess.
			l.fault(report.Instrument, "closing fill without open position")
			return
		}
		l.openPosition(report, signed)

	case sameDirection(pos.Quantity, signed):
		// Scaling in: volume-weighted entry.
		total := pos.Quantity + signed
		pos.AvgEntryPrice = (pos.AvgEntryPrice*abs(pos.Quantity) + report.AvgPrice*report.FilledQty) / abs(total)
		pos.Quantity = total
		pos.StopPrice = report.StopPrice
		pos.TakeProfit = report.TakeProfit

	default:
		l.reduce(pos, report, signed)
	}
}

func (l *Ledger) openPosition(report *models.FillReport, signed float64) {
	pos := &models.Position{
		Instrument:    report.Instrument,
		Quantity:      signed,
		AvgEntryPrice: report.AvgPrice,
		StopPrice:     report.StopPrice,
		TakeProfit:    report.TakeProfit,
		OpenedAt:      l.now(),
	}
	l.positions[report.Instrument] = pos

	l.sink.Record(audit.Event{
		Type:       audit.PositionOpened,
		Instrument: report.Instrument,
		Reference:  report.IntentID,
		Details: map[string]interface{}{
			"quantity": signed,
			"entry":    report.AvgPrice,
			"stop":     report.StopPrice,
			"target":   report.TakeProfit,
		},
	})
	l.logger.Info().
		Str("instrument", report.Instrument).
		Float64("quantity", signed).
		Float64("entry", report.AvgPrice).
		Msg("position opened")
}

// reduce applies an opposite-direction fill: close up to the open quantity
// first, then open the remainder as a fresh position so P&L attribution
// stays exact across a flip.
func (l *Ledger) reduce(pos *models.Position, report *models.FillReport, signed float64) {
	closeQty := abs(signed)
	if closeQty > abs(pos.Quantity) {
		closeQty = abs(pos.Quantity)
	}

	direction := sign(pos.Quantity)
	realized := closeQty * direction * (report.AvgPrice - pos.AvgEntryPrice)
	l.realizedPnL += realized
	l.equity += realized

	pos.Quantity -= closeQty * direction
	remainder := abs(signed) - closeQty

	if pos.Quantity == 0 {
		delete(l.positions, pos.Instrument)
		l.sink.Record(audit.Event{
			Type:       audit.PositionClosed,
			Instrument: pos.Instrument,
			Reference:  report.IntentID,
			Details: map[string]interface{}{
				"realized_pnl": realized,
				"exit":         report.AvgPrice,
			},
		})
		l.logger.Info().
			Str("instrument", pos.Instrument).
			Float64("realized_pnl", realized).
			Msg("position closed")
	}

	if remainder > 0 {
		if report.Closing {
			// A closing intent must never flip the position.
			l.fault(report.Instrument, "closing fill exceeds open quantity")
			return
		}
		flipped := *report
		flipped.FilledQty = remainder
		l.openPosition(&flipped, remainder*report.Side.Sign())
	}
}

func (l *Ledger) mark(instrument string, price float64) {
	if price <= 0 {
		return
	}
	l.marks[instrument] = price
	l.corr.observe(instrument, price)

	pos, ok := l.positions[instrument]
	if !ok {
		return
	}
	pos.UnrealizedPnL = pos.MarkToPrice(price)

	if !pos.Breached(price) || l.closing[instrument] {
		return
	}
	l.closing[instrument] = true

	side := models.SideSell
	if !pos.Long() {
		side = models.SideBuy
	}
	intent := &models.TradeIntent{
		ID:         uuid.NewString(),
		Instrument: instrument,
		Side:       side,
		Quantity:   abs(pos.Quantity),
		EntryPrice: price,
		SignalID:   "",
		CreatedAt:  l.now(),
		Closing:    true,
	}

	l.sink.Record(audit.Event{
		Type:       audit.IntentCreated,
		Instrument: instrument,
		Reference:  intent.ID,
		Reason:     "stop-or-target-breached",
		Details: map[string]interface{}{
			"mark":   price,
			"stop":   pos.StopPrice,
			"target": pos.TakeProfit,
		},
	})
	l.logger.Info().
		Str("instrument", instrument).
		Float64("mark", price).
		Msg("breach close generated")

	select {
	case l.intents <- intent:
	default:
		// The consumer is wedged; leave the closing flag set and let the
		// next mark retry.
		l.closing[instrument] = false
	}
}

func (l *Ledger) snapshot() *models.PortfolioState {
	positions := make(map[string]models.Position, len(l.positions))
	for ins, pos := range l.positions {
		positions[ins] = *pos
	}
	return &models.PortfolioState{
		Positions:   positions,
		Equity:      l.equity,
		RealizedPnL: l.realizedPnL,
		Correlation: l.corr.matrix(),
		OpenCount:   len(positions),
		AsOf:        l.now(),
	}
}

func (l *Ledger) recordFill(report *models.FillReport) {
	cp := *report
	l.fills = append(l.fills, &cp)
	if len(l.fills) > l.cfg.FillHistory {
		l.fills = l.fills[len(l.fills)-l.cfg.FillHistory:]
	}
}

// fault records an invariant violation and halts the instrument. Invariant
// faults are logic defects, not market conditions; trading the instrument
// stops until external intervention.
func (l *Ledger) fault(instrument, detail string) {
	err := errors.NewInvariantError("portfolio", instrument, detail)
	l.sink.Record(audit.Event{
		Type:       audit.InvariantFault,
		Instrument: instrument,
		Reason:     detail,
	})
	l.logger.Error().
		Str("instrument", instrument).
		Err(err).
		Msg("invariant fault, halting instrument")
	if l.halter != nil {
		l.halter.Halt(instrument)
	}
}

func sameDirection(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}
