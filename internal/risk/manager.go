// Package risk turns signals into bounded trade intents. Every rejection is
// a veto with a reason code, recorded for audit; vetoes are expected control
// flow, not errors.
package risk

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"flowtrader/internal/audit"
	"flowtrader/internal/config"
	"flowtrader/internal/indicators"
	"flowtrader/internal/models"
)

// MarketData is the slice of the snapshot store the risk manager consumes.
type MarketData interface {
	Candles(instrument string, now time.Time) []models.Candle
	Stress(now time.Time, shortPeriod, basePeriod int) float64
}

// Veto reason codes.
const (
	ReasonBelowThreshold    = "below-threshold"
	ReasonVolatileThreshold = "volatile-threshold"
	ReasonPositionCap       = "position-cap-reached"
	ReasonCorrelationCap    = "correlation-capped"
	ReasonStaleData         = "stale-data"
	ReasonDuplicate         = "duplicate-position"
	ReasonInsufficientData  = "insufficient-data"
	ReasonLowRiskReward     = "low-risk-reward"
	ReasonHalted            = "instrument-halted"
)

// Manager sizes signals into trade intents against portfolio constraints.
// Decisions are serialized per instrument; different instruments may decide
// concurrently. The manager never mutates portfolio state; it only reads
// the consistent snapshot handed to Decide.
type Manager struct {
	cfg          config.RiskConfig
	scoreBase    float64
	maxSignalAge time.Duration
	store        MarketData
	sink         audit.Sink
	logger       zerolog.Logger
	atr          *indicators.ATR

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	halted map[string]bool
}

// NewManager creates a risk manager. scoreBase is the unadjusted signal
// threshold, used to re-derive the elevated Volatile requirement.
func NewManager(cfg config.RiskConfig, scoreBase float64, maxSignalAge time.Duration, store MarketData, sink audit.Sink, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		scoreBase:    scoreBase,
		maxSignalAge: maxSignalAge,
		store:        store,
		sink:         sink,
		logger:       logger.With().Str("component", "risk").Logger(),
		atr:          indicators.NewATR(cfg.ATRPeriod),
		locks:        make(map[string]*sync.Mutex),
		halted:       make(map[string]bool),
	}
}

// Halt stops intent generation for an instrument. Used when the ledger
// detects an invariant violation; only external intervention clears it.
func (m *Manager) Halt(instrument string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted[instrument] = true
}

// Halted reports whether intent generation is halted for an instrument.
func (m *Manager) Halted(instrument string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted[instrument]
}

func (m *Manager) lock(instrument string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[instrument]
	if !ok {
		l = &sync.Mutex{}
		m.locks[instrument] = l
	}
	return l
}

// Decide evaluates one signal against the portfolio snapshot and either
// produces a trade intent or a veto reason. The reason is empty exactly when
// an intent is returned.
func (m *Manager) Decide(sig *models.Signal, state *models.PortfolioState, now time.Time) (*models.TradeIntent, string) {
	l := m.lock(sig.Instrument)
	l.Lock()
	defer l.Unlock()

	if m.Halted(sig.Instrument) {
		return m.veto(sig, ReasonHalted, nil)
	}

	if now.Sub(sig.Timestamp) > m.maxSignalAge {
		return m.veto(sig, ReasonStaleData, map[string]interface{}{"age": now.Sub(sig.Timestamp).String()})
	}

	// The base threshold is enforced here independently of the signal
	// engine's own gate.
	if sig.Score <= m.scoreBase {
		return m.veto(sig, ReasonBelowThreshold, map[string]interface{}{"threshold": m.scoreBase})
	}

	// A Volatile regime raises the threshold requirement and is evaluated
	// before any sizing work.
	if sig.Regime == models.RegimeVolatile && sig.Score <= m.scoreBase*sig.Regime.ThresholdScale() {
		return m.veto(sig, ReasonVolatileThreshold, map[string]interface{}{"score": sig.Score})
	}

	// Hard vetoes, in order.
	if state.OpenCount >= m.cfg.MaxPositions {
		return m.veto(sig, ReasonPositionCap, map[string]interface{}{"open": state.OpenCount, "cap": m.cfg.MaxPositions})
	}
	if n := m.correlatedCount(sig.Instrument, state); n >= m.cfg.MaxCorrelated {
		return m.veto(sig, ReasonCorrelationCap, map[string]interface{}{"correlated": n, "cap": m.cfg.MaxCorrelated})
	}
	if _, open := state.Position(sig.Instrument); open {
		return m.veto(sig, ReasonDuplicate, nil)
	}

	candles := m.store.Candles(sig.Instrument, now)
	atr, err := m.atr.Latest(candles)
	if err != nil || atr <= 0 {
		return m.veto(sig, ReasonInsufficientData, map[string]interface{}{"missing": "atr"})
	}

	volMult := m.volatilityMultiplier(candles)
	qty := state.Equity * m.cfg.BaseRiskFraction / (atr * volMult)
	qty *= sig.Regime.SizeScale()

	// Aggregate stress halves size; it is a scaling, not a veto.
	if stress := m.store.Stress(now, m.cfg.ATRPeriod, m.cfg.VolLookback); stress > m.cfg.StressTrigger {
		qty /= 2
	}

	entry := sig.ReferencePrice
	stopDist := sig.Regime.StopATRMultiple() * atr
	targetDist := sig.Regime.TargetATRMultiple() * atr

	var stop, target float64
	if sig.Side == models.SideBuy {
		stop = entry - stopDist
		target = entry + targetDist
	} else {
		stop = entry + stopDist
		target = entry - targetDist
	}

	if stopDist > 0 && targetDist/stopDist < m.cfg.MinRiskReward {
		return m.veto(sig, ReasonLowRiskReward, map[string]interface{}{"ratio": targetDist / stopDist})
	}

	intent := &models.TradeIntent{
		ID:         uuid.NewString(),
		Instrument: sig.Instrument,
		Side:       sig.Side,
		Quantity:   qty,
		EntryPrice: entry,
		StopPrice:  stop,
		TakeProfit: target,
		SignalID:   sig.ID,
		CreatedAt:  now,
	}

	m.sink.Record(audit.Event{
		Type:       audit.IntentCreated,
		Instrument: sig.Instrument,
		Reference:  intent.ID,
		Details: map[string]interface{}{
			"signal_id": sig.ID,
			"side":      string(sig.Side),
			"quantity":  qty,
			"entry":     entry,
			"stop":      stop,
			"target":    target,
			"regime":    string(sig.Regime),
		},
	})
	m.logger.Info().
		Str("instrument", sig.Instrument).
		Str("intent_id", intent.ID).
		Str("side", string(sig.Side)).
		Float64("quantity", qty).
		Float64("stop", stop).
		Float64("target", target).
		Msg("intent created")

	return intent, ""
}

// volatilityMultiplier is current realized volatility relative to the longer
// lookback average. Higher relative volatility shrinks size. A missing
// baseline leaves sizing unadjusted.
func (m *Manager) volatilityMultiplier(candles []models.Candle) float64 {
	current, err := indicators.RealizedVolatility(candles, m.cfg.ATRPeriod)
	if err != nil {
		return 1.0
	}
	baseline, err := indicators.RealizedVolatility(candles, m.cfg.VolLookback)
	if err != nil || baseline == 0 {
		return 1.0
	}
	mult := current / baseline
	if mult <= 0 {
		return 1.0
	}
	return mult
}

func (m *Manager) correlatedCount(instrument string, state *models.PortfolioState) int {
	count := 0
	for other := range state.Positions {
		if other == instrument {
			continue
		}
		if corr := state.CorrelationBetween(instrument, other); corr > m.cfg.CorrelationLimit || corr < -m.cfg.CorrelationLimit {
			count++
		}
	}
	return count
}

func (m *Manager) veto(sig *models.Signal, reason string, details map[string]interface{}) (*models.TradeIntent, string) {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["signal_id"] = sig.ID
	details["score"] = sig.Score
	m.sink.Record(audit.Event{
		Type:       audit.IntentVetoed,
		Instrument: sig.Instrument,
		Reference:  sig.ID,
		Reason:     reason,
		Details:    details,
	})
	m.logger.Debug().
		Str("instrument", sig.Instrument).
		Str("reason", reason).
		Msg("intent vetoed")
	return nil, reason
}
