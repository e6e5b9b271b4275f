// Package signal derives order-flow-momentum signals from the snapshot
// store. At most one signal is produced per evaluation tick; anything that
// fails the emission gate is suppressed with an audited reason, never an
// error.
package signal

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"flowtrader/internal/audit"
	"flowtrader/internal/config"
	"flowtrader/internal/indicators"
	"flowtrader/internal/market"
	"flowtrader/internal/models"
)

// Suppression reason codes retained in the audit trail.
const (
	ReasonStaleData      = "stale-data"
	ReasonStaleSequence  = "stale-sequence"
	ReasonEmptyBook      = "empty-book"
	ReasonBelowThreshold = "below-threshold"
	ReasonLowVelocity    = "low-velocity"
	ReasonChasingVWAP    = "chasing-vwap"
	ReasonNoDirection    = "no-direction"
)

// Engine computes momentum signals for instruments tracked by the store.
type Engine struct {
	cfg    config.SignalConfig
	depth  int
	store  *market.Store
	sink   audit.Sink
	logger zerolog.Logger

	adx *indicators.ADX

	mu      sync.Mutex
	lastSeq map[string]uint64
}

// NewEngine creates a signal engine.
func NewEngine(cfg config.SignalConfig, depth int, store *market.Store, sink audit.Sink, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		depth:   depth,
		store:   store,
		sink:    sink,
		logger:  logger.With().Str("component", "signal").Logger(),
		adx:     indicators.NewADX(14),
		lastSeq: make(map[string]uint64),
	}
}

// Evaluate runs one evaluation tick for an instrument. It returns the
// emitted signal, or nil when the tick was suppressed. Within one instrument
// evaluations are strictly ordered by snapshot sequence number; a tick whose
// freshest sequence has already been evaluated is suppressed.
func (e *Engine) Evaluate(instrument string, now time.Time) *models.Signal {
	if e.store.Stale(instrument, now) {
		e.suppress(instrument, ReasonStaleData, nil)
		return nil
	}

	book, ok := e.store.Aggregated(instrument)
	if !ok || book.Crossed() {
		e.suppress(instrument, ReasonEmptyBook, nil)
		return nil
	}

	e.mu.Lock()
	if book.Sequence <= e.lastSeq[instrument] {
		e.mu.Unlock()
		e.suppress(instrument, ReasonStaleSequence, map[string]interface{}{"sequence": book.Sequence})
		return nil
	}
	e.lastSeq[instrument] = book.Sequence
	e.mu.Unlock()

	bidVol, askVol := book.DepthVolume(e.depth)
	if askVol == 0 || bidVol == 0 {
		e.suppress(instrument, ReasonEmptyBook, nil)
		return nil
	}
	imbalance := bidVol / askVol

	velocity := e.store.VolumeVelocity(instrument, now)
	tightness := e.store.SpreadTightness(instrument)
	score := imbalance * velocity * tightness

	mid := book.MidPrice()
	var vwapDistance float64
	if vwap, ok := e.store.VWAP(instrument); ok && vwap > 0 {
		vwapDistance = (mid - vwap) / vwap
	}

	regime := e.classifyRegime(instrument, now)
	threshold := e.cfg.ScoreThreshold * regime.ThresholdScale()

	inputs := map[string]interface{}{
		"score":     score,
		"imbalance": imbalance,
		"velocity":  velocity,
		"tightness": tightness,
		"vwap_dist": vwapDistance,
		"regime":    string(regime),
		"sequence":  book.Sequence,
	}

	if velocity < e.cfg.VelocityFloor {
		e.suppress(instrument, ReasonLowVelocity, inputs)
		return nil
	}
	if score <= threshold {
		e.suppress(instrument, ReasonBelowThreshold, inputs)
		return nil
	}
	if abs(vwapDistance) >= e.cfg.VWAPDistanceMax {
		// Price already extended away from VWAP: the move is being chased.
		e.suppress(instrument, ReasonChasingVWAP, inputs)
		return nil
	}

	var side models.Side
	switch {
	case imbalance > e.cfg.LongImbalance:
		side = models.SideBuy
	case imbalance < 1/e.cfg.LongImbalance:
		side = models.SideSell
	default:
		e.suppress(instrument, ReasonNoDirection, inputs)
		return nil
	}

	sig := &models.Signal{
		ID:              uuid.NewString(),
		Instrument:      instrument,
		Timestamp:       now,
		Side:            side,
		Score:           score,
		Regime:          regime,
		ImbalanceRatio:  imbalance,
		VolumeVelocity:  velocity,
		SpreadTightness: tightness,
		VWAPDistance:    vwapDistance,
		ReferencePrice:  mid,
		Sequence:        book.Sequence,
	}

	e.sink.Record(audit.Event{
		Type:       audit.SignalEmitted,
		Instrument: instrument,
		Reference:  sig.ID,
		Details:    inputs,
	})
	e.logger.Debug().
		Str("instrument", instrument).
		Float64("score", score).
		Str("regime", string(regime)).
		Str("side", string(side)).
		Msg("signal emitted")

	return sig
}

// classifyRegime derives the regime from trend strength and realized
// volatility. The volatility trigger dominates: a spike relative to the
// baseline forces Volatile regardless of trend, because volatility changes
// risk tolerance most.
func (e *Engine) classifyRegime(instrument string, now time.Time) models.Regime {
	candles := e.store.Candles(instrument, now)

	if spiked := e.volatilitySpiked(candles); spiked {
		return models.RegimeVolatile
	}

	adx, err := e.adx.Latest(candles)
	if err != nil {
		// Not enough history to call a trend; ranging is the conservative
		// default.
		return models.RegimeRanging
	}
	switch {
	case adx >= e.cfg.ADXTrending:
		return models.RegimeTrending
	case adx <= e.cfg.ADXRanging:
		return models.RegimeRanging
	default:
		return models.RegimeRanging
	}
}

func (e *Engine) volatilitySpiked(candles []models.Candle) bool {
	short, err := indicators.RealizedVolatility(candles, e.cfg.VolBaselinePeriod/2)
	if err != nil {
		return false
	}
	baseline, err := indicators.RealizedVolatility(candles, e.cfg.VolBaselinePeriod)
	if err != nil || baseline == 0 {
		return false
	}
	return short/baseline > e.cfg.VolatilitySpike
}

func (e *Engine) suppress(instrument, reason string, details map[string]interface{}) {
	e.sink.Record(audit.Event{
		Type:       audit.SignalSuppressed,
		Instrument: instrument,
		Reason:     reason,
		Details:    details,
	})
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
