// Package market provides the snapshot store holding the latest order-book
// and trade-tape state per venue and instrument. The store is owned by a
// single writer task (the feed ingester); everything else reads immutable
// snapshots.
package market

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"flowtrader/internal/errors"
	"flowtrader/internal/models"
)

// Config holds snapshot store parameters.
type Config struct {
	DepthLevels    int
	TapeWindow     time.Duration
	VelocityWindow time.Duration
	MaxSnapshotAge time.Duration
	CandleInterval time.Duration
	SpreadClampMax float64
	// SpreadWindow bounds the number of recent spread observations that feed
	// the rolling average used by SpreadTightness.
	SpreadWindow int
	// CandleHistory bounds the retained closed-candle series used for
	// ATR, ADX, and volatility baselines.
	CandleHistory int
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		DepthLevels:    10,
		TapeWindow:     20 * time.Minute,
		VelocityWindow: time.Minute,
		MaxSnapshotAge: 5 * time.Second,
		CandleInterval: time.Minute,
		SpreadClampMax: 5.0,
		SpreadWindow:   300,
		CandleHistory:  4320,
	}
}

// FaultCounts holds count-only diagnostics for dropped market data.
type FaultCounts struct {
	SequenceRegressed uint64
	CrossedBooks      uint64
	MalformedTrades   uint64
}

type bookKey struct {
	venue      models.Venue
	instrument string
}

type instrumentState struct {
	tape         *tape
	spreads      []float64       // recent spreads, newest last, capped at SpreadWindow
	candles      []models.Candle // closed candles promoted out of the tape
	lastPromoted time.Time
}

// Store holds the latest order book per venue+instrument plus the rolling
// trade tape and derived series per instrument.
type Store struct {
	cfg Config

	mu          sync.RWMutex
	books       map[bookKey]*models.OrderBookSnapshot
	instruments map[string]*instrumentState

	seqRegressed    atomic.Uint64
	crossedBooks    atomic.Uint64
	malformedTrades atomic.Uint64
}

// NewStore creates a snapshot store.
func NewStore(cfg Config) *Store {
	return &Store{
		cfg:         cfg,
		books:       make(map[bookKey]*models.OrderBookSnapshot),
		instruments: make(map[string]*instrumentState),
	}
}

func (s *Store) state(instrument string) *instrumentState {
	st, ok := s.instruments[instrument]
	if !ok {
		st = &instrumentState{tape: newTape(s.cfg.TapeWindow)}
		s.instruments[instrument] = st
	}
	return st
}

// ApplyBook ingests an order-book snapshot. Snapshots with non-increasing
// sequence numbers or crossed books are rejected with a count-only
// diagnostic; rejection is a data fault, never fatal.
func (s *Store) ApplyBook(snap *models.OrderBookSnapshot) error {
	if snap.Crossed() {
		s.crossedBooks.Add(1)
		return errors.NewDataError(string(snap.Venue), snap.Instrument, "crossed book", errors.ErrCrossedBook)
	}

	key := bookKey{snap.Venue, snap.Instrument}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.books[key]; ok && snap.Sequence <= prev.Sequence {
		s.seqRegressed.Add(1)
		return errors.NewDataError(string(snap.Venue), snap.Instrument, "stale sequence", errors.ErrSequenceRegressed)
	}
	s.books[key] = snap

	st := s.state(snap.Instrument)
	st.spreads = append(st.spreads, snap.Spread())
	if s.cfg.SpreadWindow > 0 && len(st.spreads) > s.cfg.SpreadWindow {
		st.spreads = append(st.spreads[:0], st.spreads[len(st.spreads)-s.cfg.SpreadWindow:]...)
	}
	return nil
}

// ApplyTrade ingests a trade-tape entry, evicting expired entries and
// promoting completed candles into the retained history.
func (s *Store) ApplyTrade(e models.TradeTapeEntry) error {
	if e.Size <= 0 || e.Price <= 0 {
		s.malformedTrades.Add(1)
		return errors.NewDataError(string(e.Venue), e.Instrument, "malformed trade", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(e.Instrument)
	st.tape.add(e)
	s.promoteCandles(st, e.Timestamp)
	return nil
}

// promoteCandles moves candles that have fully closed out of the tape into
// the bounded history so volatility baselines can look further back than the
// tape window.
func (s *Store) promoteCandles(st *instrumentState, now time.Time) {
	for _, c := range st.tape.candles(s.cfg.CandleInterval, now) {
		if !c.Timestamp.After(st.lastPromoted) {
			continue
		}
		// The latest bucket may still be accumulating.
		if c.Timestamp.Add(s.cfg.CandleInterval).After(now) {
			continue
		}
		st.candles = append(st.candles, c)
		st.lastPromoted = c.Timestamp
	}
	if len(st.candles) > s.cfg.CandleHistory {
		st.candles = append(st.candles[:0], st.candles[len(st.candles)-s.cfg.CandleHistory:]...)
	}
}

// Latest returns the most recent snapshot for a venue+instrument.
func (s *Store) Latest(venue models.Venue, instrument string) (*models.OrderBookSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.books[bookKey{venue, instrument}]
	return snap, ok
}

// Aggregated merges the latest books across venues into one snapshot with
// levels combined per price, best-first. The sequence number is the highest
// contributing sequence; the timestamp the latest.
func (s *Store) Aggregated(instrument string) (*models.OrderBookSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bidLevels := make(map[float64]float64)
	askLevels := make(map[float64]float64)
	var ts time.Time
	var seq uint64
	found := false

	for key, snap := range s.books {
		if key.instrument != instrument {
			continue
		}
		found = true
		for _, l := range snap.Bids {
			bidLevels[l.Price] += l.Size
		}
		for _, l := range snap.Asks {
			askLevels[l.Price] += l.Size
		}
		if snap.Timestamp.After(ts) {
			ts = snap.Timestamp
		}
		if snap.Sequence > seq {
			seq = snap.Sequence
		}
	}
	if !found {
		return nil, false
	}

	bids := sortLevels(bidLevels, true)
	asks := sortLevels(askLevels, false)
	if len(bids) > s.cfg.DepthLevels {
		bids = bids[:s.cfg.DepthLevels]
	}
	if len(asks) > s.cfg.DepthLevels {
		asks = asks[:s.cfg.DepthLevels]
	}

	return &models.OrderBookSnapshot{
		Venue:      "aggregated",
		Instrument: instrument,
		Bids:       bids,
		Asks:       asks,
		Timestamp:  ts,
		Sequence:   seq,
	}, true
}

func sortLevels(levels map[float64]float64, descending bool) []models.PriceLevel {
	out := make([]models.PriceLevel, 0, len(levels))
	for p, sz := range levels {
		out = append(out, models.PriceLevel{Price: p, Size: sz})
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

// VWAP returns the rolling volume-weighted average price over the tape window.
func (s *Store) VWAP(instrument string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.instruments[instrument]
	if !ok {
		return 0, false
	}
	return st.tape.vwap()
}

// VolumeVelocity returns recent trade volume relative to the window mean.
// A zero baseline yields 0.
func (s *Store) VolumeVelocity(instrument string, now time.Time) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.instruments[instrument]
	if !ok {
		return 0
	}
	return st.tape.volumeVelocity(now, s.cfg.VelocityWindow)
}

// SpreadTightness returns the average spread over the last SpreadWindow
// observations divided by the current spread, clamped to SpreadClampMax so a
// momentary near-zero spread from a data glitch cannot inflate the score
// without bound.
func (s *Store) SpreadTightness(instrument string) float64 {
	s.mu.RLock()
	st, ok := s.instruments[instrument]
	if !ok || len(st.spreads) == 0 {
		s.mu.RUnlock()
		return 0
	}
	var sum float64
	for _, sp := range st.spreads {
		sum += sp
	}
	avg := sum / float64(len(st.spreads))
	s.mu.RUnlock()

	snap, ok := s.Aggregated(instrument)
	if !ok {
		return 0
	}
	cur := snap.Spread()
	if cur <= 0 || avg <= 0 {
		return 0
	}
	tightness := avg / cur
	if tightness > s.cfg.SpreadClampMax {
		tightness = s.cfg.SpreadClampMax
	}
	return tightness
}

// Candles returns the retained closed-candle history plus the still-open
// buckets from the tape, oldest first.
func (s *Store) Candles(instrument string, now time.Time) []models.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.instruments[instrument]
	if !ok {
		return nil
	}
	out := make([]models.Candle, len(st.candles))
	copy(out, st.candles)
	for _, c := range st.tape.candles(s.cfg.CandleInterval, now) {
		if c.Timestamp.After(st.lastPromoted) {
			out = append(out, c)
		}
	}
	return out
}

// Stale reports whether the freshest snapshot for the instrument is older
// than the max-age threshold. Staleness suppresses signals; it is not an
// error.
func (s *Store) Stale(instrument string, now time.Time) bool {
	snap, ok := s.Aggregated(instrument)
	if !ok {
		return true
	}
	return now.Sub(snap.Timestamp) > s.cfg.MaxSnapshotAge
}

// Instruments lists instruments with any tape or book state.
func (s *Store) Instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.instruments))
	for name := range s.instruments {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Faults returns the count-only data-fault diagnostics.
func (s *Store) Faults() FaultCounts {
	return FaultCounts{
		SequenceRegressed: s.seqRegressed.Load(),
		CrossedBooks:      s.crossedBooks.Load(),
		MalformedTrades:   s.malformedTrades.Load(),
	}
}
