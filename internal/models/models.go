// Package models provides domain models for the trading core.
package models

import (
	"time"
)

// Venue identifies a trading venue.
type Venue string

const (
	VenueBinance  Venue = "binance"
	VenueCoinbase Venue = "coinbase"
	VenueKraken   Venue = "kraken"
	VenueBitstamp Venue = "bitstamp"
)

// Side represents the direction of an order or intent.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the opposing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == SideBuy {
		return 1
	}
	return -1
}

// Regime classifies current market behavior. It governs sizing and the
// stop/target distances applied by the risk manager.
type Regime string

const (
	RegimeTrending Regime = "TRENDING"
	RegimeRanging  Regime = "RANGING"
	RegimeVolatile Regime = "VOLATILE"
)

// SizeScale returns the multiplicative position-size adjustment for the regime.
func (r Regime) SizeScale() float64 {
	switch r {
	case RegimeTrending:
		return 1.0
	case RegimeRanging:
		return 0.7
	case RegimeVolatile:
		return 0.5
	}
	return 0
}

// StopATRMultiple returns the stop-loss distance in ATR units for the regime.
func (r Regime) StopATRMultiple() float64 {
	switch r {
	case RegimeTrending:
		return 1.0
	case RegimeRanging:
		return 0.5
	case RegimeVolatile:
		return 0.5
	}
	return 0
}

// TargetATRMultiple returns the take-profit distance in ATR units for the regime.
func (r Regime) TargetATRMultiple() float64 {
	switch r {
	case RegimeTrending:
		return 3.0
	case RegimeRanging:
		return 1.5
	case RegimeVolatile:
		return 1.5
	}
	return 0
}

// ThresholdScale returns the multiplier applied to the signal threshold
// before an intent may be created in this regime. Volatile markets demand a
// stronger signal.
func (r Regime) ThresholdScale() float64 {
	if r == RegimeVolatile {
		return 1.5
	}
	return 1.0
}

// PriceLevel is one (price, size) level of an order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBookSnapshot is a point-in-time view of one venue's book for one
// instrument. Bids and Asks are ordered best-first. Sequence numbers are
// strictly increasing per venue+instrument; the snapshot store rejects
// anything else.
type OrderBookSnapshot struct {
	Venue      Venue
	Instrument string
	Bids       []PriceLevel
	Asks       []PriceLevel
	Timestamp  time.Time
	Sequence   uint64
}

// BestBid returns the highest bid price, or 0 if the bid side is empty.
func (s *OrderBookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 if the ask side is empty.
func (s *OrderBookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// MidPrice returns the midpoint of the best bid and ask.
func (s *OrderBookSnapshot) MidPrice() float64 {
	bid, ask := s.BestBid(), s.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Spread returns the best ask minus the best bid.
func (s *OrderBookSnapshot) Spread() float64 {
	bid, ask := s.BestBid(), s.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return ask - bid
}

// Crossed reports whether the book violates best bid < best ask. A crossed
// or empty book is a data fault, not a tradeable state.
func (s *OrderBookSnapshot) Crossed() bool {
	bid, ask := s.BestBid(), s.BestAsk()
	return bid == 0 || ask == 0 || bid >= ask
}

// DepthVolume sums the sizes of the top n levels on each side.
func (s *OrderBookSnapshot) DepthVolume(n int) (bidVol, askVol float64) {
	for i, l := range s.Bids {
		if i >= n {
			break
		}
		bidVol += l.Size
	}
	for i, l := range s.Asks {
		if i >= n {
			break
		}
		askVol += l.Size
	}
	return bidVol, askVol
}

// TradeTapeEntry is one print from a venue's trade tape.
type TradeTapeEntry struct {
	Venue      Venue
	Instrument string
	Price      float64
	Size       float64
	Side       Side
	Timestamp  time.Time
}

// Candle represents OHLCV data for a time period, aggregated from the tape.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}
