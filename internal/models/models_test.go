package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSide(t *testing.T) {
	assert.Equal(t, SideSell, SideBuy.Opposite())
	assert.Equal(t, SideBuy, SideSell.Opposite())
	assert.Equal(t, 1.0, SideBuy.Sign())
	assert.Equal(t, -1.0, SideSell.Sign())
}

func TestRegimeParameters(t *testing.T) {
	assert.Equal(t, 1.0, RegimeTrending.SizeScale())
	assert.Equal(t, 1.0, RegimeTrending.StopATRMultiple())
	assert.Equal(t, 3.0, RegimeTrending.TargetATRMultiple())

	assert.Equal(t, 0.7, RegimeRanging.SizeScale())
	assert.Equal(t, 0.5, RegimeRanging.StopATRMultiple())
	assert.Equal(t, 1.5, RegimeRanging.TargetATRMultiple())

	assert.Equal(t, 0.5, RegimeVolatile.SizeScale())
	assert.Equal(t, 1.5, RegimeVolatile.ThresholdScale())
	assert.Equal(t, 1.0, RegimeTrending.ThresholdScale())
	assert.Equal(t, 1.0, RegimeRanging.ThresholdScale())
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.False(t, OrderPending.Terminal())
	assert.False(t, OrderAcknowledged.Terminal())
	assert.True(t, OrderPartiallyFilled.Terminal(), "unfilled remainder is cancelled at submission")
	assert.True(t, OrderFilled.Terminal())
	assert.True(t, OrderCancelled.Terminal())
	assert.True(t, OrderRejected.Terminal())
}

func TestOrderStateRemaining(t *testing.T) {
	o := &OrderState{Quantity: 10, FilledQty: 4}
	assert.Equal(t, 6.0, o.Remaining())

	o.FilledQty = 12
	assert.Zero(t, o.Remaining())
}

func TestBookHelpers(t *testing.T) {
	book := &OrderBookSnapshot{
		Bids: []PriceLevel{{Price: 99, Size: 5}, {Price: 98, Size: 10}, {Price: 97, Size: 20}},
		Asks: []PriceLevel{{Price: 101, Size: 4}, {Price: 102, Size: 8}},
	}

	assert.Equal(t, 99.0, book.BestBid())
	assert.Equal(t, 101.0, book.BestAsk())
	assert.Equal(t, 100.0, book.MidPrice())
	assert.Equal(t, 2.0, book.Spread())
	assert.False(t, book.Crossed())

	bidVol, askVol := book.DepthVolume(2)
	assert.Equal(t, 15.0, bidVol)
	assert.Equal(t, 12.0, askVol)
}

func TestBookCrossed(t *testing.T) {
	crossed := &OrderBookSnapshot{
		Bids: []PriceLevel{{Price: 101, Size: 1}},
		Asks: []PriceLevel{{Price: 100, Size: 1}},
	}
	assert.True(t, crossed.Crossed())

	empty := &OrderBookSnapshot{Asks: []PriceLevel{{Price: 100, Size: 1}}}
	assert.True(t, empty.Crossed())
	assert.Zero(t, empty.MidPrice())
	assert.Zero(t, empty.Spread())
}

func TestPositionBreached(t *testing.T) {
	long := &Position{Quantity: 5, AvgEntryPrice: 100, StopPrice: 98, TakeProfit: 106}
	assert.False(t, long.Breached(100))
	assert.True(t, long.Breached(98), "stop touch counts")
	assert.True(t, long.Breached(97))
	assert.True(t, long.Breached(106))
	assert.Equal(t, -10.0, long.MarkToPrice(98))

	short := &Position{Quantity: -5, AvgEntryPrice: 100, StopPrice: 102, TakeProfit: 94}
	assert.False(t, short.Breached(100))
	assert.True(t, short.Breached(102))
	assert.True(t, short.Breached(94))
	assert.Equal(t, 25.0, short.MarkToPrice(95))

	flat := &Position{}
	assert.False(t, flat.Breached(100))
}

func TestPortfolioStateAccessors(t *testing.T) {
	state := &PortfolioState{
		Positions: map[string]Position{"BTC-USD": {Instrument: "BTC-USD", Quantity: 1}},
		Correlation: map[string]map[string]float64{
			"BTC-USD": {"ETH-USD": 0.8},
			"ETH-USD": {"BTC-USD": 0.8},
		},
	}

	_, ok := state.Position("BTC-USD")
	assert.True(t, ok)
	_, ok = state.Position("SOL-USD")
	assert.False(t, ok)

	assert.Equal(t, 0.8, state.CorrelationBetween("BTC-USD", "ETH-USD"))
	assert.Zero(t, state.CorrelationBetween("BTC-USD", "SOL-USD"))
	assert.Zero(t, state.CorrelationBetween("SOL-USD", "BTC-USD"))
}
