package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowtrader/internal/models"
)

func TestReplayDeliversInOrderAndCloses(t *testing.T) {
	now := time.Now()
	events := []Event{
		{Trade: &models.TradeTapeEntry{Instrument: "BTC-USD", Price: 100, Size: 1, Timestamp: now}},
		{Book: &models.OrderBookSnapshot{Instrument: "BTC-USD", Sequence: 1, Timestamp: now}},
		{Trade: &models.TradeTapeEntry{Instrument: "BTC-USD", Price: 101, Size: 2, Timestamp: now}},
	}

	f := NewReplayFeed(events, false)
	require.NoError(t, f.Run(context.Background()))

	first := <-f.Trades()
	assert.Equal(t, 100.0, first.Price)
	second := <-f.Trades()
	assert.Equal(t, 101.0, second.Price)
	_, open := <-f.Trades()
	assert.False(t, open, "trade channel closed after Run")

	book := <-f.Books()
	assert.Equal(t, uint64(1), book.Sequence)
	_, open = <-f.Books()
	assert.False(t, open, "book channel closed after Run")
}

func TestReplayPacedHonorsOffsets(t *testing.T) {
	events := []Event{
		{At: 0, Trade: &models.TradeTapeEntry{Instrument: "BTC-USD", Price: 100, Size: 1}},
		{At: 60 * time.Millisecond, Trade: &models.TradeTapeEntry{Instrument: "BTC-USD", Price: 101, Size: 1}},
	}

	f := NewReplayFeed(events, true)
	start := time.Now()
	require.NoError(t, f.Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestReplayStopsOnCancel(t *testing.T) {
	events := []Event{
		{At: time.Hour, Trade: &models.TradeTapeEntry{Instrument: "BTC-USD", Price: 100, Size: 1}},
	}

	f := NewReplayFeed(events, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, open := <-f.Trades()
	assert.False(t, open)
}
