package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowtrader/internal/audit"
	"flowtrader/internal/config"
	"flowtrader/internal/execution"
	"flowtrader/internal/feed"
	"flowtrader/internal/models"
	"flowtrader/internal/portfolio"
)

// replayEvents builds a scenario that must produce one long entry: forty
// minutes of alternating prints for candle history, a volume burst in the
// last thirty seconds, and a bid-heavy book.
func replayEvents(now time.Time) []feed.Event {
	var events []feed.Event

	for i := 0; i < 38; i++ {
		price := 99.0
		if i%2 == 1 {
			price = 101.0
		}
		ts := now.Add(-40*time.Minute + time.Duration(i)*time.Minute)
		events = append(events, feed.Event{Trade: &models.TradeTapeEntry{
			Venue: models.VenueBinance, Instrument: "BTC-USD",
			Price: price, Size: 1, Side: models.SideBuy, Timestamp: ts,
		}})
	}
	for i := 0; i < 4; i++ {
		events = append(events, feed.Event{Trade: &models.TradeTapeEntry{
			Venue: models.VenueBinance, Instrument: "BTC-USD",
			Price: 100, Size: 5, Side: models.SideBuy,
			Timestamp: now.Add(-time.Duration(30-i) * time.Second),
		}})
	}

	events = append(events, feed.Event{Book: &models.OrderBookSnapshot{
		Venue:      models.VenueBinance,
		Instrument: "BTC-USD",
		Sequence:   1,
		Timestamp:  now,
		Bids:       []models.PriceLevel{{Price: 99.95, Size: 30}},
		Asks:       []models.PriceLevel{{Price: 100.05, Size: 10}},
	}})

	return events
}

func TestPipelineSignalToFill(t *testing.T) {
	now := time.Now()

	cfg := config.Default()
	cfg.Execution.VenueWeights = map[string]float64{"binance": 1.0}

	paper := execution.NewPaperAdapter(models.VenueBinance, 0)
	paper.UpdatePrice("BTC-USD", 100)

	sink := &audit.MemorySink{}
	replay := feed.NewReplayFeed(replayEvents(now), false)

	ledgerCfg := portfolio.DefaultConfig()
	ledgerCfg.InitialEquity = 100000

	pipeline := New(cfg, replay,
		map[models.Venue]execution.VenueAdapter{models.VenueBinance: paper},
		sink, nil, ledgerCfg, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pipeline.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, open := pipeline.Ledger().Snapshot().Position("BTC-USD")
		return open
	}, 10*time.Second, 20*time.Millisecond, "no position opened")

	pos, _ := pipeline.Ledger().Snapshot().Position("BTC-USD")
	assert.Greater(t, pos.Quantity, 0.0, "signal was long")
	assert.InDelta(t, 100.0, pos.AvgEntryPrice, 0.5)

	assert.NotEmpty(t, sink.ByType(audit.SignalEmitted))
	assert.NotEmpty(t, sink.ByType(audit.IntentCreated))
	assert.NotEmpty(t, sink.ByType(audit.FillReported))
	assert.NotEmpty(t, sink.ByType(audit.PositionOpened))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not shut down")
	}
}

// failingFeed closes its channels and returns an error, the shape of a first
// websocket connect failure.
type failingFeed struct {
	books  chan *models.OrderBookSnapshot
	trades chan models.TradeTapeEntry
}

func newFailingFeed() *failingFeed {
	return &failingFeed{
		books:  make(chan *models.OrderBookSnapshot),
		trades: make(chan models.TradeTapeEntry),
	}
}

func (f *failingFeed) Books() <-chan *models.OrderBookSnapshot { return f.books }
func (f *failingFeed) Trades() <-chan models.TradeTapeEntry    { return f.trades }

func (f *failingFeed) Run(ctx context.Context) error {
	close(f.books)
	close(f.trades)
	return fmt.Errorf("dial gateway: connection refused")
}

func TestPipelineShutsDownOnFeedError(t *testing.T) {
	cfg := config.Default()
	cfg.Execution.VenueWeights = map[string]float64{"binance": 1.0}

	paper := execution.NewPaperAdapter(models.VenueBinance, 0)

	pipeline := New(cfg, newFailingFeed(),
		map[models.Venue]execution.VenueAdapter{models.VenueBinance: paper},
		audit.NopSink{}, nil, portfolio.DefaultConfig(), zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- pipeline.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "market feed")
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not shut down after feed error")
	}
}

func TestPipelineStopBreachClosesPosition(t *testing.T) {
	now := time.Now()

	cfg := config.Default()
	cfg.Execution.VenueWeights = map[string]float64{"binance": 1.0}

	paper := execution.NewPaperAdapter(models.VenueBinance, 0)
	paper.UpdatePrice("BTC-USD", 100)

	// After the entry scenario, the book collapses through the stop level.
	// The collapse is paced so the marks land after the position opens.
	events := replayEvents(now)
	for i := 0; i < 20; i++ {
		offset := time.Duration(i+1) * 200 * time.Millisecond
		events = append(events, feed.Event{
			At: offset,
			Book: &models.OrderBookSnapshot{
				Venue:      models.VenueBinance,
				Instrument: "BTC-USD",
				Sequence:   uint64(2 + i),
				Timestamp:  now.Add(offset),
				Bids:       []models.PriceLevel{{Price: 95.95, Size: 10}},
				Asks:       []models.PriceLevel{{Price: 96.05, Size: 30}},
			},
		})
	}

	sink := &audit.MemorySink{}
	replay := feed.NewReplayFeed(events, true)

	pipeline := New(cfg, replay,
		map[models.Venue]execution.VenueAdapter{models.VenueBinance: paper},
		sink, nil, portfolio.DefaultConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pipeline.Run(ctx) }()

	// The position must open on the first book and close again once the
	// breaching book marks through the stop.
	require.Eventually(t, func() bool {
		return len(sink.ByType(audit.PositionClosed)) > 0
	}, 10*time.Second, 20*time.Millisecond, "position never closed on breach")

	_, open := pipeline.Ledger().Snapshot().Position("BTC-USD")
	assert.False(t, open)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not shut down")
	}
}
