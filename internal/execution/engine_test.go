package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowtrader/internal/audit"
	"flowtrader/internal/config"
	"flowtrader/internal/errors"
	"flowtrader/internal/models"
)

type fixedMarks struct {
	mid float64
	ok  bool
}

func (f fixedMarks) Mid(string) (float64, bool) { return f.mid, f.ok }

func testExecConfig(weights map[string]float64) config.ExecutionConfig {
	return config.ExecutionConfig{
		VenueWeights: weights,
		OrderTimeout: 200 * time.Millisecond,
		MaxSlippage:  0.001,
		MaxRetries:   1,
		IntentTTL:    30 * time.Second,
	}
}

func testIntent(qty float64) *models.TradeIntent {
	return &models.TradeIntent{
		ID:         uuid.NewString(),
		Instrument: "BTC-USD",
		Side:       models.SideBuy,
		Quantity:   qty,
		EntryPrice: 100,
		StopPrice:  98,
		TakeProfit: 106,
		SignalID:   uuid.NewString(),
		CreatedAt:  time.Now(),
	}
}

func awaitReport(t *testing.T, e *Engine) *models.FillReport {
	t.Helper()
	select {
	case report := <-e.Reports():
		return report
	case <-time.After(5 * time.Second):
		t.Fatal("no fill report emitted")
		return nil
	}
}

func TestExecuteSplitsByVenueWeight(t *testing.T) {
	paperA := NewPaperAdapter(models.VenueBinance, 0)
	paperB := NewPaperAdapter(models.VenueKraken, 0)
	paperA.UpdatePrice("BTC-USD", 100)
	paperB.UpdatePrice("BTC-USD", 100)

	e := NewEngine(
		testExecConfig(map[string]float64{"binance": 0.6, "kraken": 0.4}),
		map[models.Venue]VenueAdapter{models.VenueBinance: paperA, models.VenueKraken: paperB},
		fixedMarks{mid: 100, ok: true},
		audit.NopSink{},
		zerolog.Nop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	intent := testIntent(10)
	require.NoError(t, e.Execute(ctx, intent))

	report := awaitReport(t, e)
	assert.Equal(t, intent.ID, report.IntentID)
	assert.InDelta(t, 10.0, report.FilledQty, 1e-9)
	assert.InDelta(t, 0.0, report.UnfilledQty, 1e-9)
	assert.InDelta(t, 100.0, report.AvgPrice, 1e-9)
	assert.Equal(t, intent.StopPrice, report.StopPrice)
	assert.Equal(t, intent.TakeProfit, report.TakeProfit)
}

func TestExecuteAggregatesVWAPAcrossVenues(t *testing.T) {
	paperA := NewPaperAdapter(models.VenueBinance, 0)
	paperB := NewPaperAdapter(models.VenueKraken, 0)
	paperA.UpdatePrice("BTC-USD", 100)
	paperB.UpdatePrice("BTC-USD", 102)

	e := NewEngine(
		testExecConfig(map[string]float64{"binance": 0.5, "kraken": 0.5}),
		map[models.Venue]VenueAdapter{models.VenueBinance: paperA, models.VenueKraken: paperB},
		fixedMarks{mid: 100, ok: true},
		audit.NopSink{},
		zerolog.Nop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	require.NoError(t, e.Execute(ctx, testIntent(10)))

	report := awaitReport(t, e)
	assert.InDelta(t, 10.0, report.FilledQty, 1e-9)
	assert.InDelta(t, 101.0, report.AvgPrice, 1e-9)
}

func TestExecutePartialFillReportsRemainder(t *testing.T) {
	paper := NewPaperAdapter(models.VenueBinance, 0)
	paper.UpdatePrice("BTC-USD", 100)
	// The venue can only serve 60% of the slice; the rest is cancelled at
	// submission under IOC semantics.
	paper.SetLiquidity("BTC-USD", 6)

	sink := &audit.MemorySink{}
	e := NewEngine(
		testExecConfig(map[string]float64{"binance": 1.0}),
		map[models.Venue]VenueAdapter{models.VenueBinance: paper},
		fixedMarks{mid: 100, ok: true},
		sink,
		zerolog.Nop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	require.NoError(t, e.Execute(ctx, testIntent(10)))

	report := awaitReport(t, e)
	assert.InDelta(t, 6.0, report.FilledQty, 1e-9)
	assert.InDelta(t, 4.0, report.UnfilledQty, 1e-9)

	// The partial fill is terminal; no retry transitions follow it.
	for _, ev := range sink.ByType(audit.OrderTransition) {
		assert.NotEqual(t, "retries-exhausted", ev.Reason)
	}
}

func TestExecuteConsumesIntentExactlyOnce(t *testing.T) {
	paper := NewPaperAdapter(models.VenueBinance, 0)
	paper.UpdatePrice("BTC-USD", 100)

	e := NewEngine(
		testExecConfig(map[string]float64{"binance": 1.0}),
		map[models.Venue]VenueAdapter{models.VenueBinance: paper},
		fixedMarks{mid: 100, ok: true},
		audit.NopSink{},
		zerolog.Nop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	intent := testIntent(1)
	require.NoError(t, e.Execute(ctx, intent))
	assert.ErrorIs(t, e.Execute(ctx, intent), errors.ErrIntentConsumed)

	awaitReport(t, e)
}

func TestExecuteExpiredIntentEmitsZeroFill(t *testing.T) {
	paper := NewPaperAdapter(models.VenueBinance, 0)

	sink := &audit.MemorySink{}
	e := NewEngine(
		testExecConfig(map[string]float64{"binance": 1.0}),
		map[models.Venue]VenueAdapter{models.VenueBinance: paper},
		fixedMarks{mid: 100, ok: true},
		sink,
		zerolog.Nop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	intent := testIntent(5)
	intent.CreatedAt = time.Now().Add(-time.Minute)
	assert.ErrorIs(t, e.Execute(ctx, intent), errors.ErrIntentExpired)

	report := awaitReport(t, e)
	assert.Zero(t, report.FilledQty)
	assert.InDelta(t, 5.0, report.UnfilledQty, 1e-9)

	expired := sink.ByType(audit.IntentExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, intent.ID, expired[0].Reference)
}

func TestExecuteTimeoutCancelsAndReports(t *testing.T) {
	paper := NewPaperAdapter(models.VenueBinance, 0)
	paper.UpdatePrice("BTC-USD", 100)
	paper.SetSilent("BTC-USD", true)

	e := NewEngine(
		testExecConfig(map[string]float64{"binance": 1.0}),
		map[models.Venue]VenueAdapter{models.VenueBinance: paper},
		fixedMarks{mid: 100, ok: true},
		audit.NopSink{},
		zerolog.Nop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	require.NoError(t, e.Execute(ctx, testIntent(3)))

	report := awaitReport(t, e)
	assert.Zero(t, report.FilledQty)
	assert.InDelta(t, 3.0, report.UnfilledQty, 1e-9)
}

func TestExecuteRetryAbortsOutsideSlippageBound(t *testing.T) {
	paper := NewPaperAdapter(models.VenueBinance, 0)
	paper.UpdatePrice("BTC-USD", 100)
	paper.SetLiquidity("BTC-USD", 0)

	sink := &audit.MemorySink{}
	// The market has run away: mid 102 against reference 100 with a 0.1%
	// bound, so the retry must abort instead of chasing.
	e := NewEngine(
		testExecConfig(map[string]float64{"binance": 1.0}),
		map[models.Venue]VenueAdapter{models.VenueBinance: paper},
		fixedMarks{mid: 102, ok: true},
		sink,
		zerolog.Nop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	require.NoError(t, e.Execute(ctx, testIntent(3)))

	report := awaitReport(t, e)
	assert.Zero(t, report.FilledQty)

	var sawSlippageAbort bool
	for _, ev := range sink.ByType(audit.OrderTransition) {
		if ev.Reason == "slippage-bound-exceeded" {
			sawSlippageAbort = true
		}
	}
	assert.True(t, sawSlippageAbort)
}

// silentAdapter accepts orders but leaves the update stream to the test, so
// late venue messages can be injected after reconciliation.
type silentAdapter struct {
	updates chan OrderUpdate
	mu      sync.Mutex
	ids     []string
}

func newSilentAdapter() *silentAdapter {
	return &silentAdapter{updates: make(chan OrderUpdate, 16)}
}

func (a *silentAdapter) Submit(ctx context.Context, o *models.OrderState) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := uuid.NewString()
	a.ids = append(a.ids, id)
	return id, nil
}

func (a *silentAdapter) Cancel(ctx context.Context, venueOrderID string) error { return nil }
func (a *silentAdapter) Updates() <-chan OrderUpdate                           { return a.updates }

func (a *silentAdapter) submitted() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.ids))
	copy(out, a.ids)
	return out
}

func TestLateUpdateAfterReconcileIsDropped(t *testing.T) {
	adapter := newSilentAdapter()

	e := NewEngine(
		testExecConfig(map[string]float64{"binance": 1.0}),
		map[models.Venue]VenueAdapter{models.VenueBinance: adapter},
		fixedMarks{mid: 100, ok: true},
		audit.NopSink{},
		zerolog.Nop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	require.NoError(t, e.Execute(ctx, testIntent(3)))

	// Both attempts time out and reconcile with zero fill.
	report := awaitReport(t, e)
	assert.Zero(t, report.FilledQty)

	// The venue answers long after the slice settled; the dispatcher must
	// drop the update rather than stash it.
	ids := adapter.submitted()
	require.NotEmpty(t, ids)
	adapter.updates <- OrderUpdate{
		VenueOrderID: ids[0],
		Status:       models.OrderFilled,
		Fill: &models.Fill{
			ID: "late", VenueOrderID: ids[0], Venue: models.VenueBinance,
			Instrument: "BTC-USD", Side: models.SideBuy, Quantity: 3, Price: 100,
			Timestamp: time.Now(),
		},
	}

	require.Eventually(t, func() bool {
		return len(adapter.updates) == 0
	}, 2*time.Second, 10*time.Millisecond, "dispatcher never consumed the late update")

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Empty(t, e.orphans)
}

func TestExecuteRetryRepricesWithinBound(t *testing.T) {
	paper := NewPaperAdapter(models.VenueBinance, 0)
	paper.UpdatePrice("BTC-USD", 100.05)
	// First submission bounces; the retry reprices to the mid, which is
	// inside the 0.1% bound, and fills.
	paper.RejectNext("BTC-USD", "throttled")

	e := NewEngine(
		testExecConfig(map[string]float64{"binance": 1.0}),
		map[models.Venue]VenueAdapter{models.VenueBinance: paper},
		fixedMarks{mid: 100.05, ok: true},
		audit.NopSink{},
		zerolog.Nop(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	require.NoError(t, e.Execute(ctx, testIntent(3)))

	report := awaitReport(t, e)
	assert.InDelta(t, 3.0, report.FilledQty, 1e-9)
	assert.InDelta(t, 100.05, report.AvgPrice, 1e-9)
}
