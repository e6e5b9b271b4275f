package execution

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"flowtrader/internal/audit"
	"flowtrader/internal/config"
	"flowtrader/internal/errors"
	"flowtrader/internal/models"
)

// Engine routes intents across venues by fixed allocation weights and
// manages one concurrent task per order slice. When every slice of an intent
// reaches a terminal state it emits exactly one fill report; unfilled
// remainder is reported, never dropped.
type Engine struct {
	cfg      config.ExecutionConfig
	adapters map[models.Venue]VenueAdapter
	marks    MarkSource
	sink     audit.Sink
	logger   zerolog.Logger
	now      func() time.Time

	reports chan *models.FillReport

	mu       sync.Mutex
	consumed map[string]bool
	pending  map[string]chan OrderUpdate // venue order id -> slice channel
	orphans  map[string][]OrderUpdate    // updates seen before registration
	finished map[string]bool             // settled ids; late updates are dropped
	wg       sync.WaitGroup
}

// NewEngine creates an execution engine over the given venue adapters.
func NewEngine(cfg config.ExecutionConfig, adapters map[models.Venue]VenueAdapter, marks MarkSource, sink audit.Sink, logger zerolog.Logger) *Engine {
	e := &Engine{
		cfg:      cfg,
		adapters: adapters,
		marks:    marks,
		sink:     sink,
		logger:   logger.With().Str("component", "execution").Logger(),
		now:      time.Now,
		reports:  make(chan *models.FillReport, 64),
		consumed: make(map[string]bool),
		pending:  make(map[string]chan OrderUpdate),
		orphans:  make(map[string][]OrderUpdate),
		finished: make(map[string]bool),
	}
	return e
}

// Start launches one dispatcher per adapter routing updates to slices.
// It must be called before Execute.
func (e *Engine) Start(ctx context.Context) {
	for _, adapter := range e.adapters {
		e.wg.Add(1)
		go e.dispatch(ctx, adapter)
	}
}

// Reports returns the channel of emitted fill reports.
func (e *Engine) Reports() <-chan *models.FillReport {
	return e.reports
}

// Wait blocks until all in-flight work has drained. The context given to
// Start and Execute must already be cancelled.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) dispatch(ctx context.Context, adapter VenueAdapter) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-adapter.Updates():
			if !ok {
				return
			}
			e.mu.Lock()
			ch := e.pending[u.VenueOrderID]
			if ch == nil {
				// Before registration the update is stashed for replay; after
				// the slice has settled it is dropped.
				if !e.finished[u.VenueOrderID] {
					e.orphans[u.VenueOrderID] = append(e.orphans[u.VenueOrderID], u)
				}
				e.mu.Unlock()
				continue
			}
			e.mu.Unlock()
			select {
			case ch <- u:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Execute consumes an intent exactly once, splitting it into one IOC slice
// per weighted venue. Cancelling ctx propagates to every slice that has not
// yet reached a terminal state.
func (e *Engine) Execute(ctx context.Context, intent *models.TradeIntent) error {
	e.mu.Lock()
	if e.consumed[intent.ID] {
		e.mu.Unlock()
		return errors.ErrIntentConsumed
	}
	e.consumed[intent.ID] = true
	e.mu.Unlock()

	now := e.now()
	if now.Sub(intent.CreatedAt) > e.cfg.IntentTTL {
		e.sink.Record(audit.Event{
			Type:       audit.IntentExpired,
			Instrument: intent.Instrument,
			Reference:  intent.ID,
			Reason:     "intent-ttl-exceeded",
		})
		e.emitReport(intent, nil)
		return errors.ErrIntentExpired
	}

	slices := e.split(intent)
	if len(slices) == 0 {
		e.emitReport(intent, nil)
		return errors.ErrVenueUnknown
	}

	e.wg.Add(1)
	go e.runIntent(ctx, intent, slices)
	return nil
}

// split allocates the intent quantity across configured venues that have an
// adapter, proportional to their weights.
func (e *Engine) split(intent *models.TradeIntent) []*models.OrderState {
	var total float64
	for venue, w := range e.cfg.VenueWeights {
		if _, ok := e.adapters[models.Venue(venue)]; ok && w > 0 {
			total += w
		}
	}
	if total == 0 {
		return nil
	}

	var slices []*models.OrderState
	for venue, w := range e.cfg.VenueWeights {
		if w <= 0 {
			continue
		}
		if _, ok := e.adapters[models.Venue(venue)]; !ok {
			continue
		}
		slices = append(slices, &models.OrderState{
			ID:             uuid.NewString(),
			IntentID:       intent.ID,
			Venue:          models.Venue(venue),
			Instrument:     intent.Instrument,
			Side:           intent.Side,
			Quantity:       intent.Quantity * w / total,
			Price:          intent.EntryPrice,
			ReferencePrice: intent.EntryPrice,
			Status:         models.OrderPending,
			UpdatedAt:      e.now(),
		})
	}
	return slices
}

func (e *Engine) runIntent(ctx context.Context, intent *models.TradeIntent, slices []*models.OrderState) {
	defer e.wg.Done()

	var wg sync.WaitGroup
	for _, slice := range slices {
		wg.Add(1)
		go func(o *models.OrderState) {
			defer wg.Done()
			e.runSlice(ctx, o)
		}(slice)
	}
	wg.Wait()

	e.emitReport(intent, slices)
}

// emitReport aggregates terminal slices into the single fill report for the
// intent: total filled quantity and volume-weighted average price.
func (e *Engine) emitReport(intent *models.TradeIntent, slices []*models.OrderState) {
	var filled, notional float64
	for _, o := range slices {
		filled += o.FilledQty
		notional += o.FilledQty * o.AvgFillPrice
	}
	var avg float64
	if filled > 0 {
		avg = notional / filled
	}

	report := &models.FillReport{
		ID:           uuid.NewString(),
		IntentID:     intent.ID,
		Instrument:   intent.Instrument,
		Side:         intent.Side,
		RequestedQty: intent.Quantity,
		FilledQty:    filled,
		AvgPrice:     avg,
		UnfilledQty:  intent.Quantity - filled,
		StopPrice:    intent.StopPrice,
		TakeProfit:   intent.TakeProfit,
		Closing:      intent.Closing,
		CompletedAt:  e.now(),
	}

	e.sink.Record(audit.Event{
		Type:       audit.FillReported,
		Instrument: intent.Instrument,
		Reference:  intent.ID,
		Details: map[string]interface{}{
			"requested": intent.Quantity,
			"filled":    filled,
			"avg_price": avg,
			"unfilled":  report.UnfilledQty,
		},
	})
	e.logger.Info().
		Str("intent_id", intent.ID).
		Float64("filled", filled).
		Float64("avg_price", avg).
		Float64("unfilled", report.UnfilledQty).
		Msg("intent complete")

	e.reports <- report
}
