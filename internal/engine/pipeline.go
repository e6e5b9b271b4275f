// Package engine wires the trading core together: market data flows into
// the snapshot store, evaluation kicks flow to the signal runner, signals to
// the risk manager, intents to execution, and fill reports back into the
// portfolio ledger.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"flowtrader/internal/audit"
	"flowtrader/internal/config"
	"flowtrader/internal/errors"
	"flowtrader/internal/execution"
	"flowtrader/internal/market"
	"flowtrader/internal/models"
	"flowtrader/internal/portfolio"
	"flowtrader/internal/risk"
	"flowtrader/internal/signal"
	"flowtrader/internal/store"
)

// Feed delivers market data from venue connections. Implementations own
// their transport; the pipeline only consumes the channels. Both channels
// must be closed when Run returns.
type Feed interface {
	Run(ctx context.Context) error
	Books() <-chan *models.OrderBookSnapshot
	Trades() <-chan models.TradeTapeEntry
}

// marks adapts the snapshot store to the execution engine's mark source.
type marks struct {
	store *market.Store
}

func (m marks) Mid(instrument string) (float64, bool) {
	book, ok := m.store.Aggregated(instrument)
	if !ok || book.Crossed() {
		return 0, false
	}
	mid := book.MidPrice()
	if mid <= 0 {
		return 0, false
	}
	return mid, true
}

// Pipeline owns the full signal-to-fill loop for one process.
type Pipeline struct {
	cfg    *config.Config
	logger zerolog.Logger

	feed    Feed
	store   *market.Store
	runner  *signal.Runner
	riskMgr *risk.Manager
	exec    *execution.Engine
	ledger  *portfolio.Ledger
	persist store.AuditStore
}

// New assembles a pipeline from configuration and venue adapters.
func New(cfg *config.Config, feed Feed, adapters map[models.Venue]execution.VenueAdapter, sink audit.Sink, persist store.AuditStore, ledgerCfg portfolio.Config, logger zerolog.Logger) *Pipeline {
	marketCfg := market.DefaultConfig()
	marketCfg.DepthLevels = cfg.Market.DepthLevels
	marketCfg.TapeWindow = cfg.Market.TapeWindow
	marketCfg.VelocityWindow = cfg.Market.VelocityWindow
	marketCfg.MaxSnapshotAge = cfg.Market.MaxSnapshotAge
	marketCfg.CandleInterval = cfg.Market.CandleInterval
	marketCfg.SpreadClampMax = cfg.Market.SpreadClampMax
	marketCfg.SpreadWindow = cfg.Market.SpreadWindow
	marketStore := market.NewStore(marketCfg)

	sigEngine := signal.NewEngine(cfg.Signal, cfg.Market.DepthLevels, marketStore, sink, logger)
	runner := signal.NewRunner(sigEngine)

	riskMgr := risk.NewManager(cfg.Risk, cfg.Signal.ScoreThreshold, cfg.Market.MaxSnapshotAge, marketStore, sink, logger)
	ledger := portfolio.NewLedger(ledgerCfg, sink, riskMgr, logger)
	exec := execution.NewEngine(cfg.Execution, adapters, marks{store: marketStore}, sink, logger)

	return &Pipeline{
		cfg:     cfg,
		logger:  logger.With().Str("component", "pipeline").Logger(),
		feed:    feed,
		store:   marketStore,
		runner:  runner,
		riskMgr: riskMgr,
		exec:    exec,
		ledger:  ledger,
		persist: persist,
	}
}

// Store exposes the snapshot store, mainly for inspection commands.
func (p *Pipeline) Store() *market.Store { return p.store }

// Ledger exposes the portfolio ledger for read access.
func (p *Pipeline) Ledger() *portfolio.Ledger { return p.ledger }

// Run drives the pipeline until the context is cancelled or the feed fails.
// Shutdown is ordered: the feed stops first, in-flight evaluations and
// orders drain, then the ledger closes with every fill applied.
func (p *Pipeline) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.runner.Start(runCtx)
	p.exec.Start(runCtx)

	g, gctx := errgroup.WithContext(runCtx)

	// A feed error tears the pipeline down; a feed that finishes cleanly
	// (replay) leaves the rest of the pipeline draining until ctx cancels.
	g.Go(func() error {
		err := p.feed.Run(gctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return errors.Wrap(err, "market feed")
		}
		return nil
	})

	g.Go(func() error {
		p.consumeFeed(gctx)
		return nil
	})

	g.Go(func() error {
		p.consumeSignals(gctx)
		return nil
	})

	g.Go(func() error {
		p.consumeBreachIntents(gctx)
		return nil
	})

	g.Go(func() error {
		p.consumeReports(gctx)
		return nil
	})

	err := g.Wait()

	// The runner workers and execution dispatchers block on runCtx, not the
	// group's derived context; cancel it before waiting on them.
	cancel()

	p.runner.Stop()
	p.exec.Wait()
	p.ledger.Close()

	p.logger.Info().Msg("pipeline stopped")
	return err
}

// consumeFeed applies book and trade updates to the store, marks the ledger
// from fresh mids, and kicks the signal runner. Data faults are counted and
// dropped; they never stop the feed loop.
func (p *Pipeline) consumeFeed(ctx context.Context) {
	books := p.feed.Books()
	trades := p.feed.Trades()
	for books != nil || trades != nil {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-books:
			if !ok {
				books = nil
				continue
			}
			if err := p.store.ApplyBook(snap); err != nil {
				p.logger.Debug().
					Str("instrument", snap.Instrument).
					Err(err).
					Msg("book snapshot dropped")
				continue
			}
			if mid, ok := (marks{store: p.store}).Mid(snap.Instrument); ok {
				p.ledger.Mark(snap.Instrument, mid)
			}
			p.runner.Notify(snap.Instrument)
		case trade, ok := <-trades:
			if !ok {
				trades = nil
				continue
			}
			if err := p.store.ApplyTrade(trade); err != nil {
				p.logger.Debug().
					Str("instrument", trade.Instrument).
					Err(err).
					Msg("trade dropped")
				continue
			}
			p.runner.Notify(trade.Instrument)
		}
	}
}

func (p *Pipeline) consumeSignals(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-p.runner.Signals():
			if !ok {
				return
			}
			state := p.ledger.Snapshot()
			intent, _ := p.riskMgr.Decide(sig, state, time.Now())
			if intent == nil {
				continue
			}
			if err := p.exec.Execute(ctx, intent); err != nil {
				p.logger.Warn().
					Str("intent_id", intent.ID).
					Err(err).
					Msg("intent not executed")
			}
		}
	}
}

// consumeBreachIntents routes ledger-generated closing intents through the
// same execution path as entry intents. Risk vetoes do not apply to closes.
func (p *Pipeline) consumeBreachIntents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case intent, ok := <-p.ledger.Intents():
			if !ok {
				return
			}
			if err := p.exec.Execute(ctx, intent); err != nil {
				p.logger.Error().
					Str("intent_id", intent.ID).
					Str("instrument", intent.Instrument).
					Err(err).
					Msg("breach close not executed")
			}
		}
	}
}

func (p *Pipeline) consumeReports(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case report, ok := <-p.exec.Reports():
			if !ok {
				return
			}
			if err := p.ledger.ApplyFill(report); err != nil {
				p.logger.Error().
					Str("report_id", report.ID).
					Err(err).
					Msg("fill not applied")
			}
			if p.persist != nil {
				if err := p.persist.SaveFillReport(ctx, report); err != nil {
					p.logger.Warn().
						Str("report_id", report.ID).
						Err(err).
						Msg("fill not persisted")
				}
			}
		}
	}
}
