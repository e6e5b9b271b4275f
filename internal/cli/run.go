package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"flowtrader/internal/audit"
	"flowtrader/internal/engine"
	"flowtrader/internal/execution"
	"flowtrader/internal/feed"
	"flowtrader/internal/models"
	"flowtrader/internal/portfolio"
	"flowtrader/internal/store"
)

func newRunCmd(app *App) *cobra.Command {
	var (
		feedURL     string
		feedVenue   string
		instruments []string
		paper       bool
		equity      float64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading core",
		Long: `Run the full signal-to-fill pipeline.

In paper mode orders execute against a simulated venue fed by live market
data; no venue credentials are needed.`,
		Example: `  flowtrader run --paper --feed wss://gw.example.com/md --instruments BTC-USD,ETH-USD
  flowtrader run --feed wss://gw.example.com/md --feed-venue binance --instruments BTC-USD`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if feedURL == "" {
				return fmt.Errorf("--feed is required")
			}
			if len(instruments) == 0 {
				return fmt.Errorf("--instruments is required")
			}
			if !paper {
				return fmt.Errorf("live venue adapters are not configured; use --paper")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			auditLogger, err := audit.NewLogger(audit.Config{
				LogDir:     app.Config.Audit.Dir,
				MaxSize:    app.Config.Audit.MaxSize,
				MaxBackups: app.Config.Audit.MaxBackups,
				MaxAge:     app.Config.Audit.MaxAge,
				Compress:   true,
			})
			if err != nil {
				return fmt.Errorf("opening audit log: %w", err)
			}
			defer auditLogger.Close()

			persist, err := store.NewSQLiteStore(app.Config.Audit.DBPath)
			if err != nil {
				return fmt.Errorf("opening audit db: %w", err)
			}
			defer persist.Close()

			dbSink := store.NewSink(persist)
			defer dbSink.Close()
			sink := audit.MultiSink{auditLogger, dbSink}

			adapters := make(map[models.Venue]execution.VenueAdapter)
			papers := make([]*execution.PaperAdapter, 0)
			for venue := range app.Config.Execution.VenueWeights {
				pa := execution.NewPaperAdapter(models.Venue(venue), 50*time.Millisecond)
				adapters[models.Venue(venue)] = pa
				papers = append(papers, pa)
			}

			marketFeed := feed.NewWSFeed(feedURL, models.Venue(feedVenue), instruments, app.Logger)

			ledgerCfg := portfolio.DefaultConfig()
			if equity > 0 {
				ledgerCfg.InitialEquity = equity
			}

			pipeline := engine.New(app.Config, marketFeed, adapters, sink, persist, ledgerCfg, app.Logger)

			// Keep simulated venues priced from the live aggregated book.
			go func() {
				ticker := time.NewTicker(time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						for _, ins := range instruments {
							book, ok := pipeline.Store().Aggregated(ins)
							if !ok || book.Crossed() {
								continue
							}
							for _, pa := range papers {
								pa.UpdatePrice(ins, book.MidPrice())
							}
						}
					}
				}
			}()

			app.Logger.Info().
				Str("feed", feedURL).
				Strs("instruments", instruments).
				Bool("paper", paper).
				Msg("starting trading core")

			return pipeline.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&feedURL, "feed", "", "market data websocket URL")
	cmd.Flags().StringVar(&feedVenue, "feed-venue", string(models.VenueBinance), "venue label for the feed")
	cmd.Flags().StringSliceVar(&instruments, "instruments", nil, "instruments to trade (comma separated)")
	cmd.Flags().BoolVar(&paper, "paper", false, "execute against simulated venues")
	cmd.Flags().Float64Var(&equity, "equity", 0, "starting equity for the ledger")

	return cmd
}

func newAuditCmd(app *App) *cobra.Command {
	var (
		eventType  string
		instrument string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			persist, err := store.NewSQLiteStore(app.Config.Audit.DBPath)
			if err != nil {
				return fmt.Errorf("opening audit db: %w", err)
			}
			defer persist.Close()

			events, err := persist.GetEvents(context.Background(), store.EventFilter{
				Type:       audit.EventType(strings.ToUpper(eventType)),
				Instrument: instrument,
				Limit:      limit,
			})
			if err != nil {
				return err
			}

			for _, ev := range events {
				fmt.Printf("%s  %-18s %-10s %s %s\n",
					ev.Timestamp.Format(time.RFC3339),
					ev.Type, ev.Instrument, ev.Reference, ev.Reason)
			}
			fmt.Printf("%d events\n", len(events))
			return nil
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().StringVar(&instrument, "instrument", "", "filter by instrument")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events to return")

	return cmd
}
