package portfolio

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"flowtrader/internal/audit"
	"flowtrader/internal/models"
)

// Property: for any sequence of same-direction fills, the resulting position
// quantity is the sum of the fill quantities and the entry price is the
// volume-weighted average of the fill prices.
func TestProperty_ScaleInPreservesVWAPEntry(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	fillCountGen := gen.IntRange(1, 8)
	qtyGen := gen.Float64Range(0.1, 10)
	priceGen := gen.Float64Range(50, 500)

	properties.Property("position equals signed sum at VWAP entry", prop.ForAll(
		func(count int, qtySeed, priceSeed float64) bool {
			l := newTestLedger(audit.NopSink{}, nil)
			defer l.Close()

			var totalQty, notional float64
			for i := 0; i < count; i++ {
				qty := qtySeed + float64(i)*0.37
				price := priceSeed + float64(i)*1.3
				if err := l.ApplyFill(fill("BTC-USD", models.SideBuy, qty, price)); err != nil {
					return false
				}
				totalQty += qty
				notional += qty * price
			}

			pos, ok := l.Snapshot().Position("BTC-USD")
			if !ok {
				return false
			}
			wantEntry := notional / totalQty
			return math.Abs(pos.Quantity-totalQty) < 1e-6 &&
				math.Abs(pos.AvgEntryPrice-wantEntry) < 1e-6
		},
		fillCountGen, qtyGen, priceGen,
	))

	properties.Property("replaying the same fills changes nothing", prop.ForAll(
		func(count int, qtySeed, priceSeed float64) bool {
			l := newTestLedger(audit.NopSink{}, nil)
			defer l.Close()

			reports := make([]*models.FillReport, 0, count)
			for i := 0; i < count; i++ {
				reports = append(reports, fill("BTC-USD", models.SideBuy, qtySeed+float64(i), priceSeed))
			}
			for _, r := range reports {
				if err := l.ApplyFill(r); err != nil {
					return false
				}
			}
			before, _ := l.Snapshot().Position("BTC-USD")

			for _, r := range reports {
				if err := l.ApplyFill(r); err != nil {
					return false
				}
			}
			after, _ := l.Snapshot().Position("BTC-USD")

			return before.Quantity == after.Quantity &&
				before.AvgEntryPrice == after.AvgEntryPrice
		},
		fillCountGen, qtyGen, priceGen,
	))

	properties.TestingRun(t)
}

// Property: closing the whole position realizes exactly quantity times the
// price difference, and equity moves by the same amount.
func TestProperty_RoundTripRealizesPnL(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("buy then sell realizes (exit-entry)*qty", prop.ForAll(
		func(qty, entry, move float64) bool {
			cfg := DefaultConfig()
			cfg.InitialEquity = 10000
			l := NewLedger(cfg, audit.NopSink{}, nil, zerolog.Nop())
			defer l.Close()

			exit := entry + move
			if err := l.ApplyFill(fill("BTC-USD", models.SideBuy, qty, entry)); err != nil {
				return false
			}
			if err := l.ApplyFill(fill("BTC-USD", models.SideSell, qty, exit)); err != nil {
				return false
			}

			state := l.Snapshot()
			if _, open := state.Position("BTC-USD"); open {
				return false
			}
			want := qty * (exit - entry)
			return math.Abs(state.RealizedPnL-want) < 1e-6 &&
				math.Abs(state.Equity-(10000+want)) < 1e-6
		},
		gen.Float64Range(0.1, 20),
		gen.Float64Range(50, 500),
		gen.Float64Range(-20, 20),
	))

	properties.TestingRun(t)
}
