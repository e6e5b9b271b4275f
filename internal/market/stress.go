package market

import (
	"time"

	"flowtrader/internal/indicators"
)

// Stress returns a broad-market volatility proxy: the mean, across all
// tracked instruments, of short-horizon realized volatility relative to each
// instrument's longer baseline. The risk manager halves position size when
// this exceeds its trigger. Instruments without enough history contribute
// nothing.
func (s *Store) Stress(now time.Time, shortPeriod, basePeriod int) float64 {
	var total float64
	var count int
	for _, instrument := range s.Instruments() {
		candles := s.Candles(instrument, now)
		short, err := indicators.RealizedVolatility(candles, shortPeriod)
		if err != nil {
			continue
		}
		base, err := indicators.RealizedVolatility(candles, basePeriod)
		if err != nil || base == 0 {
			continue
		}
		total += short / base
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}
