package indicators

import (
	"fmt"
	"math"

	"flowtrader/internal/models"
)

// ATR calculates the Average True Range.
type ATR struct {
	period int
}

// NewATR creates a new ATR indicator.
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Name() string {
	return fmt.Sprintf("ATR_%d", a.period)
}

func (a *ATR) Period() int {
	return a.period
}

// Calculate returns the ATR series over the candles. Values before the first
// full period are zero.
func (a *ATR) Calculate(candles []models.Candle) ([]float64, error) {
	if a.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < a.period+1 {
		return nil, ErrInsufficientData
	}

	n := len(candles)
	result := make([]float64, n)
	tr := make([]float64, n)

	// First TR is just high - low
	tr[0] = candles[0].High - candles[0].Low

	for i := 1; i < n; i++ {
		tr[i] = trueRange(candles[i], candles[i-1])
	}

	// First ATR is SMA of TR, then Wilder smoothing
	result[a.period-1] = Mean(tr[:a.period])
	for i := a.period; i < n; i++ {
		result[i] = (result[i-1]*float64(a.period-1) + tr[i]) / float64(a.period)
	}

	return result, nil
}

// Latest returns the most recent ATR value.
func (a *ATR) Latest(candles []models.Candle) (float64, error) {
	series, err := a.Calculate(candles)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}

// RealizedVolatility computes the annualized standard deviation of log
// returns over the most recent period closes.
func RealizedVolatility(candles []models.Candle, period int) (float64, error) {
	if period <= 1 {
		return 0, ErrInvalidPeriod
	}
	closes := closePrices(candles)
	if len(closes) < period {
		return 0, ErrInsufficientData
	}
	closes = closes[len(closes)-period:]

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}
	if len(returns) < 2 {
		return 0, ErrInsufficientData
	}

	// Annualize assuming 365 trading days for spot crypto.
	return StdDev(returns) * math.Sqrt(365), nil
}
