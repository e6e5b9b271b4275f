package portfolio

import (
	"math"
)

// correlationTracker maintains rolling log-return series per instrument and
// derives pairwise Pearson correlations from the overlapping tail of each
// pair's history.
type correlationTracker struct {
	window    int
	lastPrice map[string]float64
	returns   map[string][]float64
}

func newCorrelationTracker(window int) *correlationTracker {
	return &correlationTracker{
		window:    window,
		lastPrice: make(map[string]float64),
		returns:   make(map[string][]float64),
	}
}

// observe records a new mark for an instrument, appending one log return when
// a previous mark exists.
func (c *correlationTracker) observe(instrument string, price float64) {
	if price <= 0 {
		return
	}
	prev, ok := c.lastPrice[instrument]
	c.lastPrice[instrument] = price
	if !ok || prev <= 0 {
		return
	}
	series := append(c.returns[instrument], math.Log(price/prev))
	if len(series) > c.window {
		series = series[len(series)-c.window:]
	}
	c.returns[instrument] = series
}

// matrix returns the full symmetric correlation matrix for instruments with
// enough history. Pairs with fewer than two overlapping returns are omitted.
func (c *correlationTracker) matrix() map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(c.returns))
	instruments := make([]string, 0, len(c.returns))
	for ins := range c.returns {
		instruments = append(instruments, ins)
	}
	for i, a := range instruments {
		for _, b := range instruments[i+1:] {
			corr, ok := pearson(c.returns[a], c.returns[b])
			if !ok {
				continue
			}
			if out[a] == nil {
				out[a] = make(map[string]float64)
			}
			if out[b] == nil {
				out[b] = make(map[string]float64)
			}
			out[a][b] = corr
			out[b][a] = corr
		}
	}
	return out
}

// pearson computes the correlation over the overlapping tails of two series.
func pearson(a, b []float64) (float64, bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0, false
	}
	a = a[len(a)-n:]
	b = b[len(b)-n:]

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varA*varB), true
}
