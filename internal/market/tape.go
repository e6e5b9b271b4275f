package market

import (
	"time"

	"flowtrader/internal/models"
)

// tape is the bounded rolling trade window for one instrument. Oldest
// entries are evicted on insert; the window is time-based.
type tape struct {
	window  time.Duration
	entries []models.TradeTapeEntry
}

func newTape(window time.Duration) *tape {
	return &tape{window: window}
}

func (t *tape) add(e models.TradeTapeEntry) {
	t.entries = append(t.entries, e)
	t.evict(e.Timestamp)
}

func (t *tape) evict(now time.Time) {
	cutoff := now.Add(-t.window)
	i := 0
	for ; i < len(t.entries); i++ {
		if t.entries[i].Timestamp.After(cutoff) {
			break
		}
	}
	if i > 0 {
		t.entries = append(t.entries[:0], t.entries[i:]...)
	}
}

// vwap returns the volume-weighted average price over the window.
func (t *tape) vwap() (float64, bool) {
	var pv, vol float64
	for _, e := range t.entries {
		pv += e.Price * e.Size
		vol += e.Size
	}
	if vol == 0 {
		return 0, false
	}
	return pv / vol, true
}

// volumeVelocity is trade volume in the recent window divided by the mean
// volume per recent-window-sized bucket across the full window. A zero or
// near-zero baseline yields 0, suppressing the signal rather than producing
// infinity.
func (t *tape) volumeVelocity(now time.Time, recent time.Duration) float64 {
	if len(t.entries) == 0 || recent <= 0 {
		return 0
	}
	var recentVol, totalVol float64
	cutoff := now.Add(-recent)
	for _, e := range t.entries {
		totalVol += e.Size
		if e.Timestamp.After(cutoff) {
			recentVol += e.Size
		}
	}

	buckets := float64(t.window) / float64(recent)
	if buckets < 1 {
		buckets = 1
	}
	baseline := totalVol / buckets
	if baseline < velocityBaselineEpsilon {
		return 0
	}
	return recentVol / baseline
}

const velocityBaselineEpsilon = 1e-12

// candles buckets the tape into fixed-interval OHLCV bars, oldest first.
// Only completed buckets relative to now are returned.
func (t *tape) candles(interval time.Duration, now time.Time) []models.Candle {
	if len(t.entries) == 0 || interval <= 0 {
		return nil
	}

	var out []models.Candle
	var cur *models.Candle
	curEnd := time.Time{}

	for _, e := range t.entries {
		bucket := e.Timestamp.Truncate(interval)
		if cur == nil || !bucket.Equal(cur.Timestamp) {
			if cur != nil {
				out = append(out, *cur)
			}
			cur = &models.Candle{
				Timestamp: bucket,
				Open:      e.Price,
				High:      e.Price,
				Low:       e.Price,
				Close:     e.Price,
			}
			curEnd = bucket.Add(interval)
		}
		if e.Price > cur.High {
			cur.High = e.Price
		}
		if e.Price < cur.Low {
			cur.Low = e.Price
		}
		cur.Close = e.Price
		cur.Volume += e.Size
	}
	if cur != nil && !curEnd.After(now) {
		out = append(out, *cur)
	}
	return out
}
