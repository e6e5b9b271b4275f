package feed

import (
	"context"
	"time"

	"flowtrader/internal/models"
)

// Event is one replayable market-data item. Exactly one of Book and Trade is
// set.
type Event struct {
	At    time.Duration // offset from replay start
	Book  *models.OrderBookSnapshot
	Trade *models.TradeTapeEntry
}

// ReplayFeed plays a recorded event sequence into the pipeline. With a zero
// Pace every event is delivered immediately, which is what tests want; paper
// trading uses the recorded offsets.
type ReplayFeed struct {
	events []Event
	paced  bool

	books  chan *models.OrderBookSnapshot
	trades chan models.TradeTapeEntry
}

// NewReplayFeed creates a replay feed. When paced is true, events are
// delivered at their recorded offsets.
func NewReplayFeed(events []Event, paced bool) *ReplayFeed {
	return &ReplayFeed{
		events: events,
		paced:  paced,
		books:  make(chan *models.OrderBookSnapshot, 256),
		trades: make(chan models.TradeTapeEntry, 256),
	}
}

// Books returns the stream of order-book snapshots.
func (f *ReplayFeed) Books() <-chan *models.OrderBookSnapshot { return f.books }

// Trades returns the stream of tape entries.
func (f *ReplayFeed) Trades() <-chan models.TradeTapeEntry { return f.trades }

// Run delivers all events in order, then returns.
func (f *ReplayFeed) Run(ctx context.Context) error {
	defer close(f.books)
	defer close(f.trades)

	start := time.Now()
	for _, ev := range f.events {
		if f.paced {
			due := start.Add(ev.At)
			if wait := time.Until(due); wait > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
		}

		switch {
		case ev.Book != nil:
			select {
			case f.books <- ev.Book:
			case <-ctx.Done():
				return ctx.Err()
			}
		case ev.Trade != nil:
			select {
			case f.trades <- *ev.Trade:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
