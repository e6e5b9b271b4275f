// Package feed delivers market data into the pipeline. The websocket feed
// speaks a small JSON envelope protocol shared by the venue gateways; the
// replay feed drives the same channels from canned data for paper trading
// and tests.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"flowtrader/internal/models"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	handshakeTimeout  = 15 * time.Second
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// bookMessage is the wire form of an order-book snapshot.
type bookMessage struct {
	Type       string       `json:"type"`
	Venue      string       `json:"venue"`
	Instrument string       `json:"instrument"`
	Sequence   uint64       `json:"sequence"`
	Timestamp  time.Time    `json:"timestamp"`
	Bids       []priceLevel `json:"bids"`
	Asks       []priceLevel `json:"asks"`
}

type priceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// tradeMessage is the wire form of a tape entry.
type tradeMessage struct {
	Type       string    `json:"type"`
	Venue      string    `json:"venue"`
	Instrument string    `json:"instrument"`
	Price      float64   `json:"price"`
	Size       float64   `json:"size"`
	Side       string    `json:"side"`
	Timestamp  time.Time `json:"timestamp"`
}

type subscribeCommand struct {
	Type        string   `json:"type"`
	Instruments []string `json:"instruments"`
}

// WSFeed consumes book and trade streams from one venue gateway websocket.
// It reconnects with exponential backoff and restores subscriptions after a
// reconnect.
type WSFeed struct {
	url         string
	venue       models.Venue
	instruments []string
	logger      zerolog.Logger

	books  chan *models.OrderBookSnapshot
	trades chan models.TradeTapeEntry
}

// NewWSFeed creates a websocket feed for one venue endpoint.
func NewWSFeed(url string, venue models.Venue, instruments []string, logger zerolog.Logger) *WSFeed {
	return &WSFeed{
		url:         url,
		venue:       venue,
		instruments: instruments,
		logger:      logger.With().Str("component", "feed").Str("venue", string(venue)).Logger(),
		books:       make(chan *models.OrderBookSnapshot, 256),
		trades:      make(chan models.TradeTapeEntry, 256),
	}
}

// Books returns the stream of order-book snapshots.
func (f *WSFeed) Books() <-chan *models.OrderBookSnapshot { return f.books }

// Trades returns the stream of tape entries.
func (f *WSFeed) Trades() <-chan models.TradeTapeEntry { return f.trades }

// Run connects and pumps messages until the context is cancelled. Connection
// loss is handled internally with backoff; Run only returns an error when
// the first connect fails.
func (f *WSFeed) Run(ctx context.Context) error {
	defer close(f.books)
	defer close(f.trades)

	conn, err := f.connect(ctx)
	if err != nil {
		return fmt.Errorf("feed connect %s: %w", f.url, err)
	}

	delay := reconnectDelay
	for {
		if conn != nil {
			err := f.pump(ctx, conn)
			conn.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn().Err(err).Dur("retry_in", delay).Msg("feed disconnected")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}

		conn, err = f.connect(ctx)
		if err != nil {
			f.logger.Warn().Err(err).Msg("reconnect failed")
			conn = nil
			continue
		}
		delay = reconnectDelay
	}
}

func (f *WSFeed) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	cmd := subscribeCommand{Type: "subscribe", Instruments: f.instruments}
	data, err := json.Marshal(cmd)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info().Str("url", f.url).Msg("feed connected")
	return conn, nil
}

func (f *WSFeed) pump(ctx context.Context, conn *websocket.Conn) error {
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go f.pingLoop(pingCtx, conn)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handle(ctx, raw)
	}
}

func (f *WSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle parses one raw message and routes it. Unparseable messages are
// dropped silently; the store counts the faults that matter.
func (f *WSFeed) handle(ctx context.Context, raw []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.Type {
	case "book":
		var msg bookMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		snap := &models.OrderBookSnapshot{
			Venue:      f.venue,
			Instrument: msg.Instrument,
			Sequence:   msg.Sequence,
			Timestamp:  msg.Timestamp,
			Bids:       toLevels(msg.Bids),
			Asks:       toLevels(msg.Asks),
		}
		select {
		case f.books <- snap:
		case <-ctx.Done():
		}

	case "trade":
		var msg tradeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		entry := models.TradeTapeEntry{
			Venue:      f.venue,
			Instrument: msg.Instrument,
			Price:      msg.Price,
			Size:       msg.Size,
			Side:       models.Side(msg.Side),
			Timestamp:  msg.Timestamp,
		}
		select {
		case f.trades <- entry:
		case <-ctx.Done():
		}
	}
}

func toLevels(in []priceLevel) []models.PriceLevel {
	out := make([]models.PriceLevel, len(in))
	for i, l := range in {
		out[i] = models.PriceLevel{Price: l.Price, Size: l.Size}
	}
	return out
}
