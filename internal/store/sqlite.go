package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"flowtrader/internal/audit"
	"flowtrader/internal/models"
)

// SQLiteStore implements AuditStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed audit store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		event_type TEXT NOT NULL,
		instrument TEXT,
		reference TEXT,
		reason TEXT,
		details TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(event_type, timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_instrument ON audit_events(instrument, timestamp);

	CREATE TABLE IF NOT EXISTS fill_reports (
		id TEXT PRIMARY KEY,
		intent_id TEXT NOT NULL,
		instrument TEXT NOT NULL,
		side TEXT NOT NULL,
		requested_qty REAL NOT NULL,
		filled_qty REAL NOT NULL,
		avg_price REAL NOT NULL,
		unfilled_qty REAL NOT NULL,
		closing INTEGER NOT NULL,
		completed_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fills_instrument ON fill_reports(instrument, completed_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveEvent persists one audit event.
func (s *SQLiteStore) SaveEvent(ctx context.Context, ev audit.Event) error {
	var details []byte
	if ev.Details != nil {
		var err error
		details, err = json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("marshaling details: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (timestamp, event_type, instrument, reference, reason, details)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Timestamp, string(ev.Type), ev.Instrument, ev.Reference, ev.Reason, string(details))
	return err
}

// GetEvents queries audit events with optional filters.
func (s *SQLiteStore) GetEvents(ctx context.Context, filter EventFilter) ([]audit.Event, error) {
	query := `SELECT timestamp, event_type, instrument, reference, reason, details FROM audit_events`
	var conds []string
	var args []interface{}

	if filter.Type != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Instrument != "" {
		conds = append(conds, "instrument = ?")
		args = append(args, filter.Instrument)
	}
	if !filter.From.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, filter.To)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var ev audit.Event
		var eventType, details string
		if err := rows.Scan(&ev.Timestamp, &eventType, &ev.Instrument, &ev.Reference, &ev.Reason, &details); err != nil {
			return nil, err
		}
		ev.Type = audit.EventType(eventType)
		if details != "" {
			if err := json.Unmarshal([]byte(details), &ev.Details); err != nil {
				ev.Details = nil
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SaveFillReport persists a fill report. Saving the same report twice is a
// no-op, matching the ledger's dedupe-by-id semantics.
func (s *SQLiteStore) SaveFillReport(ctx context.Context, report *models.FillReport) error {
	closing := 0
	if report.Closing {
		closing = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO fill_reports
		(id, intent_id, instrument, side, requested_qty, filled_qty, avg_price, unfilled_qty, closing, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID, report.IntentID, report.Instrument, string(report.Side),
		report.RequestedQty, report.FilledQty, report.AvgPrice, report.UnfilledQty,
		closing, report.CompletedAt)
	return err
}

// GetFillReports returns the most recent fill reports, newest first.
// An empty instrument matches all instruments.
func (s *SQLiteStore) GetFillReports(ctx context.Context, instrument string, limit int) ([]models.FillReport, error) {
	query := `SELECT id, intent_id, instrument, side, requested_qty, filled_qty, avg_price, unfilled_qty, closing, completed_at
		FROM fill_reports`
	var args []interface{}
	if instrument != "" {
		query += " WHERE instrument = ?"
		args = append(args, instrument)
	}
	query += " ORDER BY completed_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []models.FillReport
	for rows.Next() {
		var r models.FillReport
		var side string
		var closing int
		if err := rows.Scan(&r.ID, &r.IntentID, &r.Instrument, &side, &r.RequestedQty,
			&r.FilledQty, &r.AvgPrice, &r.UnfilledQty, &closing, &r.CompletedAt); err != nil {
			return nil, err
		}
		r.Side = models.Side(side)
		r.Closing = closing == 1
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Sink adapts the store to the audit.Sink interface, persisting events
// asynchronously so the trading path never blocks on disk.
type Sink struct {
	store  AuditStore
	events chan audit.Event
	done   chan struct{}
}

// NewSink creates an asynchronous audit sink backed by the store.
func NewSink(s AuditStore) *Sink {
	k := &Sink{
		store:  s,
		events: make(chan audit.Event, 1024),
		done:   make(chan struct{}),
	}
	go k.run()
	return k
}

func (k *Sink) run() {
	for ev := range k.events {
		// Best effort: a full disk must not stop trading.
		_ = k.store.SaveEvent(context.Background(), ev)
	}
	close(k.done)
}

// Record enqueues an event, dropping it if the buffer is full.
func (k *Sink) Record(ev audit.Event) {
	select {
	case k.events <- ev:
	default:
	}
}

// Close drains pending events and stops the sink.
func (k *Sink) Close() {
	close(k.events)
	<-k.done
}
