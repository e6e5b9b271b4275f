// Package store provides persistence for the audit trail.
package store

import (
	"context"
	"time"

	"flowtrader/internal/audit"
	"flowtrader/internal/models"
)

// AuditStore defines the interface for audit-trail persistence.
type AuditStore interface {
	SaveEvent(ctx context.Context, ev audit.Event) error
	GetEvents(ctx context.Context, filter EventFilter) ([]audit.Event, error)

	SaveFillReport(ctx context.Context, report *models.FillReport) error
	GetFillReports(ctx context.Context, instrument string, limit int) ([]models.FillReport, error)

	Close() error
}

// EventFilter represents filters for querying audit events.
type EventFilter struct {
	Type       audit.EventType
	Instrument string
	From       time.Time
	To         time.Time
	Limit      int
}
