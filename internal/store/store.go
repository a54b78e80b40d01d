// Package store persists pipeline sessions, rows, rules, and enrichment
// configs behind a single interface with SQLite and Postgres backends.
package store

import (
	"context"
	"time"

	"github.com/sells-group/import-cli/internal/model"
)

// RowFilter selects rows within a session. Results are always ordered by row
// index ascending; the pipeline's resumability depends on that ordering.
type RowFilter struct {
	Statuses []model.RowStatus `json:"statuses,omitempty"`
	Offset   int               `json:"offset,omitempty"`
	Limit    int               `json:"limit,omitempty"`
}

// SessionFilter specifies criteria for listing sessions.
type SessionFilter struct {
	AccountID string              `json:"account_id,omitempty"`
	Status    model.SessionStatus `json:"status,omitempty"`
	Limit     int                 `json:"limit,omitempty"`
	Offset    int                 `json:"offset,omitempty"`
}

// CounterDelta adjusts session progress counters. Applied in the same
// transaction as the row write that produced it, so polled progress never
// drifts from row state.
type CounterDelta struct {
	Processed int
	Enriched  int
	Synced    int
	Failed    int
}

// Store defines the persistence interface for the import pipeline.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, session *model.Session, rows []model.Row) error
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error)
	SetSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus, errorMessage string) error
	MarkSessionCompleted(ctx context.Context, sessionID string) error
	IncrementSessionRetry(ctx context.Context, sessionID string) error
	// ResetSessionCounters recomputes progress counters from current row
	// statuses: enriched and synced rows count as progress, failed rows are
	// cleared so a retry pass re-reports them.
	ResetSessionCounters(ctx context.Context, sessionID string) error

	// Rows
	GetRow(ctx context.Context, sessionID string, index int) (*model.Row, error)
	ListRows(ctx context.Context, sessionID string, filter RowFilter) ([]model.Row, error)
	SetRowStatus(ctx context.Context, sessionID string, index int, status model.RowStatus, errorMessage string) error
	// CompleteRow writes the enriched overlay, status, and error message for
	// one row and applies the counter delta transactionally.
	CompleteRow(ctx context.Context, sessionID string, index int, enriched map[string]string, status model.RowStatus, errorMessage string, delta CounterDelta) error
	// MarkRowSynced records external ids, marks the row synced, and applies
	// the counter delta transactionally.
	MarkRowSynced(ctx context.Context, sessionID string, index int, contactID, companyID string, delta CounterDelta) error
	BulkUpdateRowStatus(ctx context.Context, sessionID string, from []model.RowStatus, to model.RowStatus) (int64, error)
	DeleteRowsByStatus(ctx context.Context, sessionID string, status model.RowStatus) (int64, error)

	// Retention
	ExpireSessions(ctx context.Context, cutoff time.Time) (int64, error)

	// Rules
	ListRules(ctx context.Context, accountID string) ([]model.Rule, error)
	SaveRules(ctx context.Context, rules []model.Rule) error

	// Enrichment configs
	ListEnrichmentConfigs(ctx context.Context, accountID string) ([]model.EnrichmentConfig, error)
	SaveEnrichmentConfigs(ctx context.Context, configs []model.EnrichmentConfig) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
