package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/import-cli/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestSession(rows int) (*model.Session, []model.Row) {
	now := time.Now().UTC()
	session := &model.Session{
		ID:         uuid.NewString(),
		AccountID:  "acct-1",
		FileName:   "contacts.csv",
		TotalRows:  rows,
		Status:     model.SessionStatusUploaded,
		MaxRetries: 3,
		CreatedAt:  now,
		ExpiresAt:  now.Add(model.RetentionWindow),
	}
	rowModels := make([]model.Row, rows)
	for i := range rowModels {
		rowModels[i] = model.Row{
			SessionID: session.ID,
			Index:     i,
			Raw:       map[string]string{"email": "user" + uuid.NewString()[:8] + "@example.com", "company": "Acme"},
			Status:    model.RowStatusPending,
		}
	}
	return session, rowModels
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, func(t *testing.T) Store { return newTestSQLite(t) })
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetSession", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		session, rows := newTestSession(3)
		session.ConfigIDs = []string{"cfg-1", "cfg-2"}
		require.NoError(t, s.CreateSession(ctx, session, rows))

		got, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, session.ID, got.ID)
		assert.Equal(t, model.SessionStatusUploaded, got.Status)
		assert.Equal(t, 3, got.TotalRows)
		assert.Equal(t, []string{"cfg-1", "cfg-2"}, got.ConfigIDs)
		assert.Equal(t, 0, got.ProcessedRows)
	})

	t.Run("GetSessionNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetSession(context.Background(), "nonexistent")
		require.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("ListSessionsFiltered", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, rows := newTestSession(1)
		require.NoError(t, s.CreateSession(ctx, first, rows))
		second, rows2 := newTestSession(1)
		require.NoError(t, s.CreateSession(ctx, second, rows2))
		require.NoError(t, s.SetSessionStatus(ctx, second.ID, model.SessionStatusEnriched, ""))

		enriched, err := s.ListSessions(ctx, SessionFilter{AccountID: "acct-1", Status: model.SessionStatusEnriched})
		require.NoError(t, err)
		require.Len(t, enriched, 1)
		assert.Equal(t, second.ID, enriched[0].ID)

		all, err := s.ListSessions(ctx, SessionFilter{AccountID: "acct-1"})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		other, err := s.ListSessions(ctx, SessionFilter{AccountID: "acct-other"})
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("SetSessionStatusClearsError", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		session, rows := newTestSession(1)
		require.NoError(t, s.CreateSession(ctx, session, rows))

		require.NoError(t, s.SetSessionStatus(ctx, session.ID, model.SessionStatusFailed, "backend unreachable"))
		got, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, "backend unreachable", got.ErrorMessage)

		require.NoError(t, s.SetSessionStatus(ctx, session.ID, model.SessionStatusEnriching, ""))
		got, err = s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Empty(t, got.ErrorMessage)
	})

	t.Run("IncrementSessionRetry", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		session, rows := newTestSession(1)
		require.NoError(t, s.CreateSession(ctx, session, rows))

		require.NoError(t, s.IncrementSessionRetry(ctx, session.ID))
		require.NoError(t, s.IncrementSessionRetry(ctx, session.ID))
		got, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.RetryCount)
	})

	t.Run("MarkSessionCompleted", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		session, rows := newTestSession(1)
		require.NoError(t, s.CreateSession(ctx, session, rows))

		require.NoError(t, s.MarkSessionCompleted(ctx, session.ID))
		got, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)
	})

	t.Run("CompleteRowUpdatesCountersTransactionally", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		session, rows := newTestSession(2)
		require.NoError(t, s.CreateSession(ctx, session, rows))

		err := s.CompleteRow(ctx, session.ID, 0, map[string]string{"domain": "acme.com"},
			model.RowStatusEnriched, "", CounterDelta{Processed: 1, Enriched: 1})
		require.NoError(t, err)

		err = s.CompleteRow(ctx, session.ID, 1, nil,
			model.RowStatusFailed, "no results", CounterDelta{Processed: 1, Failed: 1})
		require.NoError(t, err)

		got, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.ProcessedRows)
		assert.Equal(t, 1, got.EnrichedRows)
		assert.Equal(t, 1, got.FailedRows)

		row, err := s.GetRow(ctx, session.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, model.RowStatusEnriched, row.Status)
		assert.Equal(t, "acme.com", row.Enriched["domain"])

		row, err = s.GetRow(ctx, session.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, model.RowStatusFailed, row.Status)
		assert.Equal(t, "no results", row.ErrorMessage)
	})

	t.Run("CompleteRowNotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		session, rows := newTestSession(1)
		require.NoError(t, s.CreateSession(ctx, session, rows))

		err := s.CompleteRow(ctx, session.ID, 99, nil, model.RowStatusEnriched, "", CounterDelta{Processed: 1})
		require.ErrorIs(t, err, model.ErrNotFound)

		// The counter delta must not have been applied.
		got, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.ProcessedRows)
	})

	t.Run("ListRowsOrderedAndFiltered", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		session, rows := newTestSession(5)
		require.NoError(t, s.CreateSession(ctx, session, rows))
		require.NoError(t, s.SetRowStatus(ctx, session.ID, 1, model.RowStatusEnriched, ""))
		require.NoError(t, s.SetRowStatus(ctx, session.ID, 3, model.RowStatusFailed, "boom"))

		pending, err := s.ListRows(ctx, session.ID, RowFilter{
			Statuses: []model.RowStatus{model.RowStatusPending, model.RowStatusFailed},
		})
		require.NoError(t, err)
		require.Len(t, pending, 4)
		for i := 1; i < len(pending); i++ {
			assert.Greater(t, pending[i].Index, pending[i-1].Index, "rows must be ordered by index")
		}

		limited, err := s.ListRows(ctx, session.ID, RowFilter{
			Statuses: []model.RowStatus{model.RowStatusPending, model.RowStatusFailed},
			Limit:    2,
			Offset:   1,
		})
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, 2, limited[0].Index)
		assert.Equal(t, 3, limited[1].Index)
	})

	t.Run("BulkUpdateRowStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		session, rows := newTestSession(4)
		require.NoError(t, s.CreateSession(ctx, session, rows))
		require.NoError(t, s.SetRowStatus(ctx, session.ID, 0, model.RowStatusFailed, "x"))

		n, err := s.BulkUpdateRowStatus(ctx, session.ID,
			[]model.RowStatus{model.RowStatusPending, model.RowStatusFailed}, model.RowStatusEnriched)
		require.NoError(t, err)
		assert.EqualValues(t, 4, n)

		enriched, err := s.ListRows(ctx, session.ID, RowFilter{Statuses: []model.RowStatus{model.RowStatusEnriched}})
		require.NoError(t, err)
		assert.Len(t, enriched, 4)
	})

	t.Run("ResetSessionCounters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		session, rows := newTestSession(4)
		require.NoError(t, s.CreateSession(ctx, session, rows))

		require.NoError(t, s.CompleteRow(ctx, session.ID, 0, nil, model.RowStatusEnriched, "", CounterDelta{Processed: 1, Enriched: 1}))
		require.NoError(t, s.CompleteRow(ctx, session.ID, 1, nil, model.RowStatusFailed, "x", CounterDelta{Processed: 1, Failed: 1}))
		require.NoError(t, s.MarkRowSynced(ctx, session.ID, 2, "c-1", "a-1", CounterDelta{Synced: 1}))

		// A retry pass reports finished rows as progress but re-reports
		// failures from scratch.
		require.NoError(t, s.ResetSessionCounters(ctx, session.ID))
		got, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.ProcessedRows)
		assert.Equal(t, 2, got.EnrichedRows)
		assert.Equal(t, 1, got.SyncedRows)
		assert.Equal(t, 0, got.FailedRows)
	})

	t.Run("MarkRowSyncedRecordsExternalIDs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		session, rows := newTestSession(1)
		require.NoError(t, s.CreateSession(ctx, session, rows))

		require.NoError(t, s.MarkRowSynced(ctx, session.ID, 0, "003abc", "001xyz", CounterDelta{Synced: 1}))
		row, err := s.GetRow(ctx, session.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, model.RowStatusSynced, row.Status)
		assert.Equal(t, "003abc", row.ContactID)
		assert.Equal(t, "001xyz", row.CompanyID)

		got, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.SyncedRows)
	})

	t.Run("DeleteRowsByStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		session, rows := newTestSession(3)
		require.NoError(t, s.CreateSession(ctx, session, rows))
		require.NoError(t, s.SetRowStatus(ctx, session.ID, 0, model.RowStatusSynced, ""))
		require.NoError(t, s.SetRowStatus(ctx, session.ID, 1, model.RowStatusSynced, ""))

		n, err := s.DeleteRowsByStatus(ctx, session.ID, model.RowStatusSynced)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		remaining, err := s.ListRows(ctx, session.ID, RowFilter{})
		require.NoError(t, err)
		assert.Len(t, remaining, 1)
	})

	t.Run("ExpireSessions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		stale, rows := newTestSession(2)
		stale.ExpiresAt = time.Now().UTC().Add(-time.Hour)
		require.NoError(t, s.CreateSession(ctx, stale, rows))

		fresh, rows2 := newTestSession(1)
		require.NoError(t, s.CreateSession(ctx, fresh, rows2))

		n, err := s.ExpireSessions(ctx, time.Now().UTC())
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		got, err := s.GetSession(ctx, stale.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusExpired, got.Status)

		staleRows, err := s.ListRows(ctx, stale.ID, RowFilter{})
		require.NoError(t, err)
		assert.Empty(t, staleRows, "expiry deletes the session's rows")

		got, err = s.GetSession(ctx, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusUploaded, got.Status)

		// Idempotent: a second sweep finds nothing.
		n, err = s.ExpireSessions(ctx, time.Now().UTC())
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("SaveAndListRules", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rules := []model.Rule{
			{ID: "r2", AccountID: "acct-1", Kind: model.RuleKindValidate, Fields: []string{"email"}, Op: "email-validate", DisplayOrder: 2, Enabled: true},
			{ID: "r1", AccountID: "acct-1", Kind: model.RuleKindTransform, Fields: []string{"email"}, Op: "lowercase", DisplayOrder: 1, Enabled: true},
		}
		require.NoError(t, s.SaveRules(ctx, rules))

		got, err := s.ListRules(ctx, "acct-1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "r1", got[0].ID, "rules come back in display order")
		assert.Equal(t, []string{"email"}, got[0].Fields)

		// Upsert: saving again with changes overwrites.
		rules[0].Enabled = false
		require.NoError(t, s.SaveRules(ctx, rules))
		got, err = s.ListRules(ctx, "acct-1")
		require.NoError(t, err)
		assert.False(t, got[1].Enabled)
	})

	t.Run("SaveAndListEnrichmentConfigs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		output, err := model.ParseOutputTarget(`[{"id":"domain","type":"text"}]`)
		require.NoError(t, err)
		configs := []model.EnrichmentConfig{{
			ID:             "cfg-1",
			AccountID:      "acct-1",
			Name:           "find domain",
			Service:        model.ServiceSearchAPI,
			InputFields:    []string{"company"},
			Output:         output,
			Template:       "",
			Enabled:        true,
			ExecutionOrder: 1,
		}}
		require.NoError(t, s.SaveEnrichmentConfigs(ctx, configs))

		got, err := s.ListEnrichmentConfigs(ctx, "acct-1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "domain", got[0].Output.Primary())
		assert.Equal(t, []string{"company"}, got[0].InputFields)
		assert.Equal(t, model.ServiceSearchAPI, got[0].Service)
	})
}
