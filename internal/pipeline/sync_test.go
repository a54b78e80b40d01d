package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/import-cli/internal/config"
	"github.com/sells-group/import-cli/internal/dedup"
	"github.com/sells-group/import-cli/internal/model"
	"github.com/sells-group/import-cli/internal/store"
	"github.com/sells-group/import-cli/pkg/salesforce"
)

func newSyncPipeline(st store.Store, ds dedup.Store, sf salesforce.Client) *Pipeline {
	return New(st, ds, nil, sf, config.PipelineConfig{BatchSize: 50})
}

// seedEnrichedSession creates a session already in the enriched state with
// one enriched row per raw map.
func seedEnrichedSession(t *testing.T, st store.Store, raws []map[string]string) *model.Session {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	session := &model.Session{
		ID:         uuid.NewString(),
		AccountID:  testAccountID,
		FileName:   "upload.csv",
		TotalRows:  len(raws),
		Status:     model.SessionStatusUploaded,
		MaxRetries: 3,
		CreatedAt:  now,
		ExpiresAt:  now.Add(model.RetentionWindow),
	}
	rows := make([]model.Row, len(raws))
	for i, raw := range raws {
		rows[i] = model.Row{
			SessionID: session.ID,
			Index:     i,
			Raw:       raw,
		}
	}
	require.NoError(t, st.CreateSession(ctx, session, rows))
	_, err := st.BulkUpdateRowStatus(ctx, session.ID,
		[]model.RowStatus{model.RowStatusPending}, model.RowStatusEnriched)
	require.NoError(t, err)
	require.NoError(t, st.ResetSessionCounters(ctx, session.ID))
	require.NoError(t, st.SetSessionStatus(ctx, session.ID, model.SessionStatusEnriched, ""))
	return session
}

func TestSplitRecord(t *testing.T) {
	t.Run("website-only company gets a derived domain", func(t *testing.T) {
		_, company := splitRecord(map[string]string{
			"email":   "pat@initech.io",
			"company": "Initech",
			"website": "https://www.initech.io/about",
		})
		assert.Equal(t, "initech.io", company["domain"])
		assert.Equal(t, "Initech", company["name"])
	})

	t.Run("explicit domain is never overwritten", func(t *testing.T) {
		_, company := splitRecord(map[string]string{
			"company": "Initech",
			"domain":  "initech.com",
			"website": "https://legacy.example.com",
		})
		assert.Equal(t, "initech.com", company["domain"])
	})

	t.Run("industry alone rides with the contact", func(t *testing.T) {
		contact, company := splitRecord(map[string]string{
			"email":    "pat@initech.io",
			"industry": "Software",
		})
		assert.Empty(t, company)
		assert.Equal(t, "Software", contact["industry"])
	})
}

func TestStartSyncGuards(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := newSyncPipeline(st, newTestDedup(t), nil)

	t.Run("unknown session", func(t *testing.T) {
		_, err := p.StartSync(ctx, "no-such-id")
		require.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("must be enriched", func(t *testing.T) {
		session := seedSession(t, st, 1, nil)
		_, err := p.StartSync(ctx, session.ID)
		require.ErrorIs(t, err, model.ErrInvalidState)
	})
}

func TestStartSyncWithoutCRM(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	ds := newTestDedup(t)
	p := newSyncPipeline(st, ds, nil)

	session := seedEnrichedSession(t, st, []map[string]string{
		{"email": "jane@acme.com", "first_name": "Jane", "company": "Acme Corp"},
		{"email": "raj@acme.com", "first_name": "Raj", "company": "Acme Corp"},
		{"email": "lee@globex.com", "company": "Globex", "domain": "globex.com"},
		{"email": "pat@initech.io", "company": "Initech", "website": "https://www.initech.io/about"},
	})

	got, err := p.StartSync(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, got.Status)
	assert.Equal(t, 4, got.SyncedRows)
	assert.Zero(t, got.FailedRows)
	require.NotNil(t, got.CompletedAt)

	rows, err := st.ListRows(ctx, session.ID, store.RowFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows, "synced rows are deleted after completion")

	// Contacts key on email.
	jane, err := ds.Get(ctx, testAccountID, model.ObjectTypeContact, "jane@acme.com")
	require.NoError(t, err)
	assert.Equal(t, "Jane", jane.Properties["first_name"])

	// Two rows from the same company collapse into one dedup record keyed
	// on name.
	acme, err := ds.Get(ctx, testAccountID, model.ObjectTypeCompany, "acme corp")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", acme.Properties["name"])

	// A company with a domain keys on the domain instead.
	globex, err := ds.Get(ctx, testAccountID, model.ObjectTypeCompany, "globex.com")
	require.NoError(t, err)
	assert.Equal(t, "Globex", globex.Properties["name"])

	// A website-only company derives its domain so it still keys on it.
	initech, err := ds.Get(ctx, testAccountID, model.ObjectTypeCompany, "initech.io")
	require.NoError(t, err)
	assert.Equal(t, "initech.io", initech.Properties["domain"])
	assert.Equal(t, "Initech", initech.Properties["name"])
}

func TestStartSyncAppliesRules(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	ds := newTestDedup(t)
	p := newSyncPipeline(st, ds, nil)

	seeded := []model.Rule{
		{ID: "trim-company", AccountID: model.DefaultAccountID, Kind: model.RuleKindTransform,
			Fields: []string{"company"}, Op: "trim", DisplayOrder: 1, Enabled: true},
		{ID: "req-email", AccountID: model.DefaultAccountID, Kind: model.RuleKindValidate,
			Fields: []string{"email"}, Op: "required", DisplayOrder: 2, Enabled: true},
	}
	require.NoError(t, st.SaveRules(ctx, seeded))

	session := seedEnrichedSession(t, st, []map[string]string{
		{"email": "jane@acme.com", "company": "  Acme Corp  "},
		{"email": "", "company": "Globex"},
	})

	got, err := p.StartSync(ctx, session.ID)
	require.NoError(t, err, "validation failures never abort the stage")
	assert.Equal(t, model.SessionStatusCompleted, got.Status)
	assert.Equal(t, 1, got.SyncedRows)
	assert.Equal(t, 1, got.FailedRows)

	// The transform ran before the dedup key was derived.
	acme, err := ds.Get(ctx, testAccountID, model.ObjectTypeCompany, "acme corp")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", acme.Properties["name"])

	// The failed row survives for inspection; synced rows are gone.
	rows, err := st.ListRows(ctx, session.ID, store.RowFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.RowStatusFailed, rows[0].Status)
	assert.Contains(t, rows[0].ErrorMessage, "email")
}

func TestStartSyncPushesToCRM(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	ds := newTestDedup(t)

	sf := new(mockSalesforce)
	// No existing records in the CRM: lookup queries return empty sets.
	sf.On("Query", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	sf.On("InsertOne", mock.Anything, "Account", mock.MatchedBy(func(rec map[string]any) bool {
		return rec["Name"] == "Acme Corp"
	})).Return("001AC", nil)
	sf.On("InsertOne", mock.Anything, "Contact", mock.MatchedBy(func(rec map[string]any) bool {
		return rec["Email"] == "jane@acme.com" && rec["AccountId"] == "001AC"
	})).Return("003CT", nil)

	p := newSyncPipeline(st, ds, sf)
	session := seedEnrichedSession(t, st, []map[string]string{
		{"email": "jane@acme.com", "company": "Acme Corp"},
	})

	got, err := p.StartSync(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SyncedRows)
	sf.AssertExpectations(t)

	// External ids flow back into the dedup records for future updates.
	acme, err := ds.Get(ctx, testAccountID, model.ObjectTypeCompany, "acme corp")
	require.NoError(t, err)
	assert.Equal(t, "001AC", acme.ExternalID)
	require.NotNil(t, acme.SyncedAt)

	jane, err := ds.Get(ctx, testAccountID, model.ObjectTypeContact, "jane@acme.com")
	require.NoError(t, err)
	assert.Equal(t, "003CT", jane.ExternalID)
}

func TestStartSyncUpdatesKnownCRMRecords(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	ds := newTestDedup(t)

	// The company is already linked to a CRM record from an earlier session.
	_, _, err := ds.Upsert(ctx, testAccountID, model.ObjectTypeCompany,
		map[string]string{"name": "Acme Corp", "company": "Acme Corp"}, "001EXISTING")
	require.NoError(t, err)

	sf := new(mockSalesforce)
	sf.On("UpdateOne", mock.Anything, "Account", "001EXISTING", mock.Anything).Return(nil)

	p := newSyncPipeline(st, ds, sf)
	session := seedEnrichedSession(t, st, []map[string]string{
		{"company": "Acme Corp", "industry": "Manufacturing"},
	})

	got, err := p.StartSync(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SyncedRows)
	sf.AssertExpectations(t)
	sf.AssertNotCalled(t, "InsertOne", mock.Anything, mock.Anything, mock.Anything)

	acme, err := ds.Get(ctx, testAccountID, model.ObjectTypeCompany, "acme corp")
	require.NoError(t, err)
	assert.Equal(t, "Manufacturing", acme.Properties["industry"], "new fields merge into the record")
	assert.Equal(t, "001EXISTING", acme.ExternalID)
}
