package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
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
	"github.com/sells-group/import-cli/pkg/anthropic"
	"github.com/sells-group/import-cli/pkg/serp"
)

const testAccountID = "acct-test"

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestDedup(t *testing.T) *dedup.SQLiteStore {
	t.Helper()
	ds, err := dedup.NewSQLite(filepath.Join(t.TempDir(), "dedup.db"))
	require.NoError(t, err)
	require.NoError(t, ds.Migrate(context.Background()))
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

// seedSession creates an uploaded session with n pending rows. Each row
// carries company and email fields derived from its index.
func seedSession(t *testing.T, st store.Store, n int, configIDs []string) *model.Session {
	t.Helper()
	now := time.Now().UTC()
	session := &model.Session{
		ID:         uuid.NewString(),
		AccountID:  testAccountID,
		FileName:   "upload.csv",
		TotalRows:  n,
		Status:     model.SessionStatusUploaded,
		ConfigIDs:  configIDs,
		MaxRetries: 3,
		CreatedAt:  now,
		ExpiresAt:  now.Add(model.RetentionWindow),
	}
	rows := make([]model.Row, n)
	for i := range rows {
		rows[i] = model.Row{
			SessionID: session.ID,
			Index:     i,
			Status:    model.RowStatusPending,
			Raw: map[string]string{
				"company": fmt.Sprintf("Company %d", i),
				"email":   fmt.Sprintf("user%d@example.com", i),
			},
		}
	}
	require.NoError(t, st.CreateSession(context.Background(), session, rows))
	return session
}

func aiConfig(id, name, template, output string, order int) model.EnrichmentConfig {
	return model.EnrichmentConfig{
		ID:             id,
		AccountID:      testAccountID,
		Name:           name,
		Service:        model.ServiceAIModel,
		InputFields:    []string{"company"},
		Output:         singleOutput(output),
		Template:       template,
		Enabled:        true,
		ExecutionOrder: order,
	}
}

func newEnrichPipeline(st store.Store, ai *mockCompletionClient) *Pipeline {
	exec := NewExecutor(
		func(string) anthropic.Client { return ai },
		func(string) serp.Client { return nil },
		staticSecrets{"ANTHROPIC_API_KEY": "k", "SERP_API_KEY": "k"},
		ExecutorOptions{StepDelay: time.Millisecond, DefaultModel: "test-model"},
	)
	return New(st, nil, exec, nil, config.PipelineConfig{BatchSize: 50, MaxRetries: 3})
}

func TestStartEnrichmentGuards(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := newEnrichPipeline(st, new(mockCompletionClient))

	t.Run("unknown session", func(t *testing.T) {
		_, err := p.StartEnrichment(ctx, uuid.NewString())
		require.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("wrong status", func(t *testing.T) {
		session := seedSession(t, st, 1, nil)
		require.NoError(t, st.SetSessionStatus(ctx, session.ID, model.SessionStatusEnriched, ""))
		_, err := p.StartEnrichment(ctx, session.ID)
		require.ErrorIs(t, err, model.ErrInvalidState)
	})

	t.Run("exhausted retry budget", func(t *testing.T) {
		session := seedSession(t, st, 1, nil)
		require.NoError(t, st.SetSessionStatus(ctx, session.ID, model.SessionStatusFailed, "boom"))
		for i := 0; i < 3; i++ {
			require.NoError(t, st.IncrementSessionRetry(ctx, session.ID))
		}
		_, err := p.StartEnrichment(ctx, session.ID)
		require.ErrorIs(t, err, model.ErrInvalidState)
	})
}

func TestStartEnrichmentNoConfigs(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := newEnrichPipeline(st, new(mockCompletionClient))

	session := seedSession(t, st, 4, nil)
	got, err := p.StartEnrichment(ctx, session.ID)
	require.NoError(t, err)

	assert.Equal(t, model.SessionStatusEnriched, got.Status)
	assert.Equal(t, 4, got.ProcessedRows)
	assert.Equal(t, 4, got.EnrichedRows)
	assert.Zero(t, got.FailedRows)

	rows, err := st.ListRows(ctx, session.ID, store.RowFilter{})
	require.NoError(t, err)
	for _, r := range rows {
		assert.Equal(t, model.RowStatusEnriched, r.Status, "rows pass through untouched")
		assert.Empty(t, r.Enriched)
	}
}

func TestStartEnrichmentHappyPath(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	cfg := aiConfig("cfg-industry", "industry", "Industry of [company]?", "industry", 1)
	require.NoError(t, st.SaveEnrichmentConfigs(ctx, []model.EnrichmentConfig{cfg}))

	ai := new(mockCompletionClient)
	ai.On("Complete", mock.Anything, mock.Anything).Return(&anthropic.CompletionResponse{Text: "Widgets"}, nil)

	p := newEnrichPipeline(st, ai)
	session := seedSession(t, st, 3, nil)

	got, err := p.StartEnrichment(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusEnriched, got.Status)
	assert.Equal(t, 3, got.ProcessedRows)
	assert.Equal(t, 3, got.EnrichedRows)
	assert.Zero(t, got.FailedRows)
	ai.AssertNumberOfCalls(t, "Complete", 3)

	row, err := st.GetRow(ctx, session.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "Widgets", row.Enriched["industry"])
	assert.Equal(t, "Company 0", row.Raw["company"], "raw values are never rewritten")
}

func TestStartEnrichmentBestEffort(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	cfg := aiConfig("cfg-industry", "industry", "Industry of [company]?", "industry", 1)
	require.NoError(t, st.SaveEnrichmentConfigs(ctx, []model.EnrichmentConfig{cfg}))

	// Row 1 poisons its prompt; every other row succeeds.
	ai := new(mockCompletionClient)
	ai.On("Complete", mock.Anything, mock.MatchedBy(func(req anthropic.CompletionRequest) bool {
		return strings.Contains(req.Prompt, "Company 1")
	})).Return(nil, errors.New("invalid request"))
	ai.On("Complete", mock.Anything, mock.Anything).Return(&anthropic.CompletionResponse{Text: "Widgets"}, nil)

	p := newEnrichPipeline(st, ai)
	session := seedSession(t, st, 3, nil)

	got, err := p.StartEnrichment(ctx, session.ID)
	require.NoError(t, err, "row failures never abort the stage")
	assert.Equal(t, model.SessionStatusEnriched, got.Status)
	assert.Equal(t, 3, got.ProcessedRows)
	assert.Equal(t, 2, got.EnrichedRows)
	assert.Equal(t, 1, got.FailedRows)

	failed, err := st.GetRow(ctx, session.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, model.RowStatusFailed, failed.Status)
	assert.Contains(t, failed.ErrorMessage, "invalid request")

	t.Run("failed session retries only unfinished rows", func(t *testing.T) {
		require.NoError(t, st.SetSessionStatus(ctx, session.ID, model.SessionStatusFailed, "operator retry"))

		retry := new(mockCompletionClient)
		retry.On("Complete", mock.Anything, mock.Anything).Return(&anthropic.CompletionResponse{Text: "Widgets"}, nil)
		p2 := newEnrichPipeline(st, retry)

		got, err := p2.StartEnrichment(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionStatusEnriched, got.Status)
		assert.Equal(t, 3, got.ProcessedRows)
		assert.Equal(t, 3, got.EnrichedRows)
		assert.Zero(t, got.FailedRows, "retry pass clears the failed count")
		assert.Equal(t, 1, got.RetryCount)
		assert.Empty(t, got.ErrorMessage, "entering enriching clears the error")
		retry.AssertNumberOfCalls(t, "Complete", 1)
	})
}

func TestStartEnrichmentSkipsFilledOutputs(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	cfg := aiConfig("cfg-industry", "industry", "Industry of [company]?", "industry", 1)
	require.NoError(t, st.SaveEnrichmentConfigs(ctx, []model.EnrichmentConfig{cfg}))

	ai := new(mockCompletionClient)
	ai.On("Complete", mock.Anything, mock.Anything).Return(&anthropic.CompletionResponse{Text: "Widgets"}, nil)
	p := newEnrichPipeline(st, ai)

	session := seedSession(t, st, 3, nil)
	// Rows 0 and 2 already carry the output value from the upload itself.
	for _, idx := range []int{0, 2} {
		require.NoError(t, st.CompleteRow(ctx, session.ID, idx,
			map[string]string{"industry": "Pre-known"}, model.RowStatusPending, "", store.CounterDelta{}))
	}

	got, err := p.StartEnrichment(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.EnrichedRows)
	ai.AssertNumberOfCalls(t, "Complete", 1)

	row, err := st.GetRow(ctx, session.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "Pre-known", row.Enriched["industry"], "existing values are never overwritten")
}

func TestStartEnrichmentConfigOrdering(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	// Stored out of execution order on purpose; the summary step consumes
	// the industry step's output.
	configs := []model.EnrichmentConfig{
		aiConfig("cfg-summary", "summary", "Summarize a [industry] company", "summary", 2),
		aiConfig("cfg-industry", "industry", "Industry of [company]?", "industry", 1),
	}
	require.NoError(t, st.SaveEnrichmentConfigs(ctx, configs))

	ai := new(mockCompletionClient)
	ai.On("Complete", mock.Anything, mock.MatchedBy(func(req anthropic.CompletionRequest) bool {
		return strings.HasPrefix(req.Prompt, "Industry of")
	})).Return(&anthropic.CompletionResponse{Text: "Widgets"}, nil)
	ai.On("Complete", mock.Anything, mock.MatchedBy(func(req anthropic.CompletionRequest) bool {
		return req.Prompt == "Summarize a Widgets company"
	})).Return(&anthropic.CompletionResponse{Text: "A widget maker."}, nil).Once()

	p := newEnrichPipeline(st, ai)
	session := seedSession(t, st, 1, nil)

	_, err := p.StartEnrichment(ctx, session.ID)
	require.NoError(t, err)

	row, err := st.GetRow(ctx, session.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "Widgets", row.Enriched["industry"])
	assert.Equal(t, "A widget maker.", row.Enriched["summary"], "later steps see earlier step outputs")
}

func TestStartEnrichmentSessionConfigSelection(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	disabled := aiConfig("cfg-off", "off", "never [company]", "never", 1)
	disabled.Enabled = false
	configs := []model.EnrichmentConfig{
		disabled,
		aiConfig("cfg-industry", "industry", "Industry of [company]?", "industry", 2),
		aiConfig("cfg-summary", "summary", "Summarize [company]", "summary", 3),
	}
	require.NoError(t, st.SaveEnrichmentConfigs(ctx, configs))

	ai := new(mockCompletionClient)
	ai.On("Complete", mock.Anything, mock.MatchedBy(func(req anthropic.CompletionRequest) bool {
		return strings.HasPrefix(req.Prompt, "Industry of")
	})).Return(&anthropic.CompletionResponse{Text: "Widgets"}, nil)

	p := newEnrichPipeline(st, ai)
	// Session explicitly restricted to the industry config.
	session := seedSession(t, st, 1, []string{"cfg-industry"})

	_, err := p.StartEnrichment(ctx, session.ID)
	require.NoError(t, err)
	ai.AssertNumberOfCalls(t, "Complete", 1)

	row, err := st.GetRow(ctx, session.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, row.Enriched["summary"])
}

func TestStartEnrichmentResumesPartialSession(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	cfg := aiConfig("cfg-industry", "industry", "Industry of [company]?", "industry", 1)
	require.NoError(t, st.SaveEnrichmentConfigs(ctx, []model.EnrichmentConfig{cfg}))

	ai := new(mockCompletionClient)
	ai.On("Complete", mock.Anything, mock.Anything).Return(&anthropic.CompletionResponse{Text: "Widgets"}, nil)
	p := newEnrichPipeline(st, ai)

	// 120 rows; the first 50 already finished in an interrupted earlier run.
	session := seedSession(t, st, 120, nil)
	for i := 0; i < 50; i++ {
		require.NoError(t, st.CompleteRow(ctx, session.ID, i,
			map[string]string{"industry": "Widgets"}, model.RowStatusEnriched, "", store.CounterDelta{}))
	}

	got, err := p.StartEnrichment(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusEnriched, got.Status)
	assert.Equal(t, 120, got.ProcessedRows)
	assert.Equal(t, 120, got.EnrichedRows)
	ai.AssertNumberOfCalls(t, "Complete", 70)
}
