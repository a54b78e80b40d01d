// Package pipeline drives sessions through enrichment and sync. Each stage
// is a resumable batch drain over the row store: progress is persisted
// per-row, so a crashed or abandoned session picks up where it stopped.
package pipeline

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/import-cli/internal/config"
	"github.com/sells-group/import-cli/internal/dedup"
	"github.com/sells-group/import-cli/internal/model"
	"github.com/sells-group/import-cli/internal/rules"
	"github.com/sells-group/import-cli/internal/store"
	"github.com/sells-group/import-cli/pkg/salesforce"
)

// Pipeline coordinates the enrichment and sync stages for one account.
type Pipeline struct {
	store store.Store
	dedup dedup.Store
	exec  *Executor
	rules *rules.Engine
	sf    salesforce.Client // nil disables the CRM push
	cfg   config.PipelineConfig
}

// New creates a Pipeline. sf may be nil, in which case the sync stage
// resolves records through the dedup store only.
func New(st store.Store, ds dedup.Store, exec *Executor, sf salesforce.Client, cfg config.PipelineConfig) *Pipeline {
	return &Pipeline{
		store: st,
		dedup: ds,
		exec:  exec,
		rules: rules.NewEngine(),
		sf:    sf,
		cfg:   cfg,
	}
}

// Progress returns the session record verbatim. This is the sole
// progress-polling contract callers get.
func (p *Pipeline) Progress(ctx context.Context, sessionID string) (*model.Session, error) {
	return p.store.GetSession(ctx, sessionID)
}

// StartEnrichment runs the enrichment stage for a session. The session must
// be uploaded or failed; a failed session re-enters enriching only while its
// retry budget lasts. Row failures never abort the stage: the session always
// ends enriched, with failures surfaced through the failed_rows counter.
func (p *Pipeline) StartEnrichment(ctx context.Context, sessionID string) (*model.Session, error) {
	session, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.Status {
	case model.SessionStatusUploaded:
	case model.SessionStatusFailed:
		if session.RetryCount >= session.MaxRetries {
			return nil, eris.Wrapf(model.ErrInvalidState,
				"pipeline: session %s exhausted %d retries", sessionID, session.MaxRetries)
		}
		if err := p.store.IncrementSessionRetry(ctx, sessionID); err != nil {
			return nil, err
		}
	default:
		return nil, eris.Wrapf(model.ErrInvalidState,
			"pipeline: cannot enrich session %s in status %s", sessionID, session.Status)
	}

	// Entering enriching clears any prior error message.
	if err := p.store.SetSessionStatus(ctx, sessionID, model.SessionStatusEnriching, ""); err != nil {
		return nil, err
	}
	if err := p.store.ResetSessionCounters(ctx, sessionID); err != nil {
		return nil, err
	}

	configs, err := p.sessionConfigs(ctx, session)
	if err != nil {
		return nil, err
	}

	// Enrichment is optional per session: with no enabled configs, pending
	// rows pass straight through.
	if len(configs) == 0 {
		if _, err := p.store.BulkUpdateRowStatus(ctx, sessionID,
			[]model.RowStatus{model.RowStatusPending, model.RowStatusFailed}, model.RowStatusEnriched); err != nil {
			return nil, err
		}
		if err := p.store.ResetSessionCounters(ctx, sessionID); err != nil {
			return nil, err
		}
		if err := p.store.SetSessionStatus(ctx, sessionID, model.SessionStatusEnriched, ""); err != nil {
			return nil, err
		}
		return p.store.GetSession(ctx, sessionID)
	}

	if err := p.drainEnrichment(ctx, sessionID, configs); err != nil {
		return nil, err
	}

	if err := p.store.SetSessionStatus(ctx, sessionID, model.SessionStatusEnriched, ""); err != nil {
		return nil, err
	}
	return p.store.GetSession(ctx, sessionID)
}

// drainEnrichment processes pending and failed rows in fixed-size batches
// ordered by row index. Rows that fail during this run stay in the selection
// set, so the scan offset advances past them to guarantee termination.
func (p *Pipeline) drainEnrichment(ctx context.Context, sessionID string, configs []model.EnrichmentConfig) error {
	batchSize := p.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	selectable := []model.RowStatus{model.RowStatusPending, model.RowStatusFailed}
	failedThisRun := 0

	for {
		rows, err := p.store.ListRows(ctx, sessionID, store.RowFilter{
			Statuses: selectable,
			Offset:   failedThisRun,
			Limit:    batchSize,
		})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		for i := range rows {
			if err := p.enrichRow(ctx, &rows[i], configs); err != nil {
				// Store errors escalate; the session stays resumable at
				// whatever status it last durably reached.
				return err
			}
			if rows[i].Status == model.RowStatusFailed {
				failedThisRun++
			}
		}

		// A short batch is the end-of-data signal.
		if len(rows) < batchSize {
			return nil
		}
	}
}

// enrichRow runs every config against one row and persists the outcome with
// its counter delta in one transaction. Returns an error only for store
// failures; enrichment failures are recorded on the row.
func (p *Pipeline) enrichRow(ctx context.Context, row *model.Row, configs []model.EnrichmentConfig) error {
	if err := p.store.SetRowStatus(ctx, row.SessionID, row.Index, model.RowStatusEnriching, ""); err != nil {
		return err
	}

	gathered := make(map[string]string)
	lastErr := ""

	for _, cfg := range configs {
		effective := row.Merged()
		for k, v := range gathered {
			if effective[k] == "" {
				effective[k] = v
			}
		}

		// Skip configs whose outputs are already filled; enrichment is
		// additive and re-running a session must not redo finished work.
		if outputsFilled(cfg, effective) {
			continue
		}

		result := p.exec.RunOne(ctx, cfg, effective)
		if !result.Success {
			lastErr = result.Err
			zap.L().Warn("enrichment config failed",
				zap.String("session_id", row.SessionID),
				zap.Int("row_index", row.Index),
				zap.String("config", cfg.Name),
				zap.String("error", result.Err),
			)
			continue
		}
		for k, v := range result.Values {
			if v != "" && gathered[k] == "" {
				gathered[k] = v
			}
		}
	}

	row.MergeEnriched(gathered)

	if lastErr != "" {
		row.Status = model.RowStatusFailed
		return p.store.CompleteRow(ctx, row.SessionID, row.Index, row.Enriched,
			model.RowStatusFailed, lastErr, store.CounterDelta{Processed: 1, Failed: 1})
	}

	row.Status = model.RowStatusEnriched
	return p.store.CompleteRow(ctx, row.SessionID, row.Index, row.Enriched,
		model.RowStatusEnriched, "", store.CounterDelta{Processed: 1, Enriched: 1})
}

// sessionConfigs returns the session's enabled enrichment configs in
// execution order. A session with explicit config ids is restricted to
// those; otherwise every enabled config for the account applies.
func (p *Pipeline) sessionConfigs(ctx context.Context, session *model.Session) ([]model.EnrichmentConfig, error) {
	all, err := p.store.ListEnrichmentConfigs(ctx, session.AccountID)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(session.ConfigIDs))
	for _, id := range session.ConfigIDs {
		wanted[id] = true
	}

	var configs []model.EnrichmentConfig
	for _, cfg := range all {
		if !cfg.Enabled {
			continue
		}
		if len(wanted) > 0 && !wanted[cfg.ID] {
			continue
		}
		configs = append(configs, cfg)
	}
	sort.SliceStable(configs, func(i, j int) bool {
		return configs[i].ExecutionOrder < configs[j].ExecutionOrder
	})
	return configs, nil
}

// outputsFilled reports whether every output field of the config already
// holds a non-empty value.
func outputsFilled(cfg model.EnrichmentConfig, effective map[string]string) bool {
	ids := cfg.Output.IDs()
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		if effective[id] == "" {
			return false
		}
	}
	return true
}
