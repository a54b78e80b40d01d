package pipeline

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/import-cli/internal/model"
	"github.com/sells-group/import-cli/internal/rules"
	"github.com/sells-group/import-cli/internal/store"
	"github.com/sells-group/import-cli/pkg/salesforce"
)

// contactFields maps row field names to Salesforce Contact fields.
var contactFields = map[string]string{
	"email":      "Email",
	"first_name": "FirstName",
	"last_name":  "LastName",
	"title":      "Title",
	"phone":      "Phone",
}

// companyFields maps row field names to Salesforce Account fields.
var companyFields = map[string]string{
	"company":      "Name",
	"company_name": "Name",
	"domain":       "Website",
	"website":      "Website",
	"industry":     "Industry",
}

// StartSync runs the sync stage: per-field rule passes, dedup upsert, CRM
// push, and post-sync row cleanup. The session must be enriched. Like
// enrichment, row failures are local; the session completes with failures
// surfaced through counters.
func (p *Pipeline) StartSync(ctx context.Context, sessionID string) (*model.Session, error) {
	session, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != model.SessionStatusEnriched {
		return nil, eris.Wrapf(model.ErrInvalidState,
			"pipeline: cannot sync session %s in status %s", sessionID, session.Status)
	}

	if err := p.store.SetSessionStatus(ctx, sessionID, model.SessionStatusSyncing, ""); err != nil {
		return nil, err
	}

	accountRules, err := rules.NewLoader(p.store).Load(ctx, session.AccountID)
	if err != nil {
		return nil, err
	}

	if err := p.drainSync(ctx, session, accountRules); err != nil {
		return nil, err
	}

	// Synced rows have served their purpose; drop them so the row table
	// stays bounded at steady state.
	if _, err := p.store.DeleteRowsByStatus(ctx, sessionID, model.RowStatusSynced); err != nil {
		return nil, err
	}
	if err := p.store.MarkSessionCompleted(ctx, sessionID); err != nil {
		return nil, err
	}
	return p.store.GetSession(ctx, sessionID)
}

func (p *Pipeline) drainSync(ctx context.Context, session *model.Session, accountRules []model.Rule) error {
	batchSize := p.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	failedThisRun := 0
	for {
		rows, err := p.store.ListRows(ctx, session.ID, store.RowFilter{
			Statuses: []model.RowStatus{model.RowStatusEnriched},
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
			failed, err := p.syncRow(ctx, session.AccountID, &rows[i], accountRules)
			if err != nil {
				return err
			}
			if failed {
				failedThisRun++
			}
		}

		if len(rows) < batchSize {
			return nil
		}
	}
}

// syncRow applies the rule passes, resolves dedup records, and pushes to the
// CRM. Returns failed=true when the row was marked failed; err is reserved
// for store failures that must escalate.
func (p *Pipeline) syncRow(ctx context.Context, accountID string, row *model.Row, accountRules []model.Rule) (failed bool, err error) {
	if err := p.store.SetRowStatus(ctx, row.SessionID, row.Index, model.RowStatusSyncing, ""); err != nil {
		return false, err
	}

	record, invalid := p.applyRules(row, accountRules)
	if invalid != "" {
		return true, p.store.CompleteRow(ctx, row.SessionID, row.Index, row.Enriched,
			model.RowStatusFailed, invalid, store.CounterDelta{Failed: 1})
	}

	contactID, companyID, syncErr := p.pushRecord(ctx, accountID, record)
	if syncErr != nil {
		zap.L().Warn("row sync failed",
			zap.String("session_id", row.SessionID),
			zap.Int("row_index", row.Index),
			zap.Error(syncErr),
		)
		return true, p.store.CompleteRow(ctx, row.SessionID, row.Index, row.Enriched,
			model.RowStatusFailed, syncErr.Error(), store.CounterDelta{Failed: 1})
	}

	return false, p.store.MarkRowSynced(ctx, row.SessionID, row.Index, contactID, companyID,
		store.CounterDelta{Synced: 1})
}

// applyRules runs the transform pass then the validate pass for every field,
// in deterministic field order. Returns the transformed record and the first
// validation failure message, if any.
func (p *Pipeline) applyRules(row *model.Row, accountRules []model.Rule) (map[string]string, string) {
	record := row.Merged()

	fields := make([]string, 0, len(record))
	for f := range record {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	// Transforms run strictly before validators: a later transform may
	// change what a validator sees.
	for _, f := range fields {
		record[f] = p.rules.ApplyTransforms(accountRules, f, record[f], record)
	}
	for _, f := range fields {
		for _, outcome := range p.rules.ApplyValidators(accountRules, f, record[f], record) {
			if !outcome.Valid {
				msg := outcome.Message
				if msg == "" {
					msg = "validation failed for field " + f
				}
				return record, msg
			}
		}
	}
	return record, ""
}

// pushRecord upserts the row's company and contact through the dedup store
// and, when configured, Salesforce. The company is pushed first so the
// contact can link to it.
func (p *Pipeline) pushRecord(ctx context.Context, accountID string, record map[string]string) (contactID, companyID string, err error) {
	contactProps, companyProps := splitRecord(record)

	if len(companyProps) > 0 {
		companyID, err = p.pushCompany(ctx, accountID, companyProps)
		if err != nil {
			return "", "", err
		}
	}
	if contactProps["email"] != "" {
		contactID, err = p.pushContact(ctx, accountID, contactProps, companyID)
		if err != nil {
			return "", "", err
		}
	}
	return contactID, companyID, nil
}

func (p *Pipeline) pushCompany(ctx context.Context, accountID string, props map[string]string) (string, error) {
	rec, _, err := p.dedup.Upsert(ctx, accountID, model.ObjectTypeCompany, props, "")
	if err != nil {
		return "", err
	}
	if p.sf == nil {
		return rec.ExternalID, nil
	}
	if rec.ExternalID != "" {
		// Already in the CRM; refresh its fields.
		if err := p.sf.UpdateOne(ctx, "Account", rec.ExternalID, sfFields(rec.Properties, companyFields)); err != nil {
			return "", err
		}
		return rec.ExternalID, nil
	}

	name := rec.Properties["name"]
	if name == "" {
		name = rec.Properties["company"]
	}
	extID, err := salesforce.UpsertAccount(ctx, p.sf, name, sfFields(rec.Properties, companyFields))
	if err != nil {
		return "", err
	}
	if _, _, err := p.dedup.Upsert(ctx, accountID, model.ObjectTypeCompany, rec.Properties, extID); err != nil {
		return "", err
	}
	return extID, nil
}

func (p *Pipeline) pushContact(ctx context.Context, accountID string, props map[string]string, companyExtID string) (string, error) {
	rec, _, err := p.dedup.Upsert(ctx, accountID, model.ObjectTypeContact, props, "")
	if err != nil {
		return "", err
	}
	if p.sf == nil {
		return rec.ExternalID, nil
	}
	if rec.ExternalID != "" {
		if err := p.sf.UpdateOne(ctx, "Contact", rec.ExternalID, sfFields(rec.Properties, contactFields)); err != nil {
			return "", err
		}
		return rec.ExternalID, nil
	}

	extID, err := salesforce.UpsertContact(ctx, p.sf, rec.Properties["email"], companyExtID, sfFields(rec.Properties, contactFields))
	if err != nil {
		return "", err
	}
	if _, _, err := p.dedup.Upsert(ctx, accountID, model.ObjectTypeContact, rec.Properties, extID); err != nil {
		return "", err
	}
	return extID, nil
}

// splitRecord partitions a row's fields into contact and company property
// sets by field name. Unknown fields ride along with the contact so nothing
// enriched is silently dropped.
func splitRecord(record map[string]string) (contactProps, companyProps map[string]string) {
	contactProps = make(map[string]string)
	companyProps = make(map[string]string)
	for k, v := range record {
		if v == "" {
			continue
		}
		key := strings.ToLower(k)
		if _, ok := companyFields[key]; ok {
			companyProps[key] = v
			// The company name doubles as the dedup fallback key.
			if key == "company" || key == "company_name" {
				companyProps["name"] = v
			}
			continue
		}
		contactProps[key] = v
	}
	// Dedup keys on domain, so a website-only row must still yield one.
	if companyProps["domain"] == "" && companyProps["website"] != "" {
		if host := hostnameOf(companyProps["website"]); host != "" {
			companyProps["domain"] = host
		}
	}
	if len(companyProps) > 0 && companyProps["name"] == "" && companyProps["domain"] == "" && companyProps["website"] == "" {
		// Industry alone is not enough to identify a company.
		for k, v := range companyProps {
			contactProps[k] = v
		}
		companyProps = map[string]string{}
	}
	return contactProps, companyProps
}

// sfFields maps internal property names onto CRM field names, keeping only
// mapped fields.
func sfFields(props map[string]string, mapping map[string]string) map[string]any {
	out := make(map[string]any)
	for k, v := range props {
		if sfName, ok := mapping[k]; ok && v != "" {
			out[sfName] = v
		}
	}
	return out
}
