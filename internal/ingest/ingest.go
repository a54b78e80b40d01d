// Package ingest turns uploaded CSV/XLSX files into sessions and rows.
package ingest

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/import-cli/internal/model"
	"github.com/sells-group/import-cli/internal/store"
)

// Ingestor creates sessions from parsed tabular data.
type Ingestor struct {
	store      store.Store
	accountID  string
	maxRetries int
}

// NewIngestor creates an Ingestor for one account.
func NewIngestor(st store.Store, accountID string, maxRetries int) *Ingestor {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Ingestor{store: st, accountID: accountID, maxRetries: maxRetries}
}

// CreateSession persists a new uploaded session with one pending row per
// record. Row indexes are assigned in file order and never change.
func (in *Ingestor) CreateSession(ctx context.Context, fileName string, header []string, records [][]string, configIDs []string) (*model.Session, error) {
	if len(header) == 0 {
		return nil, eris.New("ingest: file has no header row")
	}
	if len(records) == 0 {
		return nil, eris.New("ingest: file has no data rows")
	}

	fields := normalizeHeader(header)
	now := time.Now().UTC()

	session := &model.Session{
		ID:         uuid.NewString(),
		AccountID:  in.accountID,
		FileName:   fileName,
		TotalRows:  len(records),
		Status:     model.SessionStatusUploaded,
		ConfigIDs:  configIDs,
		MaxRetries: in.maxRetries,
		CreatedAt:  now,
		ExpiresAt:  now.Add(model.RetentionWindow),
	}

	rows := make([]model.Row, len(records))
	for i, record := range records {
		raw := make(map[string]string, len(fields))
		for j, field := range fields {
			if j < len(record) {
				raw[field] = strings.TrimSpace(record[j])
			}
		}
		rows[i] = model.Row{
			SessionID: session.ID,
			Index:     i,
			Raw:       raw,
			Status:    model.RowStatusPending,
		}
	}

	if err := in.store.CreateSession(ctx, session, rows); err != nil {
		return nil, err
	}

	zap.L().Info("session created",
		zap.String("session_id", session.ID),
		zap.String("file", fileName),
		zap.Int("rows", len(rows)),
	)
	return session, nil
}

// normalizeHeader folds header cells into stable field names: lowercased,
// trimmed, spaces collapsed to underscores. "First Name" and "first_name"
// address the same field.
func normalizeHeader(header []string) []string {
	fields := make([]string, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		h = strings.Join(strings.Fields(h), "_")
		if h == "" {
			h = "column_" + strconv.Itoa(i)
		}
		fields[i] = h
	}
	return fields
}
