package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/import-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	account_id     TEXT NOT NULL,
	file_name      TEXT NOT NULL,
	total_rows     INTEGER NOT NULL DEFAULT 0,
	processed_rows INTEGER NOT NULL DEFAULT 0,
	enriched_rows  INTEGER NOT NULL DEFAULT 0,
	synced_rows    INTEGER NOT NULL DEFAULT 0,
	failed_rows    INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'uploaded',
	config_ids     TEXT,
	error_message  TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	created_at     DATETIME NOT NULL,
	expires_at     DATETIME NOT NULL,
	completed_at   DATETIME
);

CREATE TABLE IF NOT EXISTS session_rows (
	session_id    TEXT NOT NULL REFERENCES sessions(id),
	row_index     INTEGER NOT NULL,
	raw           TEXT NOT NULL,
	enriched      TEXT,
	status        TEXT NOT NULL DEFAULT 'pending',
	contact_id    TEXT,
	company_id    TEXT,
	error_message TEXT,
	PRIMARY KEY (session_id, row_index)
);

CREATE TABLE IF NOT EXISTS rules (
	id            TEXT PRIMARY KEY,
	account_id    TEXT NOT NULL,
	kind          TEXT NOT NULL,
	fields        TEXT NOT NULL,
	op            TEXT NOT NULL,
	params        TEXT,
	script        TEXT,
	display_order INTEGER NOT NULL DEFAULT 0,
	enabled       INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS enrichment_configs (
	id              TEXT PRIMARY KEY,
	account_id      TEXT NOT NULL,
	name            TEXT NOT NULL,
	service         TEXT NOT NULL,
	input_fields    TEXT NOT NULL,
	output          TEXT NOT NULL,
	template        TEXT NOT NULL,
	model           TEXT,
	api_key         TEXT,
	secret_name     TEXT,
	enabled         INTEGER NOT NULL DEFAULT 1,
	execution_order INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_account ON sessions(account_id, status);
CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
CREATE INDEX IF NOT EXISTS idx_rows_session_status ON session_rows(session_id, status, row_index);
CREATE INDEX IF NOT EXISTS idx_rules_account ON rules(account_id, display_order);
CREATE INDEX IF NOT EXISTS idx_configs_account ON enrichment_configs(account_id, execution_order);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSession(ctx context.Context, session *model.Session, rows []model.Row) error {
	configIDs, err := json.Marshal(session.ConfigIDs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal config ids")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create session")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, account_id, file_name, total_rows, status, config_ids, retry_count, max_retries, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.AccountID, session.FileName, session.TotalRows,
		string(session.Status), string(configIDs), session.RetryCount, session.MaxRetries,
		session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert session")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO session_rows (session_id, row_index, raw, status) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare row insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i := range rows {
		rawJSON, err := json.Marshal(rows[i].Raw)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal row %d", rows[i].Index)
		}
		if _, err := stmt.ExecContext(ctx, session.ID, rows[i].Index, string(rawJSON), string(model.RowStatusPending)); err != nil {
			return eris.Wrapf(err, "sqlite: insert row %d", rows[i].Index)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit create session")
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, file_name, total_rows, processed_rows, enriched_rows, synced_rows, failed_rows,
		        status, config_ids, error_message, retry_count, max_retries, created_at, expires_at, completed_at
		 FROM sessions WHERE id = ?`, sessionID)
	return scanSession(row)
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error) {
	query := `SELECT id, account_id, file_name, total_rows, processed_rows, enriched_rows, synced_rows, failed_rows,
	                 status, config_ids, error_message, retry_count, max_retries, created_at, expires_at, completed_at
	          FROM sessions WHERE 1=1`
	var args []any

	if filter.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, filter.AccountID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close() //nolint:errcheck

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, eris.Wrap(rows.Err(), "sqlite: list sessions iterate")
}

func (s *SQLiteStore) SetSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus, errorMessage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, error_message = ? WHERE id = ?`,
		string(status), nullIfEmpty(errorMessage), sessionID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set session status %s", sessionID)
	}
	return checkRowsAffected(res, "session", sessionID)
}

func (s *SQLiteStore) MarkSessionCompleted(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, completed_at = ?, error_message = NULL WHERE id = ?`,
		string(model.SessionStatusCompleted), time.Now().UTC(), sessionID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete session %s", sessionID)
	}
	return checkRowsAffected(res, "session", sessionID)
}

func (s *SQLiteStore) IncrementSessionRetry(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET retry_count = retry_count + 1 WHERE id = ?`, sessionID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment retry %s", sessionID)
	}
	return checkRowsAffected(res, "session", sessionID)
}

func (s *SQLiteStore) ResetSessionCounters(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			processed_rows = (SELECT COUNT(*) FROM session_rows WHERE session_id = sessions.id AND status IN ('enriched', 'syncing', 'synced')),
			enriched_rows  = (SELECT COUNT(*) FROM session_rows WHERE session_id = sessions.id AND status IN ('enriched', 'syncing', 'synced')),
			synced_rows    = (SELECT COUNT(*) FROM session_rows WHERE session_id = sessions.id AND status = 'synced'),
			failed_rows    = 0
		WHERE id = ?`, sessionID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reset counters %s", sessionID)
	}
	return checkRowsAffected(res, "session", sessionID)
}

func (s *SQLiteStore) GetRow(ctx context.Context, sessionID string, index int) (*model.Row, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, row_index, raw, enriched, status, contact_id, company_id, error_message
		 FROM session_rows WHERE session_id = ? AND row_index = ?`, sessionID, index)
	return scanRow(row)
}

func (s *SQLiteStore) ListRows(ctx context.Context, sessionID string, filter RowFilter) ([]model.Row, error) {
	query := `SELECT session_id, row_index, raw, enriched, status, contact_id, company_id, error_message
	          FROM session_rows WHERE session_id = ?`
	args := []any{sessionID}

	if len(filter.Statuses) > 0 {
		placeholders := strings.Repeat("?,", len(filter.Statuses))
		query += fmt.Sprintf(` AND status IN (%s)`, placeholders[:len(placeholders)-1])
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY row_index ASC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rows")
	}
	defer rows.Close() //nolint:errcheck

	var result []model.Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	return result, eris.Wrap(rows.Err(), "sqlite: list rows iterate")
}

func (s *SQLiteStore) SetRowStatus(ctx context.Context, sessionID string, index int, status model.RowStatus, errorMessage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE session_rows SET status = ?, error_message = ? WHERE session_id = ? AND row_index = ?`,
		string(status), nullIfEmpty(errorMessage), sessionID, index)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set row status %s/%d", sessionID, index)
	}
	return checkRowsAffected(res, "row", fmt.Sprintf("%s/%d", sessionID, index))
}

func (s *SQLiteStore) CompleteRow(ctx context.Context, sessionID string, index int, enriched map[string]string, status model.RowStatus, errorMessage string, delta CounterDelta) error {
	enrichedJSON, err := json.Marshal(enriched)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal enriched")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin complete row")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE session_rows SET enriched = ?, status = ?, error_message = ? WHERE session_id = ? AND row_index = ?`,
		string(enrichedJSON), string(status), nullIfEmpty(errorMessage), sessionID, index)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete row %s/%d", sessionID, index)
	}
	if err := checkRowsAffected(res, "row", fmt.Sprintf("%s/%d", sessionID, index)); err != nil {
		return err
	}

	if err := applyCounterDelta(ctx, tx, sessionID, delta); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit complete row")
}

func (s *SQLiteStore) MarkRowSynced(ctx context.Context, sessionID string, index int, contactID, companyID string, delta CounterDelta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin mark synced")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE session_rows SET status = ?, contact_id = ?, company_id = ?, error_message = NULL
		 WHERE session_id = ? AND row_index = ?`,
		string(model.RowStatusSynced), nullIfEmpty(contactID), nullIfEmpty(companyID), sessionID, index)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark row synced %s/%d", sessionID, index)
	}
	if err := checkRowsAffected(res, "row", fmt.Sprintf("%s/%d", sessionID, index)); err != nil {
		return err
	}

	if err := applyCounterDelta(ctx, tx, sessionID, delta); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit mark synced")
}

func (s *SQLiteStore) BulkUpdateRowStatus(ctx context.Context, sessionID string, from []model.RowStatus, to model.RowStatus) (int64, error) {
	if len(from) == 0 {
		return 0, eris.New("sqlite: bulk update requires source statuses")
	}
	placeholders := strings.Repeat("?,", len(from))
	query := fmt.Sprintf(
		`UPDATE session_rows SET status = ? WHERE session_id = ? AND status IN (%s)`,
		placeholders[:len(placeholders)-1])

	args := []any{string(to), sessionID}
	for _, st := range from {
		args = append(args, string(st))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: bulk update rows %s", sessionID)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: bulk update rows affected")
}

func (s *SQLiteStore) DeleteRowsByStatus(ctx context.Context, sessionID string, status model.RowStatus) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session_rows WHERE session_id = ? AND status = ?`,
		sessionID, string(status))
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete rows %s", sessionID)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: delete rows affected")
}

func (s *SQLiteStore) ExpireSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin expire")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM session_rows WHERE session_id IN
		   (SELECT id FROM sessions WHERE expires_at <= ? AND status != 'expired')`, cutoff); err != nil {
		return 0, eris.Wrap(err, "sqlite: expire delete rows")
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status = 'expired' WHERE expires_at <= ? AND status != 'expired'`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: expire sessions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: expire rows affected")
	}

	return n, eris.Wrap(tx.Commit(), "sqlite: commit expire")
}

func (s *SQLiteStore) ListRules(ctx context.Context, accountID string) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, kind, fields, op, params, script, display_order, enabled
		 FROM rules WHERE account_id = ? ORDER BY display_order ASC`, accountID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rules")
	}
	defer rows.Close() //nolint:errcheck

	var rules []model.Rule
	for rows.Next() {
		var r model.Rule
		var fieldsJSON string
		var paramsJSON, script sql.NullString
		if err := rows.Scan(&r.ID, &r.AccountID, &r.Kind, &fieldsJSON, &r.Op, &paramsJSON, &script, &r.DisplayOrder, &r.Enabled); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rule")
		}
		if err := json.Unmarshal([]byte(fieldsJSON), &r.Fields); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal rule fields")
		}
		if paramsJSON.Valid && paramsJSON.String != "" {
			if err := json.Unmarshal([]byte(paramsJSON.String), &r.Params); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal rule params")
			}
		}
		r.Script = script.String
		rules = append(rules, r)
	}
	return rules, eris.Wrap(rows.Err(), "sqlite: list rules iterate")
}

func (s *SQLiteStore) SaveRules(ctx context.Context, rules []model.Rule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save rules")
	}
	defer tx.Rollback() //nolint:errcheck

	for i := range rules {
		r := &rules[i]
		fieldsJSON, err := json.Marshal(r.Fields)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal rule fields %s", r.ID)
		}
		var paramsJSON []byte
		if len(r.Params) > 0 {
			if paramsJSON, err = json.Marshal(r.Params); err != nil {
				return eris.Wrapf(err, "sqlite: marshal rule params %s", r.ID)
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO rules (id, account_id, kind, fields, op, params, script, display_order, enabled)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				kind = excluded.kind, fields = excluded.fields, op = excluded.op,
				params = excluded.params, script = excluded.script,
				display_order = excluded.display_order, enabled = excluded.enabled`,
			r.ID, r.AccountID, string(r.Kind), string(fieldsJSON), r.Op,
			nullIfEmpty(string(paramsJSON)), nullIfEmpty(r.Script), r.DisplayOrder, r.Enabled)
		if err != nil {
			return eris.Wrapf(err, "sqlite: save rule %s", r.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save rules")
}

func (s *SQLiteStore) ListEnrichmentConfigs(ctx context.Context, accountID string) ([]model.EnrichmentConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, name, service, input_fields, output, template, model, api_key, secret_name, enabled, execution_order
		 FROM enrichment_configs WHERE account_id = ? ORDER BY execution_order ASC`, accountID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list configs")
	}
	defer rows.Close() //nolint:errcheck

	var configs []model.EnrichmentConfig
	for rows.Next() {
		var c model.EnrichmentConfig
		var inputsJSON, outputRaw string
		var modelID, apiKey, secretName sql.NullString
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Name, &c.Service, &inputsJSON, &outputRaw, &c.Template,
			&modelID, &apiKey, &secretName, &c.Enabled, &c.ExecutionOrder); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan config")
		}
		if err := json.Unmarshal([]byte(inputsJSON), &c.InputFields); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal input fields")
		}
		// Legacy configs carry a bare field id here; normalize once at load.
		target, err := model.ParseOutputTarget(outputRaw)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: config %s output", c.ID)
		}
		c.Output = target
		c.Model = modelID.String
		c.APIKey = apiKey.String
		c.SecretName = secretName.String
		configs = append(configs, c)
	}
	return configs, eris.Wrap(rows.Err(), "sqlite: list configs iterate")
}

func (s *SQLiteStore) SaveEnrichmentConfigs(ctx context.Context, configs []model.EnrichmentConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save configs")
	}
	defer tx.Rollback() //nolint:errcheck

	for i := range configs {
		c := &configs[i]
		inputsJSON, err := json.Marshal(c.InputFields)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal input fields %s", c.ID)
		}
		outputJSON, err := json.Marshal(c.Output.Fields)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal output %s", c.ID)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO enrichment_configs (id, account_id, name, service, input_fields, output, template, model, api_key, secret_name, enabled, execution_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name, service = excluded.service,
				input_fields = excluded.input_fields, output = excluded.output,
				template = excluded.template, model = excluded.model,
				api_key = excluded.api_key, secret_name = excluded.secret_name,
				enabled = excluded.enabled, execution_order = excluded.execution_order`,
			c.ID, c.AccountID, c.Name, string(c.Service), string(inputsJSON), string(outputJSON),
			c.Template, nullIfEmpty(c.Model), nullIfEmpty(c.APIKey), nullIfEmpty(c.SecretName),
			c.Enabled, c.ExecutionOrder)
		if err != nil {
			return eris.Wrapf(err, "sqlite: save config %s", c.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save configs")
}

// helpers

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func applyCounterDelta(ctx context.Context, tx execer, sessionID string, delta CounterDelta) error {
	if delta == (CounterDelta{}) {
		return nil
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET
			processed_rows = processed_rows + ?,
			enriched_rows = enriched_rows + ?,
			synced_rows = synced_rows + ?,
			failed_rows = MAX(0, failed_rows + ?)
		 WHERE id = ?`,
		delta.Processed, delta.Enriched, delta.Synced, delta.Failed, sessionID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: apply counter delta %s", sessionID)
	}
	return checkRowsAffected(res, "session", sessionID)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*model.Session, error) {
	var sess model.Session
	var configIDs, errMsg sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&sess.ID, &sess.AccountID, &sess.FileName, &sess.TotalRows,
		&sess.ProcessedRows, &sess.EnrichedRows, &sess.SyncedRows, &sess.FailedRows,
		&sess.Status, &configIDs, &errMsg, &sess.RetryCount, &sess.MaxRetries,
		&sess.CreatedAt, &sess.ExpiresAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(model.ErrNotFound, "session")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan session")
	}

	if configIDs.Valid && configIDs.String != "" {
		if err := json.Unmarshal([]byte(configIDs.String), &sess.ConfigIDs); err != nil {
			return nil, eris.Wrap(err, "unmarshal config ids")
		}
	}
	sess.ErrorMessage = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		sess.CompletedAt = &t
	}
	return &sess, nil
}

func scanRow(row scannable) (*model.Row, error) {
	var r model.Row
	var rawJSON string
	var enrichedJSON, contactID, companyID, errMsg sql.NullString

	err := row.Scan(&r.SessionID, &r.Index, &rawJSON, &enrichedJSON, &r.Status, &contactID, &companyID, &errMsg)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(model.ErrNotFound, "row")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan row")
	}

	if err := json.Unmarshal([]byte(rawJSON), &r.Raw); err != nil {
		return nil, eris.Wrap(err, "unmarshal raw fields")
	}
	if enrichedJSON.Valid && enrichedJSON.String != "" {
		if err := json.Unmarshal([]byte(enrichedJSON.String), &r.Enriched); err != nil {
			return nil, eris.Wrap(err, "unmarshal enriched fields")
		}
	}
	r.ContactID = contactID.String
	r.CompanyID = companyID.String
	r.ErrorMessage = errMsg.String
	return &r, nil
}
