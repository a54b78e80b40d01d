package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/import-cli/internal/db"
	"github.com/sells-group/import-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
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
	config_ids     JSONB,
	error_message  TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	created_at     TIMESTAMPTZ NOT NULL,
	expires_at     TIMESTAMPTZ NOT NULL,
	completed_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS session_rows (
	session_id    TEXT NOT NULL REFERENCES sessions(id),
	row_index     INTEGER NOT NULL,
	raw           JSONB NOT NULL,
	enriched      JSONB,
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
	fields        JSONB NOT NULL,
	op            TEXT NOT NULL,
	params        JSONB,
	script        TEXT,
	display_order INTEGER NOT NULL DEFAULT 0,
	enabled       BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS enrichment_configs (
	id              TEXT PRIMARY KEY,
	account_id      TEXT NOT NULL,
	name            TEXT NOT NULL,
	service         TEXT NOT NULL,
	input_fields    JSONB NOT NULL,
	output          TEXT NOT NULL,
	template        TEXT NOT NULL,
	model           TEXT,
	api_key         TEXT,
	secret_name     TEXT,
	enabled         BOOLEAN NOT NULL DEFAULT TRUE,
	execution_order INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sessions_account ON sessions(account_id, status);
CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
CREATE INDEX IF NOT EXISTS idx_rows_session_status ON session_rows(session_id, status, row_index);
CREATE INDEX IF NOT EXISTS idx_rules_account ON rules(account_id, display_order);
CREATE INDEX IF NOT EXISTS idx_configs_account ON enrichment_configs(account_id, execution_order);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, session *model.Session, rows []model.Row) error {
	configIDs, err := json.Marshal(session.ConfigIDs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal config ids")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create session")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO sessions (id, account_id, file_name, total_rows, status, config_ids, retry_count, max_retries, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		session.ID, session.AccountID, session.FileName, session.TotalRows,
		string(session.Status), string(configIDs), session.RetryCount, session.MaxRetries,
		session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return eris.Wrap(err, "postgres: insert session")
	}

	// Bulk-load rows over the COPY protocol; uploads run to six figures.
	copyRows := make([][]any, 0, len(rows))
	for i := range rows {
		rawJSON, err := json.Marshal(rows[i].Raw)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal row %d", rows[i].Index)
		}
		copyRows = append(copyRows, []any{session.ID, rows[i].Index, string(rawJSON), string(model.RowStatusPending)})
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"session_rows"},
		[]string{"session_id", "row_index", "raw", "status"},
		pgx.CopyFromRows(copyRows)); err != nil {
		return eris.Wrap(err, "postgres: copy rows")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit create session")
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, account_id, file_name, total_rows, processed_rows, enriched_rows, synced_rows, failed_rows,
		        status, config_ids, error_message, retry_count, max_retries, created_at, expires_at, completed_at
		 FROM sessions WHERE id = $1`, sessionID)
	return scanSessionPG(row)
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error) {
	query := `SELECT id, account_id, file_name, total_rows, processed_rows, enriched_rows, synced_rows, failed_rows,
	                 status, config_ids, error_message, retry_count, max_retries, created_at, expires_at, completed_at
	          FROM sessions WHERE 1=1`
	var args []any

	if filter.AccountID != "" {
		args = append(args, filter.AccountID)
		query += fmt.Sprintf(` AND account_id = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSessionPG(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, eris.Wrap(rows.Err(), "postgres: list sessions iterate")
}

func (s *PostgresStore) SetSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus, errorMessage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $1, error_message = $2 WHERE id = $3`,
		string(status), nullIfEmpty(errorMessage), sessionID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set session status %s", sessionID)
	}
	return checkTag(tag.RowsAffected(), "session", sessionID)
}

func (s *PostgresStore) MarkSessionCompleted(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $1, completed_at = now(), error_message = NULL WHERE id = $2`,
		string(model.SessionStatusCompleted), sessionID)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete session %s", sessionID)
	}
	return checkTag(tag.RowsAffected(), "session", sessionID)
}

func (s *PostgresStore) IncrementSessionRetry(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET retry_count = retry_count + 1 WHERE id = $1`, sessionID)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment retry %s", sessionID)
	}
	return checkTag(tag.RowsAffected(), "session", sessionID)
}

func (s *PostgresStore) ResetSessionCounters(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET
			processed_rows = (SELECT COUNT(*) FROM session_rows WHERE session_id = sessions.id AND status IN ('enriched', 'syncing', 'synced')),
			enriched_rows  = (SELECT COUNT(*) FROM session_rows WHERE session_id = sessions.id AND status IN ('enriched', 'syncing', 'synced')),
			synced_rows    = (SELECT COUNT(*) FROM session_rows WHERE session_id = sessions.id AND status = 'synced'),
			failed_rows    = 0
		WHERE id = $1`, sessionID)
	if err != nil {
		return eris.Wrapf(err, "postgres: reset counters %s", sessionID)
	}
	return checkTag(tag.RowsAffected(), "session", sessionID)
}

func (s *PostgresStore) GetRow(ctx context.Context, sessionID string, index int) (*model.Row, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT session_id, row_index, raw, enriched, status, contact_id, company_id, error_message
		 FROM session_rows WHERE session_id = $1 AND row_index = $2`, sessionID, index)
	return scanRowPG(row)
}

func (s *PostgresStore) ListRows(ctx context.Context, sessionID string, filter RowFilter) ([]model.Row, error) {
	query := `SELECT session_id, row_index, raw, enriched, status, contact_id, company_id, error_message
	          FROM session_rows WHERE session_id = $1`
	args := []any{sessionID}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		query += fmt.Sprintf(` AND status = ANY($%d)`, len(args))
	}
	query += ` ORDER BY row_index ASC`

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rows")
	}
	defer rows.Close()

	var result []model.Row
	for rows.Next() {
		r, err := scanRowPG(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	return result, eris.Wrap(rows.Err(), "postgres: list rows iterate")
}

func (s *PostgresStore) SetRowStatus(ctx context.Context, sessionID string, index int, status model.RowStatus, errorMessage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE session_rows SET status = $1, error_message = $2 WHERE session_id = $3 AND row_index = $4`,
		string(status), nullIfEmpty(errorMessage), sessionID, index)
	if err != nil {
		return eris.Wrapf(err, "postgres: set row status %s/%d", sessionID, index)
	}
	return checkTag(tag.RowsAffected(), "row", fmt.Sprintf("%s/%d", sessionID, index))
}

func (s *PostgresStore) CompleteRow(ctx context.Context, sessionID string, index int, enriched map[string]string, status model.RowStatus, errorMessage string, delta CounterDelta) error {
	enrichedJSON, err := json.Marshal(enriched)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal enriched")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin complete row")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE session_rows SET enriched = $1, status = $2, error_message = $3 WHERE session_id = $4 AND row_index = $5`,
		string(enrichedJSON), string(status), nullIfEmpty(errorMessage), sessionID, index)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete row %s/%d", sessionID, index)
	}
	if err := checkTag(tag.RowsAffected(), "row", fmt.Sprintf("%s/%d", sessionID, index)); err != nil {
		return err
	}

	if err := applyCounterDeltaPG(ctx, tx, sessionID, delta); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit complete row")
}

func (s *PostgresStore) MarkRowSynced(ctx context.Context, sessionID string, index int, contactID, companyID string, delta CounterDelta) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin mark synced")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE session_rows SET status = $1, contact_id = $2, company_id = $3, error_message = NULL
		 WHERE session_id = $4 AND row_index = $5`,
		string(model.RowStatusSynced), nullIfEmpty(contactID), nullIfEmpty(companyID), sessionID, index)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark row synced %s/%d", sessionID, index)
	}
	if err := checkTag(tag.RowsAffected(), "row", fmt.Sprintf("%s/%d", sessionID, index)); err != nil {
		return err
	}

	if err := applyCounterDeltaPG(ctx, tx, sessionID, delta); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit mark synced")
}

func (s *PostgresStore) BulkUpdateRowStatus(ctx context.Context, sessionID string, from []model.RowStatus, to model.RowStatus) (int64, error) {
	if len(from) == 0 {
		return 0, eris.New("postgres: bulk update requires source statuses")
	}
	statuses := make([]string, len(from))
	for i, st := range from {
		statuses[i] = string(st)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE session_rows SET status = $1 WHERE session_id = $2 AND status = ANY($3)`,
		string(to), sessionID, statuses)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: bulk update rows %s", sessionID)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteRowsByStatus(ctx context.Context, sessionID string, status model.RowStatus) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM session_rows WHERE session_id = $1 AND status = $2`,
		sessionID, string(status))
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete rows %s", sessionID)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ExpireSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin expire")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`DELETE FROM session_rows WHERE session_id IN
		   (SELECT id FROM sessions WHERE expires_at <= $1 AND status != 'expired')`, cutoff); err != nil {
		return 0, eris.Wrap(err, "postgres: expire delete rows")
	}

	tag, err := tx.Exec(ctx,
		`UPDATE sessions SET status = 'expired' WHERE expires_at <= $1 AND status != 'expired'`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: expire sessions")
	}

	return tag.RowsAffected(), eris.Wrap(tx.Commit(ctx), "postgres: commit expire")
}

func (s *PostgresStore) ListRules(ctx context.Context, accountID string) ([]model.Rule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, kind, fields, op, params, script, display_order, enabled
		 FROM rules WHERE account_id = $1 ORDER BY display_order ASC`, accountID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rules")
	}
	defer rows.Close()

	var rules []model.Rule
	for rows.Next() {
		var r model.Rule
		var fieldsJSON []byte
		var paramsJSON []byte
		var script *string
		if err := rows.Scan(&r.ID, &r.AccountID, &r.Kind, &fieldsJSON, &r.Op, &paramsJSON, &script, &r.DisplayOrder, &r.Enabled); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rule")
		}
		if err := json.Unmarshal(fieldsJSON, &r.Fields); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal rule fields")
		}
		if len(paramsJSON) > 0 {
			if err := json.Unmarshal(paramsJSON, &r.Params); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal rule params")
			}
		}
		if script != nil {
			r.Script = *script
		}
		rules = append(rules, r)
	}
	return rules, eris.Wrap(rows.Err(), "postgres: list rules iterate")
}

func (s *PostgresStore) SaveRules(ctx context.Context, rules []model.Rule) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save rules")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for i := range rules {
		r := &rules[i]
		fieldsJSON, err := json.Marshal(r.Fields)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal rule fields %s", r.ID)
		}
		var paramsJSON []byte
		if len(r.Params) > 0 {
			if paramsJSON, err = json.Marshal(r.Params); err != nil {
				return eris.Wrapf(err, "postgres: marshal rule params %s", r.ID)
			}
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO rules (id, account_id, kind, fields, op, params, script, display_order, enabled)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				kind = EXCLUDED.kind, fields = EXCLUDED.fields, op = EXCLUDED.op,
				params = EXCLUDED.params, script = EXCLUDED.script,
				display_order = EXCLUDED.display_order, enabled = EXCLUDED.enabled`,
			r.ID, r.AccountID, string(r.Kind), string(fieldsJSON), r.Op,
			nullIfEmpty(string(paramsJSON)), nullIfEmpty(r.Script), r.DisplayOrder, r.Enabled)
		if err != nil {
			return eris.Wrapf(err, "postgres: save rule %s", r.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save rules")
}

func (s *PostgresStore) ListEnrichmentConfigs(ctx context.Context, accountID string) ([]model.EnrichmentConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, name, service, input_fields, output, template, model, api_key, secret_name, enabled, execution_order
		 FROM enrichment_configs WHERE account_id = $1 ORDER BY execution_order ASC`, accountID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list configs")
	}
	defer rows.Close()

	var configs []model.EnrichmentConfig
	for rows.Next() {
		var c model.EnrichmentConfig
		var inputsJSON []byte
		var outputRaw string
		var modelID, apiKey, secretName *string
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Name, &c.Service, &inputsJSON, &outputRaw, &c.Template,
			&modelID, &apiKey, &secretName, &c.Enabled, &c.ExecutionOrder); err != nil {
			return nil, eris.Wrap(err, "postgres: scan config")
		}
		if err := json.Unmarshal(inputsJSON, &c.InputFields); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal input fields")
		}
		target, err := model.ParseOutputTarget(outputRaw)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: config %s output", c.ID)
		}
		c.Output = target
		if modelID != nil {
			c.Model = *modelID
		}
		if apiKey != nil {
			c.APIKey = *apiKey
		}
		if secretName != nil {
			c.SecretName = *secretName
		}
		configs = append(configs, c)
	}
	return configs, eris.Wrap(rows.Err(), "postgres: list configs iterate")
}

func (s *PostgresStore) SaveEnrichmentConfigs(ctx context.Context, configs []model.EnrichmentConfig) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save configs")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for i := range configs {
		c := &configs[i]
		inputsJSON, err := json.Marshal(c.InputFields)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal input fields %s", c.ID)
		}
		outputJSON, err := json.Marshal(c.Output.Fields)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal output %s", c.ID)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO enrichment_configs (id, account_id, name, service, input_fields, output, template, model, api_key, secret_name, enabled, execution_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name, service = EXCLUDED.service,
				input_fields = EXCLUDED.input_fields, output = EXCLUDED.output,
				template = EXCLUDED.template, model = EXCLUDED.model,
				api_key = EXCLUDED.api_key, secret_name = EXCLUDED.secret_name,
				enabled = EXCLUDED.enabled, execution_order = EXCLUDED.execution_order`,
			c.ID, c.AccountID, c.Name, string(c.Service), string(inputsJSON), string(outputJSON),
			c.Template, nullIfEmpty(c.Model), nullIfEmpty(c.APIKey), nullIfEmpty(c.SecretName),
			c.Enabled, c.ExecutionOrder)
		if err != nil {
			return eris.Wrapf(err, "postgres: save config %s", c.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save configs")
}

// helpers

func applyCounterDeltaPG(ctx context.Context, tx pgx.Tx, sessionID string, delta CounterDelta) error {
	if delta == (CounterDelta{}) {
		return nil
	}
	tag, err := tx.Exec(ctx,
		`UPDATE sessions SET
			processed_rows = processed_rows + $1,
			enriched_rows = enriched_rows + $2,
			synced_rows = synced_rows + $3,
			failed_rows = GREATEST(0, failed_rows + $4)
		 WHERE id = $5`,
		delta.Processed, delta.Enriched, delta.Synced, delta.Failed, sessionID)
	if err != nil {
		return eris.Wrapf(err, "postgres: apply counter delta %s", sessionID)
	}
	return checkTag(tag.RowsAffected(), "session", sessionID)
}

func checkTag(n int64, entity, id string) error {
	if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func scanSessionPG(row pgx.Row) (*model.Session, error) {
	var sess model.Session
	var configIDs []byte
	var errMsg *string
	var completedAt *time.Time

	err := row.Scan(&sess.ID, &sess.AccountID, &sess.FileName, &sess.TotalRows,
		&sess.ProcessedRows, &sess.EnrichedRows, &sess.SyncedRows, &sess.FailedRows,
		&sess.Status, &configIDs, &errMsg, &sess.RetryCount, &sess.MaxRetries,
		&sess.CreatedAt, &sess.ExpiresAt, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(model.ErrNotFound, "session")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan session")
	}

	if len(configIDs) > 0 {
		if err := json.Unmarshal(configIDs, &sess.ConfigIDs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal config ids")
		}
	}
	if errMsg != nil {
		sess.ErrorMessage = *errMsg
	}
	sess.CompletedAt = completedAt
	return &sess, nil
}

func scanRowPG(row pgx.Row) (*model.Row, error) {
	var r model.Row
	var rawJSON, enrichedJSON []byte
	var contactID, companyID, errMsg *string

	err := row.Scan(&r.SessionID, &r.Index, &rawJSON, &enrichedJSON, &r.Status, &contactID, &companyID, &errMsg)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(model.ErrNotFound, "row")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan row")
	}

	if err := json.Unmarshal(rawJSON, &r.Raw); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal raw fields")
	}
	if len(enrichedJSON) > 0 {
		if err := json.Unmarshal(enrichedJSON, &r.Enriched); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal enriched fields")
		}
	}
	if contactID != nil {
		r.ContactID = *contactID
	}
	if companyID != nil {
		r.CompanyID = *companyID
	}
	if errMsg != nil {
		r.ErrorMessage = *errMsg
	}
	return &r, nil
}
