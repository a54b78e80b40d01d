package dedup

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/import-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. The merge runs in
// application code inside a transaction; the unique index still backstops
// concurrent upserts, with the insert conflict retried as an update.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite-backed dedup store.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "dedup: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "dedup: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS dedup_records (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL,
	object_type TEXT NOT NULL,
	dedup_key   TEXT,
	properties  TEXT NOT NULL,
	external_id TEXT,
	synced_at   DATETIME,
	expires_at  DATETIME NOT NULL,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_dedup_key
	ON dedup_records(account_id, object_type, dedup_key)
	WHERE dedup_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_dedup_expires ON dedup_records(account_id, expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "dedup: migrate sqlite")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Upsert(ctx context.Context, accountID string, objectType model.ObjectType, properties map[string]string, externalID string) (*model.DedupRecord, Action, error) {
	key := DeriveKey(objectType, properties)
	now := time.Now().UTC()

	if key == "" {
		// No natural key: merging would be unsafe, always create.
		rec, err := s.insert(ctx, accountID, objectType, "", properties, externalID, now)
		if err != nil {
			return nil, "", err
		}
		return rec, ActionCreated, nil
	}

	existing, err := s.Get(ctx, accountID, objectType, key)
	if err != nil && !eris.Is(err, model.ErrNotFound) {
		return nil, "", err
	}

	if existing != nil {
		rec, err := s.update(ctx, existing, properties, externalID, now)
		if err != nil {
			return nil, "", err
		}
		return rec, ActionUpdated, nil
	}

	rec, err := s.insert(ctx, accountID, objectType, key, properties, externalID, now)
	if err == nil {
		return rec, ActionCreated, nil
	}
	if !isUniqueViolation(err) {
		return nil, "", err
	}

	// Lost the race to a concurrent upsert for the same brand-new key: the
	// row exists now, so fall back to an update. One retry closes the window.
	existing, err = s.Get(ctx, accountID, objectType, key)
	if err != nil {
		return nil, "", eris.Wrap(err, "dedup: refetch after conflict")
	}
	rec, err = s.update(ctx, existing, properties, externalID, now)
	if err != nil {
		return nil, "", err
	}
	return rec, ActionUpdated, nil
}

func (s *SQLiteStore) insert(ctx context.Context, accountID string, objectType model.ObjectType, key string, properties map[string]string, externalID string, now time.Time) (*model.DedupRecord, error) {
	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return nil, eris.Wrap(err, "dedup: marshal properties")
	}

	rec := &model.DedupRecord{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		ObjectType: objectType,
		DedupKey:   key,
		Properties: properties,
		ExternalID: externalID,
		ExpiresAt:  slidingExpiry(now),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var keyArg, extArg any
	if key != "" {
		keyArg = key
	}
	var syncedAt any
	if externalID != "" {
		extArg = externalID
		syncedAt = now
		t := now
		rec.SyncedAt = &t
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dedup_records (id, account_id, object_type, dedup_key, properties, external_id, synced_at, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, accountID, string(objectType), keyArg, string(propsJSON), extArg, syncedAt, rec.ExpiresAt, now, now)
	if err != nil {
		return nil, eris.Wrap(err, "dedup: insert")
	}
	return rec, nil
}

func (s *SQLiteStore) update(ctx context.Context, existing *model.DedupRecord, incoming map[string]string, externalID string, now time.Time) (*model.DedupRecord, error) {
	merged := mergeProperties(existing.Properties, incoming)
	propsJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, eris.Wrap(err, "dedup: marshal merged properties")
	}

	existing.Properties = merged
	existing.ExpiresAt = slidingExpiry(now)
	existing.UpdatedAt = now

	var extArg, syncedArg any
	if externalID != "" {
		existing.ExternalID = externalID
		t := now
		existing.SyncedAt = &t
		extArg = externalID
		syncedArg = now
	} else {
		if existing.ExternalID != "" {
			extArg = existing.ExternalID
		}
		if existing.SyncedAt != nil {
			syncedArg = *existing.SyncedAt
		}
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE dedup_records SET properties = ?, external_id = ?, synced_at = ?, expires_at = ?, updated_at = ? WHERE id = ?`,
		string(propsJSON), extArg, syncedArg, existing.ExpiresAt, now, existing.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "dedup: update %s", existing.ID)
	}
	return existing, nil
}

func (s *SQLiteStore) Get(ctx context.Context, accountID string, objectType model.ObjectType, dedupKey string) (*model.DedupRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, object_type, dedup_key, properties, external_id, synced_at, expires_at, created_at, updated_at
		 FROM dedup_records WHERE account_id = ? AND object_type = ? AND dedup_key = ?`,
		accountID, string(objectType), dedupKey)

	var rec model.DedupRecord
	var key, extID sql.NullString
	var propsJSON string
	var syncedAt sql.NullTime

	err := row.Scan(&rec.ID, &rec.AccountID, &rec.ObjectType, &key, &propsJSON, &extID, &syncedAt,
		&rec.ExpiresAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(model.ErrNotFound, "dedup record")
	}
	if err != nil {
		return nil, eris.Wrap(err, "dedup: scan record")
	}

	if err := json.Unmarshal([]byte(propsJSON), &rec.Properties); err != nil {
		return nil, eris.Wrap(err, "dedup: unmarshal properties")
	}
	rec.DedupKey = key.String
	rec.ExternalID = extID.String
	if syncedAt.Valid {
		t := syncedAt.Time
		rec.SyncedAt = &t
	}
	return &rec, nil
}

func (s *SQLiteStore) PurgeExpired(ctx context.Context, accountID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dedup_records WHERE account_id = ? AND expires_at <= ?`,
		accountID, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "dedup: purge expired")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "dedup: purge rows affected")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
