package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/import-cli/internal/db"
	"github.com/sells-group/import-cli/internal/model"
)

// PostgresStore implements Store using pgx. The existence-check-then-write is
// a single INSERT ... ON CONFLICT DO UPDATE, so two concurrent upserts for a
// brand-new key can never both insert; the loser's statement becomes the
// merge update.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres opens a pgx-backed dedup store.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "dedup: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "dedup: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS dedup_records (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL,
	object_type TEXT NOT NULL,
	dedup_key   TEXT,
	properties  JSONB NOT NULL,
	external_id TEXT,
	synced_at   TIMESTAMPTZ,
	expires_at  TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_dedup_key
	ON dedup_records(account_id, object_type, dedup_key)
	WHERE dedup_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_dedup_expires ON dedup_records(account_id, expires_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "dedup: migrate postgres")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// upsertSQL merges via jsonb concatenation (right-biased by definition) and
// reports whether the row was freshly inserted via the xmax system column.
const upsertSQL = `
INSERT INTO dedup_records (id, account_id, object_type, dedup_key, properties, external_id, synced_at, expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
ON CONFLICT (account_id, object_type, dedup_key) WHERE dedup_key IS NOT NULL
DO UPDATE SET
	properties  = dedup_records.properties || EXCLUDED.properties,
	external_id = COALESCE(EXCLUDED.external_id, dedup_records.external_id),
	synced_at   = COALESCE(EXCLUDED.synced_at, dedup_records.synced_at),
	expires_at  = EXCLUDED.expires_at,
	updated_at  = EXCLUDED.updated_at
RETURNING id, properties, external_id, synced_at, expires_at, created_at, updated_at, (xmax = 0) AS inserted`

func (s *PostgresStore) Upsert(ctx context.Context, accountID string, objectType model.ObjectType, properties map[string]string, externalID string) (*model.DedupRecord, Action, error) {
	key := DeriveKey(objectType, properties)
	now := time.Now().UTC()

	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return nil, "", eris.Wrap(err, "dedup: marshal properties")
	}

	var keyArg, extArg, syncedArg any
	if key != "" {
		keyArg = key
	}
	if externalID != "" {
		extArg = externalID
		syncedArg = now
	}

	rec := &model.DedupRecord{
		AccountID:  accountID,
		ObjectType: objectType,
		DedupKey:   key,
	}

	var mergedJSON []byte
	var extID *string
	var syncedAt *time.Time
	var inserted bool

	err = s.pool.QueryRow(ctx, upsertSQL,
		uuid.New().String(), accountID, string(objectType), keyArg, string(propsJSON),
		extArg, syncedArg, slidingExpiry(now), now,
	).Scan(&rec.ID, &mergedJSON, &extID, &syncedAt, &rec.ExpiresAt, &rec.CreatedAt, &rec.UpdatedAt, &inserted)
	if err != nil {
		return nil, "", eris.Wrap(err, "dedup: upsert")
	}

	if err := json.Unmarshal(mergedJSON, &rec.Properties); err != nil {
		return nil, "", eris.Wrap(err, "dedup: unmarshal merged properties")
	}
	if extID != nil {
		rec.ExternalID = *extID
	}
	rec.SyncedAt = syncedAt

	if inserted {
		return rec, ActionCreated, nil
	}
	return rec, ActionUpdated, nil
}

func (s *PostgresStore) Get(ctx context.Context, accountID string, objectType model.ObjectType, dedupKey string) (*model.DedupRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, account_id, object_type, dedup_key, properties, external_id, synced_at, expires_at, created_at, updated_at
		 FROM dedup_records WHERE account_id = $1 AND object_type = $2 AND dedup_key = $3`,
		accountID, string(objectType), dedupKey)

	var rec model.DedupRecord
	var key, extID *string
	var propsJSON []byte
	var syncedAt *time.Time

	err := row.Scan(&rec.ID, &rec.AccountID, &rec.ObjectType, &key, &propsJSON, &extID, &syncedAt,
		&rec.ExpiresAt, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(model.ErrNotFound, "dedup record")
	}
	if err != nil {
		return nil, eris.Wrap(err, "dedup: scan record")
	}

	if err := json.Unmarshal(propsJSON, &rec.Properties); err != nil {
		return nil, eris.Wrap(err, "dedup: unmarshal properties")
	}
	if key != nil {
		rec.DedupKey = *key
	}
	if extID != nil {
		rec.ExternalID = *extID
	}
	rec.SyncedAt = syncedAt
	return &rec, nil
}

func (s *PostgresStore) PurgeExpired(ctx context.Context, accountID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM dedup_records WHERE account_id = $1 AND expires_at <= now()`, accountID)
	if err != nil {
		return 0, eris.Wrap(err, "dedup: purge expired")
	}
	return tag.RowsAffected(), nil
}
