// Package dedup maintains the content-addressed record table that gives the
// pipeline its cross-session idempotent upsert semantics.
package dedup

import (
	"context"
	"strings"
	"time"

	"github.com/sells-group/import-cli/internal/model"
)

// Action reports what an upsert did.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// Store is the dedup record persistence interface.
type Store interface {
	// Upsert merges properties into the record addressed by the derived
	// dedup key, creating it on first sight. The merge is shallow and
	// right-biased: incoming values win per field, absent fields are
	// preserved. Every upsert refreshes the sliding expiry. externalID and
	// the synced timestamp are written only when externalID is non-empty.
	Upsert(ctx context.Context, accountID string, objectType model.ObjectType, properties map[string]string, externalID string) (*model.DedupRecord, Action, error)

	// Get fetches a record by derived key. Returns model.ErrNotFound when absent.
	Get(ctx context.Context, accountID string, objectType model.ObjectType, dedupKey string) (*model.DedupRecord, error)

	// PurgeExpired deletes all records past expiry for the account. Safe to
	// run concurrently with upserts: a concurrent refresh always sets a
	// strictly future expiry, so it can never match the cutoff.
	PurgeExpired(ctx context.Context, accountID string) (int64, error)

	Migrate(ctx context.Context) error
	Close() error
}

// DeriveKey computes the object-type-specific dedup key. Contacts key on
// email; companies key on domain, falling back to name when no domain is
// present (two real companies sharing a generic name will merge — existing
// behavior, kept). Empty result means no dedup is attempted.
func DeriveKey(objectType model.ObjectType, properties map[string]string) string {
	switch objectType {
	case model.ObjectTypeContact:
		return normalizeKey(properties["email"])
	case model.ObjectTypeCompany:
		if k := normalizeKey(properties["domain"]); k != "" {
			return k
		}
		return normalizeKey(properties["name"])
	}
	return ""
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// mergeProperties applies the shallow right-biased overlay.
func mergeProperties(existing, incoming map[string]string) map[string]string {
	merged := make(map[string]string, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}

func slidingExpiry(now time.Time) time.Time {
	return now.Add(model.RetentionWindow)
}
