package model

import "time"

// ObjectType classifies a dedup record.
type ObjectType string

const (
	ObjectTypeContact ObjectType = "contact"
	ObjectTypeCompany ObjectType = "company"
)

// DedupRecord is the canonical, deduplicated entity keyed by
// (account, object type, dedup key). At most one record exists per key;
// the unique constraint in the store enforces it.
type DedupRecord struct {
	ID         string            `json:"id"`
	AccountID  string            `json:"account_id"`
	ObjectType ObjectType        `json:"object_type"`
	DedupKey   string            `json:"dedup_key"`
	Properties map[string]string `json:"properties"`
	ExternalID string            `json:"external_id,omitempty"`
	SyncedAt   *time.Time        `json:"synced_at,omitempty"`
	ExpiresAt  time.Time         `json:"expires_at"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}
