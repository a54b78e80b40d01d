package model

import "time"

// SessionStatus tracks a session through the import lifecycle.
type SessionStatus string

const (
	SessionStatusUploaded  SessionStatus = "uploaded"
	SessionStatusEnriching SessionStatus = "enriching"
	SessionStatusEnriched  SessionStatus = "enriched"
	SessionStatusSyncing   SessionStatus = "syncing"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusExpired   SessionStatus = "expired"
)

// Terminal reports whether no further transitions are possible from s.
// Failed is not terminal: a bounded retry re-enters enriching.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusExpired
}

// Session is one upload's end-to-end processing lifecycle record.
type Session struct {
	ID            string        `json:"id"`
	AccountID     string        `json:"account_id"`
	FileName      string        `json:"file_name"`
	TotalRows     int           `json:"total_rows"`
	ProcessedRows int           `json:"processed_rows"`
	EnrichedRows  int           `json:"enriched_rows"`
	SyncedRows    int           `json:"synced_rows"`
	FailedRows    int           `json:"failed_rows"`
	Status        SessionStatus `json:"status"`
	ConfigIDs     []string      `json:"config_ids,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	RetryCount    int           `json:"retry_count"`
	MaxRetries    int           `json:"max_retries"`
	CreatedAt     time.Time     `json:"created_at"`
	ExpiresAt     time.Time     `json:"expires_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// RetentionWindow is how long sessions and dedup records are kept before the
// expiry sweep removes them.
const RetentionWindow = 15 * 24 * time.Hour
