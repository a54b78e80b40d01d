package model

// RowStatus tracks a single row through enrichment and sync.
type RowStatus string

const (
	RowStatusPending   RowStatus = "pending"
	RowStatusEnriching RowStatus = "enriching"
	RowStatusEnriched  RowStatus = "enriched"
	RowStatusSyncing   RowStatus = "syncing"
	RowStatusSynced    RowStatus = "synced"
	RowStatusFailed    RowStatus = "failed"
)

// Row is one input record within a session. Identity is (SessionID, Index);
// the index is assigned at ingestion and never changes, which is what makes
// batch draining resumable.
type Row struct {
	SessionID    string            `json:"session_id"`
	Index        int               `json:"index"`
	Raw          map[string]string `json:"raw"`
	Enriched     map[string]string `json:"enriched,omitempty"`
	Status       RowStatus         `json:"status"`
	ContactID    string            `json:"contact_id,omitempty"`
	CompanyID    string            `json:"company_id,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

// Field returns the effective value for a field: the enriched overlay wins
// over the raw value when present.
func (r *Row) Field(name string) string {
	if v, ok := r.Enriched[name]; ok && v != "" {
		return v
	}
	return r.Raw[name]
}

// Merged returns raw fields with the enriched overlay applied.
func (r *Row) Merged() map[string]string {
	out := make(map[string]string, len(r.Raw)+len(r.Enriched))
	for k, v := range r.Raw {
		out[k] = v
	}
	for k, v := range r.Enriched {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// MergeEnriched copies values into the enriched overlay without overwriting
// fields that already hold a non-empty value. Enrichment is additive, which
// makes re-running a session safe.
func (r *Row) MergeEnriched(values map[string]string) {
	if len(values) == 0 {
		return
	}
	if r.Enriched == nil {
		r.Enriched = make(map[string]string, len(values))
	}
	for k, v := range values {
		if v == "" {
			continue
		}
		if existing := r.Enriched[k]; existing != "" {
			continue
		}
		r.Enriched[k] = v
	}
}
