package model

import "github.com/rotisserie/eris"

// Sentinel errors for the pipeline core. Callers classify with errors.Is;
// everything else rides on eris-wrapped context.
var (
	// ErrNotFound: the referenced session, row, or record does not exist.
	ErrNotFound = eris.New("not found")

	// ErrInvalidState: the operation is forbidden in the session's current
	// status. The caller must re-check state; no retry.
	ErrInvalidState = eris.New("invalid state")

	// ErrConfiguration: a credential or secret for an enrichment backend
	// could not be resolved. Scoped to one config invocation.
	ErrConfiguration = eris.New("configuration error")

	// ErrConflict: a uniqueness violation in the dedup store. Converted to
	// an update internally; callers should never see it.
	ErrConflict = eris.New("conflict")
)
