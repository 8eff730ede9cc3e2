package workflow

import "errors"

// Sentinel errors callers branch on. Store lookups surface store.ErrNotFound
// unchanged; these cover the remaining failure classes.
var (
	// ErrInvalidState means the operation is not legal for the task's
	// current status. The task is left unchanged.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrValidation means the input is malformed or a required field is
	// missing or empty.
	ErrValidation = errors.New("validation failed")

	// ErrCollaborator means an external agent call errored or timed out.
	// The task stays in its prior status; a *_error activity records the
	// stall.
	ErrCollaborator = errors.New("collaborator call failed")
)
