package settlement

import "github.com/pkg/errors"

var (
	// ErrSessionNotFound means the sessionId is unknown to the store.
	ErrSessionNotFound = errors.New("settlement session not found")

	// ErrInvalidTransition is returned for any status move not present in
	// the model transition tables.
	ErrInvalidTransition = errors.New("status transition not allowed")

	// ErrConflict means another writer advanced the record between read and
	// CAS write; callers should re-read before retrying.
	ErrConflict = errors.New("concurrent update conflict")
)
