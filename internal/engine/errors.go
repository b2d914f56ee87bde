package engine

import (
	"errors"
	"fmt"

	"switchboard/internal/repo"
)

// The engine's failure taxonomy. Callers classify with errors.Is: NotFound
// (repo.ErrNotFound), Conflict (ErrConflict), Invalid (ErrInvalid), and
// ErrStoreUnavailable for collaborator failures. Conflicts and not-found
// are deterministic outcomes; the engine never retries them.
var (
	ErrConflict         = errors.New("conflict")
	ErrInvalid          = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrResourceAssigned     = fmt.Errorf("%w: resource is already assigned to a job", ErrConflict)
	ErrResourceOutOfService = fmt.Errorf("%w: resource is out of service", ErrConflict)
	ErrJobClosed            = fmt.Errorf("%w: job is closed", ErrConflict)
)

// storeErr wraps unexpected store failures so callers can tell an
// unavailable collaborator apart from a deterministic outcome. Not-found
// passes through untouched.
func storeErr(err error) error {
	if err == nil || errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
