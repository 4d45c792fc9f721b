package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrTimeout         = errors.New("timed out")
	ErrCancelled       = errors.New("cancelled")
	ErrTransient       = errors.New("transient api error")
	ErrUnknownStatus   = errors.New("unrecognized order status")
	ErrPersistence     = errors.New("persistence failure")
	ErrLedgerIntegrity = errors.New("ledger integrity violated")
	ErrConflict        = errors.New("concurrent modification")
	ErrLockHeld        = errors.New("lock already held")
	ErrInternal        = errors.New("internal error")
)

// IsLedgerError reports whether err already carries one of the ledger's
// classified sentinels, so callers know not to re-wrap it as a persistence
// failure.
func IsLedgerError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrValidation, ErrLedgerIntegrity, ErrConflict,
		ErrLockHeld, ErrInternal, ErrPersistence, ErrCancelled, ErrTimeout,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
