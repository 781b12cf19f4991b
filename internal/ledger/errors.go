package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrTargetNotFound indicates the catalog has no target with the requested id.
	ErrTargetNotFound = errors.New("ledger: target not found")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingPlayerID   = errors.New("player identifier is required")
	errMissingTargetID   = errors.New("target identifier is required")
)

const (
	opStoreNew        = "ledger.store.new"
	opAppend          = "ledger.append"
	opFindTarget      = "ledger.find_target"
	opFindTargetsNear = "ledger.find_targets_near"
	opValidTotals     = "ledger.valid_totals"
	opUpsertTargets   = "ledger.upsert_targets"
)

// StorageError reports a durable storage failure. Callers must not assume the
// write did not happen: an ambiguous failure may still have committed.
type StorageError struct {
	code string
	err  error
}

func (e *StorageError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StorageError) Unwrap() error {
	return e.err
}

// Code identifies the failing operation and reason, e.g. "ledger.append.insert_failed".
func (e *StorageError) Code() string {
	return e.code
}

func newStorageError(operation, reason string, cause error) error {
	return &StorageError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
