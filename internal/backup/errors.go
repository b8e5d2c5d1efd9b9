package backup

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks requests rejected before any side effect.
	ErrValidation = errors.New("invalid request")
	// ErrConsistency marks a broken pairing between a catalog entry and its blob.
	ErrConsistency = errors.New("catalog and blob storage out of step")
	// ErrFatalSetup marks a precondition failure that aborted an operation
	// before any destructive step.
	ErrFatalSetup = errors.New("operation aborted before any destructive step")
	// ErrNothingToPackage is returned when every table in a snapshot failed.
	ErrNothingToPackage = errors.New("no table was collected successfully")
	// ErrNotFound is returned for unknown catalog ids.
	ErrNotFound = errors.New("backup not found")
	// ErrConflict is returned when an artifact name is already cataloged.
	ErrConflict = errors.New("backup already exists")
)

// ValidationError describes why a request was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Table operations recorded in a TableError.
const (
	OpRead    = "read"
	OpRestore = "restore"
	OpDelete  = "delete"
	OpZero    = "zero"
)

// TableError is a failure confined to one table. Reads produce partial
// read errors; restore, delete and zero produce partial write errors.
// Neither aborts the remaining tables.
type TableError struct {
	Table string
	Op    string
	Err   error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
}

func (e *TableError) Unwrap() error { return e.Err }

// IsWrite reports whether the failed operation mutated (or tried to
// mutate) the row store.
func (e *TableError) IsWrite() bool {
	return e.Op != OpRead
}

// ConsistencyError reports a catalog/blob pairing problem, including the
// outcome of any compensating cleanup.
type ConsistencyError struct {
	Op         string
	StorageKey string
	Err        error
	CleanupErr error
}

func (e *ConsistencyError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.StorageKey, e.Err)
	if e.CleanupErr != nil {
		msg += fmt.Sprintf(" (cleanup failed: %v)", e.CleanupErr)
	}
	return msg
}

func (e *ConsistencyError) Unwrap() []error {
	return []error{ErrConsistency, e.Err}
}

// FatalSetupError reports the step that prevented an operation from
// starting its destructive phase.
type FatalSetupError struct {
	Step string
	Err  error
}

func (e *FatalSetupError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *FatalSetupError) Unwrap() []error {
	return []error{ErrFatalSetup, e.Err}
}

func joinTableErrors(errs []*TableError) error {
	joined := make([]error, len(errs))
	for i, e := range errs {
		joined[i] = e
	}
	return errors.Join(joined...)
}
