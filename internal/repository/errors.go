package repository

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// PersistError wraps a transactional storage failure. The operation was
// rolled back in full; nothing was partially committed.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

func persistErr(op string, err error) error {
	return &PersistError{Op: op, Err: err}
}
