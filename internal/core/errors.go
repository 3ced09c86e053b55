package core

import (
	"errors"
	"fmt"

	"github.com/kilupskalvis/wikimirror/internal/remote"
)

var (
	// ErrMalformedFirstPage is returned when the first page of a run has no
	// recognizable result structure. It usually means a bad scope or missing
	// read rights.
	ErrMalformedFirstPage = errors.New("first page has no result structure")

	// ErrTagTarget is returned when a tag application names neither or both
	// of a revision and a log entry.
	ErrTagTarget = errors.New("exactly one of revision id or log id must be set")
)

// FatalError halts a run. Everything else is a per-item failure.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal wraps err as a FatalError for op. A nil err stays nil.
func Fatal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Op: op, Err: err}
}

// IsFatal reports whether err must abort the run: an explicit FatalError or
// an authorization rejection from the remote.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return true
	}
	return remote.IsAuthError(err)
}

// CorruptTransferError reports a file whose checksum never validated within
// the retry bound. It fails that file only.
type CorruptTransferError struct {
	Name     string
	URL      string
	Attempts int
	Got      string
	Want     string
	Err      error // last transport error, if the final attempt did not complete
}

func (e *CorruptTransferError) Error() string {
	if e.Got == "" && e.Err != nil {
		return fmt.Sprintf("transfer %s failed after %d attempts: %v", e.Name, e.Attempts, e.Err)
	}
	return fmt.Sprintf("transfer %s: checksum %s, want %s after %d attempts", e.Name, e.Got, e.Want, e.Attempts)
}

func (e *CorruptTransferError) Unwrap() error {
	return e.Err
}
