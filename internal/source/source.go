package source

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknownColumn is returned when a row has no column with the
	// requested title.
	ErrUnknownColumn = errors.New("unknown column")

	// ErrForeignRow is returned when a row is handed to a source that
	// does not own it.
	ErrForeignRow = errors.New("row does not belong to this source")
)

// Row is one appointment record. Implementations are owned by the source
// that produced them; callers never cache rows across scheduling passes.
type Row interface {
	// Number is the human-facing display number used in error reports.
	Number() int
}

// RecordSource is the capability the check-in engine consumes. SetFlag
// buffers the change; Flush commits all buffered changes in one batch and
// is safe to retry.
type RecordSource interface {
	ListRows(ctx context.Context) ([]Row, error)
	GetField(row Row, column string) (any, error)
	GetFlag(row Row, flag string) (bool, error)
	SetFlag(row Row, flag string, value bool) error
	Flush(ctx context.Context) error
}

// Corrector is the optional capability for attaching human-readable
// correction notes to a row's discussion thread. Sources that cannot hold
// discussions simply do not implement it.
type Corrector interface {
	// AddCorrection appends comment to the first discussion on row whose
	// title matches title, creating a new discussion when none matches.
	AddCorrection(ctx context.Context, row Row, title, comment string) error
}

// WriteBackError wraps a failed flag commit. It is always surfaced to the
// caller: a lost write-back risks a duplicate send on the next pass.
type WriteBackError struct {
	Collection string
	Err        error
}

func (e *WriteBackError) Error() string {
	return fmt.Sprintf("write-back to %s failed: %v", e.Collection, e.Err)
}

func (e *WriteBackError) Unwrap() error { return e.Err }
