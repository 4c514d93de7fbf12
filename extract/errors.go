package extract

import (
	"errors"
	"fmt"
)

// ErrNotPDF marks input that is not a PDF at all. No extraction backend is
// attempted for such input.
var ErrNotPDF = errors.New("not a valid PDF document")

// BackendError records a single backend's failure. The fallback chain
// recovers these locally; callers only see them wrapped in a PipelineError
// once every backend has been exhausted.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// PipelineError means every backend, including the terminal fallback,
// failed. It keeps all attempt errors so the most informative one can be
// surfaced to the client.
type PipelineError struct {
	Attempts []*BackendError
}

func (e *PipelineError) Error() string {
	if len(e.Attempts) == 0 {
		return "extraction failed: no backends available"
	}
	// The terminal fallback ran last and is the most tolerant backend, so
	// its error is the most specific description of what is wrong with the
	// document.
	last := e.Attempts[len(e.Attempts)-1]
	return fmt.Sprintf("document unreadable by any backend (%d attempts), last error: %v", len(e.Attempts), last)
}

func (e *PipelineError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1]
}
