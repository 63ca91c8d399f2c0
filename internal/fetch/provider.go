// Package fetch walks a mailbox page by page and yields message metadata,
// one rate-limited request at a time.
package fetch

import (
	"context"
	"errors"
	"fmt"

	"sendertally/internal/model"
)

// Page is one response from a provider's list endpoint.
type Page struct {
	IDs        []string
	NextCursor string // empty when there are no more pages
	Estimate   int    // provider's estimate of the total result size, 0 if unknown
}

// Provider is the minimal surface the lister needs from a mail backend.
// Implementations return errors wrapped with Transient for failures that are
// expected to clear on retry.
type Provider interface {
	ListPage(ctx context.Context, cursor string, pageSize int) (Page, error)
	GetMetadata(ctx context.Context, id string) (model.MessageMeta, error)
}

// ErrTransient marks errors that may succeed on retry.
var ErrTransient = errors.New("transient provider error")

type transientError struct{ err error }

func (e transientError) Error() string   { return e.err.Error() }
func (e transientError) Unwrap() []error { return []error{ErrTransient, e.err} }

// Transient marks err as retryable. It returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// AbortError ends a fetch. Processed is the number of messages yielded
// before the failure.
type AbortError struct {
	Processed int
	Err       error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("fetch aborted after %d messages: %v", e.Processed, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }
