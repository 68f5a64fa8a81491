// Package fetch provides the DataSource abstraction for per-symbol market
// data, the transient/terminal error taxonomy, and the retry policy that
// wraps every fetch.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// TerminalError reports that the retry budget for an operation is exhausted.
// It carries the last underlying cause; callers decide whether to skip the
// symbol or abort.
type TerminalError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// transientError marks an error as retryable regardless of its concrete type.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so IsTransient reports true for it. Sources use it to
// mark conditions like HTTP 429/5xx that the generic network checks below
// cannot see.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is worth retrying: an explicit Transient
// mark, a network timeout, a connection-level failure, or a truncated read.
// Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var marked *transientError
	if errors.As(err, &marked) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}
