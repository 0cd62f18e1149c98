// Package timeout centralizes the bounded-wait budgets for every
// outbound call the core makes, and distinguishes a timeout from any
// other collaborator failure so it can be mapped to gateway_timeout at
// the HTTP boundary.
package timeout

import (
	"context"
	"errors"
	"time"
)

const (
	// Database is the bound for a single store read.
	Database = 5 * time.Second
	// Embedding is the bound for a single embedding-generation call.
	Embedding = 10 * time.Second
	// LLMComplete is the bound for a non-streaming LLM completion.
	LLMComplete = 30 * time.Second
	// LLMStreamIdle is the bound on idle time between streamed tokens.
	LLMStreamIdle = 60 * time.Second
)

// ErrTimedOut is returned (wrapped) whenever a bounded call exceeds
// its budget, distinguishing it from other collaborator errors.
var ErrTimedOut = errors.New("operation exceeded its time budget")

// Do runs fn under a context bounded by d, translating context
// deadline exceeded into ErrTimedOut so callers can test with
// errors.Is(err, timeout.ErrTimedOut) regardless of which budget fired.
func Do(parent context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()

	err := fn(ctx)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return wrapTimeout(ErrTimedOut, err)
	}
	return err
}

// wrapTimeout wraps cause (if any) behind sentinel while keeping
// errors.Is(err, ErrTimedOut) true.
func wrapTimeout(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return &timeoutError{sentinel: sentinel, cause: cause}
}

type timeoutError struct {
	sentinel error
	cause    error
}

func (e *timeoutError) Error() string { return e.sentinel.Error() + ": " + e.cause.Error() }
func (e *timeoutError) Unwrap() error { return e.sentinel }
func (e *timeoutError) Cause() error  { return e.cause }
