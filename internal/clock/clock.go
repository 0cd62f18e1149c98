// Package clock provides an injectable monotonic time source and
// request-id generation so rate-limit and metrics logic can be tested
// without depending on wall-clock time.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time.Now so tests can substitute a fake clock.
type Clock interface {
	Now() time.Time
}

// Real is the production Clock backed by time.Now.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// NewRequestID returns a fresh request identifier.
func NewRequestID() string {
	return uuid.NewString()
}
