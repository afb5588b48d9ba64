package tracker

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a backend failure. The retry policy branches on it:
// Transient and RateLimited are retried, everything else surfaces immediately.
type Kind int

const (
	KindTransient Kind = iota
	KindRateLimited
	KindAuthFailure
	KindNotFound
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindAuthFailure:
		return "auth_failure"
	case KindNotFound:
		return "not_found"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is the typed failure every adapter maps backend responses into.
// The backend's own message is preserved verbatim for diagnosis.
type Error struct {
	Kind       Kind
	RetryAfter time.Duration // set for RateLimited when the backend sent a hint
	Msg        string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tracker %s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("tracker %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Retryable reports whether the retry policy may attempt the operation again.
func Retryable(err error) bool {
	var te *Error
	if !errors.As(err, &te) {
		return false
	}
	return te.Kind == KindTransient || te.Kind == KindRateLimited
}

func retryAfterHint(err error) time.Duration {
	var te *Error
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// UnavailableError reports that an operation exhausted its retries. Callers
// must treat it as "backlog state could not be observed or mutated this run",
// never as a silent no-op.
type UnavailableError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("tracker unavailable: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *UnavailableError) Unwrap() error { return e.Last }
