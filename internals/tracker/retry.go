package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const maxAttempts = 3

// retrying wraps a backend Tracker with the retry policy: up to maxAttempts
// per operation, exponential backoff with jitter between attempts, and a
// rate-limit retry-after hint taking precedence over the drawn wait when it
// is longer. Non-retryable failures surface immediately.
type retrying struct {
	next Tracker
	log  *slog.Logger

	newBackOff func() backoff.BackOff
	sleep      func(ctx context.Context, d time.Duration) error
}

// WithRetry decorates a backend adapter with the standard retry policy.
func WithRetry(next Tracker, log *slog.Logger) Tracker {
	return &retrying{
		next:       next,
		log:        log,
		newBackOff: defaultBackOff,
		sleep:      sleepCtx,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *retrying) ListBacklog(ctx context.Context, filter Filter) ([]Issue, error) {
	return retry(ctx, r, "list backlog", func() ([]Issue, error) {
		return r.next.ListBacklog(ctx, filter)
	})
}

func (r *retrying) CreateIssue(ctx context.Context, input IssueInput) (Issue, error) {
	return retry(ctx, r, "create issue", func() (Issue, error) {
		return r.next.CreateIssue(ctx, input)
	})
}

func (r *retrying) Comment(ctx context.Context, issueID, body string) error {
	_, err := retry(ctx, r, "comment", func() (struct{}, error) {
		return struct{}{}, r.next.Comment(ctx, issueID, body)
	})
	return err
}

func (r *retrying) Transition(ctx context.Context, issueID string, target State) error {
	_, err := retry(ctx, r, "transition", func() (struct{}, error) {
		return struct{}{}, r.next.Transition(ctx, issueID, target)
	})
	return err
}

func retry[T any](ctx context.Context, r *retrying, op string, fn func() (T, error)) (T, error) {
	var zero T
	bo := r.newBackOff()

	for attempt := 1; ; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !Retryable(err) {
			return zero, err
		}
		if attempt >= maxAttempts {
			return zero, &UnavailableError{Op: op, Attempts: attempt, Last: err}
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return zero, &UnavailableError{Op: op, Attempts: attempt, Last: err}
		}
		if hint := retryAfterHint(err); hint > wait {
			wait = hint
		}

		r.log.Warn("tracker call failed, backing off",
			"op", op, "attempt", attempt, "wait", wait, "err", err)

		if serr := r.sleep(ctx, wait); serr != nil {
			return zero, serr
		}
	}
}
