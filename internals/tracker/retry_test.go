package tracker

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type scriptedBackend struct {
	errs  []error // consumed per call; nil entry means success
	calls int
}

func (b *scriptedBackend) next() error {
	var err error
	if b.calls < len(b.errs) {
		err = b.errs[b.calls]
	}
	b.calls++
	return err
}

func (b *scriptedBackend) ListBacklog(ctx context.Context, filter Filter) ([]Issue, error) {
	if err := b.next(); err != nil {
		return nil, err
	}
	return []Issue{{ID: "1", Title: "ok"}}, nil
}

func (b *scriptedBackend) CreateIssue(ctx context.Context, input IssueInput) (Issue, error) {
	if err := b.next(); err != nil {
		return Issue{}, err
	}
	return Issue{ID: "1", Title: input.Title}, nil
}

func (b *scriptedBackend) Comment(ctx context.Context, issueID, body string) error {
	return b.next()
}

func (b *scriptedBackend) Transition(ctx context.Context, issueID string, target State) error {
	return b.next()
}

func newTestRetrying(backend Tracker, waits *[]time.Duration) *retrying {
	return &retrying{
		next: backend,
		log:  slog.New(slog.DiscardHandler),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Millisecond
			b.RandomizationFactor = 0 // deterministic waits for assertions
			return b
		},
		sleep: func(ctx context.Context, d time.Duration) error {
			*waits = append(*waits, d)
			return nil
		},
	}
}

func rateLimited() error {
	return &Error{Kind: KindRateLimited, Msg: "slow down"}
}

func TestRetryExhaustionSurfacesUnavailable(t *testing.T) {
	backend := &scriptedBackend{errs: []error{rateLimited(), rateLimited(), rateLimited(), rateLimited()}}
	var waits []time.Duration
	r := newTestRetrying(backend, &waits)

	_, err := r.ListBacklog(context.Background(), Filter{})

	if backend.calls != 3 {
		t.Fatalf("a persistently rate-limited backend must be called exactly 3 times, got %d", backend.calls)
	}
	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("exhaustion must surface UnavailableError, got %v", err)
	}
	if unavailable.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", unavailable.Attempts)
	}
	if !errors.As(err, new(*Error)) {
		t.Fatalf("the last backend error must stay unwrappable, got %v", err)
	}
}

func TestRetryWaitsGrow(t *testing.T) {
	backend := &scriptedBackend{errs: []error{rateLimited(), rateLimited(), rateLimited()}}
	var waits []time.Duration
	r := newTestRetrying(backend, &waits)

	_, _ = r.ListBacklog(context.Background(), Filter{})

	if len(waits) != 2 {
		t.Fatalf("3 attempts mean 2 waits, got %v", waits)
	}
	var total time.Duration
	prev := time.Duration(0)
	for i, w := range waits {
		if w <= 0 {
			t.Fatalf("wait %d not positive: %v", i, w)
		}
		total += w
		if total <= prev {
			t.Fatalf("cumulative wait must grow monotonically, got %v", waits)
		}
		prev = total
	}
	if waits[1] <= waits[0] {
		t.Fatalf("exponential backoff should lengthen waits, got %v", waits)
	}
}

func TestRetryAfterHintTakesPrecedence(t *testing.T) {
	hinted := &Error{Kind: KindRateLimited, Msg: "slow down", RetryAfter: time.Second}
	backend := &scriptedBackend{errs: []error{hinted, nil}}
	var waits []time.Duration
	r := newTestRetrying(backend, &waits)

	if _, err := r.ListBacklog(context.Background(), Filter{}); err != nil {
		t.Fatalf("ListBacklog: %v", err)
	}
	if len(waits) != 1 || waits[0] != time.Second {
		t.Fatalf("the retry-after hint (1s) should replace the shorter drawn wait, got %v", waits)
	}
}

func TestRetryRecoversFromTransient(t *testing.T) {
	backend := &scriptedBackend{errs: []error{newError(KindTransient, "reset", nil), nil}}
	var waits []time.Duration
	r := newTestRetrying(backend, &waits)

	issues, err := r.ListBacklog(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("ListBacklog: %v", err)
	}
	if len(issues) != 1 || backend.calls != 2 {
		t.Fatalf("expected recovery on second attempt, calls=%d issues=%v", backend.calls, issues)
	}
}

func TestRetryNeverRetriesAuthFailure(t *testing.T) {
	backend := &scriptedBackend{errs: []error{newError(KindAuthFailure, "bad token", nil)}}
	var waits []time.Duration
	r := newTestRetrying(backend, &waits)

	_, err := r.ListBacklog(context.Background(), Filter{})

	if backend.calls != 1 {
		t.Fatalf("auth failures must never be retried, got %d calls", backend.calls)
	}
	var te *Error
	if !errors.As(err, &te) || te.Kind != KindAuthFailure {
		t.Fatalf("auth failure must surface as-is, got %v", err)
	}
	if errors.As(err, new(*UnavailableError)) {
		t.Fatalf("non-retryable failures are not TrackerUnavailable, got %v", err)
	}
}

func TestRetryNeverRetriesNotFound(t *testing.T) {
	backend := &scriptedBackend{errs: []error{newError(KindNotFound, "gone", nil)}}
	var waits []time.Duration
	r := newTestRetrying(backend, &waits)

	err := r.Comment(context.Background(), "1", "hello")
	if backend.calls != 1 {
		t.Fatalf("not-found must never be retried, got %d calls", backend.calls)
	}
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	backend := &scriptedBackend{errs: []error{rateLimited(), rateLimited(), rateLimited()}}
	r := &retrying{
		next: backend,
		log:  slog.New(slog.DiscardHandler),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Millisecond
			return b
		},
		sleep: sleepCtx,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ListBacklog(ctx, Filter{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled context must stop the retry loop, got %v", err)
	}
	if backend.calls != 1 {
		t.Fatalf("no further attempts after cancellation, got %d", backend.calls)
	}
}
