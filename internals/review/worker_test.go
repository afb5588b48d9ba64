package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stewardhq/steward/internals/forge"
)

type selectiveScorer struct {
	failID int
}

func (s *selectiveScorer) Score(ctx context.Context, p forge.Proposal) (Scores, error) {
	if p.ID == s.failID {
		return nil, errors.New("scorer exploded")
	}
	return passingScores(), nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []DecisionNote
	delay time.Duration
}

func (n *recordingNotifier) NotifyDecision(ctx context.Context, note DecisionNote) error {
	if n.delay > 0 {
		time.Sleep(n.delay)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

func newTestWorker(t *testing.T, fg *fakeForge, scorer Scorer, notifier Notifier) *Worker {
	t.Helper()
	engine := NewEngine(testPolicy(), scorer, testSelf)
	engine.now = func() time.Time { return testNow }
	executor := NewExecutor(fg, nil, testPolicy(), discardLog())
	return NewWorker(engine, executor, fg, notifier, discardLog())
}

func numberedProposal(id int) forge.Proposal {
	p := ownProposal()
	p.ID = id
	p.Branch = fmt.Sprintf("%sissue-%d", BranchPrefix, id)
	p.CreatedAt = testNow.Add(time.Duration(-100+id) * time.Hour)
	return p
}

func TestRunContainsPerProposalFailures(t *testing.T) {
	fg := &fakeForge{proposals: []forge.Proposal{
		numberedProposal(1),
		numberedProposal(2), // this one's scoring fails
		numberedProposal(3),
	}}
	worker := newTestWorker(t, fg, &selectiveScorer{failID: 2}, nil)

	summary, err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Decisions) != 2 {
		t.Fatalf("the other proposals must still be decided, got %+v", summary.Decisions)
	}
	if len(summary.Errors) != 1 || !strings.Contains(summary.Errors[0], "#2") {
		t.Fatalf("the failure must be recorded with its proposal, got %v", summary.Errors)
	}
}

func TestRunSkipsExternalProposalsSilently(t *testing.T) {
	external := numberedProposal(1)
	external.Branch = "feature/human-work"
	fg := &fakeForge{proposals: []forge.Proposal{external, numberedProposal(2)}}
	worker := newTestWorker(t, fg, &stubScorer{scores: passingScores()}, nil)

	summary, err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Decisions) != 1 || summary.Decisions[0].ProposalID != 2 {
		t.Fatalf("external proposal must not appear in the summary, got %+v", summary.Decisions)
	}
	if len(summary.Errors) != 0 {
		t.Fatalf("ownership skip is not an error, got %v", summary.Errors)
	}
	if fg.merges+len(fg.reviews)+fg.closes != 1 {
		t.Fatalf("exactly one side effect expected, got %+v", fg)
	}
}

func TestRunProcessesOldestFirst(t *testing.T) {
	// Listed newest-first on purpose; the worker must re-sort.
	fg := &fakeForge{proposals: []forge.Proposal{
		numberedProposal(3),
		numberedProposal(1),
		numberedProposal(2),
	}}
	worker := newTestWorker(t, fg, &stubScorer{scores: passingScores()}, nil)

	summary, err := worker.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var got []int
	for _, d := range summary.Decisions {
		got = append(got, d.ProposalID)
	}
	for i, want := range []int{1, 2, 3} {
		if got[i] != want {
			t.Fatalf("expected oldest-first order [1 2 3], got %v", got)
		}
	}
}

func TestRunSummaryIsRepeatable(t *testing.T) {
	proposals := []forge.Proposal{numberedProposal(1), numberedProposal(2)}
	scorer := &stubScorer{scores: passingScores()}

	first, err := newTestWorker(t, &fakeForge{proposals: proposals}, scorer, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := newTestWorker(t, &fakeForge{proposals: proposals}, scorer, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(first.Decisions) != len(second.Decisions) {
		t.Fatalf("runs over unchanged input must match: %+v vs %+v", first, second)
	}
	for i := range first.Decisions {
		if first.Decisions[i] != second.Decisions[i] {
			t.Fatalf("decision %d differs: %+v vs %+v", i, first.Decisions[i], second.Decisions[i])
		}
	}
}

func TestRunDrainsNotifications(t *testing.T) {
	fg := &fakeForge{proposals: []forge.Proposal{numberedProposal(1), numberedProposal(2)}}
	notifier := &recordingNotifier{delay: 50 * time.Millisecond}
	worker := newTestWorker(t, fg, &stubScorer{scores: passingScores()}, notifier)

	if _, err := worker.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Run must not return before outstanding notifications finished.
	if got := notifier.count(); got != 2 {
		t.Fatalf("expected 2 notifications delivered before Run returned, got %d", got)
	}
}

func TestRunListFailureIsRunLevel(t *testing.T) {
	fg := &fakeForge{listErr: errors.New("forge down")}
	worker := newTestWorker(t, fg, &stubScorer{scores: passingScores()}, nil)

	if _, err := worker.Run(context.Background()); err == nil {
		t.Fatal("an unobservable proposal list must fail the run")
	}
}
