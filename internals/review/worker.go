package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/stewardhq/steward/internals/forge"
	"github.com/stewardhq/steward/internals/tracker"
)

const notifyDrainTimeout = 5 * time.Second

// Notifier receives one message per applied decision, fire-and-forget.
type Notifier interface {
	NotifyDecision(ctx context.Context, note DecisionNote) error
}

type DecisionNote struct {
	Repo       string
	ProposalID int
	Title      string
	Outcome    string
	Reason     string
}

// DecisionRecord is one line of the run summary handed to collaborators.
type DecisionRecord struct {
	ProposalID int    `json:"proposal_id"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason"`
}

type Summary struct {
	Decisions []DecisionRecord `json:"decisions"`
	Errors    []string         `json:"errors"`
}

// Worker drives one scheduled run: a single-threaded batch pass over the
// repository's open proposals. Runs hold no state between invocations;
// everything is re-derived from proposal timelines, so a crash mid-batch
// only means the next run re-observes and redecides.
type Worker struct {
	engine   *Engine
	executor *Executor
	forge    forge.Forge
	notifier Notifier
	log      *slog.Logger

	drainTimeout time.Duration
}

func NewWorker(engine *Engine, executor *Executor, f forge.Forge, notifier Notifier, log *slog.Logger) *Worker {
	return &Worker{
		engine:       engine,
		executor:     executor,
		forge:        f,
		notifier:     notifier,
		log:          log,
		drainTimeout: notifyDrainTimeout,
	}
}

// Run processes the batch and returns the run summary. A per-proposal failure
// is recorded and skipped; a failure to list proposals at all, or an auth
// failure anywhere, is a run-level error.
func (w *Worker) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	proposals, err := w.forge.ListOpenProposals(ctx)
	if err != nil {
		return summary, fmt.Errorf("list open proposals: %w", err)
	}

	// Oldest-first, so repeated runs over unchanged input decide in the same
	// order and produce identical summaries.
	sort.SliceStable(proposals, func(i, j int) bool {
		return proposals[i].CreatedAt.Before(proposals[j].CreatedAt)
	})

	var wg sync.WaitGroup
	for _, p := range proposals {
		decision, ours, err := w.engine.Decide(ctx, p)
		if err != nil {
			if isAuthFailure(err) {
				return summary, fmt.Errorf("proposal #%d: %w", p.ID, err)
			}
			w.recordError(&summary, p.ID, "decide", err)
			continue
		}
		if !ours {
			// External proposal: not ours to touch.
			continue
		}

		w.log.Info("decision", "proposal", p.ID, "outcome", decision.Outcome, "reason", decision.Reason)

		if err := w.executor.Apply(ctx, p, decision); err != nil {
			if isAuthFailure(err) {
				return summary, fmt.Errorf("proposal #%d: %w", p.ID, err)
			}
			w.recordError(&summary, p.ID, "apply", err)
			continue
		}

		summary.Decisions = append(summary.Decisions, DecisionRecord{
			ProposalID: p.ID,
			Outcome:    decision.Outcome.String(),
			Reason:     decision.Reason,
		})

		if w.notifier != nil && decision.Outcome != OutcomeDefer {
			note := DecisionNote{
				Repo:       p.Repo,
				ProposalID: p.ID,
				Title:      p.Title,
				Outcome:    decision.Outcome.String(),
				Reason:     decision.Reason,
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := w.notifier.NotifyDecision(ctx, note); err != nil {
					w.log.Warn("notification failed", "proposal", note.ProposalID, "err", err)
				}
			}()
		}
	}

	// Drain outstanding notifications, bounded: the scheduler may kill the
	// process right after Run returns, and an unawaited goroutine's message
	// is silently dropped.
	w.drain(&wg)

	return summary, nil
}

func (w *Worker) drain(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(w.drainTimeout):
		w.log.Warn("notifications still outstanding at drain deadline", "timeout", w.drainTimeout)
	}
}

func (w *Worker) recordError(summary *Summary, proposalID int, stage string, err error) {
	w.log.Error("proposal processing failed, skipping", "proposal", proposalID, "stage", stage, "err", err)
	summary.Errors = append(summary.Errors, fmt.Sprintf("proposal #%d: %s: %v", proposalID, stage, err))
}

func isAuthFailure(err error) bool {
	var te *tracker.Error
	if errors.As(err, &te) && te.Kind == tracker.KindAuthFailure {
		return true
	}
	return forge.IsAuth(err)
}
