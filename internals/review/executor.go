package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stewardhq/steward/internals/config"
	"github.com/stewardhq/steward/internals/forge"
	"github.com/stewardhq/steward/internals/tracker"
)

// Executor translates a decision into backend side effects. It is the only
// point of mutation in a run, always scoped to one proposal at a time.
type Executor struct {
	forge   forge.Forge
	tracker tracker.Tracker // may be nil when no tracker backend is configured
	policy  config.RepoPolicy
	log     *slog.Logger
}

func NewExecutor(f forge.Forge, t tracker.Tracker, policy config.RepoPolicy, log *slog.Logger) *Executor {
	return &Executor{forge: f, tracker: t, policy: policy, log: log}
}

func (x *Executor) Apply(ctx context.Context, p forge.Proposal, d Decision) error {
	switch d.Outcome {
	case OutcomeMerge:
		return x.applyMerge(ctx, p, d)
	case OutcomeRequestChanges:
		return x.applyRequestChanges(ctx, p, d)
	case OutcomeClose:
		return x.applyClose(ctx, p, d)
	case OutcomeDefer:
		return nil
	default:
		return fmt.Errorf("unknown outcome %v for proposal #%d", d.Outcome, p.ID)
	}
}

func (x *Executor) applyMerge(ctx context.Context, p forge.Proposal, d Decision) error {
	if !x.policy.AutoMerge {
		// Decided mergeable, but actually merging is a human's call: post the
		// approval with the scores and stop.
		body := fmt.Sprintf("Approved for merge.\n\nScores: %s\n\n%s", d.Scores, d.Reason)
		if err := x.forge.PostReview(ctx, p.ID, forge.ReviewInput{
			Verdict: forge.VerdictApprove,
			Body:    body,
		}); err != nil {
			return fmt.Errorf("post approval on #%d: %w", p.ID, err)
		}
		x.log.Info("approved without merging (auto_merge off)", "proposal", p.ID)
		return nil
	}

	message := fmt.Sprintf("%s (#%d)", p.Title, p.ID)
	if err := x.forge.Merge(ctx, p.ID, message); err != nil {
		return fmt.Errorf("merge #%d: %w", p.ID, err)
	}
	summary := fmt.Sprintf("Merged.\n\nScores: %s", d.Scores)
	if err := x.forge.Comment(ctx, p.ID, summary); err != nil {
		x.log.Warn("merged but summary comment failed", "proposal", p.ID, "err", err)
	}
	x.transitionLinked(ctx, p, tracker.StateDone)
	x.log.Info("merged", "proposal", p.ID)
	return nil
}

func (x *Executor) applyRequestChanges(ctx context.Context, p forge.Proposal, d Decision) error {
	// The marker line is what makes the strikes counter reliable on the next
	// run's timeline scan.
	marker := MarkerCI
	if d.Strike {
		marker = MarkerStrike
	}
	var body strings.Builder
	body.WriteString(d.Reason)
	if len(d.Scores) > 0 {
		fmt.Fprintf(&body, "\n\nScores: %s", d.Scores)
	}
	body.WriteString("\n\n")
	body.WriteString(marker)

	if err := x.forge.PostReview(ctx, p.ID, forge.ReviewInput{
		Verdict: forge.VerdictRequestChanges,
		Body:    body.String(),
	}); err != nil {
		return fmt.Errorf("request changes on #%d: %w", p.ID, err)
	}
	x.log.Info("requested changes", "proposal", p.ID, "strike", d.Strike)
	return nil
}

func (x *Executor) applyClose(ctx context.Context, p forge.Proposal, d Decision) error {
	if err := x.forge.Close(ctx, p.ID, d.Reason); err != nil {
		return fmt.Errorf("close #%d: %w", p.ID, err)
	}
	// The underlying work item goes back to the backlog so it isn't lost
	// with the abandoned proposal.
	x.transitionLinked(ctx, p, tracker.StateBacklog)
	x.log.Info("closed", "proposal", p.ID, "reason", d.Reason)
	return nil
}

func (x *Executor) transitionLinked(ctx context.Context, p forge.Proposal, target tracker.State) {
	if x.tracker == nil || p.LinkedIssueID == "" {
		return
	}
	if err := x.tracker.Transition(ctx, p.LinkedIssueID, target); err != nil {
		// Non-fatal: the proposal side effect already landed.
		x.log.Warn("linked issue transition failed",
			"proposal", p.ID, "issue", p.LinkedIssueID, "target", target, "err", err)
	}
}
