package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stewardhq/steward/internals/config"
	"github.com/stewardhq/steward/internals/forge"
)

// BranchPrefix is the reserved branch naming prefix marking proposals this
// system authored. It is the sole ownership signal: proposals without it are
// never touched.
const BranchPrefix = "steward/"

// MaxStrikes is the number of substantive rejection cycles a proposal gets
// before it is closed.
const MaxStrikes = 3

// Scorer rates a proposal across the quality dimensions. The production
// implementation asks a language model; tests substitute a stub, which keeps
// the engine itself a pure function of (timeline, policy).
type Scorer interface {
	Score(ctx context.Context, p forge.Proposal) (Scores, error)
}

// Engine recomputes, each run, what should happen to a proposal. It holds no
// state between runs: everything is derived from the proposal's timeline and
// the policy value threaded in at construction.
type Engine struct {
	policy config.RepoPolicy
	scorer Scorer
	// self is the actor's own login on the forge, used to recognise its
	// past reviews on the timeline.
	self string
	now  func() time.Time
}

func NewEngine(policy config.RepoPolicy, scorer Scorer, self string) *Engine {
	return &Engine{policy: policy, scorer: scorer, self: self, now: time.Now}
}

// Decide returns the decision for one proposal. The second result is false
// when the proposal is not ours to touch: a silent skip, not an error.
// Rules are evaluated in a fixed order; the first match wins, which is the
// deliberate tie-break policy rather than an accident of implementation.
func (e *Engine) Decide(ctx context.Context, p forge.Proposal) (Decision, bool, error) {
	// Ownership runs before everything else. External proposals produce no
	// decision and no event.
	if !strings.HasPrefix(p.Branch, BranchPrefix) {
		return Decision{}, false, nil
	}

	// Staleness yields only to ownership: a stale proposal closes no matter
	// what the remaining rules would say, so none of them need to run, the
	// scoring call included.
	if e.stale(p) {
		return Decision{
			Outcome: OutcomeClose,
			Reason:  fmt.Sprintf("closing: no activity for over %d days", e.policy.StaleDays),
		}, true, nil
	}

	d, err := e.decide(ctx, p)
	if err != nil {
		return Decision{}, true, err
	}
	return d, true, nil
}

func (e *Engine) decide(ctx context.Context, p forge.Proposal) (Decision, error) {
	if approvalStands(p, e.self) {
		return Decision{Outcome: OutcomeDefer, Reason: "already approved, nothing new since"}, nil
	}

	switch p.CIStatus {
	case forge.CIPending:
		// Don't burn a review cycle waiting on infrastructure.
		return Decision{Outcome: OutcomeDefer, Reason: "CI pending"}, nil
	case forge.CIFailing:
		return Decision{
			Outcome: OutcomeRequestChanges,
			Reason:  "CI failing — fix the build before review",
			Strike:  false,
		}, nil
	}

	if n := strikes(p, e.self); n >= MaxStrikes {
		return Decision{
			Outcome: OutcomeClose,
			Reason:  fmt.Sprintf("quality bar not met after %d review cycles", n),
		}, nil
	}

	if p.FilesChanged > e.policy.MaxFilesPerPR {
		return Decision{
			Outcome: OutcomeRequestChanges,
			Reason:  fmt.Sprintf("scope too large: %d files changed, limit is %d — split this up", p.FilesChanged, e.policy.MaxFilesPerPR),
			Strike:  true,
		}, nil
	}

	for _, path := range p.ChangedPaths {
		if glob, hit := e.policy.MatchesProtected(path); hit {
			return Decision{
				Outcome: OutcomeRequestChanges,
				Reason:  fmt.Sprintf("touches protected path %s (matched by %s)", path, glob),
				Strike:  true,
			}, nil
		}
	}

	if p.LinesChanged >= e.policy.MinLinesForTests && !p.HasTests {
		return Decision{
			Outcome: OutcomeRequestChanges,
			Reason:  fmt.Sprintf("missing tests: %d lines changed with no test changes", p.LinesChanged),
			Strike:  true,
		}, nil
	}

	scores, err := e.scorer.Score(ctx, p)
	if err != nil {
		return Decision{}, fmt.Errorf("score proposal #%d: %w", p.ID, err)
	}
	if failing := scores.Failing(ScoreThreshold); len(failing) > 0 {
		return Decision{
			Outcome: OutcomeRequestChanges,
			Scores:  scores,
			Reason:  "quality below threshold on: " + strings.Join(failing, ", "),
			Strike:  true,
		}, nil
	}
	return Decision{
		Outcome: OutcomeMerge,
		Scores:  scores,
		Reason:  "all quality dimensions at or above threshold",
	}, nil
}

func (e *Engine) stale(p forge.Proposal) bool {
	cutoff := time.Duration(e.policy.StaleDays) * 24 * time.Hour
	return e.now().Sub(p.LastActivity()) > cutoff
}
