// Package audit implements the health-reporting actor: a periodic digest of
// backlog depth and proposal health, posted to the notification channel, with
// a tracker issue filed when stale proposals pile up.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stewardhq/steward/internals/config"
	"github.com/stewardhq/steward/internals/forge"
	"github.com/stewardhq/steward/internals/tracker"
)

const staleReportTitle = "Stale change proposals need attention"

type Notifier interface {
	NotifyText(ctx context.Context, text string) error
}

type Auditor struct {
	tracker  tracker.Tracker
	forge    forge.Forge
	notifier Notifier
	policy   config.RepoPolicy
	repo     string
	log      *slog.Logger
	now      func() time.Time
}

func New(t tracker.Tracker, f forge.Forge, n Notifier, policy config.RepoPolicy, repo string, log *slog.Logger) *Auditor {
	return &Auditor{
		tracker:  t,
		forge:    f,
		notifier: n,
		policy:   policy,
		repo:     repo,
		log:      log,
		now:      time.Now,
	}
}

// Run produces one health digest. Failures to observe either backend are
// reported in the digest rather than aborting it.
func (a *Auditor) Run(ctx context.Context) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, ":stethoscope: *Health report for %s*\n", a.repo)

	backlog, err := a.tracker.ListBacklog(ctx, tracker.Filter{})
	if err != nil {
		fmt.Fprintf(&sb, ":warning: backlog unobservable: %v\n", err)
	} else {
		fmt.Fprintf(&sb, "Backlog: %d issue(s) awaiting pickup\n", len(backlog))
	}

	proposals, err := a.forge.ListOpenProposals(ctx)
	if err != nil {
		fmt.Fprintf(&sb, ":warning: proposals unobservable: %v\n", err)
	} else {
		stale := a.staleProposals(proposals)
		fmt.Fprintf(&sb, "Open proposals: %d, of which %d stale (no activity for %d+ days)\n",
			len(proposals), len(stale), a.policy.StaleDays)

		if len(stale) > 0 {
			if err := a.fileStaleReport(ctx, stale); err != nil {
				a.log.Warn("could not file stale report", "err", err)
				fmt.Fprintf(&sb, ":warning: stale report not filed: %v\n", err)
			}
		}
	}

	if err := a.notifier.NotifyText(ctx, sb.String()); err != nil {
		return fmt.Errorf("post health digest: %w", err)
	}
	return nil
}

func (a *Auditor) staleProposals(proposals []forge.Proposal) []forge.Proposal {
	cutoff := time.Duration(a.policy.StaleDays) * 24 * time.Hour
	var stale []forge.Proposal
	for _, p := range proposals {
		if a.now().Sub(p.LastActivity()) > cutoff {
			stale = append(stale, p)
		}
	}
	return stale
}

// fileStaleReport creates a tracker issue listing the stale proposals, after
// pre-checking the backlog for an existing open report. The tracker's
// CreateIssue does not deduplicate; that is this caller's job.
func (a *Auditor) fileStaleReport(ctx context.Context, stale []forge.Proposal) error {
	existing, err := a.tracker.ListBacklog(ctx, tracker.Filter{})
	if err != nil {
		return fmt.Errorf("dedup pre-check: %w", err)
	}
	for _, is := range existing {
		if is.Title == staleReportTitle {
			a.log.Info("stale report already filed", "issue", is.ID)
			return nil
		}
	}

	var body strings.Builder
	body.WriteString("The following change proposals have seen no activity beyond the staleness window:\n\n")
	for _, p := range stale {
		fmt.Fprintf(&body, "- #%d %s (branch %s, last activity %s)\n",
			p.ID, p.Title, p.Branch, p.LastActivity().Format(time.DateOnly))
	}

	issue, err := a.tracker.CreateIssue(ctx, tracker.IssueInput{
		Title:  staleReportTitle,
		Body:   body.String(),
		Labels: []string{"steward:audit"},
	})
	if err != nil {
		return fmt.Errorf("create stale report: %w", err)
	}
	a.log.Info("stale report filed", "issue", issue.ID, "proposals", len(stale))
	return nil
}
