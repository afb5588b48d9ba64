package review

import (
	"strings"

	"github.com/stewardhq/steward/internals/forge"
)

// Review bodies the executor posts carry one of these machine-readable
// marker lines. They are how a later run, a fresh process with no memory,
// tells a strike-counting rejection apart from a CI-wait rejection when it
// re-scans the timeline.
const (
	MarkerStrike = "<!-- steward:strike -->"
	MarkerCI     = "<!-- steward:ci -->"
)

// strikes counts the substantive rejections this actor has already posted on
// the proposal. Only strike-marked reviews count; CI-failure rejections are
// waiting on infrastructure, not judging quality.
func strikes(p forge.Proposal, self string) int {
	n := 0
	for _, ev := range p.Timeline {
		if ev.Kind == forge.EventReview &&
			ev.Actor == self &&
			ev.Verdict == forge.VerdictRequestChanges &&
			strings.Contains(ev.Body, MarkerStrike) {
			n++
		}
	}
	return n
}

// approvalStands reports whether this actor's most recent approval is still
// the last word: an approval with no later commit, CI update, or
// change-request review. When it stands, re-scoring would only produce a
// duplicate approval.
func approvalStands(p forge.Proposal, self string) bool {
	approvedAt := -1
	for i, ev := range p.Timeline {
		if ev.Kind == forge.EventReview && ev.Actor == self && ev.Verdict == forge.VerdictApprove {
			approvedAt = i
		}
	}
	if approvedAt < 0 {
		return false
	}
	for _, ev := range p.Timeline[approvedAt+1:] {
		switch ev.Kind {
		case forge.EventCommit, forge.EventCI:
			return false
		case forge.EventReview:
			if ev.Verdict == forge.VerdictRequestChanges {
				return false
			}
		}
	}
	return true
}
