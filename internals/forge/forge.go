package forge

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Forge is the single surface over one repository's open change proposals:
// the read model the decision engine consumes, plus the mutations the
// executor applies. Implemented for GitHub pull requests and GitLab merge
// requests.
type Forge interface {
	// ListOpenProposals returns the repository's open proposals oldest-first,
	// each with its full timeline. The timeline is the only state that
	// survives between runs; callers re-derive everything from it.
	ListOpenProposals(ctx context.Context) ([]Proposal, error)
	// PostReview submits a formal review rather than a plain comment so that its
	// authorship and type are unambiguous on the next run's timeline scan.
	PostReview(ctx context.Context, id int, review ReviewInput) error
	Comment(ctx context.Context, id int, body string) error
	Merge(ctx context.Context, id int, message string) error
	// Close closes the proposal with a human-readable reason. The branch is
	// left in place.
	Close(ctx context.Context, id int, reason string) error
}

type CIStatus int

const (
	CIUnknown CIStatus = iota
	CIPending
	CIPassing
	CIFailing
)

func (s CIStatus) String() string {
	switch s {
	case CIPending:
		return "pending"
	case CIPassing:
		return "passing"
	case CIFailing:
		return "failing"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	EventReview EventKind = iota
	EventComment
	EventCI
	EventCommit
)

// Verdicts a review event can carry.
const (
	VerdictApprove        = "approve"
	VerdictRequestChanges = "request_changes"
	VerdictComment        = "comment"
)

// Event is one immutable, timestamped fact on a proposal's timeline.
type Event struct {
	Kind  EventKind
	Actor string
	At    time.Time

	Verdict string   // reviews only
	Body    string   // reviews and comments
	Status  CIStatus // CI updates only
}

type Proposal struct {
	ID     int
	Repo   string
	Title  string
	Branch string
	Author string

	CIStatus     CIStatus
	FilesChanged int
	LinesChanged int
	ChangedPaths []string
	HasTests     bool
	Diff         string // unified diff of all changes

	// LinkedIssueID is the tracker issue this proposal closes, parsed from
	// the proposal body; empty when none is referenced.
	LinkedIssueID string

	CreatedAt time.Time
	UpdatedAt time.Time

	Timeline []Event
}

// LastActivity is the time of the newest timeline event, falling back to the
// proposal's own timestamps when the timeline is empty.
func (p Proposal) LastActivity() time.Time {
	last := p.CreatedAt
	if p.UpdatedAt.After(last) {
		last = p.UpdatedAt
	}
	for _, ev := range p.Timeline {
		if ev.At.After(last) {
			last = ev.At
		}
	}
	return last
}

type ReviewInput struct {
	Verdict string // VerdictApprove or VerdictRequestChanges
	Body    string
}

var linkedIssueRe = regexp.MustCompile(`(?i)closes\s+(?:#|\S*/issues/)(\d+)`)

// parseLinkedIssue extracts the tracker issue reference from a proposal body
// following the "Closes #n" / "Closes https://.../issues/n" convention the
// engineer actor writes into every proposal it opens.
func parseLinkedIssue(body string) string {
	m := linkedIssueRe.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return m[1]
}

// isTestPath reports whether a changed path looks like test code.
func isTestPath(path string) bool {
	base := path[strings.LastIndex(path, "/")+1:]
	if strings.Contains(base, "_test.") || strings.HasPrefix(base, "test_") {
		return true
	}
	for _, dir := range strings.Split(path, "/") {
		if dir == "test" || dir == "tests" || dir == "__tests__" {
			return true
		}
	}
	return false
}
