package audit

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stewardhq/steward/internals/config"
	"github.com/stewardhq/steward/internals/forge"
	"github.com/stewardhq/steward/internals/tracker"
)

var auditNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

type fakeTracker struct {
	backlog []tracker.Issue
	created []tracker.IssueInput
}

func (f *fakeTracker) ListBacklog(ctx context.Context, filter tracker.Filter) ([]tracker.Issue, error) {
	return f.backlog, nil
}

func (f *fakeTracker) CreateIssue(ctx context.Context, input tracker.IssueInput) (tracker.Issue, error) {
	f.created = append(f.created, input)
	return tracker.Issue{ID: "new", Title: input.Title}, nil
}

func (f *fakeTracker) Comment(ctx context.Context, issueID, body string) error { return nil }

func (f *fakeTracker) Transition(ctx context.Context, issueID string, target tracker.State) error {
	return nil
}

type fakeForge struct {
	proposals []forge.Proposal
}

func (f *fakeForge) ListOpenProposals(ctx context.Context) ([]forge.Proposal, error) {
	return f.proposals, nil
}
func (f *fakeForge) PostReview(ctx context.Context, id int, r forge.ReviewInput) error { return nil }
func (f *fakeForge) Comment(ctx context.Context, id int, body string) error            { return nil }
func (f *fakeForge) Merge(ctx context.Context, id int, message string) error           { return nil }
func (f *fakeForge) Close(ctx context.Context, id int, reason string) error            { return nil }

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) NotifyText(ctx context.Context, text string) error {
	f.messages = append(f.messages, text)
	return nil
}

func staleProposal(id int) forge.Proposal {
	old := auditNow.Add(-30 * 24 * time.Hour)
	return forge.Proposal{ID: id, Title: "old work", Branch: "steward/old", CreatedAt: old, UpdatedAt: old}
}

func freshProposal(id int) forge.Proposal {
	return forge.Proposal{ID: id, Title: "new work", Branch: "steward/new", CreatedAt: auditNow.Add(-time.Hour), UpdatedAt: auditNow.Add(-time.Hour)}
}

func newTestAuditor(trk *fakeTracker, fg *fakeForge, n *fakeNotifier) *Auditor {
	a := New(trk, fg, n, config.Default(), "acme/widgets", slog.New(slog.DiscardHandler))
	a.now = func() time.Time { return auditNow }
	return a
}

func TestAuditorPostsDigest(t *testing.T) {
	trk := &fakeTracker{backlog: []tracker.Issue{{ID: "1"}, {ID: "2"}}}
	fg := &fakeForge{proposals: []forge.Proposal{freshProposal(1)}}
	n := &fakeNotifier{}

	if err := newTestAuditor(trk, fg, n).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(n.messages) != 1 {
		t.Fatalf("expected one digest, got %d", len(n.messages))
	}
	if !strings.Contains(n.messages[0], "Backlog: 2") || !strings.Contains(n.messages[0], "Open proposals: 1") {
		t.Fatalf("digest missing counts: %q", n.messages[0])
	}
	if len(trk.created) != 0 {
		t.Fatalf("no stale proposals, no report expected: %+v", trk.created)
	}
}

func TestAuditorFilesStaleReport(t *testing.T) {
	trk := &fakeTracker{}
	fg := &fakeForge{proposals: []forge.Proposal{staleProposal(1), staleProposal(2), freshProposal(3)}}
	n := &fakeNotifier{}

	if err := newTestAuditor(trk, fg, n).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(trk.created) != 1 {
		t.Fatalf("expected one stale report, got %+v", trk.created)
	}
	report := trk.created[0]
	if report.Title != staleReportTitle {
		t.Fatalf("unexpected title %q", report.Title)
	}
	if !strings.Contains(report.Body, "#1") || !strings.Contains(report.Body, "#2") || strings.Contains(report.Body, "#3") {
		t.Fatalf("report should list exactly the stale proposals: %q", report.Body)
	}
}

func TestAuditorDeduplicatesStaleReport(t *testing.T) {
	trk := &fakeTracker{backlog: []tracker.Issue{{ID: "9", Title: staleReportTitle}}}
	fg := &fakeForge{proposals: []forge.Proposal{staleProposal(1)}}
	n := &fakeNotifier{}

	if err := newTestAuditor(trk, fg, n).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(trk.created) != 0 {
		t.Fatalf("an open report already exists, none should be filed: %+v", trk.created)
	}
}
