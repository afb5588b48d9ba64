package forge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// GitLab has no review primitive distinct from notes, so formal reviews are
// notes carrying a structured header line the next run's timeline scan parses
// back into a verdict. Approvals additionally go through the approvals API.
const gitlabReviewHeader = "**Steward review:** "

// GitLabForge reads and mutates a project's merge requests.
type GitLabForge struct {
	gl   *gitlab.Client
	info RepoInfo
	log  *slog.Logger
}

func NewGitLab(token, baseURL string, info RepoInfo, log *slog.Logger) (*GitLabForge, error) {
	gl, err := gitlab.NewClient(token, gitlab.WithBaseURL(baseURL+"/api/v4"))
	if err != nil {
		return nil, fmt.Errorf("gitlab client: %w", err)
	}
	return &GitLabForge{gl: gl, info: info, log: log}, nil
}

func (f *GitLabForge) pid() string {
	return f.info.Owner + "/" + f.info.Repo
}

func (f *GitLabForge) ListOpenProposals(ctx context.Context) ([]Proposal, error) {
	opts := &gitlab.ListProjectMergeRequestsOptions{
		State:       gitlab.Ptr("opened"),
		OrderBy:     gitlab.Ptr("created_at"),
		Sort:        gitlab.Ptr("asc"),
		ListOptions: gitlab.ListOptions{PerPage: 100},
	}

	var proposals []Proposal
	for {
		mrs, resp, err := f.gl.MergeRequests.ListProjectMergeRequests(f.pid(), opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("gitlab list merge requests: %w", err)
		}
		for _, mr := range mrs {
			p, err := f.loadProposal(ctx, int(mr.IID))
			if err != nil {
				if IsAuth(err) {
					return nil, err
				}
				// One unreadable proposal must not block the rest of the
				// batch; it stays open and is re-observed next run.
				f.log.Warn("skipping unreadable proposal", "proposal", mr.IID, "err", err)
				continue
			}
			proposals = append(proposals, p)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return proposals, nil
}

func (f *GitLabForge) loadProposal(ctx context.Context, iid int) (Proposal, error) {
	mr, _, err := f.gl.MergeRequests.GetMergeRequest(f.pid(), int64(iid), nil, gitlab.WithContext(ctx))
	if err != nil {
		return Proposal{}, fmt.Errorf("gitlab get merge request !%d: %w", iid, err)
	}

	p := Proposal{
		ID:            iid,
		Repo:          f.pid(),
		Title:         mr.Title,
		Branch:        mr.SourceBranch,
		LinkedIssueID: parseLinkedIssue(mr.Description),
	}
	if mr.Author != nil {
		p.Author = mr.Author.Username
	}
	if mr.CreatedAt != nil {
		p.CreatedAt = *mr.CreatedAt
	}
	if mr.UpdatedAt != nil {
		p.UpdatedAt = *mr.UpdatedAt
	}

	diffs, _, err := f.gl.MergeRequests.ListMergeRequestDiffs(f.pid(), int64(iid), nil, gitlab.WithContext(ctx))
	if err != nil {
		return Proposal{}, fmt.Errorf("gitlab list diffs for !%d: %w", iid, err)
	}
	var diff strings.Builder
	for _, d := range diffs {
		path := d.NewPath
		if path == "" {
			path = d.OldPath
		}
		p.ChangedPaths = append(p.ChangedPaths, path)
		p.LinesChanged += countDiffLines(d.Diff)
		if isTestPath(path) {
			p.HasTests = true
		}
		fmt.Fprintf(&diff, "--- %s\n%s\n", path, d.Diff)
	}
	p.FilesChanged = len(diffs)
	p.Diff = diff.String()

	notes, _, err := f.gl.Notes.ListMergeRequestNotes(f.pid(), int64(iid), nil, gitlab.WithContext(ctx))
	if err != nil {
		return Proposal{}, fmt.Errorf("gitlab list notes for !%d: %w", iid, err)
	}
	for _, n := range notes {
		if n.System {
			continue
		}
		ev := Event{Kind: EventComment, Actor: n.Author.Username, Body: n.Body}
		if n.CreatedAt != nil {
			ev.At = *n.CreatedAt
		}
		if verdict, body, ok := parseGitLabReviewNote(n.Body); ok {
			ev.Kind = EventReview
			ev.Verdict = verdict
			ev.Body = body
		}
		p.Timeline = append(p.Timeline, ev)
	}

	commits, _, err := f.gl.MergeRequests.GetMergeRequestCommits(f.pid(), int64(iid), nil, gitlab.WithContext(ctx))
	if err != nil {
		return Proposal{}, fmt.Errorf("gitlab list commits for !%d: %w", iid, err)
	}
	for _, c := range commits {
		ev := Event{Kind: EventCommit, Actor: c.AuthorName}
		if c.CreatedAt != nil {
			ev.At = *c.CreatedAt
		}
		p.Timeline = append(p.Timeline, ev)
	}

	if mr.Pipeline != nil {
		p.CIStatus = gitlabCIStatus(mr.Pipeline.Status)
		ev := Event{Kind: EventCI, Status: p.CIStatus, At: p.UpdatedAt}
		if mr.Pipeline.UpdatedAt != nil {
			ev.At = *mr.Pipeline.UpdatedAt
		}
		p.Timeline = append(p.Timeline, ev)
	}

	sort.SliceStable(p.Timeline, func(i, j int) bool {
		return p.Timeline[i].At.Before(p.Timeline[j].At)
	})
	return p, nil
}

func gitlabCIStatus(status string) CIStatus {
	switch status {
	case "created", "pending", "running", "waiting_for_resource", "preparing":
		return CIPending
	case "success":
		return CIPassing
	case "failed":
		return CIFailing
	default:
		return CIUnknown
	}
}

func countDiffLines(diff string) int {
	n := 0
	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---") {
			continue
		}
		if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
			n++
		}
	}
	return n
}

func parseGitLabReviewNote(body string) (verdict, rest string, ok bool) {
	if !strings.HasPrefix(body, gitlabReviewHeader) {
		return "", "", false
	}
	trimmed := strings.TrimPrefix(body, gitlabReviewHeader)
	verdict, rest, _ = strings.Cut(trimmed, "\n")
	verdict = strings.TrimSpace(verdict)
	if verdict != VerdictApprove && verdict != VerdictRequestChanges {
		return "", "", false
	}
	return verdict, strings.TrimSpace(rest), true
}

func (f *GitLabForge) PostReview(ctx context.Context, id int, review ReviewInput) error {
	if review.Verdict != VerdictApprove && review.Verdict != VerdictRequestChanges {
		return fmt.Errorf("gitlab post review: unsupported verdict %q", review.Verdict)
	}

	body := gitlabReviewHeader + review.Verdict + "\n" + review.Body
	_, _, err := f.gl.Notes.CreateMergeRequestNote(f.pid(), int64(id),
		&gitlab.CreateMergeRequestNoteOptions{Body: gitlab.Ptr(body)}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("gitlab post review note on !%d: %w", id, err)
	}

	if review.Verdict == VerdictApprove {
		_, _, err = f.gl.MergeRequestApprovals.ApproveMergeRequest(f.pid(), int64(id), nil, gitlab.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("gitlab approve !%d: %w", id, err)
		}
	}
	return nil
}

func (f *GitLabForge) Comment(ctx context.Context, id int, body string) error {
	_, _, err := f.gl.Notes.CreateMergeRequestNote(f.pid(), int64(id),
		&gitlab.CreateMergeRequestNoteOptions{Body: gitlab.Ptr(body)}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("gitlab comment on !%d: %w", id, err)
	}
	return nil
}

func (f *GitLabForge) Merge(ctx context.Context, id int, message string) error {
	_, _, err := f.gl.MergeRequests.AcceptMergeRequest(f.pid(), int64(id),
		&gitlab.AcceptMergeRequestOptions{MergeCommitMessage: gitlab.Ptr(message)}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("gitlab merge !%d: %w", id, err)
	}
	return nil
}

func (f *GitLabForge) Close(ctx context.Context, id int, reason string) error {
	if strings.TrimSpace(reason) != "" {
		if err := f.Comment(ctx, id, reason); err != nil {
			return err
		}
	}
	_, _, err := f.gl.MergeRequests.UpdateMergeRequest(f.pid(), int64(id),
		&gitlab.UpdateMergeRequestOptions{StateEvent: gitlab.Ptr("close")}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("gitlab close !%d: %w", id, err)
	}
	return nil
}
