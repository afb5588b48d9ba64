package forge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/v60/github"
	"golang.org/x/oauth2"
)

// GitHubForge reads and mutates a repository's pull requests.
type GitHubForge struct {
	gh   *github.Client
	info RepoInfo
	log  *slog.Logger
}

func NewGitHub(ctx context.Context, token string, info RepoInfo, log *slog.Logger) *GitHubForge {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &GitHubForge{
		gh:   github.NewClient(oauth2.NewClient(ctx, ts)),
		info: info,
		log:  log,
	}
}

func (f *GitHubForge) ListOpenProposals(ctx context.Context) ([]Proposal, error) {
	opts := &github.PullRequestListOptions{
		State:       "open",
		Sort:        "created",
		Direction:   "asc",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var proposals []Proposal
	for {
		prs, resp, err := f.gh.PullRequests.List(ctx, f.info.Owner, f.info.Repo, opts)
		if err != nil {
			return nil, fmt.Errorf("github list pull requests: %w", err)
		}
		for _, pr := range prs {
			p, err := f.loadProposal(ctx, pr)
			if err != nil {
				if IsAuth(err) {
					return nil, err
				}
				// One unreadable proposal must not block the rest of the
				// batch; it stays open and is re-observed next run.
				f.log.Warn("skipping unreadable proposal", "proposal", pr.GetNumber(), "err", err)
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

func (f *GitHubForge) loadProposal(ctx context.Context, pr *github.PullRequest) (Proposal, error) {
	number := pr.GetNumber()

	p := Proposal{
		ID:            number,
		Repo:          f.info.Owner + "/" + f.info.Repo,
		Title:         pr.GetTitle(),
		Branch:        pr.GetHead().GetRef(),
		Author:        pr.GetUser().GetLogin(),
		LinkedIssueID: parseLinkedIssue(pr.GetBody()),
		CreatedAt:     pr.GetCreatedAt().Time,
		UpdatedAt:     pr.GetUpdatedAt().Time,
	}

	fileOpts := &github.ListOptions{PerPage: 100}
	var diff strings.Builder
	for {
		files, resp, err := f.gh.PullRequests.ListFiles(ctx, f.info.Owner, f.info.Repo, number, fileOpts)
		if err != nil {
			return Proposal{}, fmt.Errorf("github list files for #%d: %w", number, err)
		}
		for _, cf := range files {
			p.ChangedPaths = append(p.ChangedPaths, cf.GetFilename())
			p.LinesChanged += cf.GetAdditions() + cf.GetDeletions()
			if isTestPath(cf.GetFilename()) {
				p.HasTests = true
			}
			if patch := cf.GetPatch(); patch != "" {
				fmt.Fprintf(&diff, "--- %s\n%s\n", cf.GetFilename(), patch)
			}
		}
		p.FilesChanged += len(files)
		if resp.NextPage == 0 {
			break
		}
		fileOpts.Page = resp.NextPage
	}
	p.Diff = diff.String()

	reviewOpts := &github.ListOptions{PerPage: 100}
	for {
		reviews, resp, err := f.gh.PullRequests.ListReviews(ctx, f.info.Owner, f.info.Repo, number, reviewOpts)
		if err != nil {
			return Proposal{}, fmt.Errorf("github list reviews for #%d: %w", number, err)
		}
		for _, rv := range reviews {
			verdict := VerdictComment
			switch rv.GetState() {
			case "APPROVED":
				verdict = VerdictApprove
			case "CHANGES_REQUESTED":
				verdict = VerdictRequestChanges
			}
			p.Timeline = append(p.Timeline, Event{
				Kind:    EventReview,
				Actor:   rv.GetUser().GetLogin(),
				At:      rv.GetSubmittedAt().Time,
				Verdict: verdict,
				Body:    rv.GetBody(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		reviewOpts.Page = resp.NextPage
	}

	commentOpts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		comments, resp, err := f.gh.Issues.ListComments(ctx, f.info.Owner, f.info.Repo, number, commentOpts)
		if err != nil {
			return Proposal{}, fmt.Errorf("github list comments for #%d: %w", number, err)
		}
		for _, c := range comments {
			p.Timeline = append(p.Timeline, Event{
				Kind:  EventComment,
				Actor: c.GetUser().GetLogin(),
				At:    c.GetCreatedAt().Time,
				Body:  c.GetBody(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		commentOpts.Page = resp.NextPage
	}

	commitOpts := &github.ListOptions{PerPage: 100}
	for {
		commits, resp, err := f.gh.PullRequests.ListCommits(ctx, f.info.Owner, f.info.Repo, number, commitOpts)
		if err != nil {
			return Proposal{}, fmt.Errorf("github list commits for #%d: %w", number, err)
		}
		for _, c := range commits {
			p.Timeline = append(p.Timeline, Event{
				Kind:  EventCommit,
				Actor: c.GetAuthor().GetLogin(),
				At:    c.GetCommit().GetCommitter().GetDate().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		commitOpts.Page = resp.NextPage
	}

	status, _, err := f.gh.Repositories.GetCombinedStatus(ctx, f.info.Owner, f.info.Repo,
		pr.GetHead().GetSHA(), nil)
	if err != nil {
		return Proposal{}, fmt.Errorf("github combined status for #%d: %w", number, err)
	}
	p.CIStatus = githubCIStatus(status)
	if p.CIStatus != CIUnknown {
		// The event's time must come from the statuses themselves, never from
		// the PR's updated_at: any activity (our own approval included) bumps
		// updated_at, which would stamp the CI event after the approval and
		// re-trigger review on every run.
		var at time.Time
		for _, st := range status.Statuses {
			if st.GetUpdatedAt().Time.After(at) {
				at = st.GetUpdatedAt().Time
			}
		}
		if !at.IsZero() {
			p.Timeline = append(p.Timeline, Event{Kind: EventCI, At: at, Status: p.CIStatus})
		}
	}

	sort.SliceStable(p.Timeline, func(i, j int) bool {
		return p.Timeline[i].At.Before(p.Timeline[j].At)
	})
	return p, nil
}

func githubCIStatus(status *github.CombinedStatus) CIStatus {
	if status == nil || status.GetTotalCount() == 0 {
		return CIUnknown
	}
	switch status.GetState() {
	case "pending":
		return CIPending
	case "success":
		return CIPassing
	case "failure", "error":
		return CIFailing
	default:
		return CIUnknown
	}
}

func (f *GitHubForge) PostReview(ctx context.Context, id int, review ReviewInput) error {
	event := ""
	switch review.Verdict {
	case VerdictApprove:
		event = "APPROVE"
	case VerdictRequestChanges:
		event = "REQUEST_CHANGES"
	default:
		return fmt.Errorf("github post review: unsupported verdict %q", review.Verdict)
	}

	_, _, err := f.gh.PullRequests.CreateReview(ctx, f.info.Owner, f.info.Repo, id,
		&github.PullRequestReviewRequest{
			Body:  github.String(review.Body),
			Event: github.String(event),
		})
	if err != nil {
		return fmt.Errorf("github post review on #%d: %w", id, err)
	}
	return nil
}

func (f *GitHubForge) Comment(ctx context.Context, id int, body string) error {
	_, _, err := f.gh.Issues.CreateComment(ctx, f.info.Owner, f.info.Repo, id,
		&github.IssueComment{Body: github.String(body)})
	if err != nil {
		return fmt.Errorf("github comment on #%d: %w", id, err)
	}
	return nil
}

func (f *GitHubForge) Merge(ctx context.Context, id int, message string) error {
	_, _, err := f.gh.PullRequests.Merge(ctx, f.info.Owner, f.info.Repo, id, message,
		&github.PullRequestOptions{MergeMethod: "squash"})
	if err != nil {
		return fmt.Errorf("github merge #%d: %w", id, err)
	}
	return nil
}

func (f *GitHubForge) Close(ctx context.Context, id int, reason string) error {
	if strings.TrimSpace(reason) != "" {
		if err := f.Comment(ctx, id, reason); err != nil {
			return err
		}
	}
	_, _, err := f.gh.PullRequests.Edit(ctx, f.info.Owner, f.info.Repo, id,
		&github.PullRequest{State: github.String("closed")})
	if err != nil {
		return fmt.Errorf("github close #%d: %w", id, err)
	}
	return nil
}
