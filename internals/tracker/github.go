package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v60/github"
	"golang.org/x/oauth2"
)

// GitHub labels standing in for workflow states; GitHub issues have no
// native state machine beyond open/closed.
const (
	labelInProgress = "in-progress"
)

// GitHub implements Tracker over a repository's issues.
type GitHub struct {
	gh    *github.Client
	owner string
	repo  string
}

func NewGitHub(ctx context.Context, token, owner, repo string) *GitHub {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &GitHub{
		gh:    github.NewClient(oauth2.NewClient(ctx, ts)),
		owner: owner,
		repo:  repo,
	}
}

func (t *GitHub) ListBacklog(ctx context.Context, filter Filter) ([]Issue, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		Labels:      filter.Labels,
		Sort:        "created",
		Direction:   "asc",
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var out []Issue
	for {
		issues, resp, err := t.gh.Issues.ListByRepo(ctx, t.owner, t.repo, opts)
		if err != nil {
			return nil, mapGitHubError("github list issues", err)
		}
		for _, is := range issues {
			if is.IsPullRequest() {
				continue
			}
			issue := githubIssue(is)
			// ListByRepo returns every open issue; the backlog excludes
			// work already picked up.
			if issue.State != StateBacklog {
				continue
			}
			out = append(out, issue)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (t *GitHub) CreateIssue(ctx context.Context, input IssueInput) (Issue, error) {
	req := &github.IssueRequest{
		Title:  github.String(input.Title),
		Body:   github.String(input.Body),
		Labels: &input.Labels,
	}
	is, _, err := t.gh.Issues.Create(ctx, t.owner, t.repo, req)
	if err != nil {
		return Issue{}, mapGitHubError("github create issue", err)
	}
	return githubIssue(is), nil
}

func (t *GitHub) Comment(ctx context.Context, issueID, body string) error {
	number, err := githubNumber(issueID)
	if err != nil {
		return err
	}
	_, _, err = t.gh.Issues.CreateComment(ctx, t.owner, t.repo, number,
		&github.IssueComment{Body: github.String(body)})
	if err != nil {
		return mapGitHubError("github comment", err)
	}
	return nil
}

func (t *GitHub) Transition(ctx context.Context, issueID string, target State) error {
	number, err := githubNumber(issueID)
	if err != nil {
		return err
	}

	switch target {
	case StateDone:
		_, _, err = t.gh.Issues.Edit(ctx, t.owner, t.repo, number,
			&github.IssueRequest{State: github.String("closed")})
	case StateInProgress:
		_, _, err = t.gh.Issues.AddLabelsToIssue(ctx, t.owner, t.repo, number, []string{labelInProgress})
	case StateBacklog:
		if _, _, err = t.gh.Issues.Edit(ctx, t.owner, t.repo, number,
			&github.IssueRequest{State: github.String("open")}); err == nil {
			if _, lerr := t.gh.Issues.RemoveLabelForIssue(ctx, t.owner, t.repo, number, labelInProgress); lerr != nil {
				// The label may simply not be present; only surface real failures.
				if mapped := mapGitHubError("github remove label", lerr); !isNotFound(mapped) {
					err = lerr
				}
			}
		}
	default:
		return newError(KindMalformed, fmt.Sprintf("github: unsupported transition to %s", target), nil)
	}
	if err != nil {
		return mapGitHubError("github transition", err)
	}
	return nil
}

func githubIssue(is *github.Issue) Issue {
	labels := make([]string, 0, len(is.Labels))
	priority := ""
	state := StateBacklog
	for _, l := range is.Labels {
		name := l.GetName()
		labels = append(labels, name)
		if strings.HasPrefix(name, "priority:") {
			priority = name
		}
		if name == labelInProgress {
			state = StateInProgress
		}
	}
	if is.GetState() == "closed" {
		state = StateDone
	}
	return Issue{
		ID:        strconv.Itoa(is.GetNumber()),
		Tracker:   BackendGitHub,
		Title:     is.GetTitle(),
		Labels:    labels,
		State:     state,
		Priority:  priority,
		CreatedAt: is.GetCreatedAt().Time,
	}
}

func githubNumber(issueID string) (int, error) {
	n, err := strconv.Atoi(issueID)
	if err != nil {
		return 0, newError(KindMalformed, fmt.Sprintf("github: issue id %q is not a number", issueID), err)
	}
	return n, nil
}

func isNotFound(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == KindNotFound
}

func mapGitHubError(op string, err error) error {
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return &Error{
			Kind:       KindRateLimited,
			RetryAfter: time.Until(rle.Rate.Reset.Time),
			Msg:        op,
			Cause:      err,
		}
	}
	var arle *github.AbuseRateLimitError
	if errors.As(err, &arle) {
		e := &Error{Kind: KindRateLimited, Msg: op, Cause: err}
		if arle.RetryAfter != nil {
			e.RetryAfter = *arle.RetryAfter
		}
		return e
	}
	var ghe *github.ErrorResponse
	if errors.As(err, &ghe) && ghe.Response != nil {
		switch code := ghe.Response.StatusCode; {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return newError(KindAuthFailure, op, err)
		case code == http.StatusNotFound:
			return newError(KindNotFound, op, err)
		case code == http.StatusUnprocessableEntity || code == http.StatusBadRequest:
			return newError(KindMalformed, op, err)
		default:
			return newError(KindTransient, op, err)
		}
	}
	// Connection resets, timeouts, anything the client library did not type.
	return newError(KindTransient, op, err)
}
