package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-github/v60/github"
)

func githubStatusError(code int) error {
	return &github.ErrorResponse{
		Response: &http.Response{StatusCode: code},
		Message:  "nope",
	}
}

func TestMapGitHubErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{githubStatusError(http.StatusUnauthorized), KindAuthFailure},
		{githubStatusError(http.StatusForbidden), KindAuthFailure},
		{githubStatusError(http.StatusNotFound), KindNotFound},
		{githubStatusError(http.StatusUnprocessableEntity), KindMalformed},
		{githubStatusError(http.StatusBadGateway), KindTransient},
		{errors.New("connection reset by peer"), KindTransient},
	}
	for _, tc := range cases {
		mapped := mapGitHubError("op", tc.err)
		var te *Error
		if !errors.As(mapped, &te) || te.Kind != tc.want {
			t.Fatalf("mapGitHubError(%v) = %v, want kind %s", tc.err, mapped, tc.want)
		}
	}
}

func TestMapGitHubRateLimitCarriesReset(t *testing.T) {
	reset := time.Now().Add(time.Minute)
	err := mapGitHubError("op", &github.RateLimitError{
		Rate: github.Rate{Reset: github.Timestamp{Time: reset}},
	})

	var te *Error
	if !errors.As(err, &te) || te.Kind != KindRateLimited {
		t.Fatalf("expected rate-limited, got %v", err)
	}
	if te.RetryAfter <= 0 || te.RetryAfter > time.Minute {
		t.Fatalf("retry-after should come from the reset time, got %v", te.RetryAfter)
	}
	if !Retryable(err) {
		t.Fatal("rate limits are retryable")
	}
}

// The backlog is the set of issues still awaiting pickup; open issues already
// labelled in-progress (and pull requests) must not count.
func TestGitHubListBacklogExcludesNonBacklog(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"number":1,"title":"ready","state":"open","labels":[]},
			{"number":2,"title":"picked up","state":"open","labels":[{"name":"in-progress"}]},
			{"number":3,"title":"a PR","state":"open","labels":[],"pull_request":{"url":"https://example.com/pr/3"}}
		]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	gh := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	gh.BaseURL = base
	trk := &GitHub{gh: gh, owner: "acme", repo: "widgets"}

	issues, err := trk.ListBacklog(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("ListBacklog: %v", err)
	}
	if len(issues) != 1 || issues[0].ID != "1" {
		t.Fatalf("backlog must contain only issue 1, got %+v", issues)
	}
}

func TestGitHubIssueMapping(t *testing.T) {
	is := &github.Issue{
		Number: github.Int(42),
		Title:  github.String("Fix the widget"),
		State:  github.String("open"),
		Labels: []*github.Label{
			{Name: github.String("backend")},
			{Name: github.String("priority:high")},
			{Name: github.String(labelInProgress)},
		},
	}
	got := githubIssue(is)
	if got.ID != "42" || got.Tracker != BackendGitHub {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if got.State != StateInProgress {
		t.Fatalf("in-progress label should map state, got %s", got.State)
	}
	if got.Priority != "priority:high" {
		t.Fatalf("priority hint not extracted: %+v", got)
	}
}
