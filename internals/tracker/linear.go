package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const linearEndpoint = "https://api.linear.app/graphql"

// Workflow state names Linear teams carry by default.
var linearStateNames = map[State]string{
	StateBacklog:    "Backlog",
	StateInProgress: "In Progress",
	StateDone:       "Done",
}

// Linear implements Tracker over Linear's GraphQL API.
//
// Every user-controlled string (titles, descriptions, label names) travels in
// the typed variables object of the request, never interpolated into query
// text. Issue titles are attacker-reachable, so this is a hard contract.
type Linear struct {
	httpc    *http.Client
	endpoint string
	apiKey   string
	teamID   string
}

type LinearOption func(*Linear)

// WithLinearEndpoint overrides the API endpoint, for tests and proxies.
func WithLinearEndpoint(url string) LinearOption {
	return func(l *Linear) { l.endpoint = url }
}

func NewLinear(apiKey, teamID string, opts ...LinearOption) *Linear {
	l := &Linear{
		httpc:    &http.Client{Timeout: 30 * time.Second},
		endpoint: linearEndpoint,
		apiKey:   apiKey,
		teamID:   teamID,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

const linearQueryBacklog = `query Backlog($teamId: ID!, $state: String!) {
  issues(filter: {team: {id: {eq: $teamId}}, state: {name: {eq: $state}}}, first: 100) {
    nodes {
      id
      title
      priority
      createdAt
      state { name }
      labels { nodes { name } }
    }
  }
}`

func (t *Linear) ListBacklog(ctx context.Context, filter Filter) ([]Issue, error) {
	var resp struct {
		Issues struct {
			Nodes []struct {
				ID        string  `json:"id"`
				Title     string  `json:"title"`
				Priority  float64 `json:"priority"`
				CreatedAt string  `json:"createdAt"`
				State     struct {
					Name string `json:"name"`
				} `json:"state"`
				Labels struct {
					Nodes []struct {
						Name string `json:"name"`
					} `json:"nodes"`
				} `json:"labels"`
			} `json:"nodes"`
		} `json:"issues"`
	}

	vars := map[string]any{
		"teamId": t.teamID,
		"state":  linearStateNames[StateBacklog],
	}
	if err := t.do(ctx, "linear list backlog", linearQueryBacklog, vars, &resp); err != nil {
		return nil, err
	}

	var out []Issue
	for _, n := range resp.Issues.Nodes {
		labels := make([]string, 0, len(n.Labels.Nodes))
		for _, l := range n.Labels.Nodes {
			labels = append(labels, l.Name)
		}
		if !matchesLabels(labels, filter.Labels) {
			continue
		}
		created, _ := time.Parse(time.RFC3339, n.CreatedAt)
		out = append(out, Issue{
			ID:        n.ID,
			Tracker:   BackendLinear,
			Title:     n.Title,
			Labels:    labels,
			State:     linearState(n.State.Name),
			Priority:  strconv.Itoa(int(n.Priority)),
			CreatedAt: created,
		})
	}
	return out, nil
}

const linearMutationCreateIssue = `mutation CreateIssue($input: IssueCreateInput!) {
  issueCreate(input: $input) {
    success
    issue {
      id
      title
      createdAt
      state { name }
    }
  }
}`

const linearQueryLabels = `query Labels($names: [String!]) {
  issueLabels(filter: {name: {in: $names}}) {
    nodes { id name }
  }
}`

func (t *Linear) CreateIssue(ctx context.Context, input IssueInput) (Issue, error) {
	createInput := map[string]any{
		"teamId":      t.teamID,
		"title":       input.Title,
		"description": input.Body,
	}
	if len(input.Labels) > 0 {
		ids, err := t.resolveLabelIDs(ctx, input.Labels)
		if err != nil {
			return Issue{}, err
		}
		if len(ids) > 0 {
			createInput["labelIds"] = ids
		}
	}

	var resp struct {
		IssueCreate struct {
			Success bool `json:"success"`
			Issue   struct {
				ID        string `json:"id"`
				Title     string `json:"title"`
				CreatedAt string `json:"createdAt"`
				State     struct {
					Name string `json:"name"`
				} `json:"state"`
			} `json:"issue"`
		} `json:"issueCreate"`
	}
	vars := map[string]any{"input": createInput}
	if err := t.do(ctx, "linear create issue", linearMutationCreateIssue, vars, &resp); err != nil {
		return Issue{}, err
	}
	if !resp.IssueCreate.Success {
		return Issue{}, newError(KindMalformed, "linear create issue: mutation reported failure", nil)
	}

	created, _ := time.Parse(time.RFC3339, resp.IssueCreate.Issue.CreatedAt)
	return Issue{
		ID:        resp.IssueCreate.Issue.ID,
		Tracker:   BackendLinear,
		Title:     resp.IssueCreate.Issue.Title,
		Labels:    input.Labels,
		State:     linearState(resp.IssueCreate.Issue.State.Name),
		CreatedAt: created,
	}, nil
}

const linearMutationComment = `mutation CreateComment($input: CommentCreateInput!) {
  commentCreate(input: $input) {
    success
  }
}`

func (t *Linear) Comment(ctx context.Context, issueID, body string) error {
	var resp struct {
		CommentCreate struct {
			Success bool `json:"success"`
		} `json:"commentCreate"`
	}
	vars := map[string]any{
		"input": map[string]any{"issueId": issueID, "body": body},
	}
	if err := t.do(ctx, "linear comment", linearMutationComment, vars, &resp); err != nil {
		return err
	}
	if !resp.CommentCreate.Success {
		return newError(KindMalformed, "linear comment: mutation reported failure", nil)
	}
	return nil
}

const linearQueryWorkflowState = `query WorkflowState($teamId: ID!, $name: String!) {
  workflowStates(filter: {team: {id: {eq: $teamId}}, name: {eq: $name}}) {
    nodes { id name }
  }
}`

const linearMutationTransition = `mutation Transition($id: String!, $input: IssueUpdateInput!) {
  issueUpdate(id: $id, input: $input) {
    success
  }
}`

func (t *Linear) Transition(ctx context.Context, issueID string, target State) error {
	name, ok := linearStateNames[target]
	if !ok {
		return newError(KindMalformed, fmt.Sprintf("linear: unsupported transition to %s", target), nil)
	}

	var states struct {
		WorkflowStates struct {
			Nodes []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"nodes"`
		} `json:"workflowStates"`
	}
	vars := map[string]any{"teamId": t.teamID, "name": name}
	if err := t.do(ctx, "linear resolve state", linearQueryWorkflowState, vars, &states); err != nil {
		return err
	}
	if len(states.WorkflowStates.Nodes) == 0 {
		return newError(KindNotFound, fmt.Sprintf("linear: team has no workflow state %q", name), nil)
	}

	var resp struct {
		IssueUpdate struct {
			Success bool `json:"success"`
		} `json:"issueUpdate"`
	}
	vars = map[string]any{
		"id":    issueID,
		"input": map[string]any{"stateId": states.WorkflowStates.Nodes[0].ID},
	}
	if err := t.do(ctx, "linear transition", linearMutationTransition, vars, &resp); err != nil {
		return err
	}
	if !resp.IssueUpdate.Success {
		return newError(KindMalformed, "linear transition: mutation reported failure", nil)
	}
	return nil
}

func (t *Linear) resolveLabelIDs(ctx context.Context, names []string) ([]string, error) {
	var resp struct {
		IssueLabels struct {
			Nodes []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"nodes"`
		} `json:"issueLabels"`
	}
	vars := map[string]any{"names": names}
	if err := t.do(ctx, "linear resolve labels", linearQueryLabels, vars, &resp); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.IssueLabels.Nodes))
	for _, n := range resp.IssueLabels.Nodes {
		ids = append(ids, n.ID)
	}
	return ids, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

// do executes one GraphQL request and decodes the data payload into out.
// HTTP status and the GraphQL errors array are both mapped into the error
// taxonomy; GraphQL error messages are preserved verbatim.
func (t *Linear) do(ctx context.Context, op, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return newError(KindMalformed, op+": encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return newError(KindMalformed, op+": build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", t.apiKey)

	resp, err := t.httpc.Do(req)
	if err != nil {
		return newError(KindTransient, op+": request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return newError(KindTransient, op+": read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return newError(KindAuthFailure, fmt.Sprintf("%s: %s", op, strings.TrimSpace(string(body))), nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		e := newError(KindRateLimited, op+": rate limited", nil)
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, perr := strconv.Atoi(s); perr == nil {
				e.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return e
	case resp.StatusCode >= 500:
		return newError(KindTransient, fmt.Sprintf("%s: status %d", op, resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return newError(KindMalformed, fmt.Sprintf("%s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return newError(KindMalformed, op+": decode response", err)
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		auth := false
		for _, ge := range envelope.Errors {
			msgs = append(msgs, ge.Message)
			if ge.Extensions.Code == "AUTHENTICATION_ERROR" {
				auth = true
			}
		}
		kind := KindMalformed
		if auth {
			kind = KindAuthFailure
		}
		return newError(kind, fmt.Sprintf("%s: graphql: %s", op, strings.Join(msgs, "; ")), nil)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return newError(KindMalformed, op+": decode data", err)
		}
	}
	return nil
}

func linearState(name string) State {
	switch name {
	case "Backlog", "Todo":
		return StateBacklog
	case "In Progress", "In Review":
		return StateInProgress
	case "Done", "Completed":
		return StateDone
	default:
		return StateOther
	}
}

func matchesLabels(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
