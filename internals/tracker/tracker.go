package tracker

import (
	"context"
	"time"
)

// Tracker is the capability surface the actors depend on. It is deliberately
// narrow, four operations, so the decision logic stays backend-agnostic and
// testable against a fake.
type Tracker interface {
	ListBacklog(ctx context.Context, filter Filter) ([]Issue, error)
	CreateIssue(ctx context.Context, input IssueInput) (Issue, error)
	Comment(ctx context.Context, issueID string, body string) error
	Transition(ctx context.Context, issueID string, target State) error
}

type State int

const (
	StateBacklog State = iota
	StateInProgress
	StateDone
	StateOther
)

func (s State) String() string {
	switch s {
	case StateBacklog:
		return "backlog"
	case StateInProgress:
		return "in_progress"
	case StateDone:
		return "done"
	default:
		return "other"
	}
}

type Issue struct {
	ID        string
	Tracker   Backend
	Title     string
	Labels    []string
	State     State
	Priority  string // backend-specific hint, e.g. "priority:high" or Linear's 1..4
	CreatedAt time.Time
}

func (i Issue) HasLabel(name string) bool {
	for _, l := range i.Labels {
		if l == name {
			return true
		}
	}
	return false
}

type IssueInput struct {
	Title  string
	Body   string   // Markdown
	Labels []string
}

// Filter narrows ListBacklog. An empty filter returns the whole backlog.
type Filter struct {
	Labels []string
}

type Backend int

const (
	BackendGitHub Backend = iota
	BackendLinear
)

func (b Backend) String() string {
	switch b {
	case BackendGitHub:
		return "github"
	case BackendLinear:
		return "linear"
	default:
		return "unknown"
	}
}
