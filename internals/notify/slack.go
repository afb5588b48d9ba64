// Package notify emits run summaries and per-decision messages to Slack.
// Delivery is fire-and-forget from the actors' perspective: failures are the
// caller's to log, never to fail a run over.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/stewardhq/steward/internals/review"
)

type SlackNotifier struct {
	client    *slack.Client
	channelID string // channel ID, e.g. "C01234ABCDE"
}

func NewSlackNotifier(botToken, channelID string) *SlackNotifier {
	return &SlackNotifier{
		client:    slack.New(botToken),
		channelID: channelID,
	}
}

func (n *SlackNotifier) NotifyDecision(ctx context.Context, note review.DecisionNote) error {
	emoji := ":speech_balloon:"
	switch note.Outcome {
	case "merge":
		emoji = ":white_check_mark:"
	case "request_changes":
		emoji = ":arrows_counterclockwise:"
	case "close":
		emoji = ":no_entry:"
	}

	text := fmt.Sprintf("%s *%s* — proposal #%d in %s\n*%s*\n%s",
		emoji, note.Outcome, note.ProposalID, note.Repo, note.Title, note.Reason)

	_, _, err := n.client.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return fmt.Errorf("slack notify decision: %w", err)
	}
	return nil
}

func (n *SlackNotifier) NotifyRunSummary(ctx context.Context, repo string, summary review.Summary) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, ":clipboard: *Run summary for %s* — %d decision(s), %d error(s)\n",
		repo, len(summary.Decisions), len(summary.Errors))
	for _, d := range summary.Decisions {
		fmt.Fprintf(&sb, "• #%d → %s (%s)\n", d.ProposalID, d.Outcome, d.Reason)
	}
	for _, e := range summary.Errors {
		fmt.Fprintf(&sb, ":warning: %s\n", e)
	}

	_, _, err := n.client.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(sb.String(), false),
	)
	if err != nil {
		return fmt.Errorf("slack notify summary: %w", err)
	}
	return nil
}

// NotifyText posts a preformatted message; the auditor uses this for its
// health digest.
func (n *SlackNotifier) NotifyText(ctx context.Context, text string) error {
	_, _, err := n.client.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return fmt.Errorf("slack notify: %w", err)
	}
	return nil
}
