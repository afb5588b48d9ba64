package review

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/stewardhq/steward/internals/forge"
)

type LLM interface {
	CompleteWithTools(ctx context.Context, system, prompt string, tools []anthropic.ToolParam) (*anthropic.Message, error)
}

// LLMScorer rates a proposal's diff across the quality dimensions by forcing
// the model through a submit_scores tool call.
type LLMScorer struct {
	llm LLM
	log *slog.Logger
}

func NewLLMScorer(llm LLM, log *slog.Logger) *LLMScorer {
	return &LLMScorer{llm: llm, log: log}
}

func (s *LLMScorer) Score(ctx context.Context, p forge.Proposal) (Scores, error) {
	resp, err := s.llm.CompleteWithTools(ctx, scorerSystemPrompt(), buildScoringPrompt(p), []anthropic.ToolParam{toolSubmitScores})
	if err != nil {
		return nil, fmt.Errorf("llm score: %w", err)
	}

	for _, block := range resp.Content {
		if block.Type == "tool_use" && block.Name == "submit_scores" {
			return parseScores(block.Input)
		}
	}

	s.log.Warn("scorer responded with text instead of tool call", "proposal", p.ID)
	return nil, fmt.Errorf("scorer returned no scores for proposal #%d", p.ID)
}

var toolSubmitScores = anthropic.ToolParam{
	Name:        "submit_scores",
	Description: anthropic.String("Submit the completed quality assessment. Always call this — never respond with plain text."),
	InputSchema: anthropic.ToolInputSchemaParam{
		Properties: map[string]interface{}{
			"correctness":  scoreProperty("Is the implementation correct? Bugs, logic errors, unhandled edge cases drag this down."),
			"redundancy":   scoreProperty("Is the change free of duplication and bloat? Copy-pasted or dead code drags this down."),
			"integration":  scoreProperty("Does the change integrate with existing functionality and follow the surrounding codebase's patterns?"),
			"interfaces":   scoreProperty("Are the exposed interfaces and user-facing surfaces coherent and polished?"),
			"tests":        scoreProperty("Do the included tests adequately cover the change?"),
			"security":     scoreProperty("Is the change free of security concerns (injection, auth bypass, data exposure)?"),
			"performance":  scoreProperty("Is the change free of avoidable performance problems?"),
			"complexity":   scoreProperty("Is the change as simple as the problem allows?"),
			"dependencies": scoreProperty("Are any new external dependencies disclosed and justified?"),
			"notes": map[string]interface{}{
				"type":        "string",
				"description": "Short justification for any dimension scored below 7. Be specific and actionable.",
			},
		},
		Required: append(append([]string{}, Dimensions...), "notes"),
	},
}

func scoreProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"minimum":     1,
		"maximum":     10,
		"description": description + " Score 1 (worst) to 10 (best).",
	}
}

func parseScores(raw json.RawMessage) (Scores, error) {
	var input map[string]json.RawMessage
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("unmarshal scores: %w", err)
	}

	scores := make(Scores, len(Dimensions))
	for _, dim := range Dimensions {
		v, ok := input[dim]
		if !ok {
			return nil, fmt.Errorf("scores missing dimension %q", dim)
		}
		var n int
		if err := json.Unmarshal(v, &n); err != nil {
			return nil, fmt.Errorf("dimension %q: %w", dim, err)
		}
		if n < 1 || n > 10 {
			return nil, fmt.Errorf("dimension %q out of range: %d", dim, n)
		}
		scores[dim] = n
	}
	return scores, nil
}

func scorerSystemPrompt() string {
	return `You are a pragmatic tech lead reviewing a change proposal authored by an
autonomous engineer. You will be given the proposal's diff and metadata. Rate it
across the fixed quality dimensions, 1 to 10 each.

A score of 7 or above means the dimension is good enough to merge without human
intervention. Be strict about correctness, security, and integration; do not
penalise stylistic choices that don't affect maintainability. Always respond by
calling submit_scores — never with plain text.`
}

func buildScoringPrompt(p forge.Proposal) string {
	return fmt.Sprintf(`Please assess the following change proposal.

Title: %s
Branch: %s
Files changed: %d
Lines changed: %d
Includes test changes: %v

## Diff

%s`,
		p.Title,
		p.Branch,
		p.FilesChanged,
		p.LinesChanged,
		p.HasTests,
		truncate(p.Diff, 20000),
	)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n... (truncated, %d chars total)", len(s))
}
