package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	DefaultModel     = anthropic.ModelClaude4Sonnet20250514
	DefaultMaxTokens = 8096
)

type Client struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

type Option func(*Client)

func WithModel(model anthropic.Model) Option {
	return func(c *Client) { c.model = model }
}

func WithMaxTokens(n int64) Option {
	return func(c *Client) { c.maxTokens = n }
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CompleteWithTools sends a single user prompt with the given tools attached,
// forcing the model to answer with a tool call, and returns the raw response
// message for the caller to pick tool_use blocks out of.
func (c *Client) CompleteWithTools(ctx context.Context, system, prompt string, tools []anthropic.ToolParam) (*anthropic.Message, error) {
	toolUnion := make([]anthropic.ToolUnionParam, 0, len(tools))
	for i := range tools {
		toolUnion = append(toolUnion, anthropic.ToolUnionParam{OfTool: &tools[i]})
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Tools:      toolUnion,
		ToolChoice: anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic api: %w", err)
	}
	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("anthropic returned empty content")
	}
	return resp, nil
}
