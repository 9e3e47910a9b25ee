package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the review-status MCP prompt.
// It instructs the AI to summarize findings, queues and sessions.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("review-status",
		mcp.WithPromptDescription(
			"Summarize the review state: open findings, queued work, "+
				"trusted fix patterns and active sessions.",
		),
	)
}

// Handle processes the review-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Review Status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please call `finding_stats`, `queue_stats`, `pattern_stats` and " +
						"`session_inspect` view=overview.\n\n" +
						"Then:\n" +
						"1. Show open vs closed findings by type\n" +
						"2. List what is waiting in each queue, most urgent first\n" +
						"3. Name the most trusted fix patterns\n" +
						"4. Tell me exactly what I should do next",
				),
			},
		},
	}, nil
}
