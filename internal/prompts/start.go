// Package prompts implements MCP prompt handlers for review workflows.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// StartPrompt handles the review-start MCP prompt.
// It guides the AI through opening a session and reviewing a scope.
type StartPrompt struct{}

// NewStartPrompt creates a StartPrompt.
func NewStartPrompt() *StartPrompt {
	return &StartPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StartPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("review-start",
		mcp.WithPromptDescription(
			"Start a tracked code review. Opens a session, records findings "+
				"without duplicates, and queues them by priority for fixing.",
		),
		mcp.WithArgument("scope",
			mcp.ArgumentDescription("Files, directories or feature to review. Default: the whole repository"),
		),
		mcp.WithArgument("focus",
			mcp.ArgumentDescription("Comma-separated finding types to concentrate on, e.g. security,bug"),
		),
	)
}

// Handle processes the review-start prompt request.
func (p *StartPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	scope := "the whole repository"
	focus := ""
	if args := req.Params.Arguments; args != nil {
		if s, ok := args["scope"]; ok && strings.TrimSpace(s) != "" {
			scope = strings.TrimSpace(s)
		}
		if f, ok := args["focus"]; ok {
			focus = strings.TrimSpace(f)
		}
	}

	focusLine := "Look for every kind of issue."
	if focus != "" {
		focusLine = fmt.Sprintf("Concentrate on these finding types: %s.", focus)
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Review of %s", scope),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"Please review %s. %s\n\n"+
						"1. Call `session_start` with metadata {\"scope\": %q} and keep the session_id.\n"+
						"2. Call `session_work` action=start type=review.\n"+
						"3. For each issue: check `finding_similar` first, then `finding_add`, "+
						"then `session_track` kind=finding and `queue_enqueue` with the returned hash.\n"+
						"4. Call `session_work` action=complete and `session_checkpoint` name=reviewed.\n"+
						"5. Show me `finding_stats` and the head of the queue from `queue_next`.",
					scope, focusLine, scope,
				)),
			},
		},
	}, nil
}
