package prompts

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func promptText(t *testing.T, res *mcp.GetPromptResult) string {
	t.Helper()
	if len(res.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(res.Messages))
	}
	tc, ok := res.Messages[0].Content.(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", res.Messages[0].Content)
	}
	return tc.Text
}

func TestStartPrompt_Defaults(t *testing.T) {
	p := NewStartPrompt()
	if name := p.Definition().Name; name != "review-start" {
		t.Errorf("name = %q", name)
	}

	res, err := p.Handle(context.Background(), mcp.GetPromptRequest{})
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	text := promptText(t, res)
	if !strings.Contains(text, "the whole repository") || !strings.Contains(text, "every kind of issue") {
		t.Errorf("default prompt = %q", text)
	}
	for _, tool := range []string{"session_start", "finding_similar", "finding_add", "queue_enqueue"} {
		if !strings.Contains(text, tool) {
			t.Errorf("prompt does not mention %s", tool)
		}
	}
}

func TestStartPrompt_Arguments(t *testing.T) {
	req := mcp.GetPromptRequest{}
	req.Params.Arguments = map[string]string{"scope": "internal/auth", "focus": "security"}

	res, err := NewStartPrompt().Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if res.Description != "Review of internal/auth" {
		t.Errorf("description = %q", res.Description)
	}
	if text := promptText(t, res); !strings.Contains(text, "these finding types: security") {
		t.Errorf("prompt = %q", text)
	}
}

func TestStatusPrompt(t *testing.T) {
	p := NewStatusPrompt()
	if name := p.Definition().Name; name != "review-status" {
		t.Errorf("name = %q", name)
	}
	res, err := p.Handle(context.Background(), mcp.GetPromptRequest{})
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if text := promptText(t, res); !strings.Contains(text, "queue_stats") {
		t.Errorf("prompt = %q", text)
	}
}
