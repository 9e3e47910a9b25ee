package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/goodwiins/Myagent-sub003/internal/patterns"
)

// ─── pattern_add ─────────────────────────────────────────────────────────────

// PatternAddTool handles the pattern_add MCP tool.
type PatternAddTool struct {
	tracker *patterns.Tracker
}

// NewPatternAddTool creates a PatternAddTool.
func NewPatternAddTool(tracker *patterns.Tracker) *PatternAddTool {
	return &PatternAddTool{tracker: tracker}
}

// Definition returns the MCP tool definition for pattern_add.
func (t *PatternAddTool) Definition() mcp.Tool {
	return mcp.NewTool("pattern_add",
		mcp.WithDescription("Register a reusable fix pattern. New patterns start at confidence 0.5."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Unique pattern id, e.g. sql-parameterize")),
		mcp.WithString("type", mcp.Required(), mcp.Description("Finding type the pattern fixes")),
		mcp.WithString("description", mcp.Required(), mcp.Description("What the pattern does")),
		mcp.WithString("template", mcp.Description("Fix template or instructions")),
		withAny("keywords", "Keywords matched against finding descriptions (array or comma-separated string)"),
	)
}

// Handle processes the pattern_add tool call.
func (t *PatternAddTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keywords, err := stringsArg(req, "keywords")
	if err != nil {
		return errorResult(err)
	}
	p, err := t.tracker.Add(patterns.Spec{
		ID:          req.GetString("id", ""),
		Type:        req.GetString("type", ""),
		Description: req.GetString("description", ""),
		Template:    req.GetString("template", ""),
		Keywords:    keywords,
	})
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(p)
}

// ─── pattern_recommend ───────────────────────────────────────────────────────

// PatternRecommendTool handles the pattern_recommend MCP tool.
type PatternRecommendTool struct {
	tracker *patterns.Tracker
}

// NewPatternRecommendTool creates a PatternRecommendTool.
func NewPatternRecommendTool(tracker *patterns.Tracker) *PatternRecommendTool {
	return &PatternRecommendTool{tracker: tracker}
}

// Definition returns the MCP tool definition for pattern_recommend.
func (t *PatternRecommendTool) Definition() mcp.Tool {
	return mcp.NewTool("pattern_recommend",
		mcp.WithDescription(
			"Suggest fix patterns for a finding. Results are ranked by confidence × match score, "+
				"where the match score is the word overlap between the description and the pattern's keywords and description.",
		),
		mcp.WithString("type", mcp.Required(), mcp.Description("Finding type")),
		mcp.WithString("description", mcp.Required(), mcp.Description("Finding description")),
		mcp.WithNumber("min_confidence", mcp.Description("Skip patterns below this confidence (default: 0.5)")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default: all)")),
	)
}

// Handle processes the pattern_recommend tool call.
func (t *PatternRecommendTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ, err := requireString(req, "type")
	if err != nil {
		return errorResult(err)
	}
	desc, err := requireString(req, "description")
	if err != nil {
		return errorResult(err)
	}
	minConf, err := optFloatArg(req, "min_confidence")
	if err != nil {
		return errorResult(err)
	}
	limit, err := intArg(req, "limit", 0)
	if err != nil {
		return errorResult(err)
	}
	recs := t.tracker.Recommend(typ, desc, patterns.RecommendOptions{MinConfidence: minConf, Limit: limit})
	return jsonResult(map[string]any{"count": len(recs), "recommendations": recs})
}

// ─── pattern_outcome ─────────────────────────────────────────────────────────

// PatternOutcomeTool handles the pattern_outcome MCP tool.
type PatternOutcomeTool struct {
	tracker *patterns.Tracker
}

// NewPatternOutcomeTool creates a PatternOutcomeTool.
func NewPatternOutcomeTool(tracker *patterns.Tracker) *PatternOutcomeTool {
	return &PatternOutcomeTool{tracker: tracker}
}

// Definition returns the MCP tool definition for pattern_outcome.
func (t *PatternOutcomeTool) Definition() mcp.Tool {
	return mcp.NewTool("pattern_outcome",
		mcp.WithDescription("Report whether applying a pattern worked. Success raises its confidence, failure lowers it."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Pattern id")),
		mcp.WithBoolean("success", mcp.Required(), mcp.Description("true if the fix worked")),
		mcp.WithObject("context", mcp.Description("Free-form details kept in the pattern's recent history")),
	)
}

// Handle processes the pattern_outcome tool call.
func (t *PatternOutcomeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req, "id")
	if err != nil {
		return errorResult(err)
	}
	if _, ok := req.GetArguments()["success"]; !ok {
		return mcp.NewToolResultError("validation: 'success' is required"), nil
	}
	success, err := boolArg(req, "success", false)
	if err != nil {
		return errorResult(err)
	}
	octx, err := mapArg(req, "context")
	if err != nil {
		return errorResult(err)
	}

	var p patterns.Pattern
	if success {
		p, err = t.tracker.RecordSuccess(id, octx)
	} else {
		p, err = t.tracker.RecordFailure(id, octx)
	}
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(p)
}

// ─── pattern_stats ───────────────────────────────────────────────────────────

// PatternStatsTool handles the pattern_stats MCP tool.
type PatternStatsTool struct {
	tracker *patterns.Tracker
}

// NewPatternStatsTool creates a PatternStatsTool.
func NewPatternStatsTool(tracker *patterns.Tracker) *PatternStatsTool {
	return &PatternStatsTool{tracker: tracker}
}

// Definition returns the MCP tool definition for pattern_stats.
func (t *PatternStatsTool) Definition() mcp.Tool {
	return mcp.NewTool("pattern_stats",
		mcp.WithDescription("Pattern count, mean confidence and the most trusted patterns."),
		mcp.WithNumber("top", mcp.Description("How many top patterns to list (default: 5)")),
	)
}

// Handle processes the pattern_stats tool call.
func (t *PatternStatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	top, err := intArg(req, "top", 0)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(t.tracker.Stats(top))
}
