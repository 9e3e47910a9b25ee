package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/goodwiins/Myagent-sub003/internal/findings"
	"github.com/goodwiins/Myagent-sub003/internal/models"
)

var statusEnum = mcp.Enum(
	string(models.StatusOpen),
	string(models.StatusInProgress),
	string(models.StatusFixed),
	string(models.StatusWontFix),
)

// ─── finding_add ─────────────────────────────────────────────────────────────

// FindingAddTool handles the finding_add MCP tool.
type FindingAddTool struct {
	store *findings.Store
}

// NewFindingAddTool creates a FindingAddTool.
func NewFindingAddTool(store *findings.Store) *FindingAddTool {
	return &FindingAddTool{store: store}
}

// Definition returns the MCP tool definition for finding_add.
func (t *FindingAddTool) Definition() mcp.Tool {
	return mcp.NewTool("finding_add",
		mcp.WithDescription(
			"Record a code-review finding. Findings are deduplicated by file, type and description: "+
				"adding the same finding twice returns the stored one with added=false.",
		),
		mcp.WithString("file", mcp.Required(), mcp.Description("File the finding is in, relative to the repository root")),
		mcp.WithString("type", mcp.Required(), mcp.Description("Finding type, e.g. security, bug, performance, style")),
		mcp.WithString("description", mcp.Required(), mcp.Description("What is wrong")),
		mcp.WithNumber("line_start", mcp.Description("First line of the affected range")),
		mcp.WithNumber("line_end", mcp.Description("Last line of the affected range (default: line_start)")),
		mcp.WithString("severity", mcp.Description("critical, high, medium, low or info")),
		mcp.WithString("proposed_fix", mcp.Description("Suggested fix")),
		mcp.WithString("status", mcp.Description("Initial status (default: open)"), statusEnum),
		mcp.WithString("issue_id", mcp.Description("Linked tracker issue")),
		mcp.WithString("source", mcp.Description("Agent or tool that reported the finding")),
	)
}

// Handle processes the finding_add tool call.
func (t *FindingAddTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start, err := intArg(req, "line_start", 0)
	if err != nil {
		return errorResult(err)
	}
	end, err := intArg(req, "line_end", start)
	if err != nil {
		return errorResult(err)
	}
	var lr *models.LineRange
	if start != 0 || end != 0 {
		lr = &models.LineRange{Start: start, End: end}
	}

	res, err := t.store.Add(findings.AddInput{
		File:        req.GetString("file", ""),
		LineRange:   lr,
		Type:        req.GetString("type", ""),
		Description: req.GetString("description", ""),
		Severity:    req.GetString("severity", ""),
		ProposedFix: req.GetString("proposed_fix", ""),
		Status:      models.Status(req.GetString("status", "")),
		IssueID:     req.GetString("issue_id", ""),
		Source:      req.GetString("source", ""),
	})
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(res)
}

// ─── finding_query ───────────────────────────────────────────────────────────

// FindingQueryTool handles the finding_query MCP tool.
type FindingQueryTool struct {
	store *findings.Store
}

// NewFindingQueryTool creates a FindingQueryTool.
func NewFindingQueryTool(store *findings.Store) *FindingQueryTool {
	return &FindingQueryTool{store: store}
}

// Definition returns the MCP tool definition for finding_query.
func (t *FindingQueryTool) Definition() mcp.Tool {
	return mcp.NewTool("finding_query",
		mcp.WithDescription("List findings, newest first. All given filters must match."),
		mcp.WithString("type", mcp.Description("Exact finding type")),
		mcp.WithString("file", mcp.Description("Substring of the file path")),
		mcp.WithString("status", mcp.Description("Exact status"), statusEnum),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default: 20)")),
	)
}

// Handle processes the finding_query tool call.
func (t *FindingQueryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit, err := intArg(req, "limit", 0)
	if err != nil {
		return errorResult(err)
	}
	list, err := t.store.Query(findings.QueryOptions{
		Type:   req.GetString("type", ""),
		File:   req.GetString("file", ""),
		Status: models.Status(req.GetString("status", "")),
		Limit:  limit,
	})
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"count": len(list), "findings": list})
}

// ─── finding_get ─────────────────────────────────────────────────────────────

// FindingGetTool handles the finding_get MCP tool.
type FindingGetTool struct {
	store *findings.Store
}

// NewFindingGetTool creates a FindingGetTool.
func NewFindingGetTool(store *findings.Store) *FindingGetTool {
	return &FindingGetTool{store: store}
}

// Definition returns the MCP tool definition for finding_get.
func (t *FindingGetTool) Definition() mcp.Tool {
	return mcp.NewTool("finding_get",
		mcp.WithDescription("Fetch one finding by hash."),
		mcp.WithString("hash", mcp.Required(), mcp.Description("Finding hash returned by finding_add")),
	)
}

// Handle processes the finding_get tool call.
func (t *FindingGetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hash, err := requireString(req, "hash")
	if err != nil {
		return errorResult(err)
	}
	f, err := t.store.Get(hash)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(f)
}

// ─── finding_update ──────────────────────────────────────────────────────────

// FindingUpdateTool handles the finding_update MCP tool.
type FindingUpdateTool struct {
	store *findings.Store
}

// NewFindingUpdateTool creates a FindingUpdateTool.
func NewFindingUpdateTool(store *findings.Store) *FindingUpdateTool {
	return &FindingUpdateTool{store: store}
}

// Definition returns the MCP tool definition for finding_update.
func (t *FindingUpdateTool) Definition() mcp.Tool {
	return mcp.NewTool("finding_update",
		mcp.WithDescription("Change a finding's status or linked issue."),
		mcp.WithString("hash", mcp.Required(), mcp.Description("Finding hash")),
		mcp.WithString("status", mcp.Description("New status"), statusEnum),
		mcp.WithString("issue_id", mcp.Description("Linked tracker issue; an empty string clears it")),
	)
}

// Handle processes the finding_update tool call.
func (t *FindingUpdateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hash, err := requireString(req, "hash")
	if err != nil {
		return errorResult(err)
	}
	var p findings.Patch
	args := req.GetArguments()
	if _, ok := args["status"]; ok {
		st := models.Status(req.GetString("status", ""))
		p.Status = &st
	}
	if _, ok := args["issue_id"]; ok {
		id := req.GetString("issue_id", "")
		p.IssueID = &id
	}
	f, err := t.store.Update(hash, p)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(f)
}

// ─── finding_similar ─────────────────────────────────────────────────────────

// FindingSimilarTool handles the finding_similar MCP tool.
type FindingSimilarTool struct {
	store *findings.Store
}

// NewFindingSimilarTool creates a FindingSimilarTool.
func NewFindingSimilarTool(store *findings.Store) *FindingSimilarTool {
	return &FindingSimilarTool{store: store}
}

// Definition returns the MCP tool definition for finding_similar.
func (t *FindingSimilarTool) Definition() mcp.Tool {
	return mcp.NewTool("finding_similar",
		mcp.WithDescription(
			"Find stored findings whose description overlaps the given text. "+
				"Scores are word-set Jaccard similarity in [0, 1]; use a lower threshold for looser matches.",
		),
		mcp.WithString("description", mcp.Required(), mcp.Description("Text to compare")),
		mcp.WithNumber("threshold", mcp.Description("Minimum score (default: 0.85)")),
		mcp.WithString("file", mcp.Description("Only findings whose file contains this substring")),
		mcp.WithString("type", mcp.Description("Only findings of this type")),
	)
}

// Handle processes the finding_similar tool call.
func (t *FindingSimilarTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	desc, err := requireString(req, "description")
	if err != nil {
		return errorResult(err)
	}
	threshold, err := floatArg(req, "threshold", 0)
	if err != nil {
		return errorResult(err)
	}
	matches := t.store.FindSimilar(desc, findings.SimilarOptions{
		Threshold: threshold,
		File:      req.GetString("file", ""),
		Type:      req.GetString("type", ""),
	})
	return jsonResult(map[string]any{"count": len(matches), "matches": matches})
}

// ─── finding_export ──────────────────────────────────────────────────────────

// FindingExportTool handles the finding_export MCP tool.
type FindingExportTool struct {
	store *findings.Store
}

// NewFindingExportTool creates a FindingExportTool.
func NewFindingExportTool(store *findings.Store) *FindingExportTool {
	return &FindingExportTool{store: store}
}

// Definition returns the MCP tool definition for finding_export.
func (t *FindingExportTool) Definition() mcp.Tool {
	return mcp.NewTool("finding_export",
		mcp.WithDescription("Render findings as a markdown report grouped by type."),
		mcp.WithString("type", mcp.Description("Only this type")),
		mcp.WithString("status", mcp.Description("Only this status"), statusEnum),
	)
}

// Handle processes the finding_export tool call.
func (t *FindingExportTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	md := t.store.ExportMarkdown(findings.ExportOptions{
		Type:   req.GetString("type", ""),
		Status: models.Status(req.GetString("status", "")),
	})
	return mcp.NewToolResultText(md), nil
}

// ─── finding_stats ───────────────────────────────────────────────────────────

// FindingStatsTool handles the finding_stats MCP tool.
type FindingStatsTool struct {
	store *findings.Store
}

// NewFindingStatsTool creates a FindingStatsTool.
func NewFindingStatsTool(store *findings.Store) *FindingStatsTool {
	return &FindingStatsTool{store: store}
}

// Definition returns the MCP tool definition for finding_stats.
func (t *FindingStatsTool) Definition() mcp.Tool {
	return mcp.NewTool("finding_stats",
		mcp.WithDescription("Count findings by status and type."),
	)
}

// Handle processes the finding_stats tool call.
func (t *FindingStatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.store.Stats())
}
