package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/goodwiins/Myagent-sub003/internal/models"
	"github.com/goodwiins/Myagent-sub003/internal/sessions"
)

func withSessionID() mcp.ToolOption {
	return mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id returned by session_start"))
}

// ─── session_start ───────────────────────────────────────────────────────────

// SessionStartTool handles the session_start MCP tool.
type SessionStartTool struct {
	mgr *sessions.Manager
}

// NewSessionStartTool creates a SessionStartTool.
func NewSessionStartTool(mgr *sessions.Manager) *SessionStartTool {
	return &SessionStartTool{mgr: mgr}
}

// Definition returns the MCP tool definition for session_start.
func (t *SessionStartTool) Definition() mcp.Tool {
	return mcp.NewTool("session_start",
		mcp.WithDescription(
			"Start a work session with shared, checkpointable state. "+
				"Pass the returned session_id to every other session_* tool.",
		),
		mcp.WithObject("metadata", mcp.Description("Free-form session metadata (agent, task, branch, ...)")),
	)
}

// Handle processes the session_start tool call.
func (t *SessionStartTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	meta, err := mapArg(req, "metadata")
	if err != nil {
		return errorResult(err)
	}
	id, err := t.mgr.Start(meta)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"session_id": id, "state": sessions.StateActive})
}

// ─── session_resume ──────────────────────────────────────────────────────────

// SessionResumeTool handles the session_resume MCP tool.
type SessionResumeTool struct {
	mgr *sessions.Manager
}

// NewSessionResumeTool creates a SessionResumeTool.
func NewSessionResumeTool(mgr *sessions.Manager) *SessionResumeTool {
	return &SessionResumeTool{mgr: mgr}
}

// Definition returns the MCP tool definition for session_resume.
func (t *SessionResumeTool) Definition() mcp.Tool {
	return mcp.NewTool("session_resume",
		mcp.WithDescription(
			"Reopen a session after a restart and return its full state. "+
				"Completed or failed sessions stay readable for the retention window.",
		),
		withSessionID(),
	)
}

// Handle processes the session_resume tool call.
func (t *SessionResumeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req, "session_id")
	if err != nil {
		return errorResult(err)
	}
	s, err := t.mgr.Resume(id)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(s)
}

// ─── session_get ─────────────────────────────────────────────────────────────

// SessionGetTool handles the session_get MCP tool.
type SessionGetTool struct {
	mgr *sessions.Manager
}

// NewSessionGetTool creates a SessionGetTool.
func NewSessionGetTool(mgr *sessions.Manager) *SessionGetTool {
	return &SessionGetTool{mgr: mgr}
}

// Definition returns the MCP tool definition for session_get.
func (t *SessionGetTool) Definition() mcp.Tool {
	return mcp.NewTool("session_get",
		mcp.WithDescription("Read a value from the session context by dot path. found=false means nothing is stored there."),
		withSessionID(),
		mcp.WithString("path", mcp.Description("Dot path such as findings.all (default: the whole context)")),
	)
}

// Handle processes the session_get tool call.
func (t *SessionGetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req, "session_id")
	if err != nil {
		return errorResult(err)
	}
	path := req.GetString("path", "")
	v, found, err := t.mgr.Get(id, path)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"path": path, "found": found, "value": v})
}

// ─── session_set ─────────────────────────────────────────────────────────────

// SessionSetTool handles the session_set MCP tool.
type SessionSetTool struct {
	mgr *sessions.Manager
}

// NewSessionSetTool creates a SessionSetTool.
func NewSessionSetTool(mgr *sessions.Manager) *SessionSetTool {
	return &SessionSetTool{mgr: mgr}
}

// Definition returns the MCP tool definition for session_set.
func (t *SessionSetTool) Definition() mcp.Tool {
	return mcp.NewTool("session_set",
		mcp.WithDescription(
			"Store a JSON value in the session context at a dot path, creating intermediate objects. "+
				"Writing different values to the same path between checkpoints is reported as a conflict at completion.",
		),
		withSessionID(),
		mcp.WithString("path", mcp.Required(), mcp.Description("Dot path such as plan.steps")),
		withAny("value", "Any JSON value"),
	)
}

// Handle processes the session_set tool call.
func (t *SessionSetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req, "session_id")
	if err != nil {
		return errorResult(err)
	}
	path, err := requireString(req, "path")
	if err != nil {
		return errorResult(err)
	}
	value := req.GetArguments()["value"]
	if err := t.mgr.Set(id, path, value); err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Set %s", path)), nil
}

// ─── session_checkpoint ──────────────────────────────────────────────────────

// SessionCheckpointTool handles the session_checkpoint MCP tool.
type SessionCheckpointTool struct {
	mgr *sessions.Manager
}

// NewSessionCheckpointTool creates a SessionCheckpointTool.
func NewSessionCheckpointTool(mgr *sessions.Manager) *SessionCheckpointTool {
	return &SessionCheckpointTool{mgr: mgr}
}

// Definition returns the MCP tool definition for session_checkpoint.
func (t *SessionCheckpointTool) Definition() mcp.Tool {
	return mcp.NewTool("session_checkpoint",
		mcp.WithDescription("Snapshot the session context so it can be restored with session_rollback."),
		withSessionID(),
		mcp.WithString("name", mcp.Description("Human-readable label")),
	)
}

// Handle processes the session_checkpoint tool call.
func (t *SessionCheckpointTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req, "session_id")
	if err != nil {
		return errorResult(err)
	}
	cp, err := t.mgr.Checkpoint(id, req.GetString("name", ""))
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"checkpoint_id": cp.ID, "name": cp.Name, "created_at": cp.CreatedAt})
}

// ─── session_rollback ────────────────────────────────────────────────────────

// SessionRollbackTool handles the session_rollback MCP tool.
type SessionRollbackTool struct {
	mgr *sessions.Manager
}

// NewSessionRollbackTool creates a SessionRollbackTool.
func NewSessionRollbackTool(mgr *sessions.Manager) *SessionRollbackTool {
	return &SessionRollbackTool{mgr: mgr}
}

// Definition returns the MCP tool definition for session_rollback.
func (t *SessionRollbackTool) Definition() mcp.Tool {
	return mcp.NewTool("session_rollback",
		mcp.WithDescription(
			"Restore the session context to a checkpoint. Later checkpoints are kept, "+
				"so rolling forward again is possible.",
		),
		withSessionID(),
		mcp.WithString("checkpoint_id", mcp.Required(), mcp.Description("Checkpoint id, e.g. cp-2")),
	)
}

// Handle processes the session_rollback tool call.
func (t *SessionRollbackTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req, "session_id")
	if err != nil {
		return errorResult(err)
	}
	cpID, err := requireString(req, "checkpoint_id")
	if err != nil {
		return errorResult(err)
	}
	cp, err := t.mgr.Rollback(id, cpID)
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Rolled back to %s (%s)", cp.ID, cp.CreatedAt.Format("2006-01-02 15:04:05"))), nil
}

// ─── session_track ───────────────────────────────────────────────────────────

// SessionTrackTool handles the session_track MCP tool.
type SessionTrackTool struct {
	mgr *sessions.Manager
}

// NewSessionTrackTool creates a SessionTrackTool.
func NewSessionTrackTool(mgr *sessions.Manager) *SessionTrackTool {
	return &SessionTrackTool{mgr: mgr}
}

// Definition returns the MCP tool definition for session_track.
func (t *SessionTrackTool) Definition() mcp.Tool {
	return mcp.NewTool("session_track",
		mcp.WithDescription(
			"Record a file change, an issue action or a finding in the session. "+
				"Tracked items belong to the open work unit, if any.",
		),
		withSessionID(),
		mcp.WithString("kind", mcp.Required(), mcp.Description("What is tracked"), mcp.Enum("file", "issue", "finding")),
		withAny("path", "file: one path, or a list of paths sharing the same action"),
		mcp.WithString("action", mcp.Description("file: created, modified, deleted (default: modified); issue: created, fixed, ... (default: updated)")),
		mcp.WithString("issue_id", mcp.Description("issue: tracker id")),
		mcp.WithString("file", mcp.Description("finding: file")),
		mcp.WithString("type", mcp.Description("finding: type")),
		mcp.WithString("description", mcp.Description("finding: description")),
		mcp.WithString("severity", mcp.Description("finding: severity")),
		mcp.WithObject("meta", mcp.Description("Free-form details")),
	)
}

// Handle processes the session_track tool call.
func (t *SessionTrackTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req, "session_id")
	if err != nil {
		return errorResult(err)
	}
	meta, err := mapArg(req, "meta")
	if err != nil {
		return errorResult(err)
	}
	action := req.GetString("action", "")

	switch kind := req.GetString("kind", ""); kind {
	case "file":
		paths, err := stringsArg(req, "path")
		if err != nil {
			return errorResult(err)
		}
		if len(paths) == 0 {
			return mcp.NewToolResultError("validation: 'path' is required for kind=file"), nil
		}
		batch := make([]sessions.FileTrack, len(paths))
		for i, p := range paths {
			batch[i] = sessions.FileTrack{Path: p, Action: action, Meta: meta}
		}
		if err := t.mgr.TrackFiles(id, batch); err != nil {
			return errorResult(err)
		}
		return mcp.NewToolResultText(fmt.Sprintf("Tracked %d file(s)", len(paths))), nil

	case "issue":
		issueID := req.GetString("issue_id", "")
		if err := t.mgr.TrackIssue(id, issueID, action, meta); err != nil {
			return errorResult(err)
		}
		return mcp.NewToolResultText(fmt.Sprintf("Tracked issue %s", issueID)), nil

	case "finding":
		rec, err := t.mgr.TrackFinding(id, models.Finding{
			File:        req.GetString("file", ""),
			Type:        req.GetString("type", ""),
			Description: req.GetString("description", ""),
			Severity:    req.GetString("severity", ""),
		})
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(rec)

	default:
		return mcp.NewToolResultError(fmt.Sprintf("validation: unknown kind %q: must be one of: file, issue, finding", kind)), nil
	}
}

// ─── session_work ────────────────────────────────────────────────────────────

// SessionWorkTool handles the session_work MCP tool.
type SessionWorkTool struct {
	mgr *sessions.Manager
}

// NewSessionWorkTool creates a SessionWorkTool.
func NewSessionWorkTool(mgr *sessions.Manager) *SessionWorkTool {
	return &SessionWorkTool{mgr: mgr}
}

// Definition returns the MCP tool definition for session_work.
func (t *SessionWorkTool) Definition() mcp.Tool {
	return mcp.NewTool("session_work",
		mcp.WithDescription(
			"Open or close a work unit. Starting a unit while one is open closes the open one first. "+
				"Completing returns counts of tracked items by action.",
		),
		withSessionID(),
		mcp.WithString("action", mcp.Required(), mcp.Enum("start", "complete")),
		mcp.WithString("type", mcp.Description("start: work unit type, e.g. review, fix, verify")),
		mcp.WithObject("meta", mcp.Description("start: free-form unit metadata")),
		mcp.WithObject("result", mcp.Description("complete: caller-provided results merged into the summary")),
	)
}

// Handle processes the session_work tool call.
func (t *SessionWorkTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req, "session_id")
	if err != nil {
		return errorResult(err)
	}
	switch action := req.GetString("action", ""); action {
	case "start":
		meta, err := mapArg(req, "meta")
		if err != nil {
			return errorResult(err)
		}
		wu, err := t.mgr.StartWork(id, req.GetString("type", ""), meta)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(wu)
	case "complete":
		result, err := mapArg(req, "result")
		if err != nil {
			return errorResult(err)
		}
		summary, err := t.mgr.CompleteWork(id, result)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(summary)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("validation: unknown action %q: must be one of: start, complete", action)), nil
	}
}

// ─── session_complete ────────────────────────────────────────────────────────

// SessionCompleteTool handles the session_complete MCP tool.
type SessionCompleteTool struct {
	mgr *sessions.Manager
}

// NewSessionCompleteTool creates a SessionCompleteTool.
func NewSessionCompleteTool(mgr *sessions.Manager) *SessionCompleteTool {
	return &SessionCompleteTool{mgr: mgr}
}

// Definition returns the MCP tool definition for session_complete.
func (t *SessionCompleteTool) Definition() mcp.Tool {
	return mcp.NewTool("session_complete",
		mcp.WithDescription(
			"End the session. It is marked failed when the summary has success=false, failed=true or status=\"failed\". "+
				"The stored summary gains _derived totals and a _hasConflicts flag.",
		),
		withSessionID(),
		mcp.WithObject("summary", mcp.Description("Final summary")),
	)
}

// Handle processes the session_complete tool call.
func (t *SessionCompleteTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireString(req, "session_id")
	if err != nil {
		return errorResult(err)
	}
	summary, err := mapArg(req, "summary")
	if err != nil {
		return errorResult(err)
	}
	s, err := t.mgr.Complete(id, summary)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"session_id": s.ID, "state": s.State, "summary": s.Summary})
}

// ─── session_inspect ─────────────────────────────────────────────────────────

// SessionInspectTool handles the session_inspect MCP tool.
type SessionInspectTool struct {
	mgr *sessions.Manager
}

// NewSessionInspectTool creates a SessionInspectTool.
func NewSessionInspectTool(mgr *sessions.Manager) *SessionInspectTool {
	return &SessionInspectTool{mgr: mgr}
}

// Definition returns the MCP tool definition for session_inspect.
func (t *SessionInspectTool) Definition() mcp.Tool {
	return mcp.NewTool("session_inspect",
		mcp.WithDescription("Read-only views of one session, or of all sessions for view=list and view=overview."),
		mcp.WithString("view", mcp.Required(),
			mcp.Enum("stats", "state", "tracking", "current_work", "completed_work", "events", "list", "overview"),
		),
		mcp.WithString("session_id", mcp.Description("Required for every view except list and overview")),
		mcp.WithNumber("last", mcp.Description("events: only the most recent N")),
		mcp.WithString("kind", mcp.Description("events: only this kind (file, issue, finding, checkpoint, rollback, work_started, work_completed)")),
	)
}

// Handle processes the session_inspect tool call.
func (t *SessionInspectTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	view := req.GetString("view", "")
	switch view {
	case "list":
		list, err := t.mgr.List()
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(map[string]any{"count": len(list), "sessions": list})
	case "overview":
		ov, err := t.mgr.Overview()
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(ov)
	}

	id, err := requireString(req, "session_id")
	if err != nil {
		return errorResult(err)
	}
	var out any
	switch view {
	case "stats":
		out, err = t.mgr.Stats(id)
	case "state":
		var st sessions.State
		st, err = t.mgr.State(id)
		out = map[string]any{"session_id": id, "state": st}
	case "tracking":
		out, err = t.mgr.TrackingSummary(id)
	case "current_work":
		var wu *sessions.WorkUnit
		wu, err = t.mgr.CurrentWork(id)
		out = map[string]any{"open": wu != nil, "work_unit": wu}
	case "completed_work":
		out, err = t.mgr.CompletedWork(id)
	case "events":
		last, lerr := intArg(req, "last", 0)
		if lerr != nil {
			return errorResult(lerr)
		}
		out, err = t.mgr.Events(id, sessions.EventFilter{
			Last: last,
			Kind: sessions.EventKind(req.GetString("kind", "")),
		})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("validation: unknown view %q", view)), nil
	}
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(out)
}
