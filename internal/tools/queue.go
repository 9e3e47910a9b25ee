package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/goodwiins/Myagent-sub003/internal/findings"
	"github.com/goodwiins/Myagent-sub003/internal/models"
	"github.com/goodwiins/Myagent-sub003/internal/queue"
)

func withQueueName() mcp.ToolOption {
	return mcp.WithString("queue", mcp.Description("Queue name (default: default)"))
}

// ─── queue_enqueue ───────────────────────────────────────────────────────────

// QueueEnqueueTool handles the queue_enqueue MCP tool.
type QueueEnqueueTool struct {
	queues *queue.Registry
	store  *findings.Store
}

// NewQueueEnqueueTool creates a QueueEnqueueTool. store resolves findings
// passed by hash.
func NewQueueEnqueueTool(queues *queue.Registry, store *findings.Store) *QueueEnqueueTool {
	return &QueueEnqueueTool{queues: queues, store: store}
}

// Definition returns the MCP tool definition for queue_enqueue.
func (t *QueueEnqueueTool) Definition() mcp.Tool {
	return mcp.NewTool("queue_enqueue",
		mcp.WithDescription(
			"Queue a finding for processing. Pass a stored finding's hash, or file, type and description. "+
				"Priority comes from the type: 1 security, 2 bugs and unknown types, 3 performance and maintainability, 4 docs and style.",
		),
		withQueueName(),
		mcp.WithString("hash", mcp.Description("Hash of a stored finding")),
		mcp.WithString("file", mcp.Description("File, when not passing a hash")),
		mcp.WithString("type", mcp.Description("Finding type, when not passing a hash")),
		mcp.WithString("description", mcp.Description("Description, when not passing a hash")),
		mcp.WithString("severity", mcp.Description("Severity, when not passing a hash")),
	)
}

// Handle processes the queue_enqueue tool call.
func (t *QueueEnqueueTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var f models.Finding
	if hash := req.GetString("hash", ""); hash != "" {
		stored, err := t.store.Get(hash)
		if err != nil {
			return errorResult(err)
		}
		f = stored
	} else {
		f = models.Finding{
			File:        req.GetString("file", ""),
			Type:        models.NormalizeType(req.GetString("type", "")),
			Description: req.GetString("description", ""),
			Severity:    req.GetString("severity", ""),
		}
		f.Hash = models.Hash(f.File, f.Type, f.Description)
	}

	q, err := t.queues.Get(req.GetString("queue", ""))
	if err != nil {
		return errorResult(err)
	}
	res, err := q.Enqueue(f)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{
		"enqueued": res.Enqueued,
		"priority": res.Priority,
		"hash":     f.Hash,
		"pending":  q.Len(),
	})
}

// ─── queue_next ──────────────────────────────────────────────────────────────

// QueueNextTool handles the queue_next MCP tool.
type QueueNextTool struct {
	queues *queue.Registry
}

// NewQueueNextTool creates a QueueNextTool.
func NewQueueNextTool(queues *queue.Registry) *QueueNextTool {
	return &QueueNextTool{queues: queues}
}

// Definition returns the MCP tool definition for queue_next.
func (t *QueueNextTool) Definition() mcp.Tool {
	return mcp.NewTool("queue_next",
		mcp.WithDescription(
			"Return the most urgent queued finding. By default it stays at the head until processed; "+
				"pass remove=true once it is done, or call queue_fail if processing failed.",
		),
		withQueueName(),
		mcp.WithBoolean("remove", mcp.Description("Remove the head (default: false, peek only)")),
	)
}

// Handle processes the queue_next tool call.
func (t *QueueNextTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	remove, err := boolArg(req, "remove", false)
	if err != nil {
		return errorResult(err)
	}
	q, err := t.queues.Lookup(req.GetString("queue", ""))
	if err != nil {
		return jsonResult(map[string]any{"found": false})
	}
	var (
		it queue.Item
		ok bool
	)
	if remove {
		it, ok = q.Dequeue()
	} else {
		it, ok = q.Peek()
	}
	if !ok {
		return jsonResult(map[string]any{"found": false})
	}
	return jsonResult(map[string]any{"found": true, "removed": remove, "item": it})
}

// ─── queue_fail ──────────────────────────────────────────────────────────────

// QueueFailTool handles the queue_fail MCP tool.
type QueueFailTool struct {
	queues *queue.Registry
}

// NewQueueFailTool creates a QueueFailTool.
func NewQueueFailTool(queues *queue.Registry) *QueueFailTool {
	return &QueueFailTool{queues: queues}
}

// Definition returns the MCP tool definition for queue_fail.
func (t *QueueFailTool) Definition() mcp.Tool {
	return mcp.NewTool("queue_fail",
		mcp.WithDescription(
			"Report that processing the head failed. It is retried in place until it has failed "+
				"the retry cap (default 3) times, then dropped as exhausted.",
		),
		withQueueName(),
	)
}

// Handle processes the queue_fail tool call.
func (t *QueueFailTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := t.queues.Lookup(req.GetString("queue", ""))
	if err != nil {
		return errorResult(err)
	}
	res, err := q.MarkFailed()
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(res)
}

// ─── queue_stats ─────────────────────────────────────────────────────────────

// QueueStatsTool handles the queue_stats MCP tool.
type QueueStatsTool struct {
	queues *queue.Registry
}

// NewQueueStatsTool creates a QueueStatsTool.
func NewQueueStatsTool(queues *queue.Registry) *QueueStatsTool {
	return &QueueStatsTool{queues: queues}
}

// Definition returns the MCP tool definition for queue_stats.
func (t *QueueStatsTool) Definition() mcp.Tool {
	return mcp.NewTool("queue_stats",
		mcp.WithDescription("Remaining items per priority plus excluded, dequeued and exhausted totals. Without a queue name, reports every queue."),
		withQueueName(),
	)
}

// Handle processes the queue_stats tool call.
func (t *QueueStatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if name := req.GetString("queue", ""); name != "" {
		q, err := t.queues.Lookup(name)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(q.Stats())
	}
	all := make(map[string]queue.Stats)
	for _, name := range t.queues.Names() {
		q, err := t.queues.Lookup(name)
		if err != nil {
			continue
		}
		all[name] = q.Stats()
	}
	return jsonResult(map[string]any{"queues": all})
}
