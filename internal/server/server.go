// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it opens the store, builds each service
// once, and injects them into the tools and resources that use them.
// No business logic lives here, only wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/goodwiins/Myagent-sub003/internal/config"
	"github.com/goodwiins/Myagent-sub003/internal/findings"
	"github.com/goodwiins/Myagent-sub003/internal/kv"
	"github.com/goodwiins/Myagent-sub003/internal/patterns"
	"github.com/goodwiins/Myagent-sub003/internal/prompts"
	"github.com/goodwiins/Myagent-sub003/internal/queue"
	"github.com/goodwiins/Myagent-sub003/internal/resources"
	"github.com/goodwiins/Myagent-sub003/internal/sessions"
	"github.com/goodwiins/Myagent-sub003/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Services holds the named handles of every stateful service.
type Services struct {
	KV       kv.Store
	Findings *findings.Store
	Patterns *patterns.Tracker
	Sessions *sessions.Manager
	Queues   *queue.Registry

	logger *slog.Logger
	level  *slog.LevelVar
}

// NewServices opens the configured store and builds every service over it.
// On error anything already opened is closed.
func NewServices(cfg *config.Config, logger *slog.Logger, level *slog.LevelVar) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := kv.Open(cfg.Storage.Backend, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("server: open store: %w", err)
	}
	fail := func(err error) (*Services, error) {
		if cerr := store.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, err
	}

	fs, err := findings.New(store, findings.Config{
		SimilarityThreshold: cfg.Findings.SimilarityThreshold,
		QueryLimit:          cfg.Findings.QueryLimit,
	})
	if err != nil {
		return fail(fmt.Errorf("server: findings: %w", err))
	}

	pt, err := patterns.New(store, patterns.Config{
		MinConfidence: cfg.Patterns.MinConfidence,
		LearningRate:  cfg.Patterns.LearningRate,
		HistoryLimit:  cfg.Patterns.HistoryLimit,
	})
	if err != nil {
		return fail(fmt.Errorf("server: patterns: %w", err))
	}
	if err := seedPatterns(pt, cfg.Patterns, logger); err != nil {
		return fail(err)
	}

	queues, err := queue.NewRegistry(queue.Options{
		PriorityThreshold: cfg.Queue.PriorityThreshold,
		RetryCap:          cfg.Queue.RetryCap,
	})
	if err != nil {
		return fail(fmt.Errorf("server: queue: %w", err))
	}

	svc := &Services{
		KV:       store,
		Findings: fs,
		Patterns: pt,
		Sessions: sessions.New(store, sessions.Config{
			Retention: cfg.Sessions.RetentionDuration(),
			MaxEvents: cfg.Sessions.MaxEvents,
		}),
		Queues: queues,
		logger: logger,
		level:  level,
	}
	logger.Info("services ready",
		"data_dir", cfg.DataDir,
		"backend", cfg.Storage.Backend,
		"findings", fs.Stats().Total,
		"patterns", pt.Stats(0).Count,
	)
	return svc, nil
}

// seedPatterns loads the builtin library and the optional seed file.
// Patterns that already exist keep their learned confidence.
func seedPatterns(pt *patterns.Tracker, cfg config.PatternsConfig, logger *slog.Logger) error {
	if cfg.Builtin {
		specs, err := patterns.BuiltinLibrary()
		if err != nil {
			return fmt.Errorf("server: builtin patterns: %w", err)
		}
		n, err := pt.Seed(specs)
		if err != nil {
			return fmt.Errorf("server: seed builtin patterns: %w", err)
		}
		logger.Debug("seeded builtin patterns", "added", n)
	}
	if cfg.SeedFile != "" {
		specs, err := patterns.LoadLibraryFile(cfg.SeedFile)
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		n, err := pt.Seed(specs)
		if err != nil {
			return fmt.Errorf("server: seed %s: %w", cfg.SeedFile, err)
		}
		logger.Info("seeded patterns from file", "file", cfg.SeedFile, "added", n)
	}
	return nil
}

// ApplyConfig pushes the reloadable tunables of cfg into the running
// services. Storage, retention and queue settings need a restart.
func (s *Services) ApplyConfig(cfg *config.Config) {
	s.Findings.SetSimilarityThreshold(cfg.Findings.SimilarityThreshold)
	s.Patterns.SetMinConfidence(cfg.Patterns.MinConfidence)
	if s.level != nil {
		s.level.Set(ParseLevel(cfg.Log.Level))
	}
	s.logger.Info("config reloaded",
		"similarity_threshold", cfg.Findings.SimilarityThreshold,
		"min_confidence", cfg.Patterns.MinConfidence,
		"log_level", cfg.Log.Level,
	)
}

// Close releases the store.
func (s *Services) Close() error {
	return s.KV.Close()
}

// ─── MCP server ──────────────────────────────────────────────────────────────

// toolHandler is the shape shared by every tool in package tools.
type toolHandler interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// toolHandlers builds every MCP tool over svc, in registration order.
func toolHandlers(svc *Services) []toolHandler {
	return []toolHandler{
		// Findings
		tools.NewFindingAddTool(svc.Findings),
		tools.NewFindingQueryTool(svc.Findings),
		tools.NewFindingGetTool(svc.Findings),
		tools.NewFindingUpdateTool(svc.Findings),
		tools.NewFindingSimilarTool(svc.Findings),
		tools.NewFindingExportTool(svc.Findings),
		tools.NewFindingStatsTool(svc.Findings),

		// Patterns
		tools.NewPatternAddTool(svc.Patterns),
		tools.NewPatternRecommendTool(svc.Patterns),
		tools.NewPatternOutcomeTool(svc.Patterns),
		tools.NewPatternStatsTool(svc.Patterns),

		// Sessions
		tools.NewSessionStartTool(svc.Sessions),
		tools.NewSessionResumeTool(svc.Sessions),
		tools.NewSessionGetTool(svc.Sessions),
		tools.NewSessionSetTool(svc.Sessions),
		tools.NewSessionCheckpointTool(svc.Sessions),
		tools.NewSessionRollbackTool(svc.Sessions),
		tools.NewSessionTrackTool(svc.Sessions),
		tools.NewSessionWorkTool(svc.Sessions),
		tools.NewSessionCompleteTool(svc.Sessions),
		tools.NewSessionInspectTool(svc.Sessions),

		// Queues
		tools.NewQueueEnqueueTool(svc.Queues, svc.Findings),
		tools.NewQueueNextTool(svc.Queues),
		tools.NewQueueFailTool(svc.Queues),
		tools.NewQueueStatsTool(svc.Queues),
	}
}

// New creates and configures the MCP server with all tools, prompts and
// resources registered. The caller owns the returned Services and must
// Close them on shutdown.
func New(cfg *config.Config, logger *slog.Logger, level *slog.LevelVar) (*server.MCPServer, *Services, error) {
	svc, err := NewServices(cfg, logger, level)
	if err != nil {
		return nil, nil, err
	}

	s := server.NewMCPServer(
		"myagent",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	handlers := toolHandlers(svc)
	for _, h := range handlers {
		s.AddTool(h.Definition(), h.Handle)
	}

	startPrompt := prompts.NewStartPrompt()
	s.AddPrompt(startPrompt.Definition(), startPrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	rh := resources.NewHandler(svc.Findings)
	s.AddResource(rh.ReportResource(), rh.HandleReport)
	s.AddResource(rh.StatsResource(), rh.HandleStats)

	svc.logger.Debug("mcp server configured", "tools", len(handlers), "resources", 2)
	return s, svc, nil
}

// serverInstructions returns the system instructions that tell the AI
// how to use the review-state tools.
func serverInstructions() string {
	return `You have access to myagent, a review-state server for code-review and fix workflows.
It remembers findings, learns which fix patterns work, keeps shared session state
with checkpoints, and orders work by priority. Everything survives restarts.

## Findings (finding_*)
- finding_add records an issue. The same file + type + description always maps to
  the same hash; adding it again returns added=false and the stored finding.
- Before adding, finding_similar tells you whether a near-duplicate exists.
  Lower the threshold (e.g. 0.3) for loose matches.
- finding_update moves a finding through open → in_progress → fixed | wont_fix.
- finding_export renders a markdown report; finding_stats gives counts.

## Patterns (pattern_*)
- pattern_recommend suggests fixes for a finding type and description, ranked by
  confidence × word overlap.
- After applying a pattern ALWAYS report the result with pattern_outcome.
  Confidence moves 10% of the way toward 1 on success and toward 0 on failure.

## Sessions (session_*)
1. session_start at the beginning of a task; keep the session_id.
2. Store shared state with session_set using dot paths (plan.steps, findings.open).
3. session_checkpoint before risky steps; session_rollback restores context and counters.
4. Group related actions with session_work action=start / action=complete and record
   them with session_track (kind=file, issue or finding).
5. session_complete ends the session. Pass summary.success=false when the task failed.
   Completed sessions are read-only.

## Queues (queue_*)
- queue_enqueue orders findings: 1 security, 2 bugs (and unknown types),
  3 performance and maintainability, 4 documentation and style. FIFO within a tier.
- queue_next peeks at the head; pass remove=true to take it.
- If processing the head fails, call queue_fail. After 3 failures it is dropped.

## Errors
Failed calls return text starting with the error kind: validation, not_found,
conflict, invalid_state or persistence. Fix the input for validation errors;
a persistence error means nothing was changed and the call can be retried.`
}
