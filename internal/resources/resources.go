// Package resources implements MCP resource handlers over the finding store.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (findings://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/goodwiins/Myagent-sub003/internal/findings"
)

// Resource URIs.
const (
	ReportURI = "findings://report"
	StatsURI  = "findings://stats"
)

// Handler manages finding resource endpoints.
type Handler struct {
	store *findings.Store
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(store *findings.Store) *Handler {
	return &Handler{store: store}
}

// ReportResource returns the MCP resource definition for the findings report.
func (h *Handler) ReportResource() mcp.Resource {
	return mcp.NewResource(
		ReportURI,
		"Findings Report",
		mcp.WithResourceDescription("All findings as a markdown report grouped by type"),
		mcp.WithMIMEType("text/markdown"),
	)
}

// HandleReport returns the markdown export of every stored finding.
func (h *Handler) HandleReport(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	md := h.store.ExportMarkdown(findings.ExportOptions{})
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/markdown",
			Text:     md,
		},
	}, nil
}

// StatsResource returns the MCP resource definition for finding statistics.
func (h *Handler) StatsResource() mcp.Resource {
	return mcp.NewResource(
		StatsURI,
		"Findings Stats",
		mcp.WithResourceDescription("Finding counts by status and type"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleStats returns the finding statistics as JSON.
func (h *Handler) HandleStats(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(h.store.Stats(), "", "  ")
	if err != nil {
		return errorResource(req.Params.URI, fmt.Sprintf("marshaling stats: %v", err)), nil
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
