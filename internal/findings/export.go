package findings

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goodwiins/Myagent-sub003/internal/models"
)

// ExportOptions filters the markdown export.
type ExportOptions struct {
	Type   string        `json:"type,omitempty"`
	Status models.Status `json:"status,omitempty"`
}

// ExportMarkdown renders the filtered findings as a markdown document with
// one section per type (ascending type name) and one bullet per finding in
// Query order. The output depends only on stored state.
func (s *Store) ExportMarkdown(opts ExportOptions) string {
	s.mu.RLock()
	all := s.filterLocked(opts.Type, "", opts.Status)
	s.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString("# Findings Report\n\n")

	var filters []string
	if opts.Type != "" {
		filters = append(filters, "type="+models.NormalizeType(opts.Type))
	}
	if opts.Status != "" {
		filters = append(filters, "status="+string(opts.Status))
	}
	if len(filters) > 0 {
		sb.WriteString(fmt.Sprintf("Filters: %s\n\n", strings.Join(filters, ", ")))
	}

	if len(all) == 0 {
		sb.WriteString("_No findings._\n")
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("Total: %d\n", len(all)))

	byType := make(map[string][]models.Finding)
	for _, f := range all {
		byType[f.Type] = append(byType[f.Type], f)
	}
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	for _, t := range types {
		group := byType[t]
		sb.WriteString(fmt.Sprintf("\n## %s (%d)\n\n", t, len(group)))
		for _, f := range group {
			writeBullet(&sb, f)
		}
	}
	return sb.String()
}

func writeBullet(sb *strings.Builder, f models.Finding) {
	loc := f.File
	if f.LineRange != nil {
		loc += ":" + f.LineRange.String()
	}
	sb.WriteString(fmt.Sprintf("- **[%s]** `%s` %s", f.Status, loc, f.Description))
	if f.Severity != "" {
		sb.WriteString(fmt.Sprintf(" _(severity: %s)_", f.Severity))
	}
	sb.WriteString(fmt.Sprintf(" `%s`\n", f.Hash))
	if f.ProposedFix != "" {
		sb.WriteString(fmt.Sprintf("  - Fix: %s\n", f.ProposedFix))
	}
	if f.IssueID != "" {
		sb.WriteString(fmt.Sprintf("  - Issue: %s\n", f.IssueID))
	}
	if f.Source != "" {
		sb.WriteString(fmt.Sprintf("  - Source: %s\n", f.Source))
	}
}
