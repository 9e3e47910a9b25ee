package sessions

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/goodwiins/Myagent-sub003/internal/models"
)

// Default actions when a tracking call leaves the action blank.
const (
	DefaultFileAction  = "modified"
	DefaultIssueAction = "updated"
)

func normalizeAction(action, def string) string {
	a := models.NormalizeType(action)
	if a == "" {
		return def
	}
	return a
}

// actionKey turns ("files", "wont_fix") into "filesWontFix".
func actionKey(prefix, action string) string {
	var sb strings.Builder
	sb.WriteString(prefix)
	upper := true
	for _, r := range action {
		if r == '_' || r == '-' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// countActions adds per-action counters for the given records to counts.
func countActions(counts map[string]int, files []FileRecord, issues []IssueRecord, findings []FindingRecord) {
	for _, f := range files {
		counts[actionKey("files", f.Action)]++
	}
	for _, i := range issues {
		counts[actionKey("issues", i.Action)]++
	}
	counts["filesTracked"] += len(files)
	counts["issuesTracked"] += len(issues)
	counts["findingsTracked"] += len(findings)
}

// unitSummary counts a unit's tracked items by action. Always present:
// filesCreated, filesModified, filesDeleted, issuesFixed, issuesCreated,
// filesTracked, issuesTracked, findingsTracked and durationMs.
func unitSummary(u *WorkUnit, end time.Time) map[string]any {
	counts := map[string]int{
		"filesCreated":  0,
		"filesModified": 0,
		"filesDeleted":  0,
		"issuesFixed":   0,
		"issuesCreated": 0,
	}
	countActions(counts, u.Files, u.Issues, u.Findings)

	out := make(map[string]any, len(counts)+2)
	for k, v := range counts {
		out[k] = float64(v)
	}
	out["workUnit"] = u.ID
	out["durationMs"] = float64(end.Sub(u.StartedAt).Milliseconds())
	return out
}

// closeWork finishes the open unit, merges result under the computed
// counts, appends it to WorkUnits and returns its summary.
func (s *Session) closeWork(result map[string]any, auto bool, maxEvents int) map[string]any {
	u := s.Current
	now := timeNow()
	summary := models.CloneMap(result)
	if summary == nil {
		summary = map[string]any{}
	}
	for k, v := range unitSummary(u, now) {
		summary[k] = v
	}
	if auto {
		summary["autoClosed"] = true
	}
	u.Summary = summary
	u.CompletedAt = &now
	u.AutoClosed = auto
	s.WorkUnits = append(s.WorkUnits, *u)
	s.Current = nil
	s.appendEvent(EventWorkCompleted, u.ID, map[string]any{
		"id":         u.ID,
		"type":       u.Type,
		"autoClosed": auto,
	}, maxEvents)
	return summary
}

// appendEvent adds an event and drops the oldest past maxEvents.
func (s *Session) appendEvent(kind EventKind, workUnit string, data map[string]any, maxEvents int) {
	s.EventSeq++
	s.Events = append(s.Events, Event{
		Seq:      s.EventSeq,
		Kind:     kind,
		At:       timeNow(),
		WorkUnit: workUnit,
		Data:     data,
	})
	if over := len(s.Events) - maxEvents; maxEvents > 0 && over > 0 {
		s.Events = append([]Event(nil), s.Events[over:]...)
		s.EventsDropped += over
	}
}

func (s *Session) currentID() string {
	if s.Current == nil {
		return ""
	}
	return s.Current.ID
}

// derivedSummary aggregates every work unit and the unattributed lists.
func (s *Session) derivedSummary() map[string]any {
	counts := map[string]int{}
	for _, u := range s.WorkUnits {
		countActions(counts, u.Files, u.Issues, u.Findings)
	}
	countActions(counts, s.Files, s.Issues, s.Findings)

	out := make(map[string]any, len(counts)+6)
	for k, v := range counts {
		out[k] = float64(v)
	}
	out["workUnits"] = float64(len(s.WorkUnits))
	out["autoClosedWorkUnits"] = float64(countAutoClosed(s.WorkUnits))
	out["events"] = float64(s.EventSeq)
	out["eventsDropped"] = float64(s.EventsDropped)
	out["checkpoints"] = float64(len(s.Checkpoints))
	out["durationMs"] = float64(timeNow().Sub(s.CreatedAt).Milliseconds())
	return out
}

func countAutoClosed(units []WorkUnit) int {
	n := 0
	for _, u := range units {
		if u.AutoClosed {
			n++
		}
	}
	return n
}

// failedSummary reports whether a completion summary signals failure.
func failedSummary(summary map[string]any) bool {
	if v, ok := summary["success"].(bool); ok && !v {
		return true
	}
	if v, ok := summary["failed"].(bool); ok && v {
		return true
	}
	if v, ok := summary["status"].(string); ok && strings.EqualFold(v, "failed") {
		return true
	}
	return false
}

// TrackingSummary aggregates everything tracked in a session.
type TrackingSummary struct {
	Counters Counters       `json:"counters"`
	ByAction map[string]int `json:"by_action"`
	Files    []string       `json:"files"`
	Issues   []string       `json:"issues"`
	Findings []string       `json:"findings"`
}

func (s *Session) trackingSummary() TrackingSummary {
	ts := TrackingSummary{Counters: s.Counters, ByAction: map[string]int{}}
	files := map[string]struct{}{}
	issues := map[string]struct{}{}
	finds := map[string]struct{}{}
	add := func(fs []FileRecord, is []IssueRecord, fds []FindingRecord) {
		countActions(ts.ByAction, fs, is, fds)
		for _, f := range fs {
			files[f.Path] = struct{}{}
		}
		for _, i := range is {
			issues[i.IssueID] = struct{}{}
		}
		for _, f := range fds {
			finds[f.Hash] = struct{}{}
		}
	}
	for _, u := range s.WorkUnits {
		add(u.Files, u.Issues, u.Findings)
	}
	if s.Current != nil {
		add(s.Current.Files, s.Current.Issues, s.Current.Findings)
	}
	add(s.Files, s.Issues, s.Findings)

	ts.Files = sortedKeys(files)
	ts.Issues = sortedKeys(issues)
	ts.Findings = sortedKeys(finds)
	return ts
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func checkpointID(n int) string { return fmt.Sprintf("cp-%d", n) }

func workUnitID(n int) string { return fmt.Sprintf("wu-%d", n) }
