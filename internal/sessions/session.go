package sessions

import (
	"time"

	"github.com/goodwiins/Myagent-sub003/internal/models"
)

// State is the lifecycle state of a session.
type State string

const (
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the state rejects further mutation.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// EventKind classifies an entry in a session's event log.
type EventKind string

const (
	EventFile          EventKind = "file"
	EventIssue         EventKind = "issue"
	EventFinding       EventKind = "finding"
	EventCheckpoint    EventKind = "checkpoint"
	EventRollback      EventKind = "rollback"
	EventWorkStarted   EventKind = "work_started"
	EventWorkCompleted EventKind = "work_completed"
)

var validEventKinds = map[EventKind]bool{
	EventFile: true, EventIssue: true, EventFinding: true,
	EventCheckpoint: true, EventRollback: true,
	EventWorkStarted: true, EventWorkCompleted: true,
}

// ValidEventKind reports whether k names a known event kind.
func ValidEventKind(k EventKind) bool { return validEventKinds[k] }

// Event is one entry in the append-only event log.
type Event struct {
	Seq      int64          `json:"seq"`
	Kind     EventKind      `json:"kind"`
	At       time.Time      `json:"at"`
	WorkUnit string         `json:"work_unit,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Counters are the tracking totals captured by checkpoints.
type Counters struct {
	Files    int `json:"files"`
	Issues   int `json:"issues"`
	Findings int `json:"findings"`
	Writes   int `json:"writes"`
}

// FileRecord is a tracked file action.
type FileRecord struct {
	Path   string         `json:"path"`
	Action string         `json:"action"`
	Meta   map[string]any `json:"meta,omitempty"`
	At     time.Time      `json:"at"`
}

// IssueRecord is a tracked issue action.
type IssueRecord struct {
	IssueID string         `json:"issue_id"`
	Action  string         `json:"action"`
	Meta    map[string]any `json:"meta,omitempty"`
	At      time.Time      `json:"at"`
}

// FindingRecord is a finding reported during the session.
type FindingRecord struct {
	Hash        string    `json:"hash"`
	File        string    `json:"file"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Severity    string    `json:"severity,omitempty"`
	At          time.Time `json:"at"`
}

// WorkUnit groups tracked actions of one sub-task.
type WorkUnit struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Files       []FileRecord    `json:"files,omitempty"`
	Issues      []IssueRecord   `json:"issues,omitempty"`
	Findings    []FindingRecord `json:"findings,omitempty"`
	Summary     map[string]any  `json:"summary,omitempty"`
	AutoClosed  bool            `json:"auto_closed,omitempty"`
}

// Checkpoint is an immutable snapshot of the context tree and counters.
type Checkpoint struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Context   map[string]any `json:"context"`
	Counters  Counters       `json:"counters"`
}

// Session is the persisted state of one agent session.
type Session struct {
	ID            string           `json:"id"`
	State         State            `json:"state"`
	Metadata      map[string]any   `json:"metadata"`
	Context       map[string]any   `json:"context"`
	Checkpoints   []Checkpoint     `json:"checkpoints"`
	Events        []Event          `json:"events"`
	EventSeq      int64            `json:"event_seq"`
	EventsDropped int              `json:"events_dropped"`
	WorkUnits     []WorkUnit       `json:"work_units"`
	Current       *WorkUnit        `json:"current_work_unit,omitempty"`
	Counters      Counters         `json:"counters"`
	Files         []FileRecord     `json:"files,omitempty"`
	Issues        []IssueRecord    `json:"issues,omitempty"`
	Findings      []FindingRecord  `json:"findings,omitempty"`
	PendingWrites map[string][]any `json:"pending_writes,omitempty"`
	NextCP        int              `json:"next_checkpoint"`
	NextWU        int              `json:"next_work_unit"`
	Summary       map[string]any   `json:"summary,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// ─── Deep copies ─────────────────────────────────────────────────────────────

func (c Checkpoint) clone() Checkpoint {
	c.Context = models.CloneMap(c.Context)
	return c
}

func (e Event) clone() Event {
	e.Data = models.CloneMap(e.Data)
	return e
}

func cloneFiles(in []FileRecord) []FileRecord {
	if in == nil {
		return nil
	}
	out := make([]FileRecord, len(in))
	for i, r := range in {
		r.Meta = models.CloneMap(r.Meta)
		out[i] = r
	}
	return out
}

func cloneIssues(in []IssueRecord) []IssueRecord {
	if in == nil {
		return nil
	}
	out := make([]IssueRecord, len(in))
	for i, r := range in {
		r.Meta = models.CloneMap(r.Meta)
		out[i] = r
	}
	return out
}

func (w WorkUnit) clone() WorkUnit {
	w.Metadata = models.CloneMap(w.Metadata)
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		w.CompletedAt = &t
	}
	w.Files = cloneFiles(w.Files)
	w.Issues = cloneIssues(w.Issues)
	w.Findings = append([]FindingRecord(nil), w.Findings...)
	w.Summary = models.CloneMap(w.Summary)
	return w
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	c := *s
	c.Metadata = models.CloneMap(s.Metadata)
	c.Context = models.CloneMap(s.Context)
	c.Checkpoints = make([]Checkpoint, len(s.Checkpoints))
	for i, cp := range s.Checkpoints {
		c.Checkpoints[i] = cp.clone()
	}
	c.Events = make([]Event, len(s.Events))
	for i, e := range s.Events {
		c.Events[i] = e.clone()
	}
	c.WorkUnits = make([]WorkUnit, len(s.WorkUnits))
	for i, w := range s.WorkUnits {
		c.WorkUnits[i] = w.clone()
	}
	if s.Current != nil {
		w := s.Current.clone()
		c.Current = &w
	}
	c.Files = cloneFiles(s.Files)
	c.Issues = cloneIssues(s.Issues)
	c.Findings = append([]FindingRecord(nil), s.Findings...)
	if s.PendingWrites != nil {
		c.PendingWrites = make(map[string][]any, len(s.PendingWrites))
		for k, vs := range s.PendingWrites {
			cp := make([]any, len(vs))
			for i, v := range vs {
				cp[i] = models.CloneValue(v)
			}
			c.PendingWrites[k] = cp
		}
	}
	c.Summary = models.CloneMap(s.Summary)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
