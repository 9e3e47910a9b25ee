// Package sessions keeps per-session hierarchical state for multi-agent work.
//
// A session owns a context tree addressed by dot paths, a list of
// checkpoints that snapshot the tree, an append-only event log and the work
// units that group tracked files, issues and findings. Sessions move from
// active to completed or failed; terminal sessions stay readable.
//
// Each session is one kv document ("sessions/<id>") guarded by its own lock.
// Mutations run against a clone that replaces the live session only after
// the document is durably written, so a failed write leaves no trace.
package sessions

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goodwiins/Myagent-sub003/internal/apperr"
	"github.com/goodwiins/Myagent-sub003/internal/kv"
	"github.com/goodwiins/Myagent-sub003/internal/models"
)

// KeyPrefix is the kv key prefix of session documents.
const KeyPrefix = "sessions/"

// Config holds manager tunables.
type Config struct {
	// Retention bounds how long a terminal session stays resumable.
	Retention time.Duration
	// MaxEvents caps each session's event log; older events are dropped.
	MaxEvents int
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		Retention: 168 * time.Hour,
		MaxEvents: 1000,
	}
}

// Info is the list view of a session.
type Info struct {
	ID          string         `json:"id"`
	State       State          `json:"state"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Overview counts sessions by state.
type Overview struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Stats describes a single session.
type Stats struct {
	ID            string   `json:"id"`
	State         State    `json:"state"`
	ContextKeys   int      `json:"context_keys"`
	Checkpoints   int      `json:"checkpoints"`
	WorkUnits     int      `json:"work_units"`
	OpenWorkUnit  string   `json:"open_work_unit,omitempty"`
	Events        int      `json:"events"`
	EventsDropped int      `json:"events_dropped"`
	Counters      Counters `json:"counters"`
	Conflicts     []string `json:"conflicts"`
	DurationMs    int64    `json:"duration_ms"`
}

// EventFilter selects events. Last <= 0 returns every retained event.
type EventFilter struct {
	Last int       `json:"last,omitempty"`
	Kind EventKind `json:"kind,omitempty"`
}

// FileTrack is one entry of a batch file tracking call.
type FileTrack struct {
	Path   string         `json:"path"`
	Action string         `json:"action,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

type entry struct {
	mu sync.RWMutex
	s  *Session
}

// Manager owns every session of the process.
type Manager struct {
	mu       sync.Mutex
	kv       kv.Store
	cfg      Config
	sessions map[string]*entry
}

// New creates a manager. Sessions are loaded from store lazily.
func New(store kv.Store, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = def.MaxEvents
	}
	return &Manager{kv: store, cfg: cfg, sessions: make(map[string]*entry)}
}

func docKey(id string) string { return KeyPrefix + id }

// ─── Lifecycle ───────────────────────────────────────────────────────────────

// Start creates an active session holding a copy of metadata.
func (m *Manager) Start(metadata map[string]any) (string, error) {
	meta, err := models.NormalizeMap(metadata)
	if err != nil {
		return "", apperr.Validation("sessions: start", "metadata: %v", err)
	}
	now := timeNow()
	s := &Session{
		ID:        uuid.NewString(),
		State:     StateActive,
		Metadata:  meta,
		Context:   map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.kv.Save(docKey(s.ID), s); err != nil {
		return "", apperr.Persistence("sessions: start", err)
	}
	m.sessions[s.ID] = &entry{s: s}
	return s.ID, nil
}

// Resume returns a copy of the session, loading it from storage if needed.
// Terminal sessions past the retention window are reported as not found.
func (m *Manager) Resume(id string) (*Session, error) {
	const op = "sessions: resume"
	e, err := m.entry(op, id)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := e.s
	if s.State.Terminal() && s.CompletedAt != nil && timeNow().Sub(*s.CompletedAt) > m.cfg.Retention {
		return nil, apperr.NotFound(op, "session %q expired", id)
	}
	return s.Clone(), nil
}

// Complete ends the session. It fails the session when summary carries
// success:false, failed:true or status:"failed". Any open work unit is
// closed first. The stored summary gains _derived totals and the
// _hasConflicts / _conflicts write-conflict report.
func (m *Manager) Complete(id string, summary map[string]any) (*Session, error) {
	const op = "sessions: complete"
	in, err := models.NormalizeMap(summary)
	if err != nil {
		return nil, apperr.Validation(op, "summary: %v", err)
	}
	return m.mutate(op, id, func(s *Session) error {
		if s.Current != nil {
			s.closeWork(nil, true, m.cfg.MaxEvents)
		}
		state := StateCompleted
		if failedSummary(in) {
			state = StateFailed
		}
		conflicts := s.conflicts()
		names := make([]any, len(conflicts))
		for i, c := range conflicts {
			names[i] = c
		}
		in["_derived"] = s.derivedSummary()
		in["_hasConflicts"] = len(conflicts) > 0
		in["_conflicts"] = names

		now := timeNow()
		s.State = state
		s.Summary = in
		s.CompletedAt = &now
		return nil
	})
}

// ─── Context tree ────────────────────────────────────────────────────────────

// Get reads the value at a dot path. The second result is false when
// nothing is stored there; a stored null reports (nil, true). An empty path
// returns the whole tree.
func (m *Manager) Get(id, path string) (any, bool, error) {
	const op = "sessions: get"
	segs, err := splitPath(path)
	if err != nil {
		return nil, false, apperr.Validation(op, "%v", err)
	}
	var (
		v     any
		found bool
	)
	err = m.read(op, id, func(s *Session) {
		v, found = lookup(s.Context, segs)
		v = models.CloneValue(v)
	})
	return v, found, err
}

// Set stores value at a dot path, creating intermediate objects.
func (m *Manager) Set(id, path string, value any) error {
	const op = "sessions: set"
	segs, err := splitPath(path)
	if err != nil {
		return apperr.Validation(op, "%v", err)
	}
	if len(segs) == 0 {
		return apperr.Validation(op, "'path' is required")
	}
	v, err := models.NormalizeValue(value)
	if err != nil {
		return apperr.Validation(op, "%v", err)
	}
	_, err = m.mutate(op, id, func(s *Session) error {
		if err := assign(s.Context, segs, v); err != nil {
			return apperr.Validation(op, "%v", err)
		}
		s.Counters.Writes++
		s.recordWrite(path, v)
		return nil
	})
	return err
}

// Checkpoint snapshots the context tree and counters.
func (m *Manager) Checkpoint(id, name string) (Checkpoint, error) {
	var cp Checkpoint
	_, err := m.mutate("sessions: checkpoint", id, func(s *Session) error {
		s.NextCP++
		cp = Checkpoint{
			ID:        checkpointID(s.NextCP),
			Name:      strings.TrimSpace(name),
			CreatedAt: timeNow(),
			Context:   models.CloneMap(s.Context),
			Counters:  s.Counters,
		}
		s.Checkpoints = append(s.Checkpoints, cp)
		s.PendingWrites = nil
		s.appendEvent(EventCheckpoint, s.currentID(), map[string]any{"id": cp.ID, "name": cp.Name}, m.cfg.MaxEvents)
		return nil
	})
	if err != nil {
		return Checkpoint{}, err
	}
	return cp.clone(), nil
}

// Rollback restores the context tree and counters of a checkpoint.
// Later checkpoints are kept.
func (m *Manager) Rollback(id, checkpointID string) (Checkpoint, error) {
	const op = "sessions: rollback"
	var cp Checkpoint
	_, err := m.mutate(op, id, func(s *Session) error {
		idx := -1
		for i := range s.Checkpoints {
			if s.Checkpoints[i].ID == checkpointID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return apperr.NotFound(op, "checkpoint %q not found in session %q", checkpointID, id)
		}
		cp = s.Checkpoints[idx]
		s.Context = models.CloneMap(cp.Context)
		if s.Context == nil {
			s.Context = map[string]any{}
		}
		s.Counters = cp.Counters
		s.PendingWrites = nil
		s.appendEvent(EventRollback, s.currentID(), map[string]any{"checkpoint": cp.ID, "name": cp.Name}, m.cfg.MaxEvents)
		return nil
	})
	if err != nil {
		return Checkpoint{}, err
	}
	return cp.clone(), nil
}

// ─── Tracking ────────────────────────────────────────────────────────────────

// TrackFile records a file action.
func (m *Manager) TrackFile(id, path, action string, meta map[string]any) error {
	return m.trackFiles("sessions: track file", id, []FileTrack{{Path: path, Action: action, Meta: meta}})
}

// TrackFiles records several file actions in one write.
func (m *Manager) TrackFiles(id string, files []FileTrack) error {
	return m.trackFiles("sessions: track files", id, files)
}

func (m *Manager) trackFiles(op, id string, files []FileTrack) error {
	if len(files) == 0 {
		return apperr.Validation(op, "no files given")
	}
	recs := make([]FileRecord, len(files))
	for i, f := range files {
		p := strings.TrimSpace(f.Path)
		if p == "" {
			return apperr.Validation(op, "'path' is required")
		}
		meta, err := normalizeMeta(f.Meta)
		if err != nil {
			return apperr.Validation(op, "meta: %v", err)
		}
		recs[i] = FileRecord{Path: models.NormalizeFile(p), Action: normalizeAction(f.Action, DefaultFileAction), Meta: meta}
	}

	_, err := m.mutate(op, id, func(s *Session) error {
		for _, r := range recs {
			r.At = timeNow()
			if s.Current != nil {
				s.Current.Files = append(s.Current.Files, r)
			} else {
				s.Files = append(s.Files, r)
			}
			s.Counters.Files++
			s.appendEvent(EventFile, s.currentID(), map[string]any{"path": r.Path, "action": r.Action}, m.cfg.MaxEvents)
		}
		return nil
	})
	return err
}

// TrackIssue records an issue action.
func (m *Manager) TrackIssue(id, issueID, action string, meta map[string]any) error {
	const op = "sessions: track issue"
	issueID = strings.TrimSpace(issueID)
	if issueID == "" {
		return apperr.Validation(op, "'issue_id' is required")
	}
	nm, err := normalizeMeta(meta)
	if err != nil {
		return apperr.Validation(op, "meta: %v", err)
	}
	rec := IssueRecord{IssueID: issueID, Action: normalizeAction(action, DefaultIssueAction), Meta: nm}

	_, err = m.mutate(op, id, func(s *Session) error {
		rec.At = timeNow()
		if s.Current != nil {
			s.Current.Issues = append(s.Current.Issues, rec)
		} else {
			s.Issues = append(s.Issues, rec)
		}
		s.Counters.Issues++
		s.appendEvent(EventIssue, s.currentID(), map[string]any{"issue_id": rec.IssueID, "action": rec.Action}, m.cfg.MaxEvents)
		return nil
	})
	return err
}

// TrackFinding records a finding reported during the session.
func (m *Manager) TrackFinding(id string, f models.Finding) (FindingRecord, error) {
	const op = "sessions: track finding"
	if err := f.Validate(); err != nil {
		return FindingRecord{}, apperr.Validation(op, "%v", err)
	}
	rec := FindingRecord{
		Hash:        models.Hash(f.File, f.Type, f.Description),
		File:        models.NormalizeFile(f.File),
		Type:        models.NormalizeType(f.Type),
		Description: strings.TrimSpace(f.Description),
		Severity:    strings.ToLower(strings.TrimSpace(f.Severity)),
	}

	_, err := m.mutate(op, id, func(s *Session) error {
		rec.At = timeNow()
		if s.Current != nil {
			s.Current.Findings = append(s.Current.Findings, rec)
		} else {
			s.Findings = append(s.Findings, rec)
		}
		s.Counters.Findings++
		s.appendEvent(EventFinding, s.currentID(), map[string]any{"hash": rec.Hash, "file": rec.File, "type": rec.Type}, m.cfg.MaxEvents)
		return nil
	})
	if err != nil {
		return FindingRecord{}, err
	}
	return rec, nil
}

// ─── Work units ──────────────────────────────────────────────────────────────

// StartWork opens a work unit, auto-closing the one already open.
func (m *Manager) StartWork(id, typ string, meta map[string]any) (WorkUnit, error) {
	const op = "sessions: start work"
	typ = strings.TrimSpace(typ)
	if typ == "" {
		return WorkUnit{}, apperr.Validation(op, "'type' is required")
	}
	nm, err := normalizeMeta(meta)
	if err != nil {
		return WorkUnit{}, apperr.Validation(op, "meta: %v", err)
	}

	var wu WorkUnit
	_, err = m.mutate(op, id, func(s *Session) error {
		if s.Current != nil {
			s.closeWork(nil, true, m.cfg.MaxEvents)
		}
		s.NextWU++
		s.Current = &WorkUnit{
			ID:        workUnitID(s.NextWU),
			Type:      typ,
			Metadata:  nm,
			StartedAt: timeNow(),
		}
		s.appendEvent(EventWorkStarted, s.Current.ID, map[string]any{"id": s.Current.ID, "type": typ}, m.cfg.MaxEvents)
		wu = s.Current.clone()
		return nil
	})
	if err != nil {
		return WorkUnit{}, err
	}
	return wu, nil
}

// CompleteWork closes the open work unit and returns its summary.
func (m *Manager) CompleteWork(id string, result map[string]any) (map[string]any, error) {
	const op = "sessions: complete work"
	res, err := models.NormalizeMap(result)
	if err != nil {
		return nil, apperr.Validation(op, "result: %v", err)
	}
	var summary map[string]any
	_, err = m.mutate(op, id, func(s *Session) error {
		if s.Current == nil {
			return apperr.InvalidState(op, "session %q has no open work unit", id)
		}
		summary = models.CloneMap(s.closeWork(res, false, m.cfg.MaxEvents))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// ─── Read accessors ──────────────────────────────────────────────────────────

// State returns the session's lifecycle state.
func (m *Manager) State(id string) (State, error) {
	var st State
	err := m.read("sessions: state", id, func(s *Session) { st = s.State })
	return st, err
}

// Snapshot returns a deep copy of the whole session.
func (m *Manager) Snapshot(id string) (*Session, error) {
	var out *Session
	err := m.read("sessions: snapshot", id, func(s *Session) { out = s.Clone() })
	return out, err
}

// TrackingSummary aggregates tracked files, issues and findings.
func (m *Manager) TrackingSummary(id string) (TrackingSummary, error) {
	var ts TrackingSummary
	err := m.read("sessions: tracking summary", id, func(s *Session) { ts = s.trackingSummary() })
	return ts, err
}

// CurrentWork returns the open work unit, or nil.
func (m *Manager) CurrentWork(id string) (*WorkUnit, error) {
	var wu *WorkUnit
	err := m.read("sessions: current work", id, func(s *Session) {
		if s.Current != nil {
			c := s.Current.clone()
			wu = &c
		}
	})
	return wu, err
}

// CompletedWork returns the closed work units in completion order.
func (m *Manager) CompletedWork(id string) ([]WorkUnit, error) {
	var out []WorkUnit
	err := m.read("sessions: completed work", id, func(s *Session) {
		out = make([]WorkUnit, len(s.WorkUnits))
		for i, w := range s.WorkUnits {
			out[i] = w.clone()
		}
	})
	return out, err
}

// Events returns retained events oldest first, optionally filtered by kind
// and limited to the most recent f.Last.
func (m *Manager) Events(id string, f EventFilter) ([]Event, error) {
	const op = "sessions: events"
	if f.Kind != "" && !ValidEventKind(f.Kind) {
		return nil, apperr.Validation(op, "unknown event kind %q", f.Kind)
	}
	out := []Event{}
	err := m.read(op, id, func(s *Session) {
		for _, e := range s.Events {
			if f.Kind == "" || e.Kind == f.Kind {
				out = append(out, e)
			}
		}
		if f.Last > 0 && len(out) > f.Last {
			out = out[len(out)-f.Last:]
		}
		for i := range out {
			out[i] = out[i].clone()
		}
	})
	return out, err
}

// Stats describes one session.
func (m *Manager) Stats(id string) (Stats, error) {
	var st Stats
	err := m.read("sessions: stats", id, func(s *Session) {
		end := timeNow()
		if s.CompletedAt != nil {
			end = *s.CompletedAt
		}
		st = Stats{
			ID:            s.ID,
			State:         s.State,
			ContextKeys:   len(s.Context),
			Checkpoints:   len(s.Checkpoints),
			WorkUnits:     len(s.WorkUnits),
			OpenWorkUnit:  s.currentID(),
			Events:        len(s.Events),
			EventsDropped: s.EventsDropped,
			Counters:      s.Counters,
			Conflicts:     s.conflicts(),
			DurationMs:    end.Sub(s.CreatedAt).Milliseconds(),
		}
	})
	return st, err
}

// List returns every stored session, newest first.
func (m *Manager) List() ([]Info, error) {
	const op = "sessions: list"
	keys, err := m.kv.Keys(KeyPrefix)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	out := make([]Info, 0, len(keys))
	for _, k := range keys {
		e, err := m.entry(op, strings.TrimPrefix(k, KeyPrefix))
		if err != nil {
			return nil, err
		}
		e.mu.RLock()
		s := e.s
		info := Info{
			ID:        s.ID,
			State:     s.State,
			Metadata:  models.CloneMap(s.Metadata),
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		}
		if s.CompletedAt != nil {
			t := *s.CompletedAt
			info.CompletedAt = &t
		}
		e.mu.RUnlock()
		out = append(out, info)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Overview counts stored sessions by state.
func (m *Manager) Overview() (Overview, error) {
	list, err := m.List()
	if err != nil {
		return Overview{}, err
	}
	ov := Overview{Total: len(list)}
	for _, in := range list {
		switch in.State {
		case StateActive:
			ov.Active++
		case StateCompleted:
			ov.Completed++
		case StateFailed:
			ov.Failed++
		}
	}
	return ov, nil
}

// ─── Internal helpers ────────────────────────────────────────────────────────

// entry returns the live entry for id, loading it from storage on first use.
func (m *Manager) entry(op, id string) (*entry, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation(op, "'session_id' is required")
	}
	if err := kv.ValidateKey(docKey(id)); err != nil || strings.Contains(id, "/") {
		return nil, apperr.NotFound(op, "session %q not found", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.sessions[id]; ok {
		return e, nil
	}
	var s Session
	found, err := m.kv.Load(docKey(id), &s)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	if !found {
		return nil, apperr.NotFound(op, "session %q not found", id)
	}
	if s.Context == nil {
		s.Context = map[string]any{}
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	e := &entry{s: &s}
	m.sessions[id] = e
	return e, nil
}

func (m *Manager) read(op, id string, fn func(s *Session)) error {
	e, err := m.entry(op, id)
	if err != nil {
		return err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.s)
	return nil
}

// mutate applies fn to a clone of an active session and swaps the clone in
// once it is durably saved.
func (m *Manager) mutate(op, id string, fn func(s *Session) error) (*Session, error) {
	e, err := m.entry(op, id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.s.State.Terminal() {
		return nil, apperr.InvalidState(op, "session %q is %s", id, e.s.State)
	}
	next := e.s.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = timeNow()
	if err := m.kv.Save(docKey(id), next); err != nil {
		return nil, apperr.Persistence(op, err)
	}
	e.s = next
	return next.Clone(), nil
}

func normalizeMeta(meta map[string]any) (map[string]any, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	return models.NormalizeMap(meta)
}
