package sessions

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/goodwiins/Myagent-sub003/internal/apperr"
	"github.com/goodwiins/Myagent-sub003/internal/kv"
	"github.com/goodwiins/Myagent-sub003/internal/models"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

type flakyKV struct {
	kv.Store
	mu   sync.Mutex
	fail bool
}

func (f *flakyKV) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *flakyKV) Save(key string, v any) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.Store.Save(key, v)
}

// testClock is a manually advanced clock installed as timeNow.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func installClock(t *testing.T) *testClock {
	t.Helper()
	c := &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	orig := timeNow
	timeNow = c.Now
	t.Cleanup(func() { timeNow = orig })
	return c
}

type fixture struct {
	m       *Manager
	backing *flakyKV
	dir     string
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	dir := t.TempDir()
	fs, err := kv.NewFileStore(dir)
	if err != nil {
		t.Fatalf("kv store: %v", err)
	}
	backing := &flakyKV{Store: fs}
	return fixture{m: New(backing, cfg), backing: backing, dir: dir}
}

// reopen builds a fresh manager over the same directory.
func (f fixture) reopen(t *testing.T, cfg Config) *Manager {
	t.Helper()
	fs, err := kv.NewFileStore(f.dir)
	if err != nil {
		t.Fatalf("kv store: %v", err)
	}
	return New(fs, cfg)
}

func mustStart(t *testing.T, m *Manager) string {
	t.Helper()
	id, err := m.Start(map[string]any{"agent": "reviewer"})
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	return id
}

func mustSet(t *testing.T, m *Manager, id, path string, v any) {
	t.Helper()
	if err := m.Set(id, path, v); err != nil {
		t.Fatalf("Set(%q) error: %v", path, err)
	}
}

func mustGet(t *testing.T, m *Manager, id, path string) any {
	t.Helper()
	v, found, err := m.Get(id, path)
	if err != nil {
		t.Fatalf("Get(%q) error: %v", path, err)
	}
	if !found {
		t.Fatalf("Get(%q) not found", path)
	}
	return v
}

// ─── Start / Resume ──────────────────────────────────────────────────────────

func TestStart_UniqueActiveSessions(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a := mustStart(t, f.m)
	b := mustStart(t, f.m)
	if a == b {
		t.Fatalf("duplicate session id %q", a)
	}
	st, err := f.m.State(a)
	if err != nil || st != StateActive {
		t.Errorf("State() = %q, %v; want active", st, err)
	}
	s, _ := f.m.Snapshot(a)
	if s.Metadata["agent"] != "reviewer" {
		t.Errorf("Metadata = %v", s.Metadata)
	}
}

func TestStart_MetadataIsCopied(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	meta := map[string]any{"tags": []any{"a"}}
	id, err := f.m.Start(meta)
	if err != nil {
		t.Fatal(err)
	}
	meta["tags"].([]any)[0] = "changed"

	s, _ := f.m.Snapshot(id)
	if s.Metadata["tags"].([]any)[0] != "a" {
		t.Error("Start kept a reference to the caller's metadata")
	}
}

func TestResume_AfterRestart(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := mustStart(t, f.m)
	mustSet(t, f.m, id, "plan.steps", []any{"scan", "fix"})
	mustSet(t, f.m, id, "plan.count", 2)
	cp, err := f.m.Checkpoint(id, "planned")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.m.StartWork(id, "review", nil); err != nil {
		t.Fatal(err)
	}
	if err := f.m.TrackFile(id, "a.go", "modified", nil); err != nil {
		t.Fatal(err)
	}

	before, _ := f.m.Snapshot(id)
	m2 := f.reopen(t, DefaultConfig())
	after, err := m2.Resume(id)
	if err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	if !reflect.DeepEqual(before.Context, after.Context) {
		t.Errorf("context changed across restart:\n before %#v\n after  %#v", before.Context, after.Context)
	}
	if len(after.Checkpoints) != 1 || after.Checkpoints[0].ID != cp.ID {
		t.Errorf("checkpoints = %+v", after.Checkpoints)
	}
	if after.Current == nil || len(after.Current.Files) != 1 {
		t.Errorf("open work unit lost: %+v", after.Current)
	}

	// The reloaded session keeps working, including rollback.
	mustSet(t, m2, id, "plan.count", 3)
	if _, err := m2.Rollback(id, cp.ID); err != nil {
		t.Fatalf("Rollback() after restart: %v", err)
	}
	if got := mustGet(t, m2, id, "plan.count"); got != float64(2) {
		t.Errorf("plan.count = %v, want 2", got)
	}
}

func TestResume_Unknown(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	for _, id := range []string{"nope", "../escape", "a/b"} {
		if _, err := f.m.Resume(id); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("Resume(%q) error = %v, want not found", id, err)
		}
	}
	if _, err := f.m.Resume(""); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Resume(\"\") error = %v, want validation", err)
	}
}

func TestResume_Retention(t *testing.T) {
	clock := installClock(t)
	f := newFixture(t, Config{Retention: time.Hour})
	id := mustStart(t, f.m)
	if _, err := f.m.Complete(id, nil); err != nil {
		t.Fatal(err)
	}

	clock.Advance(30 * time.Minute)
	s, err := f.m.Resume(id)
	if err != nil {
		t.Fatalf("Resume() inside retention: %v", err)
	}
	if s.State != StateCompleted {
		t.Errorf("State = %q, want completed", s.State)
	}

	clock.Advance(time.Hour)
	if _, err := f.m.Resume(id); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Resume() past retention error = %v, want not found", err)
	}
}

// ─── Context tree ────────────────────────────────────────────────────────────

func TestGetSet_DotPaths(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := mustStart(t, f.m)

	mustSet(t, f.m, id, "findings.all", []any{"h1"})
	mustSet(t, f.m, id, "findings.count", 1)
	mustSet(t, f.m, id, "nothing", nil)

	if got := mustGet(t, f.m, id, "findings.count"); got != float64(1) {
		t.Errorf("findings.count = %#v, want float64(1)", got)
	}
	want := map[string]any{"all": []any{"h1"}, "count": float64(1)}
	if got := mustGet(t, f.m, id, "findings"); !reflect.DeepEqual(got, want) {
		t.Errorf("findings = %#v, want %#v", got, want)
	}

	// Stored null is distinct from absent.
	v, found, _ := f.m.Get(id, "nothing")
	if !found || v != nil {
		t.Errorf("Get(nothing) = %v, %v; want nil, true", v, found)
	}
	_, found, _ = f.m.Get(id, "missing.deep.path")
	if found {
		t.Error("Get(missing) reported found")
	}
	// Reads never create nodes.
	if _, found, _ = f.m.Get(id, "missing"); found {
		t.Error("Get created a node")
	}

	tree := mustGet(t, f.m, id, "").(map[string]any)
	if len(tree) != 2 {
		t.Errorf("whole tree = %#v", tree)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := mustStart(t, f.m)
	mustSet(t, f.m, id, "a", map[string]any{"b": "c"})

	got := mustGet(t, f.m, id, "a").(map[string]any)
	got["b"] = "mutated"

	if again := mustGet(t, f.m, id, "a.b"); again != "c" {
		t.Errorf("a.b = %v after mutating a returned value", again)
	}
}

func TestSet_Errors(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := mustStart(t, f.m)
	mustSet(t, f.m, id, "leaf", "text")

	tests := []struct {
		name  string
		path  string
		value any
	}{
		{"empty path", "", 1},
		{"empty segment", "a..b", 1},
		{"trailing dot", "a.", 1},
		{"through scalar", "leaf.child", 1},
		{"unserializable", "x", make(chan int)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.m.Set(id, tt.path, tt.value)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("Set(%q) error = %v, want validation", tt.path, err)
			}
		})
	}
	if got := mustGet(t, f.m, id, "leaf"); got != "text" {
		t.Errorf("leaf = %v after failed sets", got)
	}
	if err := f.m.Set("unknown", "a", 1); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Set(unknown session) error = %v, want not found", err)
	}
}

// ─── Checkpoint / Rollback ───────────────────────────────────────────────────

func TestCheckpointRollback_RoundTrip(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := mustStart(t, f.m)
	mustSet(t, f.m, id, "stage", "scan")
	mustSet(t, f.m, id, "files.seen", []any{"a.go"})

	cp1, err := f.m.Checkpoint(id, "after scan")
	if err != nil {
		t.Fatal(err)
	}
	before := mustGet(t, f.m, id, "")

	mustSet(t, f.m, id, "stage", "fix")
	mustSet(t, f.m, id, "files.fixed", []any{"a.go"})
	cp2, err := f.m.Checkpoint(id, "after fix")
	if err != nil {
		t.Fatal(err)
	}
	if cp1.ID == cp2.ID || cp1.ID != "cp-1" || cp2.ID != "cp-2" {
		t.Errorf("checkpoint ids = %q, %q", cp1.ID, cp2.ID)
	}
	mustSet(t, f.m, id, "stage", "verify")

	if _, err := f.m.Rollback(id, cp1.ID); err != nil {
		t.Fatalf("Rollback(cp1) error: %v", err)
	}
	if got := mustGet(t, f.m, id, ""); !reflect.DeepEqual(got, before) {
		t.Errorf("tree after rollback = %#v, want %#v", got, before)
	}

	// Later checkpoints survive and can be restored.
	s, _ := f.m.Snapshot(id)
	if len(s.Checkpoints) != 2 {
		t.Fatalf("len(Checkpoints) = %d, want 2", len(s.Checkpoints))
	}
	if _, err := f.m.Rollback(id, cp2.ID); err != nil {
		t.Fatalf("Rollback(cp2) error: %v", err)
	}
	if got := mustGet(t, f.m, id, "stage"); got != "fix" {
		t.Errorf("stage after redo = %v, want fix", got)
	}

	cp3, _ := f.m.Checkpoint(id, "")
	if cp3.ID != "cp-3" {
		t.Errorf("next checkpoint id = %q, want cp-3", cp3.ID)
	}
}

func TestCheckpoint_SnapshotIsIsolated(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := mustStart(t, f.m)
	mustSet(t, f.m, id, "list", []any{"a"})
	cp, _ := f.m.Checkpoint(id, "x")

	cp.Context["list"].([]any)[0] = "mutated"
	mustSet(t, f.m, id, "list", []any{"b"})

	if _, err := f.m.Rollback(id, cp.ID); err != nil {
		t.Fatal(err)
	}
	got := mustGet(t, f.m, id, "list").([]any)
	if got[0] != "a" {
		t.Errorf("list = %v, want [a]", got)
	}
}

func TestRollback_RestoresCounters(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := mustStart(t, f.m)
	f.m.TrackFile(id, "a.go", "created", nil)
	cp, _ := f.m.Checkpoint(id, "")
	f.m.TrackFile(id, "b.go", "created", nil)
	f.m.TrackIssue(id, "ISS-1", "fixed", nil)

	if _, err := f.m.Rollback(id, cp.ID); err != nil {
		t.Fatal(err)
	}
	st, _ := f.m.Stats(id)
	if st.Counters.Files != 1 || st.Counters.Issues != 0 {
		t.Errorf("Counters = %+v, want files=1 issues=0", st.Counters)
	}
	// The event log is append-only and keeps the rolled-back actions.
	events, _ := f.m.Events(id, EventFilter{Kind: EventFile})
	if len(events) != 2 {
		t.Errorf("file events = %d, want 2", len(events))
	}
}

func TestRollback_UnknownCheckpoint(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := mustStart(t, f.m)
	if _, err := f.m.Rollback(id, "cp-9"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Rollback() error = %v, want not found", err)
	}
}

// ─── Tracking & work units ───────────────────────────────────────────────────

func TestTracking_AttributesToOpenUnit(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := mustStart(t, f.m)

	if err := f.m.TrackFile(id, "README.md", "", nil); err != nil {
		t.Fatal(err)
	}
	wu, err := f.m.StartWork(id, "fix", map[string]any{"ticket": "T-1"})
	if err != nil {
		t.Fatal(err)
	}
	if wu.ID != "wu-1" {
		t.Errorf("work unit id = %q, want wu-1", wu.ID)
	}
	err = f.m.TrackFiles(id, []FileTrack{
		{Path: "a.go", Action: "created"},
		{Path: "b.go", Action: "modified"},
		{Path: "c.go", Action: "Deleted"},
	})
	if err != nil {
		t.Fatal(err)
	}
	f.m.TrackIssue(id, "ISS-7", "fixed", nil)
	f.m.TrackIssue(id, "ISS-8", "wont_fix", nil)
	if _, err := f.m.TrackFinding(id, models.Finding{File: "a.go", Type: "bug", Description: "nil deref"}); err != nil {
		t.Fatal(err)
	}

	cur, _ := f.m.CurrentWork(id)
	if cur == nil || len(cur.Files) != 3 || len(cur.Issues) != 2 || len(cur.Findings) != 1 {
		t.Fatalf("current unit = %+v", cur)
	}

	summary, err := f.m.CompleteWork(id, map[string]any{"note": "done", "filesCreated": 99})
	if err != nil {
		t.Fatalf("CompleteWork() error: %v", err)
	}
	wantCounts := map[string]float64{
		"filesCreated":    1,
		"filesModified":   1,
		"filesDeleted":    1,
		"issuesFixed":     1,
		"issuesWontFix":   1,
		"issuesCreated":   0,
		"findingsTracked": 1,
		"filesTracked":    3,
	}
	for k, want := range wantCounts {
		if summary[k] != want {
			t.Errorf("summary[%s] = %v, want %v", k, summary[k], want)
		}
	}
	if summary["note"] != "done" {
		t.Errorf("result not merged: %v", summary)
	}
	if _, ok := summary["durationMs"]; !ok {
		t.Error("summary lacks durationMs")
	}

	if cur, _ := f.m.CurrentWork(id); cur != nil {
		t.Errorf("CurrentWork() = %+v after CompleteWork", cur)
	}
	done, _ := f.m.CompletedWork(id)
	if len(done) != 1 || done[0].AutoClosed || done[0].CompletedAt == nil {
		t.Errorf("CompletedWork() = %+v", done)
	}

	ts, _ := f.m.TrackingSummary(id)
	if len(ts.Files) != 4 || ts.Counters.Files != 4 || ts.ByAction["filesModified"] != 2 {
		t.Errorf("TrackingSummary = %+v", ts)
	}
	s, _ := f.m.Snapshot(id)
	if len(s.Files) != 1 || s.Files[0].Action != DefaultFileAction {
		t.Errorf("unattributed files = %+v", s.Files)
	}
}

func TestStartWork_AutoClosesOpenUnit(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := mustStart(t, f.m)

	f.m.StartWork(id, "scan", nil)
	f.m.TrackFile(id, "a.go", "modified", nil)
	second, err := f.m.StartWork(id, "fix", nil)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != "wu-2" {
		t.Errorf("second unit id = %q", second.ID)
	}

	done, _ := f.m.CompletedWork(id)
	if len(done) != 1 {
		t.Fatalf("CompletedWork() len = %d, want 1", len(done))
	}
	if !done[0].AutoClosed || done[0].Summary["filesModified"] != float64(1) || done[0].Summary["autoClosed"] != true {
		t.Errorf("auto-closed unit = %+v", done[0])
	}
	cur, _ := f.m.CurrentWork(id)
	if cur == nil || cur.ID != "wu-2" {
		t.Errorf("CurrentWork() = %+v", cur)
	}
}

func TestCompleteWork_NoneOpen(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := mustStart(t, f.m)
	if _, err := f.m.CompleteWork(id, nil); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("CompleteWork() error = %v, want invalid state", err)
	}
}

func TestTracking_Validation(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := mustStart(t, f.m)

	checks := map[string]error{
		"empty file path":    f.m.TrackFile(id, "  ", "created", nil),
		"no files":           f.m.TrackFiles(id, nil),
		"empty issue":        f.m.TrackIssue(id, "", "fixed", nil),
		"empty work type":    func() error { _, err := f.m.StartWork(id, "", nil); return err }(),
		"incomplete finding": func() error { _, err := f.m.TrackFinding(id, models.Finding{File: "a.go"}); return err }(),
	}
	for name, err := range checks {
		if !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%s: error = %v, want validation", name, err)
		}
	}
	st, _ := f.m.Stats(id)
	if st.Events != 0 {
		t.Errorf("failed calls appended %d events", st.Events)
	}
}

// ─── Events ──────────────────────────────────────────────────────────────────

func TestEvents_FilterAndSlice(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := mustStart(t, f.m)
	for i := range 5 {
		f.m.TrackFile(id, fmt.Sprintf("f%d.go", i), "modified", nil)
	}
	f.m.Checkpoint(id, "c")

	all, _ := f.m.Events(id, EventFilter{})
	if len(all) != 6 {
		t.Fatalf("len(events) = %d, want 6", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Seq <= all[i-1].Seq {
			t.Errorf("seq not increasing at %d", i)
		}
	}

	last, _ := f.m.Events(id, EventFilter{Last: 2})
	if len(last) != 2 || last[1].Kind != EventCheckpoint {
		t.Errorf("last 2 = %+v", last)
	}
	files, _ := f.m.Events(id, EventFilter{Kind: EventFile, Last: 1})
	if len(files) != 1 || files[0].Data["path"] != "f4.go" {
		t.Errorf("last file event = %+v", files)
	}
	if _, err := f.m.Events(id, EventFilter{Kind: "bogus"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("unknown kind error = %v", err)
	}

	again, _ := f.m.Events(id, EventFilter{})
	if len(again) != 6 {
		t.Error("Events() mutated the log")
	}
}

func TestEvents_Bounded(t *testing.T) {
	f := newFixture(t, Config{MaxEvents: 3})
	id := mustStart(t, f.m)
	for i := range 5 {
		f.m.TrackIssue(id, fmt.Sprintf("I-%d", i), "created", nil)
	}
	events, _ := f.m.Events(id, EventFilter{})
	if len(events) != 3 || events[0].Seq != 3 || events[2].Seq != 5 {
		t.Errorf("events = %+v", events)
	}
	st, _ := f.m.Stats(id)
	if st.EventsDropped != 2 || st.Counters.Issues != 5 {
		t.Errorf("Stats = %+v", st)
	}
}

// ─── Complete ────────────────────────────────────────────────────────────────

func TestComplete_States(t *testing.T) {
	tests := []struct {
		name    string
		summary map[string]any
		want    State
	}{
		{"nil summary", nil, StateCompleted},
		{"success true", map[string]any{"success": true}, StateCompleted},
		{"success false", map[string]any{"success": false}, StateFailed},
		{"failed true", map[string]any{"failed": true}, StateFailed},
		{"status failed", map[string]any{"status": "FAILED"}, StateFailed},
		{"status ok", map[string]any{"status": "ok"}, StateCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig())
			id := mustStart(t, f.m)
			s, err := f.m.Complete(id, tt.summary)
			if err != nil {
				t.Fatalf("Complete() error: %v", err)
			}
			if s.State != tt.want || s.CompletedAt == nil {
				t.Errorf("State = %q, want %q", s.State, tt.want)
			}
		})
	}
}

func TestComplete_TerminalRejectsMutation(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := mustStart(t, f.m)
	mustSet(t, f.m, id, "k", "v")
	cp, _ := f.m.Checkpoint(id, "")
	if _, err := f.m.Complete(id, map[string]any{"success": true}); err != nil {
		t.Fatal(err)
	}

	mutations := map[string]error{
		"set":           f.m.Set(id, "k", "w"),
		"track file":    f.m.TrackFile(id, "a.go", "", nil),
		"track issue":   f.m.TrackIssue(id, "I", "", nil),
		"checkpoint":    func() error { _, err := f.m.Checkpoint(id, ""); return err }(),
		"rollback":      func() error { _, err := f.m.Rollback(id, cp.ID); return err }(),
		"start work":    func() error { _, err := f.m.StartWork(id, "x", nil); return err }(),
		"complete work": func() error { _, err := f.m.CompleteWork(id, nil); return err }(),
		"complete":      func() error { _, err := f.m.Complete(id, nil); return err }(),
	}
	for name, err := range mutations {
		if !errors.Is(err, apperr.ErrInvalidState) {
			t.Errorf("%s on completed session: error = %v, want invalid state", name, err)
		}
	}

	if got := mustGet(t, f.m, id, "k"); got != "v" {
		t.Errorf("read after complete = %v", got)
	}
	if _, err := f.m.Stats(id); err != nil {
		t.Errorf("Stats() on completed session: %v", err)
	}
}

func TestComplete_DerivedAndConflicts(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := mustStart(t, f.m)

	mustSet(t, f.m, id, "owner", "agent-a")
	mustSet(t, f.m, id, "owner", "agent-b")
	f.m.Checkpoint(id, "") // clears pending writes
	mustSet(t, f.m, id, "result", "x")
	mustSet(t, f.m, id, "result", "y")
	mustSet(t, f.m, id, "stable", 1)
	mustSet(t, f.m, id, "stable", 1)

	f.m.StartWork(id, "fix", nil)
	f.m.TrackFile(id, "a.go", "created", nil)

	s, err := f.m.Complete(id, map[string]any{"note": "ok"})
	if err != nil {
		t.Fatal(err)
	}
	if s.Current != nil || len(s.WorkUnits) != 1 || !s.WorkUnits[0].AutoClosed {
		t.Errorf("open unit not auto-closed: current=%v units=%+v", s.Current, s.WorkUnits)
	}
	if s.Summary["note"] != "ok" {
		t.Errorf("summary lost caller keys: %v", s.Summary)
	}
	if s.Summary["_hasConflicts"] != true {
		t.Errorf("_hasConflicts = %v, want true", s.Summary["_hasConflicts"])
	}
	if got := s.Summary["_conflicts"]; !reflect.DeepEqual(got, []any{"result"}) {
		t.Errorf("_conflicts = %#v, want [result]", got)
	}
	derived := s.Summary["_derived"].(map[string]any)
	if derived["workUnits"] != float64(1) || derived["filesCreated"] != float64(1) || derived["checkpoints"] != float64(1) {
		t.Errorf("_derived = %v", derived)
	}
}

func TestComplete_NoConflicts(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := mustStart(t, f.m)
	mustSet(t, f.m, id, "a", 1)
	mustSet(t, f.m, id, "a", 2)
	cp, _ := f.m.Checkpoint(id, "")
	mustSet(t, f.m, id, "a", 3)
	f.m.Rollback(id, cp.ID)

	s, err := f.m.Complete(id, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.Summary["_hasConflicts"] != false {
		t.Errorf("_hasConflicts = %v, want false", s.Summary["_hasConflicts"])
	}
}

// ─── Persistence ─────────────────────────────────────────────────────────────

func TestMutation_PersistFailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	id := mustStart(t, f.m)
	mustSet(t, f.m, id, "k", "v")
	before, _ := f.m.Snapshot(id)

	f.backing.setFail(true)
	if err := f.m.Set(id, "k", "w"); !errors.Is(err, apperr.ErrPersistence) {
		t.Errorf("Set() error = %v, want persistence", err)
	}
	if _, err := f.m.Checkpoint(id, ""); !errors.Is(err, apperr.ErrPersistence) {
		t.Errorf("Checkpoint() error = %v, want persistence", err)
	}
	if _, err := f.m.Complete(id, nil); !errors.Is(err, apperr.ErrPersistence) {
		t.Errorf("Complete() error = %v, want persistence", err)
	}
	if _, err := f.m.Start(nil); !errors.Is(err, apperr.ErrPersistence) {
		t.Errorf("Start() error = %v, want persistence", err)
	}
	f.backing.setFail(false)

	after, _ := f.m.Snapshot(id)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("session changed after failed writes:\n before %+v\n after  %+v", before, after)
	}
	list, _ := f.m.List()
	if len(list) != 1 {
		t.Errorf("List() = %d sessions, want 1", len(list))
	}
}

// ─── List / Overview ─────────────────────────────────────────────────────────

func TestListAndOverview(t *testing.T) {
	clock := installClock(t)
	f := newFixture(t, DefaultConfig())
	a := mustStart(t, f.m)
	clock.Advance(time.Second)
	b := mustStart(t, f.m)
	clock.Advance(time.Second)
	c := mustStart(t, f.m)
	f.m.Complete(b, nil)
	f.m.Complete(c, map[string]any{"failed": true})

	m2 := f.reopen(t, DefaultConfig())
	list, err := m2.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].ID != c || list[2].ID != a {
		t.Errorf("List() order = %+v", list)
	}
	ov, _ := m2.Overview()
	want := Overview{Total: 3, Active: 1, Completed: 1, Failed: 1}
	if ov != want {
		t.Errorf("Overview() = %+v, want %+v", ov, want)
	}
}

// ─── Concurrency ─────────────────────────────────────────────────────────────

func TestManager_ConcurrentAccess(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ids := []string{mustStart(t, f.m), mustStart(t, f.m)}

	var wg sync.WaitGroup
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := ids[i%2]
			if err := f.m.Set(id, fmt.Sprintf("workers.w%d", i), i); err != nil {
				t.Errorf("Set() error: %v", err)
			}
			f.m.TrackFile(id, fmt.Sprintf("f%d.go", i), "modified", nil)
			f.m.Get(id, "workers")
			f.m.Events(id, EventFilter{Last: 5})
		}()
	}
	wg.Wait()

	for _, id := range ids {
		workers := mustGet(t, f.m, id, "workers").(map[string]any)
		if len(workers) != 20 {
			t.Errorf("session %s: %d workers, want 20", id, len(workers))
		}
		st, _ := f.m.Stats(id)
		if st.Counters.Files != 20 || st.Counters.Writes != 20 {
			t.Errorf("session %s counters = %+v", id, st.Counters)
		}
	}
}
