package patterns

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goodwiins/Myagent-sub003/internal/apperr"
	"github.com/goodwiins/Myagent-sub003/internal/kv"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

type flakyKV struct {
	kv.Store
	fail bool
}

func (f *flakyKV) Save(key string, v any) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Store.Save(key, v)
}

func fixedClock(t *testing.T) time.Time {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orig := timeNow
	timeNow = func() time.Time { return now }
	t.Cleanup(func() { timeNow = orig })
	return now
}

func newTestTracker(t *testing.T, cfg Config) (*Tracker, *flakyKV, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := kv.NewFileStore(dir)
	if err != nil {
		t.Fatalf("kv store: %v", err)
	}
	backing := &flakyKV{Store: fs}
	tr, err := New(backing, cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return tr, backing, dir
}

func mustAddPattern(t *testing.T, tr *Tracker, spec Spec) Pattern {
	t.Helper()
	p, err := tr.Add(spec)
	if err != nil {
		t.Fatalf("Add(%s) error: %v", spec.ID, err)
	}
	return p
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func ptr(f float64) *float64 { return &f }

// ─── Add / Get ───────────────────────────────────────────────────────────────

func TestAdd_Defaults(t *testing.T) {
	now := fixedClock(t)
	tr, _, _ := newTestTracker(t, DefaultConfig())

	p := mustAddPattern(t, tr, Spec{
		ID:          "sql-param",
		Type:        "Security",
		Description: "Use parameterized queries",
		Keywords:    []string{"SQL", "injection", " sql ", ""},
	})

	if p.Confidence != InitialConfidence {
		t.Errorf("Confidence = %v, want %v", p.Confidence, InitialConfidence)
	}
	if p.SuccessCount != 0 || p.FailureCount != 0 {
		t.Errorf("counters = %d/%d, want 0/0", p.SuccessCount, p.FailureCount)
	}
	if p.Type != "security" {
		t.Errorf("Type = %q, want security", p.Type)
	}
	if len(p.Keywords) != 2 || p.Keywords[0] != "injection" || p.Keywords[1] != "sql" {
		t.Errorf("Keywords = %v, want [injection sql]", p.Keywords)
	}
	if !p.CreatedAt.Equal(now) || p.LastUsedAt != nil {
		t.Errorf("CreatedAt = %v, LastUsedAt = %v", p.CreatedAt, p.LastUsedAt)
	}
}

func TestAdd_Errors(t *testing.T) {
	tr, _, _ := newTestTracker(t, DefaultConfig())
	mustAddPattern(t, tr, Spec{ID: "a", Type: "bug", Description: "d"})

	tests := []struct {
		name string
		spec Spec
		want error
	}{
		{"empty id", Spec{Type: "bug", Description: "d"}, apperr.ErrValidation},
		{"empty type", Spec{ID: "b", Description: "d"}, apperr.ErrValidation},
		{"blank description", Spec{ID: "b", Type: "bug", Description: "   "}, apperr.ErrValidation},
		{"duplicate id", Spec{ID: "a", Type: "style", Description: "other"}, apperr.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Add(tt.spec)
			if !errors.Is(err, tt.want) {
				t.Errorf("Add() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	tr, _, _ := newTestTracker(t, DefaultConfig())
	mustAddPattern(t, tr, Spec{ID: "a", Type: "bug", Description: "d", Keywords: []string{"x"}})

	p, _ := tr.Get("a")
	p.Keywords[0] = "mutated"
	p.Confidence = 1

	again, _ := tr.Get("a")
	if again.Keywords[0] != "x" || again.Confidence != InitialConfidence {
		t.Errorf("Get returned a live reference: %+v", again)
	}

	if _, err := tr.Get("missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want not found", err)
	}
}

// ─── Outcomes ────────────────────────────────────────────────────────────────

func TestRecordOutcome_UpdateRule(t *testing.T) {
	now := fixedClock(t)
	tr, _, _ := newTestTracker(t, DefaultConfig())
	mustAddPattern(t, tr, Spec{ID: "a", Type: "bug", Description: "d"})

	p, err := tr.RecordSuccess("a", map[string]any{"file": "x.go"})
	if err != nil {
		t.Fatalf("RecordSuccess() error: %v", err)
	}
	if !approx(p.Confidence, 0.55) {
		t.Errorf("after success Confidence = %v, want 0.55", p.Confidence)
	}
	if p.SuccessCount != 1 || p.LastUsedAt == nil || !p.LastUsedAt.Equal(now) {
		t.Errorf("after success: %+v", p)
	}

	p, err = tr.RecordFailure("a", nil)
	if err != nil {
		t.Fatalf("RecordFailure() error: %v", err)
	}
	if !approx(p.Confidence, 0.495) {
		t.Errorf("after failure Confidence = %v, want 0.495", p.Confidence)
	}
	if p.FailureCount != 1 || len(p.History) != 2 {
		t.Errorf("after failure: failures=%d history=%d", p.FailureCount, len(p.History))
	}
	if p.History[0].Context["file"] != "x.go" || !p.History[0].Success || p.History[1].Success {
		t.Errorf("History = %+v", p.History)
	}
}

func TestRecordOutcome_StaysInBounds(t *testing.T) {
	tr, _, _ := newTestTracker(t, Config{LearningRate: 1})
	mustAddPattern(t, tr, Spec{ID: "a", Type: "bug", Description: "d"})

	for range 50 {
		p, err := tr.RecordSuccess("a", nil)
		if err != nil {
			t.Fatal(err)
		}
		if p.Confidence < 0 || p.Confidence > 1 {
			t.Fatalf("Confidence = %v out of bounds", p.Confidence)
		}
	}
	p, _ := tr.Get("a")
	if p.Confidence != 1 {
		t.Errorf("Confidence = %v, want 1 with α=1", p.Confidence)
	}
	for range 50 {
		p, _ = tr.RecordFailure("a", nil)
		if p.Confidence < 0 || p.Confidence > 1 {
			t.Fatalf("Confidence = %v out of bounds", p.Confidence)
		}
	}
	if p.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0 with α=1", p.Confidence)
	}
}

func TestRecordOutcome_HistoryCapped(t *testing.T) {
	tr, _, _ := newTestTracker(t, Config{HistoryLimit: 3})
	mustAddPattern(t, tr, Spec{ID: "a", Type: "bug", Description: "d"})

	var p Pattern
	for i := range 5 {
		p, _ = tr.RecordSuccess("a", map[string]any{"n": i})
	}
	if len(p.History) != 3 {
		t.Fatalf("len(History) = %d, want 3", len(p.History))
	}
	if p.History[0].Context["n"] != float64(2) || p.History[2].Context["n"] != float64(4) {
		t.Errorf("History kept wrong entries: %+v", p.History)
	}
	if p.SuccessCount != 5 {
		t.Errorf("SuccessCount = %d, want 5", p.SuccessCount)
	}
}

func TestRecordOutcome_Errors(t *testing.T) {
	tr, _, _ := newTestTracker(t, DefaultConfig())
	mustAddPattern(t, tr, Spec{ID: "a", Type: "bug", Description: "d"})

	if _, err := tr.RecordSuccess("nope", nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("RecordSuccess(unknown) error = %v, want not found", err)
	}
	if _, err := tr.RecordFailure("nope", nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("RecordFailure(unknown) error = %v, want not found", err)
	}
	if _, err := tr.RecordSuccess("a", map[string]any{"ch": make(chan int)}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("RecordSuccess(bad ctx) error = %v, want validation", err)
	}
}

func TestRecordOutcome_PersistFailureReverts(t *testing.T) {
	tr, backing, _ := newTestTracker(t, DefaultConfig())
	mustAddPattern(t, tr, Spec{ID: "a", Type: "bug", Description: "d"})

	backing.fail = true
	if _, err := tr.RecordSuccess("a", nil); !errors.Is(err, apperr.ErrPersistence) {
		t.Fatalf("RecordSuccess() error = %v, want persistence", err)
	}
	if _, err := tr.Add(Spec{ID: "b", Type: "bug", Description: "d"}); !errors.Is(err, apperr.ErrPersistence) {
		t.Fatalf("Add() error = %v, want persistence", err)
	}
	backing.fail = false

	p, _ := tr.Get("a")
	if p.Confidence != InitialConfidence || p.SuccessCount != 0 || len(p.History) != 0 {
		t.Errorf("state changed after failed write: %+v", p)
	}
	if _, err := tr.Get("b"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("pattern b survived a failed write")
	}
}

// ─── Recommend ───────────────────────────────────────────────────────────────

func TestRecommend_RanksAndFilters(t *testing.T) {
	tr, _, _ := newTestTracker(t, DefaultConfig())
	mustAddPattern(t, tr, Spec{ID: "param", Type: "security", Description: "parameterize", Keywords: []string{"sql", "injection"}})
	mustAddPattern(t, tr, Spec{ID: "generic", Type: "security", Description: "fix", Keywords: []string{"sql"}})
	mustAddPattern(t, tr, Spec{ID: "xss", Type: "security", Description: "escape html", Keywords: []string{"xss"}})
	mustAddPattern(t, tr, Spec{ID: "other-type", Type: "bug", Description: "sql injection", Keywords: []string{"sql", "injection"}})

	recs := tr.Recommend("security", "SQL injection", RecommendOptions{})
	if len(recs) != 2 {
		t.Fatalf("len(recs) = %d, want 2: %+v", len(recs), recs)
	}
	if recs[0].Pattern.ID != "param" || recs[1].Pattern.ID != "generic" {
		t.Errorf("order = %s, %s; want param, generic", recs[0].Pattern.ID, recs[1].Pattern.ID)
	}
	// {sql, injection} vs {sql, injection, parameterize}
	if !approx(recs[0].MatchScore, 2.0/3.0) || !approx(recs[0].Rank, 0.5*2.0/3.0) {
		t.Errorf("recs[0] = score %v rank %v", recs[0].MatchScore, recs[0].Rank)
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Rank > recs[i-1].Rank {
			t.Errorf("recs not sorted by rank desc at %d", i)
		}
	}

	limited := tr.Recommend("security", "SQL injection", RecommendOptions{Limit: 1})
	if len(limited) != 1 || limited[0].Pattern.ID != "param" {
		t.Errorf("Limit 1 = %+v", limited)
	}
}

func TestRecommend_MinConfidence(t *testing.T) {
	tr, _, _ := newTestTracker(t, DefaultConfig())
	mustAddPattern(t, tr, Spec{ID: "a", Type: "bug", Description: "nil check", Keywords: []string{"nil"}})
	if _, err := tr.RecordFailure("a", nil); err != nil {
		t.Fatal(err)
	}

	if recs := tr.Recommend("bug", "nil pointer", RecommendOptions{}); len(recs) != 0 {
		t.Errorf("pattern below 0.5 recommended: %+v", recs)
	}
	if recs := tr.Recommend("bug", "nil pointer", RecommendOptions{MinConfidence: ptr(0)}); len(recs) != 1 {
		t.Errorf("MinConfidence 0: len = %d, want 1", len(recs))
	}

	tr.SetMinConfidence(0.4)
	if recs := tr.Recommend("bug", "nil pointer", RecommendOptions{}); len(recs) != 1 {
		t.Errorf("after SetMinConfidence(0.4): len = %d, want 1", len(recs))
	}
}

func TestRecommend_NoMatchIsEmpty(t *testing.T) {
	tr, _, _ := newTestTracker(t, DefaultConfig())
	recs := tr.Recommend("security", "anything", RecommendOptions{})
	if recs == nil || len(recs) != 0 {
		t.Errorf("Recommend() = %#v, want empty non-nil slice", recs)
	}
}

// ─── Stats ───────────────────────────────────────────────────────────────────

func TestStats(t *testing.T) {
	tr, _, _ := newTestTracker(t, DefaultConfig())
	mustAddPattern(t, tr, Spec{ID: "a", Type: "bug", Description: "d"})
	mustAddPattern(t, tr, Spec{ID: "b", Type: "bug", Description: "d"})
	mustAddPattern(t, tr, Spec{ID: "c", Type: "style", Description: "d"})
	tr.RecordSuccess("b", nil)
	tr.RecordFailure("c", nil)

	st := tr.Stats(2)
	if st.Count != 3 || st.TotalSuccesses != 1 || st.TotalFailures != 1 {
		t.Errorf("Stats = %+v", st)
	}
	if !approx(st.MeanConfidence, (0.5+0.55+0.45)/3) {
		t.Errorf("MeanConfidence = %v", st.MeanConfidence)
	}
	if st.ByType["bug"] != 2 || st.ByType["style"] != 1 {
		t.Errorf("ByType = %v", st.ByType)
	}
	if len(st.Top) != 2 || st.Top[0].ID != "b" || st.Top[1].ID != "a" {
		t.Errorf("Top = %+v", st.Top)
	}

	empty, _, _ := newTestTracker(t, DefaultConfig())
	if st := empty.Stats(0); st.Count != 0 || st.MeanConfidence != 0 || st.Top == nil {
		t.Errorf("empty Stats = %+v", st)
	}
}

// ─── Persistence ─────────────────────────────────────────────────────────────

func TestTracker_SurvivesRestart(t *testing.T) {
	tr, _, dir := newTestTracker(t, DefaultConfig())
	mustAddPattern(t, tr, Spec{ID: "a", Type: "bug", Description: "d", Keywords: []string{"k"}})
	tr.RecordSuccess("a", map[string]any{"pr": 7})

	if _, err := os.Stat(filepath.Join(dir, DocKey+".json")); err != nil {
		t.Fatalf("patterns document not written: %v", err)
	}

	fs, err := kv.NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	reloaded, err := New(fs, DefaultConfig())
	if err != nil {
		t.Fatalf("New() on reload: %v", err)
	}
	p, err := reloaded.Get("a")
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if !approx(p.Confidence, 0.55) || p.SuccessCount != 1 || len(p.History) != 1 {
		t.Errorf("reloaded pattern = %+v", p)
	}
	if p.History[0].Context["pr"] != float64(7) {
		t.Errorf("history context = %v", p.History[0].Context)
	}
}

// ─── Seed ────────────────────────────────────────────────────────────────────

func TestSeed_BuiltinLibrary(t *testing.T) {
	specs, err := BuiltinLibrary()
	if err != nil {
		t.Fatalf("BuiltinLibrary() error: %v", err)
	}
	if len(specs) == 0 {
		t.Fatal("builtin library is empty")
	}

	tr, _, _ := newTestTracker(t, DefaultConfig())
	n, err := tr.Seed(specs)
	if err != nil {
		t.Fatalf("Seed() error: %v", err)
	}
	if n != len(specs) {
		t.Errorf("Seed() added %d, want %d", n, len(specs))
	}

	again, err := tr.Seed(specs)
	if err != nil || again != 0 {
		t.Errorf("second Seed() = %d, %v; want 0, nil", again, err)
	}

	recs := tr.Recommend("security", "SQL injection in login handler", RecommendOptions{})
	if len(recs) == 0 || recs[0].Pattern.ID != "sql-parameterize" {
		t.Errorf("Recommend over builtin library = %+v", recs)
	}
}

func TestSeed_KeepsLearnedState(t *testing.T) {
	tr, _, _ := newTestTracker(t, DefaultConfig())
	mustAddPattern(t, tr, Spec{ID: "a", Type: "bug", Description: "d"})
	tr.RecordSuccess("a", nil)

	n, err := tr.Seed([]Spec{
		{ID: "a", Type: "bug", Description: "d"},
		{ID: "b", Type: "bug", Description: "e"},
	})
	if err != nil || n != 1 {
		t.Fatalf("Seed() = %d, %v; want 1, nil", n, err)
	}
	p, _ := tr.Get("a")
	if !approx(p.Confidence, 0.55) {
		t.Errorf("Seed overwrote learned confidence: %v", p.Confidence)
	}
}

func TestSeed_InvalidSpecAddsNothing(t *testing.T) {
	tr, _, _ := newTestTracker(t, DefaultConfig())
	_, err := tr.Seed([]Spec{
		{ID: "ok", Type: "bug", Description: "d"},
		{ID: "bad", Type: "bug"},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("Seed() error = %v, want validation", err)
	}
	if _, err := tr.Get("ok"); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("valid spec stored despite batch failure")
	}
}

func TestLoadLibraryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.yaml")
	content := "patterns:\n  - id: x\n    type: style\n    description: tidy\n    keywords: [fmt]\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	specs, err := LoadLibraryFile(path)
	if err != nil {
		t.Fatalf("LoadLibraryFile() error: %v", err)
	}
	if len(specs) != 1 || specs[0].ID != "x" || specs[0].Keywords[0] != "fmt" {
		t.Errorf("specs = %+v", specs)
	}

	if _, err := LoadLibraryFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

// ─── Concurrency ─────────────────────────────────────────────────────────────

func TestTracker_ConcurrentOutcomes(t *testing.T) {
	tr, _, _ := newTestTracker(t, DefaultConfig())
	mustAddPattern(t, tr, Spec{ID: "a", Type: "bug", Description: "nil check", Keywords: []string{"nil"}})

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				tr.RecordSuccess("a", nil)
			} else {
				tr.RecordFailure("a", nil)
			}
			tr.Recommend("bug", "nil", RecommendOptions{MinConfidence: ptr(0)})
		}()
	}
	wg.Wait()

	p, _ := tr.Get("a")
	if p.SuccessCount != 10 || p.FailureCount != 10 {
		t.Errorf("counters = %d/%d, want 10/10", p.SuccessCount, p.FailureCount)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		t.Errorf("Confidence = %v out of bounds", p.Confidence)
	}
}
