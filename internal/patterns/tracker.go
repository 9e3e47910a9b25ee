// Package patterns tracks reusable fix patterns and learns their confidence
// from recorded outcomes.
//
// Confidence starts at 0.5 and moves by a fixed learning rate α (0.1 by
// default) after each outcome:
//
//	success: c' = c + α(1 − c)
//	failure: c' = c − α·c
//
// Both updates keep c inside [0, 1]. Every pattern keeps the contexts of its
// most recent outcomes (20 by default); older entries are dropped.
package patterns

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goodwiins/Myagent-sub003/internal/apperr"
	"github.com/goodwiins/Myagent-sub003/internal/kv"
	"github.com/goodwiins/Myagent-sub003/internal/models"
	"github.com/goodwiins/Myagent-sub003/internal/similarity"
)

// DocKey is the kv key of the patterns document.
const DocKey = "patterns"

// InitialConfidence is the confidence of a newly added pattern.
const InitialConfidence = 0.5

const docVersion = 1

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds tracker tunables.
type Config struct {
	MinConfidence float64
	LearningRate  float64
	HistoryLimit  int
}

// DefaultConfig returns the default tracker configuration.
func DefaultConfig() Config {
	return Config{
		MinConfidence: 0.5,
		LearningRate:  0.1,
		HistoryLimit:  20,
	}
}

// ─── Types ───────────────────────────────────────────────────────────────────

// Spec is the input for a new pattern.
type Spec struct {
	ID          string   `json:"id" yaml:"id"`
	Type        string   `json:"type" yaml:"type"`
	Description string   `json:"description" yaml:"description"`
	Template    string   `json:"template,omitempty" yaml:"template,omitempty"`
	Keywords    []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// Outcome is one recorded use of a pattern.
type Outcome struct {
	Success bool           `json:"success"`
	Context map[string]any `json:"context,omitempty"`
	At      time.Time      `json:"at"`
}

// Pattern is a reusable fix template with its learned confidence.
type Pattern struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Description  string     `json:"description"`
	Template     string     `json:"template,omitempty"`
	Keywords     []string   `json:"keywords"`
	Confidence   float64    `json:"confidence"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	History      []Outcome  `json:"history,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Clone returns a deep copy of p.
func (p Pattern) Clone() Pattern {
	p.Keywords = append([]string(nil), p.Keywords...)
	if p.LastUsedAt != nil {
		t := *p.LastUsedAt
		p.LastUsedAt = &t
	}
	if p.History != nil {
		h := make([]Outcome, len(p.History))
		for i, o := range p.History {
			o.Context = models.CloneMap(o.Context)
			h[i] = o
		}
		p.History = h
	}
	return p
}

// RecommendOptions tunes Recommend. A nil MinConfidence means the
// configured default; Limit <= 0 returns every match.
type RecommendOptions struct {
	MinConfidence *float64 `json:"min_confidence,omitempty"`
	Limit         int      `json:"limit,omitempty"`
}

// Recommendation is a ranked pattern.
type Recommendation struct {
	Pattern    Pattern `json:"pattern"`
	MatchScore float64 `json:"match_score"`
	Rank       float64 `json:"rank"`
}

// Stats holds aggregate pattern statistics.
type Stats struct {
	Count          int            `json:"count"`
	MeanConfidence float64        `json:"mean_confidence"`
	TotalSuccesses int            `json:"total_successes"`
	TotalFailures  int            `json:"total_failures"`
	ByType         map[string]int `json:"by_type"`
	Top            []Pattern      `json:"top"`
}

type document struct {
	Version  int       `json:"version"`
	Patterns []Pattern `json:"patterns"`
}

// ─── Tracker ─────────────────────────────────────────────────────────────────

// Tracker is the persisted pattern registry.
type Tracker struct {
	mu       sync.RWMutex
	kv       kv.Store
	cfg      Config
	patterns map[string]*Pattern
}

// New loads persisted patterns, if any.
func New(store kv.Store, cfg Config) (*Tracker, error) {
	def := DefaultConfig()
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.LearningRate <= 0 || cfg.LearningRate > 1 {
		cfg.LearningRate = def.LearningRate
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}

	t := &Tracker{kv: store, cfg: cfg, patterns: make(map[string]*Pattern)}

	var doc document
	found, err := store.Load(DocKey, &doc)
	if err != nil {
		return nil, apperr.Persistence("patterns: load", err)
	}
	if found {
		for i := range doc.Patterns {
			p := doc.Patterns[i]
			p.Confidence = clamp(p.Confidence)
			t.patterns[p.ID] = &p
		}
	}
	return t, nil
}

// SetMinConfidence changes the default Recommend threshold.
// Values outside [0, 1] are ignored.
func (t *Tracker) SetMinConfidence(v float64) {
	if v < 0 || v > 1 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg.MinConfidence = v
}

// Add registers a new pattern with confidence 0.5.
func (t *Tracker) Add(spec Spec) (Pattern, error) {
	p, err := newPattern(spec)
	if err != nil {
		return Pattern{}, apperr.Validation("patterns: add", "%v", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.patterns[p.ID]; exists {
		return Pattern{}, apperr.Conflict("patterns: add", "pattern %q already exists", p.ID)
	}
	t.patterns[p.ID] = &p
	if err := t.persist(); err != nil {
		delete(t.patterns, p.ID)
		return Pattern{}, apperr.Persistence("patterns: add", err)
	}
	return p.Clone(), nil
}

// Seed adds every spec whose id is not registered yet and reports how many
// were added. All specs are validated before anything is stored; the batch
// is written once.
func (t *Tracker) Seed(specs []Spec) (int, error) {
	fresh := make([]Pattern, 0, len(specs))
	for _, spec := range specs {
		p, err := newPattern(spec)
		if err != nil {
			return 0, apperr.Validation("patterns: seed", "pattern %q: %v", spec.ID, err)
		}
		fresh = append(fresh, p)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var added []string
	for i := range fresh {
		p := fresh[i]
		if _, exists := t.patterns[p.ID]; exists {
			continue
		}
		t.patterns[p.ID] = &p
		added = append(added, p.ID)
	}
	if len(added) == 0 {
		return 0, nil
	}
	if err := t.persist(); err != nil {
		for _, id := range added {
			delete(t.patterns, id)
		}
		return 0, apperr.Persistence("patterns: seed", err)
	}
	return len(added), nil
}

// Get returns a copy of the pattern with the given id.
func (t *Tracker) Get(id string) (Pattern, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.patterns[id]
	if !ok {
		return Pattern{}, apperr.NotFound("patterns: get", "pattern %q not found", id)
	}
	return p.Clone(), nil
}

// RecordSuccess moves the pattern's confidence toward 1.
func (t *Tracker) RecordSuccess(id string, ctx map[string]any) (Pattern, error) {
	return t.record(id, true, ctx)
}

// RecordFailure moves the pattern's confidence toward 0.
func (t *Tracker) RecordFailure(id string, ctx map[string]any) (Pattern, error) {
	return t.record(id, false, ctx)
}

func (t *Tracker) record(id string, success bool, ctx map[string]any) (Pattern, error) {
	op := "patterns: record failure"
	if success {
		op = "patterns: record success"
	}
	normalized, err := models.NormalizeMap(ctx)
	if err != nil {
		return Pattern{}, apperr.Validation(op, "context: %v", err)
	}
	if len(normalized) == 0 {
		normalized = nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.patterns[id]
	if !ok {
		return Pattern{}, apperr.NotFound(op, "pattern %q not found", id)
	}

	prev := p.Clone()
	now := timeNow()
	alpha := t.cfg.LearningRate
	if success {
		p.Confidence = clamp(p.Confidence + alpha*(1-p.Confidence))
		p.SuccessCount++
	} else {
		p.Confidence = clamp(p.Confidence - alpha*p.Confidence)
		p.FailureCount++
	}
	p.LastUsedAt = &now
	p.History = append(p.History, Outcome{Success: success, Context: normalized, At: now})
	if over := len(p.History) - t.cfg.HistoryLimit; over > 0 {
		p.History = append([]Outcome(nil), p.History[over:]...)
	}

	if err := t.persist(); err != nil {
		*p = prev
		return Pattern{}, apperr.Persistence(op, err)
	}
	return p.Clone(), nil
}

// Recommend ranks patterns of the given type against description.
//
// Patterns below the minimum confidence are skipped. The match score is the
// token Jaccard between description and the pattern's keywords plus its own
// description; patterns with no overlap are dropped. Rank is
// confidence × matchScore, highest first, ties broken by id.
func (t *Tracker) Recommend(typ, description string, opts RecommendOptions) []Recommendation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	minConf := t.cfg.MinConfidence
	if opts.MinConfidence != nil {
		minConf = *opts.MinConfidence
	}
	typ = models.NormalizeType(typ)
	query := similarity.Tokens(description)

	recs := []Recommendation{}
	for _, p := range t.patterns {
		if p.Type != typ || p.Confidence < minConf {
			continue
		}
		target := similarity.Union(
			similarity.Tokens(strings.Join(p.Keywords, " ")),
			similarity.Tokens(p.Description),
		)
		score := similarity.Jaccard(query, target)
		if score <= 0 {
			continue
		}
		recs = append(recs, Recommendation{
			Pattern:    p.Clone(),
			MatchScore: score,
			Rank:       p.Confidence * score,
		})
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Rank != recs[j].Rank {
			return recs[i].Rank > recs[j].Rank
		}
		return recs[i].Pattern.ID < recs[j].Pattern.ID
	})
	if opts.Limit > 0 && len(recs) > opts.Limit {
		recs = recs[:opts.Limit]
	}
	return recs
}

// Stats returns counts, mean confidence and the topN patterns by confidence.
// topN <= 0 defaults to 5.
func (t *Tracker) Stats(topN int) Stats {
	if topN <= 0 {
		topN = 5
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	st := Stats{ByType: make(map[string]int), Top: []Pattern{}}
	all := make([]*Pattern, 0, len(t.patterns))
	var sum float64
	for _, p := range t.patterns {
		all = append(all, p)
		sum += p.Confidence
		st.TotalSuccesses += p.SuccessCount
		st.TotalFailures += p.FailureCount
		st.ByType[p.Type]++
	}
	st.Count = len(all)
	if st.Count > 0 {
		st.MeanConfidence = sum / float64(st.Count)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Confidence != all[j].Confidence {
			return all[i].Confidence > all[j].Confidence
		}
		return all[i].ID < all[j].ID
	})
	for i := 0; i < len(all) && i < topN; i++ {
		st.Top = append(st.Top, all[i].Clone())
	}
	return st
}

// ─── Internal helpers ────────────────────────────────────────────────────────

func newPattern(spec Spec) (Pattern, error) {
	id := strings.TrimSpace(spec.ID)
	typ := models.NormalizeType(spec.Type)
	desc := strings.TrimSpace(spec.Description)
	switch {
	case id == "":
		return Pattern{}, errRequired("id")
	case typ == "":
		return Pattern{}, errRequired("type")
	case desc == "":
		return Pattern{}, errRequired("description")
	}
	return Pattern{
		ID:          id,
		Type:        typ,
		Description: desc,
		Template:    spec.Template,
		Keywords:    normalizeKeywords(spec.Keywords),
		Confidence:  InitialConfidence,
		CreatedAt:   timeNow(),
	}, nil
}

func errRequired(field string) error { return fmt.Errorf("'%s' is required", field) }

// normalizeKeywords lower-cases, trims, dedupes and sorts.
func normalizeKeywords(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func clamp(c float64) float64 {
	return min(max(c, 0), 1)
}

// persist writes every pattern sorted by id. Caller holds mu exclusively.
func (t *Tracker) persist() error {
	doc := document{Version: docVersion, Patterns: make([]Pattern, 0, len(t.patterns))}
	for _, p := range t.patterns {
		doc.Patterns = append(doc.Patterns, *p)
	}
	sort.Slice(doc.Patterns, func(i, j int) bool { return doc.Patterns[i].ID < doc.Patterns[j].ID })
	return t.kv.Save(DocKey, doc)
}
