// Package findings implements the content-addressed finding registry.
//
// Findings are keyed by models.Hash over (file, type, description). The store
// keeps a file index and a type index next to the records, persists all three
// as one document through kv.Store, and rebuilds the indices from the records
// on startup. Every mutation is written before it returns; if the write fails
// the in-memory state is reverted and the caller gets an apperr Persistence
// error.
package findings

import (
	"sort"
	"strings"
	"sync"

	"github.com/goodwiins/Myagent-sub003/internal/apperr"
	"github.com/goodwiins/Myagent-sub003/internal/kv"
	"github.com/goodwiins/Myagent-sub003/internal/models"
)

// DocKey is the kv key of the findings document.
const DocKey = "findings"

const docVersion = 1

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds finding store tunables.
type Config struct {
	SimilarityThreshold float64
	QueryLimit          int
}

// DefaultConfig returns the default finding store configuration.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.85,
		QueryLimit:          20,
	}
}

// ─── Types ───────────────────────────────────────────────────────────────────

// AddInput holds the input for recording a new finding.
type AddInput struct {
	File        string            `json:"file"`
	LineRange   *models.LineRange `json:"line_range,omitempty"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Severity    string            `json:"severity,omitempty"`
	ProposedFix string            `json:"proposed_fix,omitempty"`
	Status      models.Status     `json:"status,omitempty"`
	IssueID     string            `json:"issue_id,omitempty"`
	Source      string            `json:"source,omitempty"`
}

// AddResult reports whether a finding was inserted. When Added is false,
// Existing holds a copy of the finding that already owns the hash.
type AddResult struct {
	Added    bool            `json:"added"`
	Hash     string          `json:"hash"`
	Existing *models.Finding `json:"existing,omitempty"`
}

// Patch holds the mutable fields of a finding. Nil fields are left alone.
type Patch struct {
	Status  *models.Status `json:"status,omitempty"`
	IssueID *string        `json:"issue_id,omitempty"`
}

// QueryOptions holds filters for Query. All supplied filters must match.
type QueryOptions struct {
	Type   string        `json:"type,omitempty"`
	File   string        `json:"file,omitempty"` // substring match
	Status models.Status `json:"status,omitempty"`
	Limit  int           `json:"limit,omitempty"`
}

// Stats holds aggregate finding counts.
type Stats struct {
	Total    int            `json:"total"`
	Open     int            `json:"open"`
	Closed   int            `json:"closed"`
	ByStatus map[string]int `json:"by_status"`
	ByType   map[string]int `json:"by_type"`
}

// document is the persisted form. Indices are written for inspection but
// always rebuilt from Findings on load.
type document struct {
	Version  int                 `json:"version"`
	Revision int64               `json:"revision"`
	Findings []models.Finding    `json:"findings"`
	ByFile   map[string][]string `json:"by_file"`
	ByType   map[string][]string `json:"by_type"`
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the finding registry.
type Store struct {
	mu       sync.RWMutex
	kv       kv.Store
	cfg      Config
	byHash   map[string]*models.Finding
	byFile   map[string]map[string]struct{}
	byType   map[string]map[string]struct{}
	revision int64
}

// New loads the persisted findings, if any, and rebuilds the indices.
func New(store kv.Store, cfg Config) (*Store, error) {
	def := DefaultConfig()
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.QueryLimit <= 0 {
		cfg.QueryLimit = def.QueryLimit
	}

	s := &Store{
		kv:     store,
		cfg:    cfg,
		byHash: make(map[string]*models.Finding),
		byFile: make(map[string]map[string]struct{}),
		byType: make(map[string]map[string]struct{}),
	}

	var doc document
	found, err := store.Load(DocKey, &doc)
	if err != nil {
		return nil, apperr.Persistence("findings: load", err)
	}
	if !found {
		return s, nil
	}

	s.revision = doc.Revision
	for i := range doc.Findings {
		f := doc.Findings[i]
		if f.Hash == "" {
			f.Hash = models.Hash(f.File, f.Type, f.Description)
		}
		if _, dup := s.byHash[f.Hash]; dup {
			continue
		}
		s.insert(&f)
		if f.Revision > s.revision {
			s.revision = f.Revision
		}
	}
	return s, nil
}

// SetSimilarityThreshold changes the default FindSimilar threshold.
// Values outside (0, 1] are ignored.
func (s *Store) SetSimilarityThreshold(v float64) {
	if v <= 0 || v > 1 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.SimilarityThreshold = v
}

// Add records a finding unless one with the same hash already exists.
func (s *Store) Add(in AddInput) (AddResult, error) {
	f := models.Finding{
		File:        models.NormalizeFile(in.File),
		LineRange:   in.LineRange,
		Type:        models.NormalizeType(in.Type),
		Description: strings.TrimSpace(in.Description),
		Severity:    strings.ToLower(strings.TrimSpace(in.Severity)),
		ProposedFix: in.ProposedFix,
		Status:      in.Status,
		IssueID:     in.IssueID,
		Source:      in.Source,
	}
	if err := f.Validate(); err != nil {
		return AddResult{}, apperr.Validation("findings: add", "%v", err)
	}
	if f.Status == "" {
		f.Status = models.StatusOpen
	}
	f.Hash = models.Hash(f.File, f.Type, f.Description)
	f = f.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byHash[f.Hash]; ok {
		c := existing.Clone()
		return AddResult{Added: false, Hash: f.Hash, Existing: &c}, nil
	}

	now := timeNow()
	f.CreatedAt = now
	f.UpdatedAt = now
	s.revision++
	f.Revision = s.revision
	s.insert(&f)

	if err := s.persist(); err != nil {
		s.remove(f.Hash)
		s.revision--
		return AddResult{}, apperr.Persistence("findings: add", err)
	}
	return AddResult{Added: true, Hash: f.Hash}, nil
}

// Get returns a copy of the finding with the given hash.
func (s *Store) Get(hash string) (models.Finding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.byHash[hash]
	if !ok {
		return models.Finding{}, apperr.NotFound("findings: get", "finding %q not found", hash)
	}
	return f.Clone(), nil
}

// Update merges status and issue id into an existing finding.
func (s *Store) Update(hash string, p Patch) (models.Finding, error) {
	if p.Status != nil {
		if err := models.ValidateStatus(*p.Status); err != nil {
			return models.Finding{}, apperr.Validation("findings: update", "%v", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.byHash[hash]
	if !ok {
		return models.Finding{}, apperr.NotFound("findings: update", "finding %q not found", hash)
	}

	prev := f.Clone()
	if p.Status != nil {
		f.Status = *p.Status
	}
	if p.IssueID != nil {
		f.IssueID = *p.IssueID
	}
	f.UpdatedAt = timeNow()
	s.revision++
	f.Revision = s.revision

	if err := s.persist(); err != nil {
		*f = prev
		s.revision--
		return models.Finding{}, apperr.Persistence("findings: update", err)
	}
	return f.Clone(), nil
}

// Query returns findings matching every supplied filter, newest first,
// truncated to the limit.
func (s *Store) Query(opts QueryOptions) ([]models.Finding, error) {
	if opts.Status != "" {
		if err := models.ValidateStatus(opts.Status); err != nil {
			return nil, apperr.Validation("findings: query", "%v", err)
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.QueryLimit
	}

	result := s.filterLocked(opts.Type, opts.File, opts.Status)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Stats returns a snapshot of counts by status and by type.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Total:    len(s.byHash),
		ByStatus: make(map[string]int),
		ByType:   make(map[string]int),
	}
	for _, f := range s.byHash {
		st.ByStatus[string(f.Status)]++
		st.ByType[f.Type]++
		if f.Status.Closed() {
			st.Closed++
		} else {
			st.Open++
		}
	}
	return st
}

// ─── Internal helpers ────────────────────────────────────────────────────────

// filterLocked returns sorted copies of matching findings. Caller holds mu.
func (s *Store) filterLocked(typ, file string, status models.Status) []models.Finding {
	typ = models.NormalizeType(typ)

	var candidates []*models.Finding
	if typ != "" {
		for h := range s.byType[typ] {
			candidates = append(candidates, s.byHash[h])
		}
	} else {
		candidates = make([]*models.Finding, 0, len(s.byHash))
		for _, f := range s.byHash {
			candidates = append(candidates, f)
		}
	}

	result := make([]models.Finding, 0, len(candidates))
	for _, f := range candidates {
		if file != "" && !strings.Contains(f.File, file) {
			continue
		}
		if status != "" && f.Status != status {
			continue
		}
		result = append(result, f.Clone())
	}
	sortNewestFirst(result)
	return result
}

// sortNewestFirst orders by UpdatedAt desc, then Revision desc.
func sortNewestFirst(fs []models.Finding) {
	sort.Slice(fs, func(i, j int) bool {
		if !fs[i].UpdatedAt.Equal(fs[j].UpdatedAt) {
			return fs[i].UpdatedAt.After(fs[j].UpdatedAt)
		}
		return fs[i].Revision > fs[j].Revision
	})
}

func (s *Store) insert(f *models.Finding) {
	s.byHash[f.Hash] = f
	addIndex(s.byFile, f.File, f.Hash)
	addIndex(s.byType, f.Type, f.Hash)
}

func (s *Store) remove(hash string) {
	f, ok := s.byHash[hash]
	if !ok {
		return
	}
	delete(s.byHash, hash)
	removeIndex(s.byFile, f.File, hash)
	removeIndex(s.byType, f.Type, hash)
}

func addIndex(idx map[string]map[string]struct{}, key, hash string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[hash] = struct{}{}
}

func removeIndex(idx map[string]map[string]struct{}, key, hash string) {
	set := idx[key]
	delete(set, hash)
	if len(set) == 0 {
		delete(idx, key)
	}
}

// persist writes the full document. Caller holds mu exclusively.
func (s *Store) persist() error {
	doc := document{
		Version:  docVersion,
		Revision: s.revision,
		Findings: make([]models.Finding, 0, len(s.byHash)),
		ByFile:   flattenIndex(s.byFile),
		ByType:   flattenIndex(s.byType),
	}
	for _, f := range s.byHash {
		doc.Findings = append(doc.Findings, *f)
	}
	sort.Slice(doc.Findings, func(i, j int) bool {
		return doc.Findings[i].Revision < doc.Findings[j].Revision
	})
	return s.kv.Save(DocKey, doc)
}

func flattenIndex(idx map[string]map[string]struct{}) map[string][]string {
	out := make(map[string][]string, len(idx))
	for k, set := range idx {
		hashes := make([]string, 0, len(set))
		for h := range set {
			hashes = append(hashes, h)
		}
		sort.Strings(hashes)
		out[k] = hashes
	}
	return out
}
