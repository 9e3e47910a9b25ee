package findings

import (
	"sort"

	"github.com/goodwiins/Myagent-sub003/internal/models"
	"github.com/goodwiins/Myagent-sub003/internal/similarity"
)

// SimilarOptions narrows a FindSimilar scan. A Threshold <= 0 means the
// configured default (0.85 unless overridden).
type SimilarOptions struct {
	Threshold float64 `json:"threshold,omitempty"`
	File      string  `json:"file,omitempty"` // substring match
	Type      string  `json:"type,omitempty"`
}

// Match is a finding with its similarity score.
type Match struct {
	Finding models.Finding `json:"finding"`
	Score   float64        `json:"score"`
}

// FindSimilar scores description against every stored description with
// token Jaccard (see package similarity) and returns the findings scoring at
// least the threshold, best first. Ties keep query order. An empty result is
// not an error.
func (s *Store) FindSimilar(description string, opts SimilarOptions) []Match {
	s.mu.RLock()
	defer s.mu.RUnlock()

	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = s.cfg.SimilarityThreshold
	}

	query := similarity.Tokens(description)
	if len(query) == 0 {
		return []Match{}
	}

	matches := []Match{}
	for _, f := range s.filterLocked(opts.Type, opts.File, "") {
		score := similarity.Jaccard(query, similarity.Tokens(f.Description))
		if score >= threshold {
			matches = append(matches, Match{Finding: f, Score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}
