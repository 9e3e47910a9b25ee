// Package similarity implements the description-similarity score used for
// finding deduplication and pattern recommendation.
//
// The score is token Jaccard:
//
//	tokens(s)   = set of lower-cased maximal runs of Unicode letters or digits
//	jaccard(a,b) = |tokens(a) ∩ tokens(b)| / |tokens(a) ∪ tokens(b)|
//
// Two empty token sets score 0. The formula is part of the observable
// contract of findings.Store.FindSimilar and patterns.Tracker.Recommend.
package similarity

import (
	"strings"
	"unicode"
)

// Set is a set of tokens.
type Set map[string]struct{}

// Tokens splits s into its token set.
func Tokens(s string) Set {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(Set, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Union returns a new set holding every token of the given sets.
func Union(sets ...Set) Set {
	out := make(Set)
	for _, s := range sets {
		for k := range s {
			out[k] = struct{}{}
		}
	}
	return out
}

// Jaccard returns |a ∩ b| / |a ∪ b|.
func Jaccard(a, b Set) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for k := range small {
		if _, ok := large[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Score is Jaccard over the token sets of two strings.
func Score(a, b string) float64 {
	return Jaccard(Tokens(a), Tokens(b))
}
