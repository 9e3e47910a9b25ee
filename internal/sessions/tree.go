package sessions

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/goodwiins/Myagent-sub003/internal/models"
)

// splitPath parses a dot path. "" yields no segments.
func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("path %q has an empty segment", path)
		}
	}
	return segs, nil
}

// lookup descends tree along segs. A missing key or a non-map on the way
// reports false.
func lookup(tree map[string]any, segs []string) (any, bool) {
	var cur any = tree
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[s]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// assign stores v at segs, creating intermediate maps. Descending through
// an existing non-map value is an error.
func assign(tree map[string]any, segs []string, v any) error {
	cur := tree
	for i, s := range segs[:len(segs)-1] {
		next, ok := cur[s]
		if !ok || next == nil {
			m := map[string]any{}
			cur[s] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%q holds a %T, not an object", strings.Join(segs[:i+1], "."), next)
		}
		cur = m
	}
	cur[segs[len(segs)-1]] = v
	return nil
}

// recordWrite remembers each distinct value written to path since the last
// checkpoint.
func (s *Session) recordWrite(path string, v any) {
	if s.PendingWrites == nil {
		s.PendingWrites = make(map[string][]any)
	}
	for _, seen := range s.PendingWrites[path] {
		if reflect.DeepEqual(seen, v) {
			return
		}
	}
	s.PendingWrites[path] = append(s.PendingWrites[path], models.CloneValue(v))
}

// conflicts lists paths written with two or more distinct values since the
// last checkpoint or rollback, sorted.
func (s *Session) conflicts() []string {
	out := []string{}
	for p, vs := range s.PendingWrites {
		if len(vs) >= 2 {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
