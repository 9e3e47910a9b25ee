package queue

import (
	"sort"
	"strings"
	"sync"

	"github.com/goodwiins/Myagent-sub003/internal/apperr"
)

// DefaultName is the queue used when a caller names none.
const DefaultName = "default"

// Registry holds named queues created on first use with shared options.
type Registry struct {
	mu     sync.Mutex
	opts   Options
	queues map[string]*Queue
}

// NewRegistry validates opts and returns an empty registry.
func NewRegistry(opts Options) (*Registry, error) {
	if _, err := New(opts); err != nil {
		return nil, err
	}
	return &Registry{opts: opts, queues: make(map[string]*Queue)}, nil
}

// Get returns the named queue, creating it if needed.
func (r *Registry) Get(name string) (*Queue, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[name]; ok {
		return q, nil
	}
	q, err := New(r.opts)
	if err != nil {
		return nil, err
	}
	r.queues[name] = q
	return q, nil
}

// Lookup returns an existing queue without creating one.
func (r *Registry) Lookup(name string) (*Queue, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[name]
	if !ok {
		return nil, apperr.NotFound("queue: lookup", "queue %q not found", name)
	}
	return q, nil
}

// Names lists queue names in ascending order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.queues))
	for n := range r.queues {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
