// Package queue orders findings for processing by urgency.
//
// Items are ordered by priority bucket, then by enqueue sequence, on a
// binary heap. A failed head is retried in place until its retry count
// reaches the cap, then dropped as exhausted. Queues are process-local and
// never persisted.
package queue

import (
	"container/heap"
	"strconv"
	"sync"
	"time"

	"github.com/goodwiins/Myagent-sub003/internal/apperr"
	"github.com/goodwiins/Myagent-sub003/internal/models"
)

// DefaultRetryCap is the number of failures after which an item is dropped.
const DefaultRetryCap = 3

// Options configure a queue.
type Options struct {
	// PriorityThreshold excludes items less urgent than this bucket.
	// 0 disables filtering.
	PriorityThreshold int
	// RetryCap defaults to DefaultRetryCap when <= 0.
	RetryCap int
}

// Item is a queued finding.
type Item struct {
	Finding    models.Finding `json:"finding"`
	Priority   int            `json:"priority"`
	Retries    int            `json:"retries"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	Seq        uint64         `json:"seq"`
}

// EnqueueResult reports where an enqueued finding landed.
type EnqueueResult struct {
	Enqueued bool `json:"enqueued"`
	Priority int  `json:"priority"`
}

// FailResult reports the outcome of MarkFailed.
type FailResult struct {
	Item      Item `json:"item"`
	Exhausted bool `json:"exhausted"`
}

// Stats holds queue counters. ByPriority and Remaining describe the current
// contents; the rest are lifetime totals.
type Stats struct {
	ByPriority map[string]int `json:"by_priority"`
	Remaining  int            `json:"remaining"`
	Excluded   int            `json:"excluded"`
	Enqueued   int            `json:"enqueued"`
	Dequeued   int            `json:"dequeued"`
	Exhausted  int            `json:"exhausted"`
}

// Queue is a priority queue of findings safe for concurrent use.
type Queue struct {
	mu        sync.Mutex
	opts      Options
	items     itemHeap
	seq       uint64
	excluded  int
	enqueued  int
	dequeued  int
	exhausted int
}

// New creates an empty queue.
func New(opts Options) (*Queue, error) {
	if opts.PriorityThreshold < 0 || opts.PriorityThreshold > PriorityLow {
		return nil, apperr.Validation("queue: new", "priority threshold %d out of range 0..%d", opts.PriorityThreshold, PriorityLow)
	}
	if opts.RetryCap <= 0 {
		opts.RetryCap = DefaultRetryCap
	}
	return &Queue{opts: opts}, nil
}

// Enqueue adds a finding unless the priority threshold excludes it.
func (q *Queue) Enqueue(f models.Finding) (EnqueueResult, error) {
	if err := f.Validate(); err != nil {
		return EnqueueResult{}, apperr.Validation("queue: enqueue", "%v", err)
	}
	p := PriorityFor(f.Type)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.opts.PriorityThreshold > 0 && p > q.opts.PriorityThreshold {
		q.excluded++
		return EnqueueResult{Enqueued: false, Priority: p}, nil
	}
	q.seq++
	heap.Push(&q.items, &Item{
		Finding:    f.Clone(),
		Priority:   p,
		EnqueuedAt: timeNow(),
		Seq:        q.seq,
	})
	q.enqueued++
	return EnqueueResult{Enqueued: true, Priority: p}, nil
}

// Peek returns the head without removing it.
func (q *Queue) Peek() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0].clone(), true
}

// Dequeue removes and returns the head.
func (q *Queue) Dequeue() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	it := heap.Pop(&q.items).(*Item)
	q.dequeued++
	return it.clone(), true
}

// MarkFailed records a failed attempt on the head. Once its retries reach
// the cap the head is removed and reported exhausted; otherwise it stays at
// the head.
func (q *Queue) MarkFailed() (FailResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return FailResult{}, apperr.InvalidState("queue: mark failed", "queue is empty")
	}
	head := q.items[0]
	head.Retries++
	if head.Retries >= q.opts.RetryCap {
		heap.Pop(&q.items)
		q.exhausted++
		return FailResult{Item: head.clone(), Exhausted: true}, nil
	}
	return FailResult{Item: head.clone()}, nil
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns remaining counts per bucket and lifetime counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Stats{
		ByPriority: make(map[string]int, PriorityLow),
		Remaining:  len(q.items),
		Excluded:   q.excluded,
		Enqueued:   q.enqueued,
		Dequeued:   q.dequeued,
		Exhausted:  q.exhausted,
	}
	for p := PriorityCritical; p <= PriorityLow; p++ {
		st.ByPriority[strconv.Itoa(p)] = 0
	}
	for _, it := range q.items {
		st.ByPriority[strconv.Itoa(it.Priority)]++
	}
	return st
}

func (it *Item) clone() Item {
	c := *it
	c.Finding = it.Finding.Clone()
	return c
}

// ─── heap.Interface ──────────────────────────────────────────────────────────

type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*Item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
