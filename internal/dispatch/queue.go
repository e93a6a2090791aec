package dispatch

import (
	"container/heap"
	"sync"

	"github.com/aseofsmartice/surveillance/internal/index"
)

// Queue is a concurrency-safe priority queue of segments, oldest start
// timestamp first. Workers pop from it; a worker that exits before
// running a popped job pushes it back.
type Queue struct {
	mu sync.Mutex
	h  segmentHeap
}

// NewQueue builds a queue from the indexer's scan result.
func NewQueue(segments []index.Segment) *Queue {
	q := &Queue{h: make(segmentHeap, len(segments))}
	copy(q.h, segments)
	heap.Init(&q.h)
	return q
}

// Push adds a segment back to the queue.
func (q *Queue) Push(seg index.Segment) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, seg)
}

// Pop removes and returns the oldest segment, or false if empty.
func (q *Queue) Pop() (index.Segment, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return index.Segment{}, false
	}
	return heap.Pop(&q.h).(index.Segment), true
}

// Len returns the number of queued segments.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

type segmentHeap []index.Segment

func (h segmentHeap) Len() int            { return len(h) }
func (h segmentHeap) Less(i, j int) bool  { return h[i].StartTS.Before(h[j].StartTS) }
func (h segmentHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *segmentHeap) Push(x any)         { *h = append(*h, x.(index.Segment)) }
func (h *segmentHeap) Pop() any {
	old := *h
	n := len(old)
	seg := old[n-1]
	*h = old[:n-1]
	return seg
}
