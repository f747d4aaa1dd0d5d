package operations

import (
	"container/heap"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Queue is a priority queue of operations ordered by Compare. It is safe for concurrent use, but
// an operation handed out by Pop belongs to the caller until it is pushed back.
type Queue struct {
	mu  sync.Mutex
	ops opHeap
}

// NewQueue creates a Queue holding ops.
func NewQueue(ops ...Operation) *Queue {
	q := &Queue{ops: append(opHeap{}, ops...)}
	heap.Init(&q.ops)

	return q
}

// Push adds op to the queue.
func (q *Queue) Push(op Operation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	heap.Push(&q.ops, op)
}

// Pop removes and returns the operation that should run next, and false if the queue is empty.
func (q *Queue) Pop() (Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return nil, false
	}

	return heap.Pop(&q.ops).(Operation), true
}

// PopReady removes and returns the operation that should run next if it is due at now.
func (q *Queue) PopReady(now time.Time) (Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return nil, false
	}
	if after, scheduled := q.ops[0].NextAttemptAfter(); scheduled && after.After(now) {
		return nil, false
	}

	return heap.Pop(&q.ops).(Operation), true
}

// Update applies fn to the queued operation with the given id and restores the queue order.
// It returns false if no queued operation has that id.
func (q *Queue) Update(id common.Hash, fn func(Operation)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, op := range q.ops {
		if op.ID() == id {
			fn(op)
			heap.Fix(&q.ops, i)

			return true
		}
	}

	return false
}

// Len returns the number of queued operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.ops)
}

// Snapshot returns the queued operations in processing order. The operations must only be read.
func (q *Queue) Snapshot() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops := slices.Clone([]Operation(q.ops))
	slices.SortFunc(ops, Compare)

	return ops
}

// opHeap implements heap.Interface over Compare.
type opHeap []Operation

func (h opHeap) Len() int           { return len(h) }
func (h opHeap) Less(i, j int) bool { return Less(h[i], h[j]) }
func (h opHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *opHeap) Push(x any) {
	*h = append(*h, x.(Operation))
}

func (h *opHeap) Pop() any {
	old := *h
	n := len(old)
	op := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return op
}
