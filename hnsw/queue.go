package hnsw

import "container/heap"

// candidate is one entry in a beam-search priority queue: a dense node
// position and its distance to the query point.
type candidate struct {
	node     int32
	distance float32
	index    int
}

// candidateQueue is a container/heap-backed priority queue that serves
// both roles the beam search needs: a min-heap of candidates still to
// explore (order=false) and a max-heap of the current top-ef results
// (order=true), following the teacher's dual-heap-via-bool-toggle
// pattern rather than two distinct types.
type candidateQueue struct {
	order bool
	items []*candidate
}

func newCandidateQueue(order bool) *candidateQueue {
	return &candidateQueue{order: order}
}

func (q *candidateQueue) Len() int { return len(q.items) }

func (q *candidateQueue) Less(i, j int) bool {
	if !q.order {
		return q.items[i].distance < q.items[j].distance
	}
	return q.items[i].distance > q.items[j].distance
}

func (q *candidateQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *candidateQueue) Push(x any) {
	c := x.(*candidate)
	c.index = len(q.items)
	q.items = append(q.items, c)
}

func (q *candidateQueue) Pop() any {
	n := len(q.items)
	item := q.items[n-1]
	q.items[n-1] = nil
	item.index = -1
	q.items = q.items[:n-1]
	return item
}

// Top returns the queue's root without removing it. Callers must ensure
// the queue is non-empty.
func (q *candidateQueue) Top() *candidate { return q.items[0] }

func (q *candidateQueue) push(c *candidate) { heap.Push(q, c) }
func (q *candidateQueue) pop() *candidate   { return heap.Pop(q).(*candidate) }

// asSorted returns the queue's entries (which must be a max-by-distance
// queue) as a slice sorted ascending by distance. It pops from a copy, so
// q itself keeps all its entries.
func (q *candidateQueue) asSorted() []*candidate {
	out := make([]*candidate, len(q.items))
	tmp := &candidateQueue{order: q.order, items: append([]*candidate(nil), q.items...)}
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = tmp.pop()
	}
	return out
}
