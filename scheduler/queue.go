package scheduler

import "container/heap"

// item is one unit of scheduled work. Lower Priority values run first;
// equal priorities run in FIFO order (spec §4.2), which the heap
// achieves by breaking ties on a monotonically increasing sequence
// number.
type item struct {
	priority int
	seq      int64
	work     *workItem
}

// priorityQueue is a container/heap.Interface over scheduled items.
// SPEC_FULL §3: no example repo imports a third-party in-memory
// priority queue, so this follows the teacher's reach for stdlib tools
// where the ecosystem itself doesn't offer one.
type priorityQueue []*item

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority < pq[j].priority
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) { pq[i], pq[j] = pq[j], pq[i] }

func (pq *priorityQueue) Push(x interface{}) {
	*pq = append(*pq, x.(*item))
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return it
}

var _ heap.Interface = (*priorityQueue)(nil)
