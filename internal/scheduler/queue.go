package scheduler

import (
	"container/heap"
	"sort"
)

// priorityQueue is a stable binary heap keyed on (-priority, queued_at), so
// pending jobs come out highest-priority first and FIFO within a priority —
// the permitted optimization over a straight linear-scan design.
type priorityQueue struct {
	items []*ScheduledJob
}

func (q *priorityQueue) Len() int { return len(q.items) }

func (q *priorityQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.QueuedAt.Before(b.QueuedAt)
}

func (q *priorityQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

func (q *priorityQueue) Push(x any) {
	q.items = append(q.items, x.(*ScheduledJob))
}

func (q *priorityQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return item
}

// jobQueue wraps priorityQueue with the heap.Interface plumbing so callers
// never touch container/heap directly.
type jobQueue struct {
	pq priorityQueue
}

func newJobQueue() *jobQueue {
	q := &jobQueue{}
	heap.Init(&q.pq)
	return q
}

func (q *jobQueue) push(j *ScheduledJob) {
	heap.Push(&q.pq, j)
}

// peek returns the highest-priority job without removing it.
func (q *jobQueue) peek() (*ScheduledJob, bool) {
	if q.pq.Len() == 0 {
		return nil, false
	}
	return q.pq.items[0], true
}

func (q *jobQueue) pop() (*ScheduledJob, bool) {
	if q.pq.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&q.pq).(*ScheduledJob), true
}

func (q *jobQueue) len() int {
	return q.pq.Len()
}

// remove deletes the job with the given id from the queue, if present, and
// reports whether it was found. Used by cancel_build/cancel_job on PENDING
// jobs.
func (q *jobQueue) remove(jobID string) bool {
	for i, j := range q.pq.items {
		if j.JobID == jobID {
			heap.Remove(&q.pq, i)
			return true
		}
	}
	return false
}

// all returns a snapshot of every queued job, highest priority first.
func (q *jobQueue) all() []*ScheduledJob {
	out := make([]*ScheduledJob, len(q.pq.items))
	copy(out, q.pq.items)
	sort.Sort(&priorityQueue{items: out})
	return out
}
