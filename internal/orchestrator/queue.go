package orchestrator

import "container/heap"

// pendingQueue orders tasks by descending priority, then submission order.
// It is not internally locked; all access is serialized by the
// orchestrator's mutex so a pop stays atomic with the dependency check and
// the agent bind.
type pendingQueue struct {
	items []*Task
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{}
}

func (q *pendingQueue) Len() int { return len(q.items) }

func (q *pendingQueue) Less(i, j int) bool {
	if q.items[i].Priority != q.items[j].Priority {
		return q.items[i].Priority > q.items[j].Priority
	}
	return q.items[i].seq < q.items[j].seq
}

func (q *pendingQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
}

func (q *pendingQueue) Push(x any) {
	q.items = append(q.items, x.(*Task))
}

func (q *pendingQueue) Pop() any {
	old := q.items
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return t
}

func (q *pendingQueue) push(t *Task) {
	heap.Push(q, t)
}

func (q *pendingQueue) pop() *Task {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(q).(*Task)
}

// remove drops a task from the queue by id, used when a pending task is
// invalidated (e.g. its pinned agent unregistered with it mid-flight).
func (q *pendingQueue) remove(id string) bool {
	for i, t := range q.items {
		if t.ID == id {
			heap.Remove(q, i)
			return true
		}
	}
	return false
}
