package task

import (
	"container/heap"

	"github.com/audiarr/audiarr/internal/domain"
)

// queueItem pairs a pending task with its arrival sequence so that equal
// priorities drain in FIFO order.
type queueItem struct {
	task *domain.Task
	seq  uint64
}

// priorityQueue is a min-heap over (priority, arrival sequence). Lower
// priority values are served first. It is not safe for concurrent use; the
// coordinator guards it with its own mutex.
type priorityQueue struct {
	items   []*queueItem
	nextSeq uint64
	byID    map[string]*queueItem
}

func newPriorityQueue() *priorityQueue {
	return &priorityQueue{byID: make(map[string]*queueItem)}
}

// Push inserts a pending task.
func (q *priorityQueue) Push(task *domain.Task) {
	item := &queueItem{task: task, seq: q.nextSeq}
	q.nextSeq++
	q.byID[task.ID] = item
	heap.Push((*queueHeap)(q), item)
}

// Peek returns the head task without removing it, or nil when empty.
func (q *priorityQueue) Peek() *domain.Task {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0].task
}

// Pop removes and returns the head task, or nil when empty.
func (q *priorityQueue) Pop() *domain.Task {
	if len(q.items) == 0 {
		return nil
	}
	item := heap.Pop((*queueHeap)(q)).(*queueItem)
	delete(q.byID, item.task.ID)
	return item.task
}

// Remove deletes a task by ID, returning it when present.
func (q *priorityQueue) Remove(taskID string) *domain.Task {
	item, ok := q.byID[taskID]
	if !ok {
		return nil
	}
	for i, it := range q.items {
		if it == item {
			heap.Remove((*queueHeap)(q), i)
			break
		}
	}
	delete(q.byID, taskID)
	return item.task
}

// Get returns a queued task by ID without removing it.
func (q *priorityQueue) Get(taskID string) *domain.Task {
	if item, ok := q.byID[taskID]; ok {
		return item.task
	}
	return nil
}

// Find returns the queued task matching class and business key, or nil.
func (q *priorityQueue) Find(class domain.TaskClass, businessKey string) *domain.Task {
	for _, item := range q.items {
		if item.task.Class == class && item.task.BusinessKey() == businessKey {
			return item.task
		}
	}
	return nil
}

// All returns every queued task in heap order (head first, rest unordered).
func (q *priorityQueue) All() []*domain.Task {
	out := make([]*domain.Task, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, item.task)
	}
	return out
}

// Len returns the number of queued tasks.
func (q *priorityQueue) Len() int { return len(q.items) }

// queueHeap adapts priorityQueue to container/heap.
type queueHeap priorityQueue

func (h *queueHeap) Len() int { return len(h.items) }

func (h *queueHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.task.Priority != b.task.Priority {
		return a.task.Priority < b.task.Priority
	}
	return a.seq < b.seq
}

func (h *queueHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *queueHeap) Push(x any) {
	h.items = append(h.items, x.(*queueItem))
}

func (h *queueHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return item
}
