package download

import (
	"container/list"
	"errors"
	"sync"
)

// ErrDuplicateTask is returned by Push when the id is already queued.
var ErrDuplicateTask = errors.New("download: duplicate task id")

// TaskQueue is a FIFO of tasks indexed by id. It is safe for concurrent
// producers and consumers.
type TaskQueue struct {
	mu    sync.RWMutex
	order *list.List               // of *Task
	byID  map[string]*list.Element // id -> element in order
}

func NewTaskQueue() *TaskQueue {
	return &TaskQueue{order: list.New(), byID: make(map[string]*list.Element)}
}

// Push appends task to the back of the queue.
func (q *TaskQueue) Push(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byID[task.ID]; ok {
		return ErrDuplicateTask
	}
	t := task.Clone()
	q.byID[t.ID] = q.order.PushBack(&t)
	return nil
}

// Pop removes and returns the front task regardless of its status.
func (q *TaskQueue) Pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.order.Front()
	if e == nil {
		return Task{}, false
	}
	t := q.order.Remove(e).(*Task)
	delete(q.byID, t.ID)
	return *t, true
}

// CancelTask marks the task Cancelled and removes it.
func (q *TaskQueue) CancelTask(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byID[id]
	if !ok {
		return false
	}
	e.Value.(*Task).Status = StatusCancelled
	q.order.Remove(e)
	delete(q.byID, id)
	return true
}

// UpdateTaskStatus sets the status of a queued task. Cancelled and Error
// remove the task since it can no longer be scheduled. It returns false when
// the id is unknown or the task is already terminal.
func (q *TaskQueue) UpdateTaskStatus(id string, status Status) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byID[id]
	if !ok {
		return false
	}
	if !e.Value.(*Task).SetStatus(status) {
		return false
	}
	if status == StatusCancelled || status == StatusError {
		q.order.Remove(e)
		delete(q.byID, id)
	}
	return true
}

// GetNextPendingTask returns the first Pending task without removing it.
func (q *TaskQueue) GetNextPendingTask() (Task, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for e := q.order.Front(); e != nil; e = e.Next() {
		if t := e.Value.(*Task); t.Status == StatusPending {
			return t.Clone(), true
		}
	}
	return Task{}, false
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.order.Len()
}

// Snapshot returns copies of the queued tasks in FIFO order.
func (q *TaskQueue) Snapshot() []Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]Task, 0, q.order.Len())
	for e := q.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Task).Clone())
	}
	return out
}

// get returns a copy of the queued task with id.
func (q *TaskQueue) get(id string) (Task, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	e, ok := q.byID[id]
	if !ok {
		return Task{}, false
	}
	return e.Value.(*Task).Clone(), true
}
