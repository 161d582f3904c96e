package process

import (
	"container/heap"
	"sync"
)

const (
	// DefaultPriority is the weight of a new task.
	DefaultPriority = 16
	// MinPriority is the smallest weight set_priority accepts.
	MinPriority = 2
	// DefaultBigStride is divided by a task's priority to get its pass.
	DefaultBigStride uint64 = 1 << 20
)

// ReadyQueue is a min-heap of ready tasks ordered by stride, then by
// enqueue order.
type ReadyQueue struct {
	items []*Task
}

// Len returns the number of items in the queue.
func (q *ReadyQueue) Len() int { return len(q.items) }

// Less implements heap.Interface - the smaller stride runs first.
func (q *ReadyQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.stride != b.stride {
		return a.stride < b.stride
	}
	return a.seq < b.seq
}

// Swap swaps two items in the queue.
func (q *ReadyQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].heapIndex = i
	q.items[j].heapIndex = j
}

// Push adds an item to the queue.
func (q *ReadyQueue) Push(x interface{}) {
	t := x.(*Task)
	t.heapIndex = len(q.items)
	q.items = append(q.items, t)
}

// Pop removes and returns the last item of the heap slice.
func (q *ReadyQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[0 : n-1]
	item.heapIndex = -1
	return item
}

// heap.Interface implementation for ReadyQueue.
var _ heap.Interface = (*ReadyQueue)(nil)

// Scheduler is a stride scheduler: every dispatch advances the task's stride
// by BigStride/priority and the ready task with the smallest stride runs
// next, so over time tasks run in proportion to their priority.
type Scheduler struct {
	mu        sync.Mutex
	queue     ReadyQueue
	bigStride uint64
	seq       uint64
	// stride of the most recently dispatched task; new tasks start here
	floor uint64
}

// NewScheduler creates a scheduler. A zero bigStride selects
// DefaultBigStride.
func NewScheduler(bigStride uint64) *Scheduler {
	if bigStride == 0 {
		bigStride = DefaultBigStride
	}
	return &Scheduler{bigStride: bigStride}
}

// Pass returns the stride increment for a priority.
func (s *Scheduler) Pass(priority int) uint64 {
	if priority < MinPriority {
		priority = MinPriority
	}
	return s.bigStride / uint64(priority)
}

// Admit enqueues a task that has never been scheduled. Its stride starts at
// the current floor so it competes fairly with tasks that already ran.
func (s *Scheduler) Admit(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.stride = s.floor
	s.push(t)
}

// Enqueue makes a ready task eligible for selection.
func (s *Scheduler) Enqueue(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.push(t)
}

func (s *Scheduler) push(t *Task) {
	if t.heapIndex >= 0 {
		panic("scheduler: task enqueued twice")
	}
	s.seq++
	t.seq = s.seq
	heap.Push(&s.queue, t)
}

// Next removes and returns the task to dispatch, or nil when nothing is
// ready.
func (s *Scheduler) Next() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.Len() == 0 {
		return nil
	}
	t := heap.Pop(&s.queue).(*Task)
	s.floor = t.stride
	return t
}

// Charge advances the stride of a task that is about to run.
func (s *Scheduler) Charge(t *Task, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.stride += s.Pass(priority)
}

// Remove takes a task out of the ready queue.
func (s *Scheduler) Remove(t *Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.heapIndex < 0 {
		return false
	}
	heap.Remove(&s.queue, t.heapIndex)
	return true
}

// Contains reports whether t is queued.
func (s *Scheduler) Contains(t *Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return t.heapIndex >= 0
}

// Len returns the number of ready tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// SchedulerStats contains scheduler statistics.
type SchedulerStats struct {
	Ready     int
	Floor     uint64
	BigStride uint64
}

// Stats returns scheduler statistics.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStats{
		Ready:     s.queue.Len(),
		Floor:     s.floor,
		BigStride: s.bigStride,
	}
}
