package process

import (
	"sync"

	"kernos/pkg/timer"
)

// Processor is the per-core scheduling handle: it knows which task is
// running and performs the one rescheduling step every lifecycle operation
// goes through.
type Processor struct {
	mu       sync.Mutex
	current  *Task
	sched    *Scheduler
	clock    timer.Clock
	switches uint64
}

// NewProcessor creates an idle processor.
func NewProcessor(sched *Scheduler, clock timer.Clock) *Processor {
	return &Processor{sched: sched, clock: clock}
}

// Scheduler returns the ready-queue owner.
func (p *Processor) Scheduler() *Scheduler { return p.sched }

// Current returns the running task, or nil when the processor is idle.
func (p *Processor) Current() *Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Idle reports whether no task is running.
func (p *Processor) Idle() bool { return p.Current() == nil }

// Switches returns the number of dispatches performed.
func (p *Processor) Switches() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.switches
}

// Schedule suspends the running task with the given status and dispatches
// the next one. A task suspended as Ready is re-enqueued; any other status
// drops it from scheduling. It returns the task now running, or nil when
// nothing is ready.
func (p *Processor) Schedule(next TaskStatus) *Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cur := p.current; cur != nil {
		cur.transition(next)
		p.current = nil
		if next == StatusReady {
			p.sched.Enqueue(cur)
		}
	}
	return p.dispatch()
}

// Dispatch starts the next ready task if the processor is idle. It returns
// the running task.
func (p *Processor) Dispatch() *Task {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		return p.current
	}
	return p.dispatch()
}

func (p *Processor) dispatch() *Task {
	t := p.sched.Next()
	if t == nil {
		return nil
	}
	p.sched.Charge(t, t.Priority())
	t.transition(StatusRunning)

	t.mu.Lock()
	if !t.started {
		t.started = true
		t.startTime = timer.Millis(p.clock)
	}
	t.dispatches++
	t.mu.Unlock()

	p.current = t
	p.switches++
	return t
}
