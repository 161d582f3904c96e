package process

import "fmt"

// StateTransition represents a valid state transition.
type StateTransition struct {
	From TaskStatus
	To   TaskStatus
}

// ValidTransitions defines all valid state transitions.
var ValidTransitions = []StateTransition{
	// Dispatch: Ready -> Running
	{From: StatusReady, To: StatusRunning},
	// Yield or preemption: Running -> Ready
	{From: StatusRunning, To: StatusReady},
	// Block on an event: Running -> Blocked
	{From: StatusRunning, To: StatusBlocked},
	// Event arrived: Blocked -> Ready
	{From: StatusBlocked, To: StatusReady},
	// Exit: Running -> Zombie
	{From: StatusRunning, To: StatusZombie},
}

// IsValidTransition checks if a state transition is valid.
func IsValidTransition(from, to TaskStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// transition moves t to the given status. Callers only ask for transitions
// the lifecycle allows, so anything else is a kernel bug.
func (t *Task) transition(to TaskStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !IsValidTransition(t.status, to) {
		panic(fmt.Sprintf("pid %d: invalid transition %v -> %v", t.pid, t.status, to))
	}
	t.status = to
}
