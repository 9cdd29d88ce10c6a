package evaluation

import "fmt"

// State is the lifecycle state of an evaluation
type State string

const (
	StateCreated   State = "created"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateClosed    State = "closed"
)

var transitions = map[State][]State{
	StateCreated:   {StateRunning, StateFailed, StateCancelled},
	StateRunning:   {StateSucceeded, StateFailed, StateCancelled},
	StateSucceeded: {StateClosed},
	StateFailed:    {StateClosed},
	StateCancelled: {StateClosed},
}

// Terminal reports whether the state ends the run
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether the lifecycle allows moving from s to next
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s State) transition(next State) (State, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("invalid evaluation state transition from %s to %s", s, next)
	}
	return next, nil
}
