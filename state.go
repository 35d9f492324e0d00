package corpusconv

import "fmt"

// State identifies where the pipeline is in its lifecycle.
type State string

const (
	StateInitialized State = "initialized"
	StateResuming    State = "resuming" // entry state when a prior checkpoint log exists
	StateSplitting   State = "splitting"
	StateProcessing  State = "processing"
	StateAssembling  State = "assembling"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// validTransitions enumerates the state machine. Failed is reachable from
// every non-terminal state and is handled in transition directly.
var validTransitions = map[State][]State{
	StateInitialized: {StateResuming, StateSplitting},
	StateResuming:    {StateSplitting},
	StateSplitting:   {StateProcessing},
	StateProcessing:  {StateAssembling},
	StateAssembling:  {StateCompleted},
}

// transition validates and performs a state change. An invalid transition is
// a programming error in the orchestrator, not a runtime condition, so it
// returns an error the orchestrator treats as fatal.
func transition(from, to State) (State, error) {
	if to == StateFailed {
		if from.Terminal() {
			return from, fmt.Errorf("corpusconv: invalid transition %s -> %s", from, to)
		}
		return to, nil
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return to, nil
		}
	}
	return from, fmt.Errorf("corpusconv: invalid transition %s -> %s", from, to)
}
