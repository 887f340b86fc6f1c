package callstate

// State is the lifecycle state of a call.
type State string

const (
	StateRinging      State = "ringing"
	StateGreeting     State = "greeting"
	StateRouting      State = "routing"
	StateVerified     State = "verified"
	StateResolving    State = "resolving"
	StateCompleted    State = "completed"
	StateTransferring State = "transferring"
	StateTransferred  State = "transferred"
	StateAbandoned    State = "abandoned"
)

// validTransitions is the allowed transition graph. Terminal states have no
// outgoing edges.
var validTransitions = map[State][]State{
	StateRinging:      {StateGreeting, StateAbandoned},
	StateGreeting:     {StateRouting, StateAbandoned},
	StateRouting:      {StateVerified, StateTransferring, StateAbandoned},
	StateVerified:     {StateResolving, StateTransferring, StateAbandoned},
	StateResolving:    {StateCompleted, StateTransferring, StateAbandoned},
	StateTransferring: {StateTransferred, StateAbandoned},
	StateTransferred:  {},
	StateCompleted:    {},
	StateAbandoned:    {},
}

// Valid reports whether s is a known call state.
func (s State) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// Terminal reports whether the state has no outgoing transitions.
func (s State) Terminal() bool {
	targets, ok := validTransitions[s]
	return ok && len(targets) == 0
}

// CanTransition reports whether a transition from s to target is allowed.
func (s State) CanTransition(target State) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}
