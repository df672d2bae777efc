package correct

import "fmt"

// State is the position of a token in the correction state machine.
type State int

const (
	StateUnchecked State = iota
	StateValid
	StateInvalid
	StateCandidatesGenerated
	StateResolved
)

var stateNames = [...]string{
	StateUnchecked:           "unchecked",
	StateValid:               "valid",
	StateInvalid:             "invalid",
	StateCandidatesGenerated: "candidates_generated",
	StateResolved:            "resolved",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stateNames) {
		return nil, fmt.Errorf("correct: unknown state %d", int(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("correct: unknown state %q", b)
}

// EmptyPolicy decides the fate of an unknown token without candidates.
type EmptyPolicy int

const (
	// PassThrough emits the token unchanged.
	PassThrough EmptyPolicy = iota
	// Drop omits the token from the output.
	Drop
)

func (p EmptyPolicy) String() string {
	switch p {
	case PassThrough:
		return "passthrough"
	case Drop:
		return "drop"
	default:
		return fmt.Sprintf("EmptyPolicy(%d)", int(p))
	}
}

// ParseEmptyPolicy parses "passthrough" or "drop". The empty string selects
// [PassThrough].
func ParseEmptyPolicy(s string) (EmptyPolicy, error) {
	switch s {
	case "", "passthrough":
		return PassThrough, nil
	case "drop":
		return Drop, nil
	default:
		return 0, fmt.Errorf("correct: unknown empty policy %q (want passthrough or drop)", s)
	}
}
