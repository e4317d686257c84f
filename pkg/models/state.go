package models

import (
	"errors"
	"fmt"
)

// ErrTransientState is returned when a transient node state is about to be persisted.
var ErrTransientState = errors.New("transient node state cannot be persisted")

// State is the execution state of a graph node.
type State uint8

const (
	StateReady State = iota + 1
	StateWaiting
	StateRunningInput
	StateSuspended
	StateRunningOutput
	StateDone
	StateCanceled
)

type stateInfo struct {
	name       string
	lifecycle  string // empty for transient states
	transition string
}

// states is the single mapping between a State, its persisted lifecycle
// string and the lifecycle transition leading to it.
var states = map[State]stateInfo{
	StateReady:         {name: "READY", lifecycle: "ready", transition: "toReady"},
	StateWaiting:       {name: "WAITING", lifecycle: "waiting", transition: "toWaiting"},
	StateRunningInput:  {name: "RUNNING_INPUT"},
	StateSuspended:     {name: "SUSPENDED", lifecycle: "suspended", transition: "toSuspended"},
	StateRunningOutput: {name: "RUNNING_OUTPUT"},
	StateDone:          {name: "DONE", lifecycle: "done", transition: "toDone"},
	StateCanceled:      {name: "CANCELED", lifecycle: "canceled", transition: "toCanceled"},
}

func (s State) String() string {
	if info, ok := states[s]; ok {
		return info.name
	}

	return fmt.Sprintf("State(%d)", uint8(s))
}

// LifecycleState returns the persisted form of the state, empty for transient states.
func (s State) LifecycleState() string {
	return states[s].lifecycle
}

// Transition returns the name of the lifecycle transition leading to the state.
func (s State) Transition() string {
	return states[s].transition
}

// IsTransient reports whether the state only exists while a node phase is running.
func (s State) IsTransient() bool {
	info, ok := states[s]

	return ok && info.lifecycle == ""
}

// IsTerminal reports whether no transition leaves the state.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateCanceled
}

// ParseState returns the State persisted as lifecycle.
func ParseState(lifecycle string) (State, error) {
	for state, info := range states {
		if info.lifecycle != "" && info.lifecycle == lifecycle {
			return state, nil
		}
	}

	return 0, fmt.Errorf("unknown node lifecycle state %q", lifecycle)
}

func (s State) MarshalText() ([]byte, error) {
	if s == 0 {
		return []byte(StateReady.LifecycleState()), nil
	}

	if s.IsTransient() {
		return nil, fmt.Errorf("%w: %s", ErrTransientState, s)
	}

	lifecycle := s.LifecycleState()
	if lifecycle == "" {
		return nil, fmt.Errorf("unknown node state %d", uint8(s))
	}

	return []byte(lifecycle), nil
}

func (s *State) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*s = StateReady

		return nil
	}

	state, err := ParseState(string(text))
	if err != nil {
		return err
	}

	*s = state

	return nil
}
