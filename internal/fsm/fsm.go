// Package fsm defines the playback-control lifecycle transition table.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle     State = "idle"
	StateBinding  State = "binding"
	StateActive   State = "active"
	StateDegraded State = "degraded"
)

const (
	EventStartSession      Event = "start_session"
	EventEngineReady       Event = "engine_ready"
	EventEngineUnavailable Event = "engine_unavailable"
	EventConnectionLost    Event = "connection_lost"
	EventSessionEnd        Event = "session_end"
)

// Transition returns the next state for event, or an error leaving current untouched.
func Transition(current State, event Event) (State, error) {
	switch current {
	case StateIdle:
		switch event {
		case EventStartSession:
			return StateBinding, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateBinding:
		switch event {
		case EventEngineReady:
			return StateActive, nil
		case EventEngineUnavailable:
			return StateDegraded, nil
		case EventSessionEnd:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateActive:
		switch event {
		case EventEngineUnavailable, EventConnectionLost:
			return StateDegraded, nil
		case EventSessionEnd:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateDegraded:
		switch event {
		case EventSessionEnd:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Controllable reports whether commands may flow to the engine in state.
func Controllable(state State) bool {
	return state == StateActive
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
