package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	s := StateIdle

	next, err := Transition(s, EventStartSession)
	require.NoError(t, err)
	require.Equal(t, StateBinding, next)

	next, err = Transition(next, EventEngineReady)
	require.NoError(t, err)
	require.Equal(t, StateActive, next)

	next, err = Transition(next, EventSessionEnd)
	require.NoError(t, err)
	require.Equal(t, StateIdle, next)
}

func TestTransitionDegradedPaths(t *testing.T) {
	next, err := Transition(StateBinding, EventEngineUnavailable)
	require.NoError(t, err)
	require.Equal(t, StateDegraded, next)

	next, err = Transition(StateActive, EventConnectionLost)
	require.NoError(t, err)
	require.Equal(t, StateDegraded, next)

	next, err = Transition(StateDegraded, EventSessionEnd)
	require.NoError(t, err)
	require.Equal(t, StateIdle, next)
}

func TestTransitionMatrixInvalidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		state   State
		event   Event
		want    State
		wantErr bool
	}{
		{name: "idle ready invalid", state: StateIdle, event: EventEngineReady, want: StateIdle, wantErr: true},
		{name: "idle end invalid", state: StateIdle, event: EventSessionEnd, want: StateIdle, wantErr: true},
		{name: "binding start invalid", state: StateBinding, event: EventStartSession, want: StateBinding, wantErr: true},
		{name: "binding lost invalid", state: StateBinding, event: EventConnectionLost, want: StateBinding, wantErr: true},
		{name: "active start invalid", state: StateActive, event: EventStartSession, want: StateActive, wantErr: true},
		{name: "active ready invalid", state: StateActive, event: EventEngineReady, want: StateActive, wantErr: true},
		{name: "degraded ready invalid", state: StateDegraded, event: EventEngineReady, want: StateDegraded, wantErr: true},
		{name: "degraded lost invalid", state: StateDegraded, event: EventConnectionLost, want: StateDegraded, wantErr: true},
		{name: "binding end valid", state: StateBinding, event: EventSessionEnd, want: StateIdle, wantErr: false},
		{name: "active unavailable valid", state: StateActive, event: EventEngineUnavailable, want: StateDegraded, wantErr: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.state, tc.event)
			require.Equal(t, tc.want, next)
			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), "invalid transition")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTransitionUnknownState(t *testing.T) {
	next, err := Transition(State("mystery"), EventStartSession)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown state")
	require.Equal(t, State("mystery"), next)
}

func TestControllable(t *testing.T) {
	require.True(t, Controllable(StateActive))
	for _, s := range []State{StateIdle, StateBinding, StateDegraded} {
		require.False(t, Controllable(s))
	}
}
