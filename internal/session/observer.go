package session

import (
	"context"

	"github.com/rbright/cadence/internal/engine"
	"github.com/rbright/cadence/internal/fsm"
	"github.com/rbright/cadence/internal/playback"
)

// Engine is the controller-facing subset of the player IPC client.
type Engine interface {
	Connect(context.Context, engine.Target) (engine.Handle, error)
	SetVolume(context.Context, engine.Handle, float64) error
	SetSpeed(context.Context, engine.Handle, float64) error
	SetFilter(context.Context, engine.Handle, string) error
	Poll(context.Context, engine.Handle) (engine.Status, error)
	Close(engine.Handle) error
}

// EngineValues are the concrete parameters the engine applies.
type EngineValues struct {
	Volume int
	Speed  float64
	Filter string
}

// Snapshot is a fully transitioned, read-only view of controller state.
type Snapshot struct {
	State        fsm.State
	SessionID    string
	Playback     playback.State
	Desired      EngineValues
	Acknowledged EngineValues
	InSync       bool
	Revision     uint64
}

// EffectiveVolume is the volume the engine should be playing at.
func (s Snapshot) EffectiveVolume() int {
	return s.Playback.EffectiveVolume()
}

// Notice is a user-facing, non-fatal error report.
type Notice struct {
	Kind      error
	SessionID string
	Message   string
}

// Observer receives state-change and error notifications; the UI adapter implements it.
type Observer interface {
	StateChanged(Snapshot)
	Notify(Notice)
}

// noopObserver keeps controller flow intact when no UI adapter is wired.
type noopObserver struct{}

func (noopObserver) StateChanged(Snapshot) {}
func (noopObserver) Notify(Notice)         {}

func desiredValues(s playback.State) EngineValues {
	return EngineValues{
		Volume: s.EffectiveVolume(),
		Speed:  s.Speed,
		Filter: s.Filter(),
	}
}
