package engine

import "errors"

var (
	// ErrEngineUnavailable indicates the engine process or its socket could not be reached.
	ErrEngineUnavailable = errors.New("audio engine unavailable")
	// ErrControlUnsupported marks targets the engine can never control; permanent for the session.
	ErrControlUnsupported = errors.New("engine control unsupported for this sound")
	// ErrCommandRejected indicates the engine answered with an error for a valid request.
	ErrCommandRejected = errors.New("engine rejected command")
	// ErrConnectionLost indicates the engine exited or stopped answering mid-session.
	ErrConnectionLost = errors.New("engine connection lost")
	// ErrSessionClosed indicates the handle no longer refers to an open session.
	ErrSessionClosed = errors.New("engine session closed")
)
