// Package ipc carries newline-delimited JSON requests between forwarders and the owner.
package ipc

// Request is one forwarder command. Value carries the command argument
// (a volume, speed, action, or combo) and Session the engine target for session-start.
type Request struct {
	Command string         `json:"command"`
	Value   string         `json:"value,omitempty"`
	Action  string         `json:"action,omitempty"`
	Session *SessionTarget `json:"session,omitempty"`
}

// SessionTarget identifies the engine instance a host started for one sound.
type SessionTarget struct {
	Socket string `json:"socket"`
	Media  string `json:"media,omitempty"`
	PID    int    `json:"pid,omitempty"`
}

// Response is the owner's reply.
type Response struct {
	OK       bool      `json:"ok"`
	State    string    `json:"state,omitempty"`
	Message  string    `json:"message,omitempty"`
	Error    string    `json:"error,omitempty"`
	Playback *Playback `json:"playback,omitempty"`
	Bindings []Binding `json:"bindings,omitempty"`
}

// Playback is the display view of controller state.
type Playback struct {
	SessionID       string  `json:"session_id,omitempty"`
	BaseVolume      int     `json:"base_volume"`
	EffectiveVolume int     `json:"effective_volume"`
	Muted           bool    `json:"muted"`
	Speed           float64 `json:"speed"`
	BoostEnabled    bool    `json:"boost_enabled"`
	BoostFactor     float64 `json:"boost_factor"`
	Loudnorm        bool    `json:"loudnorm"`
	Filter          string  `json:"filter,omitempty"`
	InSync          bool    `json:"in_sync"`
	Revision        uint64  `json:"revision"`
}

// Binding is one shortcut entry; an empty Combo means unbound.
type Binding struct {
	Action string `json:"action"`
	Combo  string `json:"combo"`
	Help   string `json:"help,omitempty"`
}
