package engine

import "encoding/json"

// Param names one engine property under superseding command semantics.
type Param string

const (
	ParamVolume Param = "volume"
	ParamSpeed  Param = "speed"
	ParamFilter Param = "af"

	paramLiveness Param = "pid"
)

type request struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

// reply is one line from the mpv JSON IPC socket; event lines carry no request_id.
type reply struct {
	RequestID *int64          `json:"request_id,omitempty"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Event     string          `json:"event,omitempty"`
}

const replySuccess = "success"

func setProperty(name Param, value any) []any {
	return []any{"set_property", string(name), value}
}

func getProperty(name Param) []any {
	return []any{"get_property", string(name)}
}
