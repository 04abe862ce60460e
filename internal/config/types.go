// Package config resolves, parses, validates, and persists cadence playback preferences.
package config

import (
	"errors"

	"github.com/rbright/cadence/internal/dispatch"
	"github.com/rbright/cadence/internal/playback"
)

var (
	// ErrCorruptConfig marks warnings for content that was unreadable or out of range.
	ErrCorruptConfig = errors.New("corrupt config")
	// ErrPersistFailure indicates the config could not be written.
	ErrPersistFailure = errors.New("persist config failed")
)

// Config is the persisted playback record.
type Config struct {
	Volume       int
	BoostEnabled bool
	BoostFactor  float64
	Muted        bool
	PersistMute  bool
	Speed        float64
	Loudnorm     LoudnormConfig
	Shortcuts    ShortcutsConfig
}

// LoudnormConfig controls the loudness-normalization audio filter.
type LoudnormConfig struct {
	Enabled  bool
	I        int
	DualMono bool
}

// ShortcutsConfig stores one combo string per action; "" means unbound.
type ShortcutsConfig struct {
	VolumeUp     string
	VolumeDown   string
	ToggleMute   string
	OpenSettings string
	SpeedUp      string
	SpeedDown    string
}

// Warning is a non-fatal load message. Err wraps ErrCorruptConfig when the
// content itself was bad.
type Warning struct {
	Line    int
	Message string
	Err     error
}

// Corrupt reports whether the warning came from bad config content.
func (w Warning) Corrupt() bool {
	return errors.Is(w.Err, ErrCorruptConfig)
}

// Playback returns the logical playback state this config seeds.
// Mute carries over only when PersistMute is set.
func (c Config) Playback() playback.State {
	state := playback.State{
		BaseVolume:   c.Volume,
		BoostEnabled: c.BoostEnabled,
		BoostFactor:  c.BoostFactor,
		Muted:        c.PersistMute && c.Muted,
		Speed:        c.Speed,
		Loudnorm: playback.Loudnorm{
			Enabled:    c.Loudnorm.Enabled,
			Integrated: c.Loudnorm.I,
			DualMono:   c.Loudnorm.DualMono,
		},
	}
	return state.Normalize()
}

// WithPlayback copies playback parameters into c, keeping shortcut and mute-policy fields.
func (c Config) WithPlayback(s playback.State) Config {
	c.Volume = s.BaseVolume
	c.BoostEnabled = s.BoostEnabled
	c.BoostFactor = s.BoostFactor
	c.Muted = s.Muted
	c.Speed = s.Speed
	c.Loudnorm = LoudnormConfig{
		Enabled:  s.Loudnorm.Enabled,
		I:        s.Loudnorm.Integrated,
		DualMono: s.Loudnorm.DualMono,
	}
	return c
}

// Map returns the shortcuts keyed by dispatcher action.
func (s ShortcutsConfig) Map() map[dispatch.Action]string {
	return map[dispatch.Action]string{
		dispatch.ActionVolumeUp:     s.VolumeUp,
		dispatch.ActionVolumeDown:   s.VolumeDown,
		dispatch.ActionToggleMute:   s.ToggleMute,
		dispatch.ActionOpenSettings: s.OpenSettings,
		dispatch.ActionSpeedUp:      s.SpeedUp,
		dispatch.ActionSpeedDown:    s.SpeedDown,
	}
}

// ShortcutsFrom builds a shortcut record from action combos.
func ShortcutsFrom(m map[dispatch.Action]string) ShortcutsConfig {
	return ShortcutsConfig{
		VolumeUp:     m[dispatch.ActionVolumeUp],
		VolumeDown:   m[dispatch.ActionVolumeDown],
		ToggleMute:   m[dispatch.ActionToggleMute],
		OpenSettings: m[dispatch.ActionOpenSettings],
		SpeedUp:      m[dispatch.ActionSpeedUp],
		SpeedDown:    m[dispatch.ActionSpeedDown],
	}
}
