// Package playback models the logical volume/boost/mute/speed state and the
// concrete engine values derived from it.
package playback

import (
	"fmt"
	"math"
)

const (
	MinVolume = 0
	MaxVolume = 100

	// MaxEffectiveVolume is the ceiling sent to the engine with boost applied.
	MaxEffectiveVolume = 200

	MinSpeed = 0.25
	MaxSpeed = 2.0

	MinBoostFactor     = 1.0
	MaxBoostFactor     = 2.0
	DefaultBoostFactor = 2.0

	MinLoudnormI     = -70
	MaxLoudnormI     = -5
	DefaultLoudnormI = -24
)

// Loudnorm configures the engine-side EBU R128 loudness filter.
type Loudnorm struct {
	Enabled    bool
	Integrated int
	DualMono   bool
}

// State is the authoritative logical playback state.
type State struct {
	BaseVolume   int
	BoostEnabled bool
	BoostFactor  float64
	Muted        bool
	Speed        float64
	Loudnorm     Loudnorm
}

// Default returns the state used when nothing is persisted.
func Default() State {
	return State{
		BaseVolume:  MaxVolume,
		BoostFactor: DefaultBoostFactor,
		Speed:       1.0,
		Loudnorm:    Loudnorm{Integrated: DefaultLoudnormI},
	}
}

// EffectiveVolume is the percent actually sent to the engine.
// Mute is a view transform: BaseVolume and BoostEnabled are never touched.
func (s State) EffectiveVolume() int {
	if s.Muted {
		return 0
	}
	multiplier := 1.0
	if s.BoostEnabled {
		multiplier = ClampBoostFactor(s.BoostFactor)
	}
	v := int(math.Round(float64(s.BaseVolume) * multiplier))
	return ClampInt(v, 0, MaxEffectiveVolume)
}

// Filter renders the mpv `af` property value for the current state.
func (s State) Filter() string {
	if s.Muted || !s.Loudnorm.Enabled || s.EffectiveVolume() == 0 {
		return ""
	}
	return fmt.Sprintf("loudnorm=I=%d:dual_mono=%t", s.Loudnorm.Integrated, s.Loudnorm.DualMono)
}

// Normalize clamps every field into its valid range.
func (s State) Normalize() State {
	s.BaseVolume = ClampVolume(s.BaseVolume)
	s.BoostFactor = ClampBoostFactor(s.BoostFactor)
	s.Speed = ClampSpeed(s.Speed)
	s.Loudnorm.Integrated = ClampInt(s.Loudnorm.Integrated, MinLoudnormI, MaxLoudnormI)
	return s
}

// ClampVolume bounds a base volume to [0,100].
func ClampVolume(v int) int {
	return ClampInt(v, MinVolume, MaxVolume)
}

// ClampSpeed bounds speed to [0.25,2.0] and rounds to 0.01 steps.
func ClampSpeed(v float64) float64 {
	if math.IsNaN(v) {
		return 1.0
	}
	v = math.Round(v*100) / 100
	return math.Min(MaxSpeed, math.Max(MinSpeed, v))
}

// ClampBoostFactor bounds the boost multiplier to [1.0,2.0].
func ClampBoostFactor(v float64) float64 {
	if math.IsNaN(v) || v <= 0 {
		return DefaultBoostFactor
	}
	return math.Min(MaxBoostFactor, math.Max(MinBoostFactor, v))
}

func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
