package config

import (
	"github.com/rbright/cadence/internal/dispatch"
	"github.com/rbright/cadence/internal/playback"
)

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Volume:      playback.MaxVolume,
		BoostFactor: playback.DefaultBoostFactor,
		Speed:       1.0,
		Loudnorm:    LoudnormConfig{I: playback.DefaultLoudnormI},
		Shortcuts:   ShortcutsFrom(dispatch.DefaultBindings()),
	}
}
