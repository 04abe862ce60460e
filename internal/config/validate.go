package config

import (
	"fmt"
	"math"

	"github.com/rbright/cadence/internal/dispatch"
	"github.com/rbright/cadence/internal/playback"
)

// Validate clamps out-of-range values and drops unusable shortcuts. Every
// correction is reported as a corrupt-config warning; it never fails.
func Validate(cfg Config) (Config, []Warning) {
	warnings := make([]Warning, 0)
	report := func(format string, args ...any) {
		warnings = append(warnings, corruptWarning(0, fmt.Sprintf(format, args...)))
	}

	if v := playback.ClampVolume(cfg.Volume); v != cfg.Volume {
		report("volume %d out of range [%d,%d]; using %d", cfg.Volume, playback.MinVolume, playback.MaxVolume, v)
		cfg.Volume = v
	}
	if f := playback.ClampBoostFactor(cfg.BoostFactor); f != cfg.BoostFactor {
		report("boost_factor %g out of range [%g,%g]; using %g", cfg.BoostFactor, playback.MinBoostFactor, playback.MaxBoostFactor, f)
		cfg.BoostFactor = f
	}
	speed := playback.ClampSpeed(cfg.Speed)
	if !sameSpeed(speed, cfg.Speed) {
		report("speed %g out of range [%g,%g]; using %g", cfg.Speed, playback.MinSpeed, playback.MaxSpeed, speed)
	}
	cfg.Speed = speed
	if i := playback.ClampInt(cfg.Loudnorm.I, playback.MinLoudnormI, playback.MaxLoudnormI); i != cfg.Loudnorm.I {
		report("loudnorm.i %d out of range [%d,%d]; using %d", cfg.Loudnorm.I, playback.MinLoudnormI, playback.MaxLoudnormI, i)
		cfg.Loudnorm.I = i
	}

	keymap, errs := dispatch.NewKeymap(cfg.Shortcuts.Map())
	for _, err := range errs {
		report("shortcut left unbound: %v", err)
	}
	cfg.Shortcuts = ShortcutsFrom(keymap.Bindings())

	return cfg, warnings
}

// sameSpeed treats sub-step rounding as a normalization, not a correction.
func sameSpeed(clamped, raw float64) bool {
	return math.Abs(clamped-raw) < 0.005
}

func corruptWarning(line int, message string) Warning {
	return Warning{
		Line:    line,
		Message: message,
		Err:     fmt.Errorf("%w: %s", ErrCorruptConfig, message),
	}
}
