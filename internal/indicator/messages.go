package indicator

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rbright/cadence/internal/config"
	"github.com/rbright/cadence/internal/dispatch"
	"github.com/rbright/cadence/internal/engine"
	"github.com/rbright/cadence/internal/session"
)

type locale string

const (
	localeEnglish locale = "en"
)

type messages struct {
	unavailable string
	unsupported string
	lost        string
	rejected    string
	persist     string
	conflict    string
	generic     string

	volume string
	speed  string
	muted  string
}

func indicatorMessagesFromEnv() messages {
	return indicatorMessages(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "en") {
		return localeEnglish
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeEnglish:
		fallthrough
	default:
		return messages{
			unavailable: "Volume and speed control unavailable for this sound",
			unsupported: "This sound does not support volume or speed control",
			lost:        "Lost control of the player; playback continues",
			rejected:    "The player rejected a playback change",
			persist:     "Could not save playback settings",
			conflict:    "Shortcut already in use",
			generic:     "Playback control error",

			volume: "Volume %d%%",
			speed:  "Speed %.2f×",
			muted:  "Muted",
		}
	}
}

// text picks the user-facing line for a notice kind.
func (m messages) text(kind error) string {
	switch {
	case errors.Is(kind, engine.ErrControlUnsupported):
		return m.unsupported
	case errors.Is(kind, engine.ErrConnectionLost):
		return m.lost
	case errors.Is(kind, engine.ErrEngineUnavailable):
		return m.unavailable
	case errors.Is(kind, engine.ErrCommandRejected):
		return m.rejected
	case errors.Is(kind, config.ErrPersistFailure):
		return m.persist
	case errors.Is(kind, dispatch.ErrBindingConflict):
		return m.conflict
	default:
		return m.generic
	}
}

// adjustment renders the feedback line for a shortcut action.
func (m messages) adjustment(action dispatch.Action, s session.Snapshot) (string, bool) {
	p := s.Playback
	switch action {
	case dispatch.ActionVolumeUp, dispatch.ActionVolumeDown:
		return fmt.Sprintf(m.volume, p.BaseVolume), true
	case dispatch.ActionSpeedUp, dispatch.ActionSpeedDown:
		return fmt.Sprintf(m.speed, p.Speed), true
	case dispatch.ActionToggleMute:
		if p.Muted {
			return m.muted, true
		}
		return fmt.Sprintf(m.volume, p.BaseVolume), true
	default:
		return "", false
	}
}

// summary renders the settings view shown for open_settings.
func summary(s session.Snapshot) string {
	p := s.Playback
	parts := []string{fmt.Sprintf("Volume %d%%", p.BaseVolume)}
	if p.BoostEnabled {
		parts = append(parts, fmt.Sprintf("boost ×%.2g → %d%%", p.BoostFactor, s.EffectiveVolume()))
	}
	if p.Muted {
		parts = append(parts, "muted")
	}
	parts = append(parts, fmt.Sprintf("Speed %.2f×", p.Speed))
	if p.Loudnorm.Enabled {
		parts = append(parts, fmt.Sprintf("loudnorm %d LUFS", p.Loudnorm.Integrated))
	}
	return strings.Join(parts, " · ")
}
