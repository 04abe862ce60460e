package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// document is the on-disk record. Pointer fields distinguish missing keys from zero values.
type document struct {
	Volume       *int               `json:"volume,omitempty" toml:"volume,omitempty"`
	BoostEnabled *bool              `json:"boost_enabled,omitempty" toml:"boost_enabled,omitempty"`
	BoostFactor  *float64           `json:"boost_factor,omitempty" toml:"boost_factor,omitempty"`
	Muted        *bool              `json:"muted,omitempty" toml:"muted,omitempty"`
	PersistMute  *bool              `json:"persist_mute,omitempty" toml:"persist_mute,omitempty"`
	Speed        *float64           `json:"speed,omitempty" toml:"speed,omitempty"`
	Loudnorm     *loudnormDocument  `json:"loudnorm,omitempty" toml:"loudnorm,omitempty"`
	Shortcuts    *shortcutsDocument `json:"shortcuts,omitempty" toml:"shortcuts,omitempty"`
}

type loudnormDocument struct {
	Enabled  *bool `json:"enabled,omitempty" toml:"enabled,omitempty"`
	I        *int  `json:"i,omitempty" toml:"i,omitempty"`
	DualMono *bool `json:"dual_mono,omitempty" toml:"dual_mono,omitempty"`
}

type shortcutsDocument struct {
	VolumeUp     *string `json:"volume_up,omitempty" toml:"volume_up,omitempty"`
	VolumeDown   *string `json:"volume_down,omitempty" toml:"volume_down,omitempty"`
	ToggleMute   *string `json:"toggle_mute,omitempty" toml:"toggle_mute,omitempty"`
	OpenSettings *string `json:"open_settings,omitempty" toml:"open_settings,omitempty"`
	SpeedUp      *string `json:"speed_up,omitempty" toml:"speed_up,omitempty"`
	SpeedDown    *string `json:"speed_down,omitempty" toml:"speed_down,omitempty"`
}

// Parse reads content in the given format on top of base, then validates it.
// A returned error means the content could not be decoded at all. A field of
// the wrong type is coerced when it can be and otherwise left at base, with a
// corrupt warning either way.
func Parse(content string, format Format, base Config) (Config, []Warning, error) {
	if strings.TrimSpace(content) == "" {
		cfg, warnings := Validate(base)
		return cfg, warnings, nil
	}

	var (
		raw map[string]any
		err error
	)
	switch format {
	case FormatTOML:
		raw, err = decodeTOML(content)
	case FormatJSONC, "":
		raw, err = decodeJSONC(content)
	default:
		return Config{}, nil, fmt.Errorf("unsupported config format %q", format)
	}
	if err != nil {
		return Config{}, nil, err
	}

	doc, warnings := documentFrom(raw)
	cfg := base
	doc.applyTo(&cfg)
	validated, corrections := Validate(cfg)
	return validated, append(warnings, corrections...), nil
}

// fieldReader converts loosely typed decoded values into document fields.
type fieldReader struct {
	warnings []Warning
}

func documentFrom(raw map[string]any) (document, []Warning) {
	r := &fieldReader{}
	doc := document{
		Volume:       r.intField(raw, "volume", "volume"),
		BoostEnabled: r.boolField(raw, "boost_enabled", "boost_enabled"),
		BoostFactor:  r.floatField(raw, "boost_factor", "boost_factor"),
		Muted:        r.boolField(raw, "muted", "muted"),
		PersistMute:  r.boolField(raw, "persist_mute", "persist_mute"),
		Speed:        r.floatField(raw, "speed", "speed"),
	}

	if table, ok := r.table(raw, "loudnorm"); ok {
		doc.Loudnorm = &loudnormDocument{
			Enabled:  r.boolField(table, "enabled", "loudnorm.enabled"),
			I:        r.intField(table, "i", "loudnorm.i"),
			DualMono: r.boolField(table, "dual_mono", "loudnorm.dual_mono"),
		}
	}

	if table, ok := r.table(raw, "shortcuts"); ok {
		doc.Shortcuts = &shortcutsDocument{
			VolumeUp:     r.stringField(table, "volume_up", "shortcuts.volume_up"),
			VolumeDown:   r.stringField(table, "volume_down", "shortcuts.volume_down"),
			ToggleMute:   r.stringField(table, "toggle_mute", "shortcuts.toggle_mute"),
			OpenSettings: r.stringField(table, "open_settings", "shortcuts.open_settings"),
			SpeedUp:      r.stringField(table, "speed_up", "shortcuts.speed_up"),
			SpeedDown:    r.stringField(table, "speed_down", "shortcuts.speed_down"),
		}
	}

	return doc, r.warnings
}

func (r *fieldReader) reject(name string, value any, want string) {
	r.warnings = append(r.warnings, corruptWarning(0, fmt.Sprintf("%s: %v is not %s; keeping current value", name, value, want)))
}

func (r *fieldReader) table(raw map[string]any, key string) (map[string]any, bool) {
	value, ok := raw[key]
	if !ok || value == nil {
		return nil, false
	}
	table, ok := value.(map[string]any)
	if !ok {
		r.reject(key, value, "a table")
		return nil, false
	}
	return table, true
}

func (r *fieldReader) intField(raw map[string]any, key, name string) *int {
	value, ok := raw[key]
	if !ok || value == nil {
		return nil
	}
	f, ok := numberOf(value)
	if !ok {
		r.reject(name, value, "a number")
		return nil
	}
	n := int(math.Trunc(f))
	if float64(n) != f {
		r.warnings = append(r.warnings, corruptWarning(0, fmt.Sprintf("%s %v is not a whole number; using %d", name, value, n)))
	}
	return &n
}

func (r *fieldReader) floatField(raw map[string]any, key, name string) *float64 {
	value, ok := raw[key]
	if !ok || value == nil {
		return nil
	}
	f, ok := numberOf(value)
	if !ok {
		r.reject(name, value, "a number")
		return nil
	}
	return &f
}

func (r *fieldReader) boolField(raw map[string]any, key, name string) *bool {
	value, ok := raw[key]
	if !ok || value == nil {
		return nil
	}
	b, ok := value.(bool)
	if !ok {
		r.reject(name, value, "true or false")
		return nil
	}
	return &b
}

func (r *fieldReader) stringField(raw map[string]any, key, name string) *string {
	value, ok := raw[key]
	if !ok || value == nil {
		return nil
	}
	s, ok := value.(string)
	if !ok {
		r.reject(name, value, "a string")
		return nil
	}
	return &s
}

// numberOf accepts decoded JSON and TOML numbers and numeric strings.
func numberOf(value any) (float64, bool) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case int64:
		f = float64(v)
	case int:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func (doc document) applyTo(cfg *Config) {
	setIf(&cfg.Volume, doc.Volume)
	setIf(&cfg.BoostEnabled, doc.BoostEnabled)
	setIf(&cfg.BoostFactor, doc.BoostFactor)
	setIf(&cfg.Muted, doc.Muted)
	setIf(&cfg.PersistMute, doc.PersistMute)
	setIf(&cfg.Speed, doc.Speed)

	if doc.Loudnorm != nil {
		setIf(&cfg.Loudnorm.Enabled, doc.Loudnorm.Enabled)
		setIf(&cfg.Loudnorm.I, doc.Loudnorm.I)
		setIf(&cfg.Loudnorm.DualMono, doc.Loudnorm.DualMono)
	}

	if doc.Shortcuts != nil {
		s := doc.Shortcuts
		setIf(&cfg.Shortcuts.VolumeUp, s.VolumeUp)
		setIf(&cfg.Shortcuts.VolumeDown, s.VolumeDown)
		setIf(&cfg.Shortcuts.ToggleMute, s.ToggleMute)
		setIf(&cfg.Shortcuts.OpenSettings, s.OpenSettings)
		setIf(&cfg.Shortcuts.SpeedUp, s.SpeedUp)
		setIf(&cfg.Shortcuts.SpeedDown, s.SpeedDown)
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// toDocument renders every field so saved files are self-describing.
func toDocument(cfg Config) document {
	return document{
		Volume:       &cfg.Volume,
		BoostEnabled: &cfg.BoostEnabled,
		BoostFactor:  &cfg.BoostFactor,
		Muted:        &cfg.Muted,
		PersistMute:  &cfg.PersistMute,
		Speed:        &cfg.Speed,
		Loudnorm: &loudnormDocument{
			Enabled:  &cfg.Loudnorm.Enabled,
			I:        &cfg.Loudnorm.I,
			DualMono: &cfg.Loudnorm.DualMono,
		},
		Shortcuts: &shortcutsDocument{
			VolumeUp:     &cfg.Shortcuts.VolumeUp,
			VolumeDown:   &cfg.Shortcuts.VolumeDown,
			ToggleMute:   &cfg.Shortcuts.ToggleMute,
			OpenSettings: &cfg.Shortcuts.OpenSettings,
			SpeedUp:      &cfg.Shortcuts.SpeedUp,
			SpeedDown:    &cfg.Shortcuts.SpeedDown,
		},
	}
}
