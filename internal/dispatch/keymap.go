package dispatch

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/key"
)

var (
	// ErrBindingConflict indicates the combo is already bound to another action.
	ErrBindingConflict = errors.New("shortcut binding conflict")
	// ErrInvalidBinding indicates a malformed combo or an unknown action.
	ErrInvalidBinding = errors.New("invalid shortcut binding")
)

// Action is a shortcut-triggered intent.
type Action string

const (
	ActionVolumeUp     Action = "volume_up"
	ActionVolumeDown   Action = "volume_down"
	ActionToggleMute   Action = "toggle_mute"
	ActionOpenSettings Action = "open_settings"
	ActionSpeedUp      Action = "speed_up"
	ActionSpeedDown    Action = "speed_down"
)

// Actions lists every bindable action in display order.
var Actions = []Action{
	ActionVolumeUp,
	ActionVolumeDown,
	ActionToggleMute,
	ActionOpenSettings,
	ActionSpeedUp,
	ActionSpeedDown,
}

var actionHelp = map[Action]string{
	ActionVolumeUp:     "volume up",
	ActionVolumeDown:   "volume down",
	ActionToggleMute:   "toggle mute",
	ActionOpenSettings: "open settings",
	ActionSpeedUp:      "speed up",
	ActionSpeedDown:    "speed down",
}

// DefaultBindings returns the stock shortcut combos.
func DefaultBindings() map[Action]string {
	return map[Action]string{
		ActionVolumeUp:     "ctrl+alt+up",
		ActionVolumeDown:   "ctrl+alt+down",
		ActionToggleMute:   "ctrl+alt+m",
		ActionOpenSettings: "ctrl+alt+v",
		ActionSpeedUp:      "ctrl+alt+right",
		ActionSpeedDown:    "ctrl+alt+left",
	}
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	_, ok := actionHelp[a]
	return ok
}

// Combo is a canonical key combination such as "ctrl+alt+up".
type Combo string

func (c Combo) String() string { return string(c) }

var modifierOrder = []string{"ctrl", "alt", "shift", "super"}

var modifierAliases = map[string]string{
	"ctrl":    "ctrl",
	"control": "ctrl",
	"alt":     "alt",
	"option":  "alt",
	"shift":   "shift",
	"super":   "super",
	"meta":    "super",
	"win":     "super",
	"cmd":     "super",
}

// ParseCombo normalizes a combo string. Modifiers are reordered as ctrl, alt,
// shift, super and names are lowercased. An empty string means unbound.
func ParseCombo(raw string) (Combo, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return "", nil
	}

	mods := make(map[string]bool, len(modifierOrder))
	keyName := ""
	for _, part := range strings.Split(raw, "+") {
		part = strings.TrimSpace(part)
		if part == "" {
			return "", fmt.Errorf("%w: empty key in %q", ErrInvalidBinding, raw)
		}
		if strings.ContainsAny(part, " \t") {
			return "", fmt.Errorf("%w: whitespace in key %q", ErrInvalidBinding, part)
		}
		if mod, ok := modifierAliases[part]; ok {
			mods[mod] = true
			continue
		}
		if keyName != "" {
			return "", fmt.Errorf("%w: %q has more than one key", ErrInvalidBinding, raw)
		}
		keyName = part
	}

	if keyName == "" {
		return "", fmt.Errorf("%w: %q has no key", ErrInvalidBinding, raw)
	}
	if len(mods) == 0 {
		return "", fmt.Errorf("%w: %q needs at least one modifier", ErrInvalidBinding, raw)
	}

	parts := make([]string, 0, len(mods)+1)
	for _, mod := range modifierOrder {
		if mods[mod] {
			parts = append(parts, mod)
		}
	}
	parts = append(parts, keyName)
	return Combo(strings.Join(parts, "+")), nil
}

// Keymap maps combos to actions. It is safe for concurrent use.
type Keymap struct {
	mu       sync.RWMutex
	bindings map[Action]key.Binding
}

// NewKeymap builds a keymap from action combos. Entries that are invalid or that
// conflict with an earlier action (in Actions order) are left unbound and returned.
func NewKeymap(combos map[Action]string) (*Keymap, []error) {
	km := &Keymap{bindings: make(map[Action]key.Binding, len(Actions))}

	unknown := make([]string, 0)
	for action := range combos {
		if !action.Valid() {
			unknown = append(unknown, string(action))
		}
	}
	sort.Strings(unknown)

	errs := make([]error, 0)
	for _, name := range unknown {
		errs = append(errs, fmt.Errorf("%w: unknown action %q", ErrInvalidBinding, name))
	}
	for _, action := range Actions {
		raw, ok := combos[action]
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if err := km.Bind(action, raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", action, err))
		}
	}
	return km, errs
}

// Bind assigns combo to action. A conflict leaves every binding unchanged.
func (k *Keymap) Bind(action Action, raw string) error {
	if !action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidBinding, action)
	}
	combo, err := ParseCombo(raw)
	if err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if combo == "" {
		delete(k.bindings, action)
		return nil
	}
	for other, binding := range k.bindings {
		if other != action && key.Matches(combo, binding) {
			return fmt.Errorf("%w: %s is already bound to %s", ErrBindingConflict, combo, other)
		}
	}

	k.bindings[action] = key.NewBinding(
		key.WithKeys(combo.String()),
		key.WithHelp(combo.String(), actionHelp[action]),
	)
	return nil
}

// Unbind removes any binding for action.
func (k *Keymap) Unbind(action Action) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.bindings, action)
}

// Lookup resolves a combo to its bound action.
func (k *Keymap) Lookup(raw string) (Action, bool) {
	combo, err := ParseCombo(raw)
	if err != nil || combo == "" {
		return "", false
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, action := range Actions {
		if binding, ok := k.bindings[action]; ok && key.Matches(combo, binding) {
			return action, true
		}
	}
	return "", false
}

// Bindings returns the current combos; unbound actions map to "".
func (k *Keymap) Bindings() map[Action]string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make(map[Action]string, len(Actions))
	for _, action := range Actions {
		out[action] = ""
		if binding, ok := k.bindings[action]; ok {
			out[action] = strings.Join(binding.Keys(), ",")
		}
	}
	return out
}

// Help returns bound shortcuts in display order.
func (k *Keymap) Help() []key.Help {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make([]key.Help, 0, len(k.bindings))
	for _, action := range Actions {
		if binding, ok := k.bindings[action]; ok && binding.Enabled() {
			out = append(out, binding.Help())
		}
	}
	return out
}
