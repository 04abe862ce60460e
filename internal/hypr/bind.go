package hypr

import (
	"context"
	"fmt"
	"strings"
)

var modNames = map[string]string{
	"ctrl":  "CTRL",
	"alt":   "ALT",
	"shift": "SHIFT",
	"super": "SUPER",
}

var keyNames = map[string]string{
	"up":    "up",
	"down":  "down",
	"left":  "left",
	"right": "right",
	"space": "space",
	"enter": "Return",
	"esc":   "Escape",
	"tab":   "Tab",
}

// Keybind converts a canonical combo such as "ctrl+alt+up" into Hyprland's
// "MODS,key" form.
func Keybind(combo string) (string, error) {
	parts := strings.Split(strings.TrimSpace(combo), "+")
	if len(parts) < 2 {
		return "", fmt.Errorf("combo %q needs a modifier and a key", combo)
	}

	mods := make([]string, 0, len(parts)-1)
	for _, part := range parts[:len(parts)-1] {
		mod, ok := modNames[part]
		if !ok {
			return "", fmt.Errorf("combo %q has unknown modifier %q", combo, part)
		}
		mods = append(mods, mod)
	}

	key := parts[len(parts)-1]
	if mapped, ok := keyNames[key]; ok {
		key = mapped
	}
	return strings.Join(mods, " ") + "," + key, nil
}

// BindExec registers a global keybind that runs command.
func BindExec(ctx context.Context, combo string, command string) error {
	keybind, err := Keybind(combo)
	if err != nil {
		return err
	}
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("bind %s requires a command", combo)
	}
	return runHyprctl(ctx, "--quiet", "keyword", "bind", keybind+",exec,"+command)
}

// Unbind removes a global keybind registered for combo.
func Unbind(ctx context.Context, combo string) error {
	keybind, err := Keybind(combo)
	if err != nil {
		return err
	}
	return runHyprctl(ctx, "--quiet", "keyword", "unbind", keybind)
}
