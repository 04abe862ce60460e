package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Format is the on-disk config syntax.
type Format string

const (
	FormatJSONC Format = "jsonc"
	FormatTOML  Format = "toml"
)

// ResolvePath applies CLI/XDG/home fallback rules for config.jsonc location.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "cadence", "config.jsonc"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for config fallback")
	}

	return filepath.Join(home, ".config", "cadence", "config.jsonc"), nil
}

// FormatFor picks the syntax from the file extension; anything but .toml is JSONC.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatJSONC
}
