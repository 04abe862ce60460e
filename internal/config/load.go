package config

import (
	"errors"
	"fmt"
	"os"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Corrupt reports whether any warning came from bad config content.
func (l Loaded) Corrupt() bool {
	for _, w := range l.Warnings {
		if w.Corrupt() {
			return true
		}
	}
	return false
}

// Load resolves, reads, parses, and validates the configuration. Bad content
// never fails the load: defaults are substituted and a corrupt warning is added.
// The error is reserved for an unresolvable path.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	base := Default()
	content, err := os.ReadFile(resolvedPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Loaded{
				Path:   resolvedPath,
				Config: base,
				Warnings: []Warning{{
					Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
				}},
				Exists: false,
			}, nil
		}
		return Loaded{
			Path:     resolvedPath,
			Config:   base,
			Warnings: []Warning{corruptWarning(0, fmt.Sprintf("read config %q: %v; using defaults", resolvedPath, err))},
			Exists:   true,
		}, nil
	}

	cfg, warnings, err := Parse(string(content), FormatFor(resolvedPath), base)
	if err != nil {
		return Loaded{
			Path:     resolvedPath,
			Config:   base,
			Warnings: []Warning{corruptWarning(0, fmt.Sprintf("parse config %q: %v; using defaults", resolvedPath, err))},
			Exists:   true,
		}, nil
	}

	return Loaded{
		Path:     resolvedPath,
		Config:   cfg,
		Warnings: warnings,
		Exists:   true,
	}, nil
}
