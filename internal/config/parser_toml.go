package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

func decodeTOML(content string) (map[string]any, error) {
	var raw map[string]any
	if err := toml.NewDecoder(strings.NewReader(content)).Decode(&raw); err != nil {
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			line, col := decodeErr.Position()
			return nil, fmt.Errorf("line %d column %d: %w", line, col, err)
		}
		return nil, err
	}
	return raw, nil
}
