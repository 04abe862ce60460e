package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"
)

const (
	lockTimeout    = 2 * time.Second
	lockRetryDelay = 25 * time.Millisecond
)

// Marshal renders cfg in the given format.
func Marshal(cfg Config, format Format) ([]byte, error) {
	doc := toDocument(cfg)
	if format == FormatTOML {
		var buf bytes.Buffer
		enc := toml.NewEncoder(&buf)
		enc.SetIndentTables(true)
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Save atomically replaces the config at path. Concurrent writers are serialized
// through <path>.lock. Every failure wraps ErrPersistFailure.
func Save(path string, cfg Config) error {
	data, err := Marshal(cfg, FormatFor(path))
	if err != nil {
		return fmt.Errorf("%w: encode config: %w", ErrPersistFailure, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: create config dir: %w", ErrPersistFailure, err)
	}

	lock := flock.New(path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("%w: lock config: %w", ErrPersistFailure, err)
	}
	if !locked {
		return fmt.Errorf("%w: config %q is locked by another writer", ErrPersistFailure, path)
	}
	defer func() { _ = lock.Unlock() }()

	if err := writeFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistFailure, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(step string, err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%s: %w", step, err)
	}

	if _, err := tmp.Write(data); err != nil {
		return fail("write temp file", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fail("chmod temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
