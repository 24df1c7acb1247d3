package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when an id is not in the file.
var ErrNotFound = errors.New("not found")

// yamlFile is a list of T persisted as one YAML document.
type yamlFile[T any] struct {
	mu   sync.Mutex
	path string
}

// load must be called with mu held. A missing file is an empty list.
func (f *yamlFile[T]) load() ([]T, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return []T{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	items := []T{}
	if err := yaml.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", f.path, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// save must be called with mu held. It writes a temp file next to the
// target and renames it over.
func (f *yamlFile[T]) save(items []T) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	data, err := yaml.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", f.path, err)
	}
	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}

func (f *yamlFile[T]) list() ([]T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

// update loads the list, applies fn and saves the result unless fn fails.
func (f *yamlFile[T]) update(fn func(items []T) ([]T, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, err := f.load()
	if err != nil {
		return err
	}
	items, err = fn(items)
	if err != nil {
		return err
	}
	return f.save(items)
}
