// internal/cache/file.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
)

// file implements Cache with one JSON document per entry under dir/<namespace>/.
// Writes go through a temporary file and a rename so readers never see a partial value.
type file struct {
	dir string
}

// NewFile creates a file-backed cache rooted at dir, creating it if needed.
func NewFile(dir string) (Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &file{dir: dir}, nil
}

// path escapes namespace and key so neither can leave the cache directory.
func (f *file) path(namespace, key string) string {
	return filepath.Join(f.dir, url.PathEscape(namespace), url.PathEscape(key)+".json")
}

func (f *file) Lookup(ctx context.Context, namespace, key string) (json.RawMessage, error) {
	if err := validate(namespace, key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path(namespace, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return data, nil
}

func (f *file) Insert(ctx context.Context, namespace, key string, value json.RawMessage) error {
	if err := validate(namespace, key); err != nil {
		return err
	}
	target := f.path(namespace, key)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create namespace directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return os.Rename(tmp.Name(), target)
}
