package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	docExt     = ".json"
	tempMarker = ".tmp-"
)

// FileStore implements Store with one JSON file per key.
type FileStore struct {
	dir string
}

// NewFileStore creates the base directory if needed and discards temp files
// left behind by an interrupted write, so the last good documents are what
// the next Load sees.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("kv: create data dir: %w", err)
	}
	s := &FileStore{dir: dir}
	if err := s.removeStaleTemps(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the base directory.
func (s *FileStore) Dir() string { return s.dir }

// Path returns the file that holds key.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key)+docExt)
}

// Load reads and decodes the document at key.
func (s *FileStore) Load(key string, v any) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("kv: read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("kv: parse %s: %w", key, err)
	}
	return true, nil
}

// Save writes the document to a temp file in the target directory, syncs it
// and renames it over the previous version.
func (s *FileStore) Save(key string, v any) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("kv: marshal %s: %w", key, err)
	}

	target := s.Path(key)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("kv: create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(target)+tempMarker+"*")
	if err != nil {
		return fmt.Errorf("kv: create temp for %s: %w", key, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("kv: write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("kv: sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("kv: close %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("kv: replace %s: %w", key, err)
	}
	return nil
}

// Keys walks the base directory and returns keys under prefix.
func (s *FileStore) Keys(prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, docExt) || strings.Contains(name, tempMarker) {
			return nil
		}
		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), docExt)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kv: list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close() error { return nil }

// removeStaleTemps deletes partially written documents.
func (s *FileStore) removeStaleTemps() error {
	err := filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.Contains(d.Name(), tempMarker) {
			if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				return rmErr
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kv: discard stale temp files: %w", err)
	}
	return nil
}
