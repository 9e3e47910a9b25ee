// Package kv is the persistence collaborator of the stateful services.
//
// A Store maps slash-separated keys ("findings", "sessions/<id>") to JSON
// documents. Save is synchronous and atomic: after it returns nil the whole
// document is durable, and a crash mid-write leaves the previous document
// intact. Two backends exist:
//
//   - FileStore (default): one <key>.json file per document under a base dir,
//     written through a temp file and rename.
//   - SQLiteStore: the same documents in a single table of state.db.
//
// Each service owns its keys exclusively; nothing else reads or writes them.
package kv

import (
	"fmt"
	"path"
	"strings"
)

// Store persists JSON documents by key.
type Store interface {
	// Load decodes the document at key into v. It reports false, with no
	// error, when the key has never been saved.
	Load(key string, v any) (bool, error)
	// Save encodes v and durably replaces the document at key.
	Save(key string, v any) error
	// Keys lists stored keys with the given prefix in ascending order.
	Keys(prefix string) ([]string, error)
	// Close releases backend resources.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Open creates the store selected by backend under dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", BackendJSON:
		return NewFileStore(dir)
	case BackendSQLite:
		return NewSQLiteStore(dir)
	default:
		return nil, fmt.Errorf("kv: unknown backend %q: must be one of: json, sqlite", backend)
	}
}

// ValidateKey rejects keys that could escape the base directory or collide
// with temp files.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("kv: empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("kv: key %q must be relative and slash-separated", key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("kv: key %q is not in canonical form", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "." || seg == ".." || seg == "" {
			return fmt.Errorf("kv: key %q has an invalid segment", key)
		}
		if strings.Contains(seg, tempMarker) {
			return fmt.Errorf("kv: key %q contains reserved marker %q", key, tempMarker)
		}
	}
	return nil
}
