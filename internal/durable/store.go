// Package durable provides the small amount of reload-surviving client
// state: the operation-in-progress watermark and the set of already-surfaced
// background completions. It is deliberately a flat key/value capability so
// tests can substitute an in-memory fake.
package durable

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store is the key/value capability the engine persists through. All values
// are strings; callers layer their own encoding on top.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool)

	// Set stores the value for key.
	Set(key, value string) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(key string) error
}

// FileStore persists keys to a single JSON file under a base directory.
// Writes go through a temp file and rename so a crash mid-write leaves the
// previous contents intact.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore rooted at basePath. State is kept in
// basePath/state.json.
func NewFileStore(basePath string) *FileStore {
	return &FileStore{path: filepath.Join(basePath, "state.json")}
}

func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	kv := map[string]string{}
	if err := json.Unmarshal(data, &kv); err != nil {
		// A corrupt state file is treated as empty rather than fatal; the
		// watermark and completion set are both safe to lose.
		return map[string]string{}, nil
	}
	return kv, nil
}

func (s *FileStore) save(kv map[string]string) error {
	data, err := json.MarshalIndent(kv, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Get returns the value for key and whether it was present.
func (s *FileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kv, err := s.load()
	if err != nil {
		return "", false
	}
	value, ok := kv[key]
	return value, ok
}

// Set stores the value for key.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kv, err := s.load()
	if err != nil {
		return err
	}
	kv[key] = value
	return s.save(kv)
}

// Delete removes the key.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kv, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := kv[key]; !ok {
		return nil
	}
	delete(kv, key)
	return s.save(kv)
}

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu sync.Mutex
	kv map[string]string
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{kv: map[string]string{}}
}

// Get returns the value for key and whether it was present.
func (s *MemStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.kv[key]
	return value, ok
}

// Set stores the value for key.
func (s *MemStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
	return nil
}

// Delete removes the key.
func (s *MemStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}
