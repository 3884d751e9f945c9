package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists all keys in a single JSON document on local disk. Writes
// replace the document through a temp-file rename so a crash mid-write leaves
// the previous state intact. It is the register-local durability layer: one
// file per agent, no sharing between processes.
type FileStore struct {
	path string

	mu     sync.Mutex
	values map[string]string
}

// NewFileStore opens (or creates) the store backed by the given file path.
func NewFileStore(path string) (*FileStore, error) {
	trimmed := filepath.Clean(path)
	if trimmed == "" || trimmed == "." {
		return nil, errors.New("kvstore: file path is required")
	}

	store := &FileStore{path: trimmed, values: make(map[string]string)}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("kvstore: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return fmt.Errorf("kvstore: parse %s: %w", s.path, err)
	}
	if s.values == nil {
		s.values = make(map[string]string)
	}
	return nil
}

func (s *FileStore) flushLocked() error {
	data, err := json.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("kvstore: encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("kvstore: create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("kvstore: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("kvstore: write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("kvstore: sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("kvstore: close state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("kvstore: replace %s: %w", s.path, err)
	}
	return nil
}

// Get implements the Store interface.
func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.values[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return value, nil
}

// Set implements the Store interface.
func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.values[key]
	s.values[key] = value
	if err := s.flushLocked(); err != nil {
		if existed {
			s.values[key] = previous
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

// Delete implements the Store interface.
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.values[key]
	if !existed {
		return nil
	}
	delete(s.values, key)
	if err := s.flushLocked(); err != nil {
		s.values[key] = previous
		return err
	}
	return nil
}
