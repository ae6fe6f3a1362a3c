// Package store provides the persistent key-value storage that keeps the
// session alive across process restarts.
//
// Backends live in this package (file, memory) and in the gormstore and
// redisstore sub-packages.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Well-known keys.
const (
	KeyAuthToken    = "auth_token"
	KeyRefreshToken = "refresh_token"
	KeyUserProfile  = "user_profile"
)

// Store is a string-keyed byte store.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (value []byte, found bool, err error)

	// Set stores value under key, overwriting any previous value.
	Set(key string, value []byte) error

	// Delete removes keys. Missing keys are not an error.
	Delete(keys ...string) error
}

// fileData is the on-disk layout of a FileStore.
type fileData struct {
	Entries map[string]string `json:"entries"`
}

// FileStore keeps all entries in a single JSON file. Writes are serialized
// across processes with a lock file and land through a temp-file rename, so
// readers never observe a partial file.
type FileStore struct {
	path string
	lock lockConfig
}

// NewFileStore returns a FileStore backed by path. The file is created on
// first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, lock: defaultLockConfig}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(key string) ([]byte, bool, error) {
	data, err := s.read()
	if err != nil {
		return nil, false, err
	}
	v, ok := data.Entries[key]
	if !ok {
		return nil, false, nil
	}
	return []byte(v), true, nil
}

func (s *FileStore) Set(key string, value []byte) error {
	return s.update(func(entries map[string]string) {
		entries[key] = string(value)
	})
}

func (s *FileStore) Delete(keys ...string) error {
	return s.update(func(entries map[string]string) {
		for _, k := range keys {
			delete(entries, k)
		}
	})
}

func (s *FileStore) read() (*fileData, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &fileData{Entries: map[string]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}

	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse store file: %w", err)
	}
	if data.Entries == nil {
		data.Entries = map[string]string{}
	}
	return &data, nil
}

// update applies mutate to the current entries under the file lock and
// writes the result back atomically.
func (s *FileStore) update(mutate func(map[string]string)) (err error) {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	lock, err := acquireLock(s.path, s.lock)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil && err == nil {
			err = fmt.Errorf("failed to release lock: %w", releaseErr)
		}
	}()

	data, err := s.read()
	if err != nil {
		// A corrupt file is replaced rather than blocking every write.
		data = &fileData{Entries: map[string]string{}}
	}
	mutate(data.Entries)

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		if removeErr := os.Remove(tmp); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// MemStore is an in-process Store.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string][]byte)}
}

func (s *MemStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemStore) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

// Len returns the number of entries.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
