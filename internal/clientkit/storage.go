package clientkit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrStorageEmptyPath indicates that no file path was supplied for FileStorage.
	ErrStorageEmptyPath = errors.New("storage.file.empty_path")
)

// Storage persists the single session record across process restarts. The
// in-memory Session is the source of truth; Storage is its mirror, written
// synchronously after every mutating operation.
type Storage interface {
	// Get returns the persisted record, a flag indicating whether one
	// exists, and an error if the lookup itself failed.
	Get() (data []byte, found bool, err error)
	// Set overwrites the persisted record atomically.
	Set(data []byte) error
	// Remove deletes the persisted record. Removing an absent record is
	// not an error.
	Remove() error
}

// MemoryStorage keeps the record in memory; intended for tests and
// ephemeral runs.
type MemoryStorage struct {
	mutex  sync.Mutex
	record []byte
	found  bool
}

// NewMemoryStorage constructs an empty in-memory Storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Get returns the stored record, if any.
func (storage *MemoryStorage) Get() ([]byte, bool, error) {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	if !storage.found {
		return nil, false, nil
	}
	clone := make([]byte, len(storage.record))
	copy(clone, storage.record)
	return clone, true, nil
}

// Set overwrites the stored record.
func (storage *MemoryStorage) Set(data []byte) error {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	storage.record = make([]byte, len(data))
	copy(storage.record, data)
	storage.found = true
	return nil
}

// Remove clears the stored record.
func (storage *MemoryStorage) Remove() error {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	storage.record = nil
	storage.found = false
	return nil
}

// FileStorage persists the record as a single JSON file. Writes go through
// a temporary file and rename so a crash mid-write cannot leave a truncated
// record behind.
type FileStorage struct {
	path string
}

// NewFileStorage constructs a FileStorage rooted at the given path.
func NewFileStorage(path string) (*FileStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("storage.file.new: %w", ErrStorageEmptyPath)
	}
	return &FileStorage{path: path}, nil
}

// Path exposes the backing file path.
func (storage *FileStorage) Path() string {
	return storage.path
}

// Get reads the persisted record from disk.
func (storage *FileStorage) Get() ([]byte, bool, error) {
	data, readErr := os.ReadFile(storage.path)
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("storage.file.get: %w", readErr)
	}
	return data, true, nil
}

// Set writes the record atomically with owner-only permissions.
func (storage *FileStorage) Set(data []byte) error {
	directory := filepath.Dir(storage.path)
	if mkdirErr := os.MkdirAll(directory, 0o700); mkdirErr != nil {
		return fmt.Errorf("storage.file.set: %w", mkdirErr)
	}
	temporary, createErr := os.CreateTemp(directory, ".session-*")
	if createErr != nil {
		return fmt.Errorf("storage.file.set: %w", createErr)
	}
	temporaryPath := temporary.Name()
	if _, writeErr := temporary.Write(data); writeErr != nil {
		_ = temporary.Close()
		_ = os.Remove(temporaryPath)
		return fmt.Errorf("storage.file.set: %w", writeErr)
	}
	if closeErr := temporary.Close(); closeErr != nil {
		_ = os.Remove(temporaryPath)
		return fmt.Errorf("storage.file.set: %w", closeErr)
	}
	if chmodErr := os.Chmod(temporaryPath, 0o600); chmodErr != nil {
		_ = os.Remove(temporaryPath)
		return fmt.Errorf("storage.file.set: %w", chmodErr)
	}
	if renameErr := os.Rename(temporaryPath, storage.path); renameErr != nil {
		_ = os.Remove(temporaryPath)
		return fmt.Errorf("storage.file.set: %w", renameErr)
	}
	return nil
}

// Remove deletes the backing file; a missing file is not an error.
func (storage *FileStorage) Remove() error {
	if removeErr := os.Remove(storage.path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		return fmt.Errorf("storage.file.remove: %w", removeErr)
	}
	return nil
}
