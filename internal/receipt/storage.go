package receipt

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage is the blob store: durable byte storage addressed by opaque key.
type Storage interface {
	// Save stores a blob and returns the key it can be fetched with
	Save(key string, data []byte) (string, error)

	// Get retrieves a blob by key
	Get(key string) ([]byte, error)

	// Delete removes a blob
	Delete(key string) error
}

// LocalStorage implements the Storage interface using the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save writes a blob to local storage
func (l *LocalStorage) Save(key string, data []byte) (string, error) {
	path := filepath.Join(l.basePath, key)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return key, nil
}

// Get reads a blob from local storage
func (l *LocalStorage) Get(key string) ([]byte, error) {
	path := filepath.Join(l.basePath, key)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a blob from local storage
func (l *LocalStorage) Delete(key string) error {
	path := filepath.Join(l.basePath, key)
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
