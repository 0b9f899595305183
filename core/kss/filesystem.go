package kss

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pantrybase/pantrybase/core/logger"
)

// LocalFilesystem stores file content below a base folder.
type LocalFilesystem struct {
	baseFolder string
}

// NewLocalFilesystem returns a new LocalFilesystem. The base folder gets
// created if it does not exist yet.
func NewLocalFilesystem(config LocalConfiguration) (*LocalFilesystem, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("BasePath must not be empty")
	}
	if err := os.MkdirAll(config.BasePath, 0700); err != nil {
		return nil, fmt.Errorf("cannot create base folder %s: %w", config.BasePath, err)
	}
	logger.Default().Debugln("local filesystem file storage enabled at", config.BasePath)
	return &LocalFilesystem{baseFolder: config.BasePath}, nil
}

func (f LocalFilesystem) path(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key '%s'", key)
	}
	return filepath.Join(f.baseFolder, filepath.FromSlash(key)), nil
}

// Put stores data under key.
func (f LocalFilesystem) Put(ctx context.Context, key string, data []byte) error {
	filePath, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return err
	}
	return os.WriteFile(filePath, data, 0600)
}

// Get returns the content stored under key.
func (f LocalFilesystem) Get(ctx context.Context, key string) ([]byte, error) {
	filePath, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return nil, ErrNoSuchKey
	}
	return data, err
}

// Delete removes the key file.
func (f LocalFilesystem) Delete(ctx context.Context, key string) error {
	filePath, err := f.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(filePath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// DeleteAllWithPrefix removes all keys starting with prefix.
func (f LocalFilesystem) DeleteAllWithPrefix(ctx context.Context, prefix string) error {
	filePath, err := f.path(prefix)
	if err != nil {
		return err
	}
	return os.RemoveAll(filePath)
}
