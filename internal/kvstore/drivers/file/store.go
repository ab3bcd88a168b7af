// Package file stores each key as a file in a directory. Writes are atomic
// renames, so a second process watching the directory never observes a torn
// value.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/aussiebroadwan/studyhall/pkg/sessionsdk"
)

// Store keeps one file per key under dir.
type Store struct {
	dir string
}

// NewStore creates dir (owner-only) if needed and returns a Store over it.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("file store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Close() error { return nil }

// Ping verifies the directory still exists.
func (s *Store) Ping(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("file store: %s is not a directory", s.dir)
	}
	return nil
}

// Get returns the value stored under key, or sessionsdk.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, sessionsdk.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Set atomically replaces the file for key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(value))
}

// Delete removes the files for keys. Missing files are ignored.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	var errs []error
	for _, key := range keys {
		path, err := s.path(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("file store: invalid key %q", key)
	}
	return filepath.Join(s.dir, key), nil
}
