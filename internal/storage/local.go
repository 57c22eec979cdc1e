package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const tempPrefix = ".put-"

// LocalStorage implements ObjectStorage on a directory tree. Object paths
// map to files below the root.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates root if needed.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &LocalStorage{root: root}, nil
}

// file checks ctx and the object path and returns the backing file name.
func (l *LocalStorage) file(ctx context.Context, objectPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validPath(objectPath); err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(objectPath)), nil
}

// Put replaces the object atomically: readers see the old payload or the
// new one, never a partial write.
func (l *LocalStorage) Put(ctx context.Context, objectPath string, data []byte) error {
	name, err := l.file(ctx, objectPath)
	if err != nil {
		return err
	}
	if err := writeAtomic(name, data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPutFailed, objectPath, err)
	}
	return nil
}

func writeAtomic(name string, data []byte) (err error) {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), name)
}

// Get reads an object.
func (l *LocalStorage) Get(ctx context.Context, objectPath string) ([]byte, error) {
	name, err := l.file(ctx, objectPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, ErrObjectNotFound
	case err != nil:
		return nil, fmt.Errorf("%w: %s: %w", ErrGetFailed, objectPath, err)
	}
	return data, nil
}

// Delete removes an object; a missing one is not an error.
func (l *LocalStorage) Delete(ctx context.Context, objectPath string) error {
	name, err := l.file(ctx, objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s: %w", ErrDeleteFailed, objectPath, err)
	}
	return nil
}

// Exists reports whether the object is present.
func (l *LocalStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	name, err := l.file(ctx, objectPath)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(name)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// ListObjects returns the object paths under prefix in lexical order,
// skipping in-flight temp files.
func (l *LocalStorage) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var paths []string
	err := filepath.WalkDir(l.root, func(name string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return err
		}
		rel, err := filepath.Rel(l.root, name)
		if err != nil {
			return err
		}
		if rel = filepath.ToSlash(rel); strings.HasPrefix(rel, prefix) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	return paths, nil
}

// Clear removes every object below the root.
func (l *LocalStorage) Clear() error {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(l.root, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// BasePath returns the root directory.
func (l *LocalStorage) BasePath() string {
	return l.root
}
