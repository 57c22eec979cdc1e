// Package storage keeps opaque byte payloads under slash-separated object
// paths. The boundary archive tier stores compressed GeoJSON through it.
package storage

import (
	"context"
	"errors"
	"strings"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrPutFailed      = errors.New("put failed")
	ErrGetFailed      = errors.New("get failed")
	ErrDeleteFailed   = errors.New("delete failed")
	ErrInvalidPath    = errors.New("invalid object path")
)

// ObjectStorage abstracts a flat object store.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Put writes data under objectPath, replacing any previous object.
	Put(ctx context.Context, objectPath string, data []byte) error

	// Get returns the object's bytes or ErrObjectNotFound.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// validPath rejects empty paths and paths that climb out of the store.
func validPath(objectPath string) error {
	if objectPath == "" || strings.HasPrefix(objectPath, "/") {
		return ErrInvalidPath
	}
	for _, seg := range strings.Split(objectPath, "/") {
		if seg == ".." {
			return ErrInvalidPath
		}
	}
	return nil
}
