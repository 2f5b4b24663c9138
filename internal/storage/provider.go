// Package storage defines the object backend the project store persists to.
// This abstraction keeps the store independent of a specific implementation
// (the local filesystem, Google Cloud Storage, or memory for tests).
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotExist is returned when a key has no stored object.
var ErrNotExist = errors.New("storage: object does not exist")

// Backend stores whole objects under slash-separated keys.
type Backend interface {
	// Read returns the object's bytes or ErrNotExist.
	Read(ctx context.Context, key string) ([]byte, error)
	// Write replaces the object atomically.
	Write(ctx context.Context, key string, data []byte) error
	// Delete removes the object. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// Size returns the stored byte length or ErrNotExist.
	Size(ctx context.Context, key string) (int64, error)
	// List returns every key under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// CleanKey normalizes a key and rejects empty, absolute or escaping keys.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("storage: key is required")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return "", fmt.Errorf("storage: key %q must be relative", key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("storage: path traversal detected in %q", key)
	}
	return cleaned, nil
}
