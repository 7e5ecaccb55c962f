// Package storage abstracts where dataset files live. Paths are always
// relative to the dataset root and use forward slashes.
package storage

import (
	"context"
	"io"
	"path"
	"strings"
)

// Storage is a dataset location. Implementations are safe for concurrent
// use on unrelated paths.
type Storage interface {
	// Name is the logical dataset name derived from the location
	Name() string
	// Exists reports whether a file exists at p
	Exists(ctx context.Context, p string) (bool, error)
	// Resolve returns a human readable absolute location for p
	Resolve(p string) string
	// Open opens p for reading
	Open(ctx context.Context, p string) (io.ReadSeekCloser, error)
	// Create opens p for writing, creating intermediate directories.
	// The content is durable once Close returns nil.
	Create(ctx context.Context, p string) (io.WriteCloser, error)
}

// Clean normalizes a dataset-relative path
func Clean(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}

// ReadFile reads the whole file at p
func ReadFile(ctx context.Context, s Storage, p string) ([]byte, error) {
	r, err := s.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// WriteFile writes data to p, replacing existing content
func WriteFile(ctx context.Context, s Storage, p string, data []byte) error {
	w, err := s.Create(ctx, p)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
