package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/franz/speech-corpus/internal/util"
)

// Local is a dataset directory on a filesystem
type Local struct {
	fs   afero.Fs
	root string
}

// NewLocal returns a Local rooted at dir on the OS filesystem
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve dataset dir: %w", err)
	}
	return &Local{fs: afero.NewBasePathFs(afero.NewOsFs(), abs), root: abs}, nil
}

// NewLocalFs returns a Local over fs, which is treated as already rooted at
// root. Used with afero.NewMemMapFs in tests.
func NewLocalFs(fsys afero.Fs, root string) *Local {
	return &Local{fs: fsys, root: root}
}

// Name returns the base name of the dataset directory
func (l *Local) Name() string {
	return filepath.Base(l.root)
}

// Exists reports whether p exists
func (l *Local) Exists(_ context.Context, p string) (bool, error) {
	ok, err := afero.Exists(l.fs, l.rel(p))
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", p, err)
	}
	return ok, nil
}

// Resolve returns the absolute filesystem path of p
func (l *Local) Resolve(p string) string {
	return filepath.Join(l.root, filepath.FromSlash(Clean(p)))
}

// Open opens p for reading
func (l *Local) Open(_ context.Context, p string) (io.ReadSeekCloser, error) {
	f, err := l.fs.Open(l.rel(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", p, util.ErrNotFound)
		}
		return nil, err
	}
	return f, nil
}

// Create opens p for writing, creating parent directories
func (l *Local) Create(_ context.Context, p string) (io.WriteCloser, error) {
	name := l.rel(p)
	if err := l.fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return nil, fmt.Errorf("create parent of %s: %w", p, err)
	}
	f, err := l.fs.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (l *Local) rel(p string) string {
	return "/" + Clean(p)
}
