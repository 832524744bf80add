package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileBackend keeps each document as a file in a directory.
type FileBackend struct {
	dir string
}

// NewFileBackend returns a backend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

// Dir returns the directory holding the documents.
func (b *FileBackend) Dir() string {
	return b.dir
}

// Path returns the file path of a document.
func (b *FileBackend) Path(name Name) string {
	return filepath.Join(b.dir, string(name))
}

// Read returns the file content, or ErrNotFound.
func (b *FileBackend) Read(_ context.Context, name Name) ([]byte, error) {
	data, err := os.ReadFile(b.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// Write replaces the file through a temporary file in the same directory,
// so readers never observe a half-written document.
func (b *FileBackend) Write(_ context.Context, name Name, data []byte) error {
	tmp, err := os.CreateTemp(b.dir, "."+string(name)+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmpName, b.Path(name)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Close is a no-op.
func (b *FileBackend) Close() error {
	return nil
}
