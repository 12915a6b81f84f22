package repository

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aristath/taskgraph/internal/dataset"
)

// LocalFile stores one Data in one file.
type LocalFile struct {
	path string
}

// NewLocalFile creates a repository for path. The file is created on Save.
func NewLocalFile(path string) *LocalFile {
	return &LocalFile{path: path}
}

// Path returns the file the repository writes.
func (l *LocalFile) Path() string { return l.path }

// Save writes d to the file, creating parent directories as needed.
// SQL_MODEL data is rejected.
func (l *LocalFile) Save(ctx context.Context, d dataset.Data) error {
	b, err := encode("LocalFile", d)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	files.Lock(l.path)
	defer files.Unlock(l.path)

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := os.WriteFile(l.path, b, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", l.path, err)
	}
	return nil
}

// Load reads the file and passes its bytes to ctor.
func (l *LocalFile) Load(ctx context.Context, ctor dataset.Constructor) (dataset.Data, error) {
	raw, err := l.read(ctx)
	if err != nil {
		return nil, err
	}
	return ctor(l, raw)
}

func (l *LocalFile) read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	files.Lock(l.path)
	defer files.Unlock(l.path)

	raw, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", l.path, err)
	}
	return raw, nil
}

// writeWith truncates the file and lets fill write it, holding the path lock
// throughout.
func (l *LocalFile) writeWith(fill func(io.Writer) error) error {
	files.Lock(l.path)
	defer files.Unlock(l.path)

	f, err := os.Create(l.path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", l.path, err)
	}
	if err := fill(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// readWith opens the file and lets drain read it, holding the path lock
// throughout.
func (l *LocalFile) readWith(drain func(io.Reader) error) error {
	files.Lock(l.path)
	defer files.Unlock(l.path)

	f, err := os.Open(l.path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", l.path, err)
	}
	defer f.Close()
	return drain(f)
}
