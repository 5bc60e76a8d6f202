package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalWriter writes objects below a directory.
type LocalWriter struct {
	dir string
}

var _ Writer = (*LocalWriter)(nil)

// NewLocalWriter creates a LocalWriter rooted at dir.
func NewLocalWriter(dir string) *LocalWriter {
	return &LocalWriter{dir: dir}
}

// Name returns the destination name.
func (l *LocalWriter) Name() string {
	return "file://" + l.dir
}

// Write atomically replaces dir/name with data.
func (l *LocalWriter) Write(_ context.Context, name string, data []byte) error {
	target := filepath.Join(l.dir, filepath.FromSlash(name))

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".report-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}
