package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mikeyg42/videoscope/internal/report"
)

// FileSink writes the report as indented JSON to a fixed path.
type FileSink struct {
	Path string
}

// NewFileSink returns a sink writing to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{Path: path}
}

// Persist creates missing parent directories and replaces the file
// atomically.
func (f *FileSink) Persist(ctx context.Context, r *report.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := r.MarshalIndent()
	if err != nil {
		return &StorageError{Op: "encode", Key: f.Path, Err: err}
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StorageError{Op: "mkdir", Key: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".report-*.json")
	if err != nil {
		return &StorageError{Op: "write", Key: f.Path, Err: err}
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return &StorageError{Op: "write", Key: f.Path, Err: err}
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return &StorageError{Op: "write", Key: f.Path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &StorageError{Op: "write", Key: f.Path, Err: err}
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return &StorageError{Op: "rename", Key: f.Path, Err: fmt.Errorf("replace report: %w", err)}
	}
	return nil
}
