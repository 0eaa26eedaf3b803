package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// StdoutPath selects standard output as a [FileTarget].
const StdoutPath = "-"

// FileTarget appends raw PCM to a file, or to stdout for [StdoutPath].
type FileTarget struct {
	w     io.Writer
	close func() error
	path  string
}

// OpenFile opens path for appending, creating it and its parent directories
// as needed. Relative paths are resolved against dir.
func OpenFile(dir, path string) (*FileTarget, error) {
	if path == StdoutPath {
		return &FileTarget{w: os.Stdout, close: func() error { return nil }, path: path}, nil
	}
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open %s: %w", path, err)
	}
	return &FileTarget{w: f, close: f.Close, path: path}, nil
}

// Path returns the resolved file path.
func (t *FileTarget) Path() string { return t.path }

// Kind implements [Target].
func (t *FileTarget) Kind() string { return "file" }

// Write implements [io.Writer].
func (t *FileTarget) Write(p []byte) (int, error) { return t.w.Write(p) }

// Close implements [io.Closer]. Standard output is left open.
func (t *FileTarget) Close() error { return t.close() }
