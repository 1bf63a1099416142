package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotatingWriter is an io.Writer over a log file with size-based rotation:
// when the current file would exceed the cap it becomes <path>.1, existing
// numbered files shift up, and files beyond maxFiles are deleted.
type RotatingWriter struct {
	mu       sync.Mutex
	path     string
	maxSize  int64
	maxFiles int
	file     *os.File
	size     int64
}

// NewRotatingWriter opens (or creates) the log file at path. maxSizeMB caps
// the file size before rotation; maxFiles bounds how many rotated files are
// kept.
func NewRotatingWriter(path string, maxSizeMB, maxFiles int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:     path,
		maxSize:  int64(maxSizeMB) * 1024 * 1024,
		maxFiles: maxFiles,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			// Keep logging into the oversized file rather than losing the
			// entry.
			fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Sync flushes the current file to disk.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close closes the current file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// rotate shifts <path>.N to <path>.N+1 from the highest number down, drops
// anything at or past maxFiles, then moves the live file to <path>.1 and
// reopens a fresh one.
func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
		w.file = nil
	}

	for n := w.maxFiles; n >= 1; n-- {
		src := fmt.Sprintf("%s.%d", w.path, n)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if n >= w.maxFiles {
			if err := os.Remove(src); err != nil {
				return fmt.Errorf("failed to prune old log %s: %w", src, err)
			}
			continue
		}
		if err := os.Rename(src, fmt.Sprintf("%s.%d", w.path, n+1)); err != nil {
			return fmt.Errorf("failed to shift rotated log %s: %w", src, err)
		}
	}

	if _, err := os.Stat(w.path); err == nil {
		if err := os.Rename(w.path, w.path+".1"); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	w.size = 0
	return w.open()
}
