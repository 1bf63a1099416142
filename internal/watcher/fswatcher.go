package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSWatcher watches the scan roots recursively with fsnotify and emits
// debounced event batches. Newly created directories are added to the watch
// set as they appear.
type FSWatcher struct {
	fsw            *fsnotify.Watcher
	debouncer      *Debouncer
	events         chan []FileEvent
	errors         chan error
	stopCh         chan struct{}
	roots          []string
	excludeDirs    map[string]struct{}
	opts           Options
	mu             sync.RWMutex
	stopped        bool
	droppedBatches atomic.Uint64
}

// NewFSWatcher creates a watcher with the given options.
func NewFSWatcher(opts Options) (*FSWatcher, error) {
	opts = opts.WithDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	excluded := make(map[string]struct{}, len(opts.ExcludeDirs))
	for _, d := range opts.ExcludeDirs {
		excluded[d] = struct{}{}
	}

	return &FSWatcher{
		fsw:         fsw,
		debouncer:   NewDebouncer(opts.DebounceWindow),
		events:      make(chan []FileEvent, opts.EventBufferSize),
		errors:      make(chan error, 10),
		stopCh:      make(chan struct{}),
		excludeDirs: excluded,
		opts:        opts,
	}, nil
}

// Start begins watching the given roots and blocks until the context is
// cancelled or Stop is called.
func (w *FSWatcher) Start(ctx context.Context, roots ...string) error {
	if len(roots) == 0 {
		return fmt.Errorf("no roots to watch")
	}

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", root, err)
		}
		if err := w.addRecursive(abs); err != nil {
			return fmt.Errorf("failed to watch %s: %w", abs, err)
		}
		w.roots = append(w.roots, abs)
	}

	slog.Info("watcher_started",
		slog.Int("roots", len(w.roots)),
		slog.Duration("debounce_window", w.opts.DebounceWindow))

	go w.forwardDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// handleEvent converts and filters one fsnotify event.
func (w *FSWatcher) handleEvent(event fsnotify.Event) {
	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	if w.shouldIgnore(event.Name, isDir) {
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		// Watch directories created under a root so files added to them
		// are seen.
		if isDir {
			if err := w.addRecursive(event.Name); err != nil {
				w.emitError(err)
			}
			return
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// Chmod and unknown ops don't change content.
		return
	}

	w.debouncer.Add(FileEvent{
		Path:      event.Name,
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

func (w *FSWatcher) forwardDebounced(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case events, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			if len(events) == 0 {
				continue
			}
			w.emitEvents(events)
		}
	}
}

// addRecursive adds the directory and every non-excluded subdirectory to the
// watch set.
func (w *FSWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, same as the scanner.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignoreDirName(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *FSWatcher) ignoreDirName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, excluded := w.excludeDirs[name]
	return excluded
}

// shouldIgnore filters events under hidden or excluded directories.
func (w *FSWatcher) shouldIgnore(path string, isDir bool) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	if isDir {
		if _, excluded := w.excludeDirs[base]; excluded {
			return true
		}
	}
	for _, root := range w.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		for _, part := range strings.Split(filepath.Dir(rel), string(filepath.Separator)) {
			if part == "." || part == "" {
				continue
			}
			if strings.HasPrefix(part, ".") {
				return true
			}
			if _, excluded := w.excludeDirs[part]; excluded {
				return true
			}
		}
		return false
	}
	return false
}

func (w *FSWatcher) emitEvents(events []FileEvent) {
	w.mu.RLock()
	stopped := w.stopped
	w.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case w.events <- events:
	default:
		count := w.droppedBatches.Add(1)
		slog.Warn("event buffer full, dropping batch",
			slog.Int("batch_size", len(events)),
			slog.Uint64("total_dropped_batches", count))
	}
}

func (w *FSWatcher) emitError(err error) {
	w.mu.RLock()
	stopped := w.stopped
	w.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case w.errors <- err:
	default:
	}
}

// Stop stops the watcher and releases resources. Safe to call multiple
// times.
func (w *FSWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	_ = w.fsw.Close()
	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel of debounced event batches.
func (w *FSWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns the channel of non-fatal watcher errors.
func (w *FSWatcher) Errors() <-chan error {
	return w.errors
}

// DroppedBatches returns the number of batches dropped due to a full event
// buffer.
func (w *FSWatcher) DroppedBatches() uint64 {
	return w.droppedBatches.Load()
}
