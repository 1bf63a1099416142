// Package watcher provides real-time watching of the scan roots with
// automatic event debouncing.
//
// Events are coalesced so that rapid change bursts (camera imports, sync
// clients, editors writing temp files) trigger one incremental scan instead
// of many.
package watcher

import (
	"time"
)

// Operation is a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file or directory was deleted.
	OpDelete
	// OpRename indicates a file or directory was renamed.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one observed file system event.
type FileEvent struct {
	// Path is the absolute path of the file or directory.
	Path string

	// Operation is the type of file system operation.
	Operation Operation

	// IsDir indicates the event is for a directory.
	IsDir bool

	// Timestamp is when the event was detected.
	Timestamp time.Time
}

// Options configures the watcher.
type Options struct {
	// DebounceWindow is the quiet period to wait before emitting a
	// coalesced batch. Default: 500ms.
	DebounceWindow time.Duration

	// EventBufferSize is the batch channel buffer size. Default: 100.
	EventBufferSize int

	// ExcludeDirs are directory names skipped entirely, in addition to
	// dot-prefixed directories.
	ExcludeDirs []string
}

// DefaultOptions returns the stock watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		EventBufferSize: 100,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}
