// Package scanner discovers media files under the configured scan roots.
package scanner

import (
	"time"

	"github.com/mediamind/mediamind/internal/store"
)

// DefaultMaxFileSize is the size ceiling applied when Options doesn't set
// one (500MB, the stock deployment limit).
const DefaultMaxFileSize = 500 * 1024 * 1024

// FileInfo describes a discovered media file.
type FileInfo struct {
	// Path is the absolute path.
	Path string
	// FileType is the media class derived from the extension.
	FileType store.FileType
	// Size in bytes.
	Size int64
	// ModTime is the filesystem modification time.
	ModTime time.Time
}

// Options configures a scan.
type Options struct {
	// Roots are the directories to walk.
	Roots []string
	// ImageExtensions, VideoExtensions and DocumentExtensions map
	// extensions (with leading dot, lowercase) to media classes. Empty
	// slices fall back to the stock extension set.
	ImageExtensions    []string
	VideoExtensions    []string
	DocumentExtensions []string
	// ExcludeDirs lists directory names skipped entirely.
	ExcludeDirs []string
	// MaxFileSize skips files larger than this many bytes.
	MaxFileSize int64
}

// Result is one streamed scan result: a discovered file or a non-fatal
// error for a path that could not be read.
type Result struct {
	File FileInfo
	Err  error
}
