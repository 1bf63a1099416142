package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mediamind/mediamind/internal/store"
)

// Scanner walks scan roots and streams the media files it finds. Directory
// entries whose names start with a dot are always skipped.
type Scanner struct {
	extensions  map[string]store.FileType
	excludeDirs map[string]struct{}
	maxFileSize int64
}

// New creates a Scanner from the given options.
func New(opts Options) *Scanner {
	s := &Scanner{
		extensions:  make(map[string]store.FileType),
		excludeDirs: make(map[string]struct{}),
		maxFileSize: opts.MaxFileSize,
	}
	if s.maxFileSize <= 0 {
		s.maxFileSize = DefaultMaxFileSize
	}

	addExts := func(exts []string, ft store.FileType) {
		for _, ext := range exts {
			s.extensions[strings.ToLower(ext)] = ft
		}
	}
	if len(opts.ImageExtensions)+len(opts.VideoExtensions)+len(opts.DocumentExtensions) == 0 {
		addExts([]string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".webp"}, store.FileTypeImage)
		addExts([]string{".mp4", ".avi", ".mov", ".mkv"}, store.FileTypeVideo)
		addExts([]string{".pdf", ".docx", ".pptx", ".txt"}, store.FileTypeDocument)
	} else {
		addExts(opts.ImageExtensions, store.FileTypeImage)
		addExts(opts.VideoExtensions, store.FileTypeVideo)
		addExts(opts.DocumentExtensions, store.FileTypeDocument)
	}

	for _, dir := range opts.ExcludeDirs {
		s.excludeDirs[dir] = struct{}{}
	}

	return s
}

// TypeOf returns the media class for a path, or false if the extension is
// not a supported media type.
func (s *Scanner) TypeOf(path string) (store.FileType, bool) {
	ft, ok := s.extensions[strings.ToLower(filepath.Ext(path))]
	return ft, ok
}

// Scan walks the roots and streams discovered files. The channel is closed
// when all roots are walked or ctx is cancelled. Unreadable entries are
// reported as Result.Err and do not stop the walk.
func (s *Scanner) Scan(ctx context.Context, roots []string) (<-chan Result, error) {
	absRoots := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to stat root %s: %w", abs, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("scan root is not a directory: %s", abs)
		}
		absRoots = append(absRoots, abs)
	}

	results := make(chan Result, 64)
	go func() {
		defer close(results)
		for _, root := range absRoots {
			if ctx.Err() != nil {
				return
			}
			s.walk(ctx, root, results)
		}
	}()

	return results, nil
}

// ScanAll collects every discovered file into a slice, logging non-fatal
// per-path errors.
func (s *Scanner) ScanAll(ctx context.Context, roots []string) ([]FileInfo, error) {
	ch, err := s.Scan(ctx, roots)
	if err != nil {
		return nil, err
	}

	var files []FileInfo
	for res := range ch {
		if res.Err != nil {
			slog.Warn("scan_entry_failed", slog.String("error", res.Err.Error()))
			continue
		}
		files = append(files, res.File)
	}
	return files, ctx.Err()
}

func (s *Scanner) walk(ctx context.Context, root string, results chan<- Result) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			select {
			case results <- Result{Err: fmt.Errorf("%s: %w", path, err)}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if path != root {
				if strings.HasPrefix(name, ".") {
					return filepath.SkipDir
				}
				if _, excluded := s.excludeDirs[name]; excluded {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}

		ft, ok := s.extensions[strings.ToLower(filepath.Ext(name))]
		if !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			select {
			case results <- Result{Err: fmt.Errorf("%s: %w", path, err)}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		}
		if info.Size() > s.maxFileSize {
			slog.Debug("scan_skip_large_file",
				slog.String("path", path),
				slog.Int64("size", info.Size()))
			return nil
		}

		select {
		case results <- Result{File: FileInfo{
			Path:     path,
			FileType: ft,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
		}}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}
