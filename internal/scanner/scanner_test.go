package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediamind/mediamind/internal/store"
)

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
	return path
}

func scanPaths(t *testing.T, s *Scanner, roots ...string) map[string]store.FileType {
	t.Helper()
	files, err := s.ScanAll(context.Background(), roots)
	require.NoError(t, err)
	out := make(map[string]store.FileType, len(files))
	for _, f := range files {
		out[f.Path] = f.FileType
	}
	return out
}

func TestScanClassifiesByExtension(t *testing.T) {
	dir := t.TempDir()
	img := writeFile(t, dir, "photo.JPG", 10)
	vid := writeFile(t, dir, "clip.mp4", 10)
	doc := writeFile(t, dir, "notes.txt", 10)
	writeFile(t, dir, "program.exe", 10)

	s := New(Options{})
	found := scanPaths(t, s, dir)

	assert.Len(t, found, 3, "non-media files are skipped")
	assert.Equal(t, store.FileTypeImage, found[img])
	assert.Equal(t, store.FileTypeVideo, found[vid])
	assert.Equal(t, store.FileTypeDocument, found[doc])
}

func TestScanSkipsHiddenAndExcluded(t *testing.T) {
	dir := t.TempDir()
	keep := writeFile(t, dir, "keep.jpg", 10)
	writeFile(t, dir, ".hidden.jpg", 10)
	writeFile(t, dir, ".cache/cached.jpg", 10)
	writeFile(t, dir, "node_modules/dep.jpg", 10)
	nested := writeFile(t, dir, "albums/2026/trip.jpg", 10)

	s := New(Options{ExcludeDirs: []string{"node_modules", ".cache"}})
	found := scanPaths(t, s, dir)

	assert.Contains(t, found, keep)
	assert.Contains(t, found, nested)
	assert.Len(t, found, 2)
}

func TestScanSkipsOversizedFiles(t *testing.T) {
	dir := t.TempDir()
	small := writeFile(t, dir, "small.jpg", 10)
	writeFile(t, dir, "huge.jpg", 1024)

	s := New(Options{MaxFileSize: 512})
	found := scanPaths(t, s, dir)

	assert.Contains(t, found, small)
	assert.Len(t, found, 1)
}

func TestScanCustomExtensions(t *testing.T) {
	dir := t.TempDir()
	raw := writeFile(t, dir, "shot.cr2", 10)
	writeFile(t, dir, "shot.jpg", 10)

	s := New(Options{
		ImageExtensions:    []string{".cr2"},
		VideoExtensions:    []string{".mp4"},
		DocumentExtensions: []string{".txt"},
	})
	found := scanPaths(t, s, dir)

	assert.Equal(t, store.FileTypeImage, found[raw])
	assert.Len(t, found, 1, "custom extension set replaces the default")
}

func TestScanRejectsMissingRoot(t *testing.T) {
	s := New(Options{})
	_, err := s.ScanAll(context.Background(), []string{"/does/not/exist"})
	assert.Error(t, err)
}

func TestScanMultipleRoots(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	a := writeFile(t, dir1, "a.jpg", 10)
	b := writeFile(t, dir2, "b.jpg", 10)

	s := New(Options{})
	found := scanPaths(t, s, dir1, dir2)
	assert.Contains(t, found, a)
	assert.Contains(t, found, b)
}

func TestScanCancellation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.jpg", 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(Options{})
	_, err := s.ScanAll(ctx, []string{dir})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTypeOf(t *testing.T) {
	s := New(Options{})

	ft, ok := s.TypeOf("/x/photo.PNG")
	assert.True(t, ok)
	assert.Equal(t, store.FileTypeImage, ft)

	_, ok = s.TypeOf("/x/archive.zip")
	assert.False(t, ok)
}
