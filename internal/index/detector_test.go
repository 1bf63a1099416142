package index

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediamind/mediamind/internal/scanner"
	"github.com/mediamind/mediamind/internal/store"
)

func TestDetectChangesClassification(t *testing.T) {
	now := time.Now().Truncate(time.Second)

	files := []scanner.FileInfo{
		{Path: "/media/new.jpg", FileType: store.FileTypeImage, Size: 100, ModTime: now},
		{Path: "/media/unchanged.jpg", FileType: store.FileTypeImage, Size: 200, ModTime: now},
		{Path: "/media/resized.jpg", FileType: store.FileTypeImage, Size: 300, ModTime: now},
		{Path: "/media/touched.jpg", FileType: store.FileTypeImage, Size: 400, ModTime: now},
	}
	fingerprints := []*store.Fingerprint{
		{Path: "/media/unchanged.jpg", Size: 200, ModTime: now},
		{Path: "/media/resized.jpg", Size: 999, ModTime: now},
		{Path: "/media/touched.jpg", Size: 400, ModTime: now.Add(-time.Hour)},
		{Path: "/media/gone.jpg", Size: 500, ModTime: now},
	}

	changes := DetectChanges(files, fingerprints)
	require.Len(t, changes, 4)

	byPath := make(map[string]Change, len(changes))
	for _, c := range changes {
		byPath[c.Path] = c
	}
	assert.Equal(t, ChangeAdded, byPath["/media/new.jpg"].Type)
	assert.Equal(t, ChangeModified, byPath["/media/resized.jpg"].Type)
	assert.Equal(t, ChangeModified, byPath["/media/touched.jpg"].Type)
	assert.Equal(t, ChangeDeleted, byPath["/media/gone.jpg"].Type)
	assert.NotContains(t, byPath, "/media/unchanged.jpg")

	// Modified changes carry the previous fingerprint.
	assert.NotNil(t, byPath["/media/resized.jpg"].Previous)
	assert.Nil(t, byPath["/media/new.jpg"].Previous)
}

func TestDetectChangesIgnoresSubsecondMtime(t *testing.T) {
	base := time.Now().Truncate(time.Second)

	files := []scanner.FileInfo{
		{Path: "/media/a.jpg", FileType: store.FileTypeImage, Size: 100, ModTime: base.Add(300 * time.Millisecond)},
	}
	fingerprints := []*store.Fingerprint{
		{Path: "/media/a.jpg", Size: 100, ModTime: base},
	}

	changes := DetectChanges(files, fingerprints)
	assert.Empty(t, changes, "sub-second mtime drift must not trigger re-analysis")
}

func TestDetectChangesOrdering(t *testing.T) {
	now := time.Now().Truncate(time.Second)

	files := []scanner.FileInfo{
		{Path: "/media/b-new.jpg", Size: 1, ModTime: now},
		{Path: "/media/a-new.jpg", Size: 1, ModTime: now},
		{Path: "/media/mod.jpg", Size: 2, ModTime: now},
	}
	fingerprints := []*store.Fingerprint{
		{Path: "/media/mod.jpg", Size: 99, ModTime: now},
		{Path: "/media/z-gone.jpg", Size: 1, ModTime: now},
		{Path: "/media/a-gone.jpg", Size: 1, ModTime: now},
	}

	changes := DetectChanges(files, fingerprints)
	require.Len(t, changes, 5)

	// Deletions first, then modifications, then additions; paths sorted
	// within each class.
	assert.Equal(t, ChangeDeleted, changes[0].Type)
	assert.Equal(t, "/media/a-gone.jpg", changes[0].Path)
	assert.Equal(t, ChangeDeleted, changes[1].Type)
	assert.Equal(t, "/media/z-gone.jpg", changes[1].Path)
	assert.Equal(t, ChangeModified, changes[2].Type)
	assert.Equal(t, ChangeAdded, changes[3].Type)
	assert.Equal(t, "/media/a-new.jpg", changes[3].Path)
	assert.Equal(t, "/media/b-new.jpg", changes[4].Path)
}

func TestGenerateFileID(t *testing.T) {
	id := GenerateFileID("/media/a.jpg")
	assert.Len(t, id, 16)
	assert.Equal(t, id, GenerateFileID("/media/a.jpg"))
	assert.NotEqual(t, id, GenerateFileID("/media/b.jpg"))
}

func TestHashFileContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))

	h1, err := HashFileContent(path)
	require.NoError(t, err)
	assert.NotEmpty(t, h1)

	h2, err := HashFileContent(path)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	require.NoError(t, os.WriteFile(path, []byte("changed"), 0644))
	h3, err := HashFileContent(path)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	_, err = HashFileContent(filepath.Join(dir, "missing.bin"))
	assert.Error(t, err)
}
