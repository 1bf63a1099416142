package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, root string) *FSWatcher {
	t.Helper()

	w, err := NewFSWatcher(Options{DebounceWindow: 30 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Start(ctx, root)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watch set a moment to register before mutating the tree.
	time.Sleep(50 * time.Millisecond)
	return w
}

func waitForBatch(t *testing.T, w *FSWatcher) []FileEvent {
	t.Helper()
	select {
	case batch := <-w.Events():
		return batch
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for watcher events")
		return nil
	}
}

func TestWatcherSeesNewFile(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	path := filepath.Join(dir, "new.jpg")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))

	batch := waitForBatch(t, w)
	require.NotEmpty(t, batch)
	assert.Equal(t, path, batch[0].Path)
	assert.Equal(t, OpCreate, batch[0].Operation)
}

func TestWatcherSeesFilesInNewDirectory(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	sub := filepath.Join(dir, "album")
	require.NoError(t, os.Mkdir(sub, 0755))
	// The new directory must be picked up before files inside it are seen.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(sub, "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case batch := <-w.Events():
			for _, ev := range batch {
				if ev.Path == path {
					assert.Equal(t, OpCreate, ev.Operation)
					return
				}
			}
		case <-deadline:
			t.Fatal("never saw the file created in the new directory")
		}
	}
}

func TestWatcherIgnoresHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.jpg"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "visible.jpg"), []byte("x"), 0644))

	batch := waitForBatch(t, w)
	for _, ev := range batch {
		assert.NotEqual(t, ".hidden.jpg", filepath.Base(ev.Path))
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w, err := NewFSWatcher(Options{})
	require.NoError(t, err)
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	_, ok := <-w.Events()
	assert.False(t, ok)
}

func TestShouldIgnore(t *testing.T) {
	w, err := NewFSWatcher(Options{ExcludeDirs: []string{"node_modules"}})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()
	w.roots = []string{"/media"}

	assert.True(t, w.shouldIgnore("/media/.trash.jpg", false))
	assert.True(t, w.shouldIgnore("/media/.cache/a.jpg", false))
	assert.True(t, w.shouldIgnore("/media/node_modules/a.jpg", false))
	assert.True(t, w.shouldIgnore("/media/node_modules", true))
	assert.False(t, w.shouldIgnore("/media/albums/a.jpg", false))
}

func TestOptionsWithDefaults(t *testing.T) {
	opts := Options{}.WithDefaults()
	assert.Equal(t, 500*time.Millisecond, opts.DebounceWindow)
	assert.Equal(t, 100, opts.EventBufferSize)

	custom := Options{DebounceWindow: time.Second, EventBufferSize: 5}.WithDefaults()
	assert.Equal(t, time.Second, custom.DebounceWindow)
	assert.Equal(t, 5, custom.EventBufferSize)
}

func TestOperationString(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "MODIFY", OpModify.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "RENAME", OpRename.String())
}
