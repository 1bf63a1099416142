package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(path string, op Operation) FileEvent {
	return FileEvent{Path: path, Operation: op, Timestamp: time.Now()}
}

func collectBatch(t *testing.T, d *Debouncer) []FileEvent {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a debounced batch")
		return nil
	}
}

func TestDebouncerEmitsAfterQuietWindow(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(event("/a.jpg", OpCreate))
	d.Add(event("/b.jpg", OpModify))

	batch := collectBatch(t, d)
	assert.Len(t, batch, 2)
}

func TestDebouncerCoalescing(t *testing.T) {
	cases := []struct {
		name string
		ops  []Operation
		want *Operation // nil means the events cancel out
	}{
		{"create then modify is create", []Operation{OpCreate, OpModify}, opPtr(OpCreate)},
		{"create then delete cancels", []Operation{OpCreate, OpDelete}, nil},
		{"modify then delete is delete", []Operation{OpModify, OpDelete}, opPtr(OpDelete)},
		{"delete then create is modify", []Operation{OpDelete, OpCreate}, opPtr(OpModify)},
		{"modify then modify is modify", []Operation{OpModify, OpModify}, opPtr(OpModify)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDebouncer(20 * time.Millisecond)
			defer d.Stop()

			for _, op := range tc.ops {
				d.Add(event("/file.jpg", op))
			}
			// A second path guarantees a batch is emitted even when the
			// events for /file.jpg cancel out.
			d.Add(event("/other.jpg", OpModify))

			batch := collectBatch(t, d)

			var got *Operation
			for _, ev := range batch {
				if ev.Path == "/file.jpg" {
					op := ev.Operation
					got = &op
				}
			}
			if tc.want == nil {
				assert.Nil(t, got, "cancelled events must not surface")
			} else {
				require.NotNil(t, got)
				assert.Equal(t, *tc.want, *got)
			}
		})
	}
}

func TestDebouncerRestartsWindowOnActivity(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	// Keep the path busy for longer than one window; everything lands in a
	// single batch because each Add pushes the flush out.
	for i := 0; i < 4; i++ {
		d.Add(event("/busy.jpg", OpModify))
		time.Sleep(20 * time.Millisecond)
	}

	batch := collectBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, "/busy.jpg", batch[0].Path)

	select {
	case extra, ok := <-d.Output():
		if ok {
			t.Fatalf("unexpected second batch: %v", extra)
		}
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDebouncerStopIsIdempotent(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	d.Stop()
	d.Stop()

	// Adds after Stop are discarded.
	d.Add(event("/late.jpg", OpCreate))

	_, ok := <-d.Output()
	assert.False(t, ok, "output closes on Stop")
}

func opPtr(op Operation) *Operation { return &op }
