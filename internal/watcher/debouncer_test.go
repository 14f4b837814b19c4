package watcher

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitBatch(t *testing.T, ch <-chan []FileEvent, timeout time.Duration) []FileEvent {
	t.Helper()
	select {
	case batch := <-ch:
		return batch
	case <-time.After(timeout):
		t.Fatal("timeout waiting for batch")
		return nil
	}
}

func TestDebouncer_SingleEvent_PassesThrough(t *testing.T) {
	// Given: a debouncer with short window
	d := NewDebouncer(50*time.Millisecond, quietLogger())
	defer d.Stop()

	// When: a single event is added
	d.Add(FileEvent{Path: "/data/knowledge.yaml", Operation: OpModify, Timestamp: time.Now()})

	// Then: the event passes through after the window
	events := waitBatch(t, d.Output(), 500*time.Millisecond)
	require.Len(t, events, 1)
	assert.Equal(t, "/data/knowledge.yaml", events[0].Path)
	assert.Equal(t, OpModify, events[0].Operation)
}

func TestDebouncer_BurstOfWrites_OneBatch(t *testing.T) {
	// Given: a debouncer
	d := NewDebouncer(100*time.Millisecond, quietLogger())
	defer d.Stop()

	// When: an editor writes the file five times in quick succession
	for range 5 {
		d.Add(FileEvent{Path: "k.yaml", Operation: OpModify, Timestamp: time.Now()})
		time.Sleep(10 * time.Millisecond)
	}

	// Then: one event comes out and nothing follows
	events := waitBatch(t, d.Output(), 500*time.Millisecond)
	require.Len(t, events, 1)
	assert.Equal(t, OpModify, events[0].Operation)

	select {
	case extra := <-d.Output():
		t.Fatalf("unexpected extra batch: %v", extra)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDebouncer_Coalescing(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
		want *Operation
	}{
		{"create then modify", []Operation{OpCreate, OpModify}, ptr(OpCreate)},
		{"create then delete", []Operation{OpCreate, OpDelete}, nil},
		{"modify then delete", []Operation{OpModify, OpDelete}, ptr(OpDelete)},
		{"delete then create", []Operation{OpDelete, OpCreate}, ptr(OpModify)},
		{"rename then create", []Operation{OpRename, OpCreate}, ptr(OpModify)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(30*time.Millisecond, quietLogger())
			defer d.Stop()

			for _, op := range tt.ops {
				d.Add(FileEvent{Path: "k.yaml", Operation: op, Timestamp: time.Now()})
			}

			if tt.want == nil {
				select {
				case batch := <-d.Output():
					t.Fatalf("expected no batch, got %v", batch)
				case <-time.After(150 * time.Millisecond):
				}
				return
			}
			events := waitBatch(t, d.Output(), 500*time.Millisecond)
			require.Len(t, events, 1)
			assert.Equal(t, *tt.want, events[0].Operation)
		})
	}
}

func TestDebouncer_KeepsArrivalOrder(t *testing.T) {
	d := NewDebouncer(30*time.Millisecond, quietLogger())
	defer d.Stop()

	d.Add(FileEvent{Path: "b.yaml", Operation: OpModify})
	d.Add(FileEvent{Path: "a.yaml", Operation: OpModify})

	events := waitBatch(t, d.Output(), 500*time.Millisecond)
	require.Len(t, events, 2)
	assert.Equal(t, "b.yaml", events[0].Path)
	assert.Equal(t, "a.yaml", events[1].Path)
}

func TestDebouncer_StopIsIdempotent(t *testing.T) {
	d := NewDebouncer(10*time.Millisecond, nil)
	d.Stop()
	d.Stop()

	// Add after stop is ignored.
	d.Add(FileEvent{Path: "k.yaml", Operation: OpModify})
	_, ok := <-d.Output()
	assert.False(t, ok)
}

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "MODIFY", OpModify.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "RENAME", OpRename.String())
	assert.Equal(t, "UNKNOWN", Operation(99).String())
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{}.WithDefaults()
	assert.Equal(t, 500*time.Millisecond, o.DebounceWindow)
	assert.Equal(t, 2*time.Second, o.PollInterval)
	assert.Equal(t, 16, o.EventBufferSize)
	assert.NotNil(t, o.Logger)
}

func ptr(op Operation) *Operation { return &op }
