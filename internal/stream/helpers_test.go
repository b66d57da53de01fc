package stream

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/catalog-stream/internal/store"
)

// fakeSource is an in-memory Source whose behaviour tests can change
// while a detector or session is running.
type fakeSource struct {
	mu           sync.Mutex
	kind         store.Kind
	records      any
	changedAt    time.Time
	lastModified time.Time
	hasRows      bool
	snapshotErr  error
	changedErr   error
	lastErr      error
	panics       bool
	snapshots    int
}

func newFakeSource(kind store.Kind) *fakeSource {
	return &fakeSource{kind: kind, records: []string{"initial"}}
}

func (f *fakeSource) Kind() store.Kind {
	return f.kind
}

func (f *fakeSource) Snapshot(context.Context) (store.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("snapshot exploded")
	}
	if f.snapshotErr != nil {
		return store.Snapshot{}, f.snapshotErr
	}
	f.snapshots++
	return store.Snapshot{Kind: f.kind, Records: f.records, Count: 1}, nil
}

func (f *fakeSource) ChangedSince(_ context.Context, since time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.changedErr != nil {
		return false, f.changedErr
	}
	return !f.changedAt.IsZero() && !f.changedAt.Before(since), nil
}

func (f *fakeSource) LastModified(context.Context) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastModified, f.hasRows, f.lastErr
}

// edit stamps a change at `at` with new content.
func (f *fakeSource) edit(at time.Time, records any) {
	f.set(func(f *fakeSource) {
		f.changedAt = at
		f.records = records
	})
}

func (f *fakeSource) set(fn func(f *fakeSource)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type recordingPublisher struct {
	mu        sync.Mutex
	snapshots []store.Snapshot
}

func (p *recordingPublisher) Publish(_ store.Kind, snap store.Snapshot) PublishResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, snap)
	return PublishResult{Delivered: 1}
}

func (p *recordingPublisher) latest() store.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshots[len(p.snapshots)-1]
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snapshots)
}

// syncBuffer is a goroutine-safe session output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var errBrokenPipe = errors.New("broken pipe")

// failingWriter accepts n writes and fails every write after that.
type failingWriter struct {
	syncBuffer
	n int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	if w.n <= 0 {
		w.mu.Unlock()
		return 0, errBrokenPipe
	}
	w.n--
	w.mu.Unlock()
	return w.syncBuffer.Write(p)
}

type sseEvent struct {
	Name string
	Data string
}

func parseEvents(raw string) []sseEvent {
	var events []sseEvent
	for _, frame := range strings.Split(raw, "\n\n") {
		if strings.TrimSpace(frame) == "" {
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(frame, "\n") {
			if v, ok := strings.CutPrefix(line, "event: "); ok {
				ev.Name = v
			} else if v, ok := strings.CutPrefix(line, "data: "); ok {
				ev.Data = v
			}
		}
		events = append(events, ev)
	}
	return events
}

func eventNames(events []sseEvent) []string {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Name)
	}
	return names
}

func eventsNamed(events []sseEvent, name string) []sseEvent {
	var out []sseEvent
	for _, ev := range events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}
