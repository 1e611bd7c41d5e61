package application

import (
	"sync"
	"time"

	"github.com/ericfisherdev/repowatch/internal/domain/model"
	"github.com/ericfisherdev/repowatch/internal/domain/port/driven"
)

// Watermarks holds the cursor of every tracked (repository, stream) pair: the
// timestamp of the newest event already announced. Cursors only move forward.
type Watermarks struct {
	mu    sync.Mutex
	marks map[driven.WatermarkKey]time.Time
}

// NewWatermarks creates an empty watermark table.
func NewWatermarks() *Watermarks {
	return &Watermarks{marks: make(map[driven.WatermarkKey]time.Time)}
}

// Init sets the cursor of every polled stream of the repository to at, unless
// a cursor already exists (for example one restored from storage).
func (w *Watermarks) Init(repoFullName string, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, eventType := range model.PolledEventTypes {
		key := driven.WatermarkKey{RepoFullName: repoFullName, EventType: eventType}
		if _, ok := w.marks[key]; !ok {
			w.marks[key] = at.UTC()
		}
	}
}

// Get returns the cursor of a stream and whether it is tracked.
func (w *Watermarks) Get(repoFullName string, eventType model.EventType) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ts, ok := w.marks[driven.WatermarkKey{RepoFullName: repoFullName, EventType: eventType}]
	return ts, ok
}

// Advance moves the cursor to ts if ts is newer. It reports whether the cursor moved.
func (w *Watermarks) Advance(repoFullName string, eventType model.EventType, ts time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := driven.WatermarkKey{RepoFullName: repoFullName, EventType: eventType}
	if cur, ok := w.marks[key]; ok && !ts.After(cur) {
		return false
	}
	w.marks[key] = ts.UTC()
	return true
}

// Forget drops every cursor of the repository.
func (w *Watermarks) Forget(repoFullName string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for key := range w.marks {
		if key.RepoFullName == repoFullName {
			delete(w.marks, key)
		}
	}
}

// Retain drops the cursors of every repository not in keep.
func (w *Watermarks) Retain(keep []string) {
	set := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		set[name] = struct{}{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for key := range w.marks {
		if _, ok := set[key.RepoFullName]; !ok {
			delete(w.marks, key)
		}
	}
}

// Snapshot returns a copy of all cursors.
func (w *Watermarks) Snapshot() map[driven.WatermarkKey]time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[driven.WatermarkKey]time.Time, len(w.marks))
	for k, v := range w.marks {
		out[k] = v
	}
	return out
}

// Restore loads persisted cursors, replacing any existing value for the same key.
func (w *Watermarks) Restore(marks map[driven.WatermarkKey]time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for k, v := range marks {
		w.marks[k] = v.UTC()
	}
}
