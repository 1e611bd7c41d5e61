package application

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ericfisherdev/repowatch/internal/domain/model"
	"github.com/ericfisherdev/repowatch/internal/domain/port/driven"
)

// ErrNotTracked is returned when an operation targets a repository that has
// no active poller.
var ErrNotTracked = errors.New("repository is not being polled")

// trackedRepo pairs a poller with the lock that serializes its polls against
// registry changes to the same repository.
type trackedRepo struct {
	mu      sync.Mutex
	repo    model.Repository
	poller  *Poller
	removed bool
}

// PollerSet is the set of active pollers, one per pollable repository.
type PollerSet struct {
	mu      sync.RWMutex
	entries map[string]*trackedRepo

	source       driven.EventSource
	watermarks   *Watermarks
	now          func() time.Time
	fetchTimeout time.Duration
}

// NewPollerSet creates an empty PollerSet. Pollers share the given source and
// watermark table.
func NewPollerSet(source driven.EventSource, watermarks *Watermarks, now func() time.Time, fetchTimeout time.Duration) *PollerSet {
	if now == nil {
		now = time.Now
	}
	return &PollerSet{
		entries:      make(map[string]*trackedRepo),
		source:       source,
		watermarks:   watermarks,
		now:          now,
		fetchTimeout: fetchTimeout,
	}
}

// Track starts polling the repository. It is a no-op if a poller already exists.
func (s *PollerSet) Track(repo model.Repository) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[repo.FullName]; ok {
		return
	}
	s.entries[repo.FullName] = &trackedRepo{
		repo:   repo,
		poller: NewPoller(repo.FullName, s.source, s.watermarks, s.now, s.fetchTimeout),
	}
}

// UntrackWith stops polling the repository once commit succeeds. Commit runs
// while holding the repository's poll lock, so it never overlaps a poll of the
// same repository. When the repository is not tracked, commit runs unguarded.
func (s *PollerSet) UntrackWith(repoFullName string, commit func() error) error {
	s.mu.RLock()
	entry, ok := s.entries[repoFullName]
	s.mu.RUnlock()

	if !ok {
		return commit()
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := commit(); err != nil {
		return err
	}

	entry.removed = true

	s.mu.Lock()
	if s.entries[repoFullName] == entry {
		delete(s.entries, repoFullName)
	}
	s.mu.Unlock()

	s.watermarks.Forget(repoFullName)
	s.source.Forget(repoFullName)

	return nil
}

// Untrack stops polling the repository.
func (s *PollerSet) Untrack(repoFullName string) {
	_ = s.UntrackWith(repoFullName, func() error { return nil })
}

// Sync makes the set track exactly the given repositories.
func (s *PollerSet) Sync(repos []model.Repository) {
	want := make(map[string]struct{}, len(repos))
	for _, repo := range repos {
		want[repo.FullName] = struct{}{}
		s.Track(repo)
	}

	for _, name := range s.Tracked() {
		if _, ok := want[name]; !ok {
			s.Untrack(name)
		}
	}
}

// Tracked returns the names of all tracked repositories, sorted.
func (s *PollerSet) Tracked() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsTracked reports whether the repository has an active poller.
func (s *PollerSet) IsTracked(repoFullName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entries[repoFullName]
	return ok
}

// Poll runs fn with the repository's poller while holding its poll lock. fn is
// skipped if the repository was untracked in the meantime.
func (s *PollerSet) Poll(ctx context.Context, repoFullName string, fn func(context.Context, *Poller) error) error {
	s.mu.RLock()
	entry, ok := s.entries[repoFullName]
	s.mu.RUnlock()

	if !ok {
		return ErrNotTracked
	}
	return entry.poll(ctx, fn)
}

func (e *trackedRepo) poll(ctx context.Context, fn func(context.Context, *Poller) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return nil
	}
	return fn(ctx, e.poller)
}
