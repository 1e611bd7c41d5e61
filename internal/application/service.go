package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/repowatch/internal/domain/port/driven"
)

// ServiceConfig holds the tunables of the polling pipeline.
type ServiceConfig struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	Concurrency  int
	Now          func() time.Time // Defaults to time.Now.
}

// Service wires the registry, the poller set, the scheduler and the
// announcer together. It is built once at startup.
type Service struct {
	Registry   *Registry
	Pollers    *PollerSet
	Poll       *PollService
	Announcer  *Announcer
	Watermarks *Watermarks

	markStore driven.WatermarkStore
}

// NewService creates a Service. markStore may be nil, in which case
// watermarks live only in memory.
func NewService(store driven.RepoStore, source driven.EventSource, messenger driven.Messenger, markStore driven.WatermarkStore, cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	watermarks := NewWatermarks()
	pollers := NewPollerSet(source, watermarks, now, cfg.FetchTimeout)
	registry := NewRegistry(store, pollers, markStore)
	announcer := NewAnnouncer(registry, messenger, now)
	poll := NewPollService(pollers, announcer, cfg.Interval, cfg.Concurrency)

	s := &Service{
		Registry:   registry,
		Pollers:    pollers,
		Poll:       poll,
		Announcer:  announcer,
		Watermarks: watermarks,
		markStore:  markStore,
	}
	if markStore != nil {
		poll.OnCycleComplete(func(ctx context.Context) {
			if err := s.Flush(ctx); err != nil {
				slog.Error("watermark flush failed", "error", err)
			}
		})
	}
	return s
}

// Init restores persisted watermarks (when enabled) and starts tracking every
// pollable repository in the registry. It must run before Start.
func (s *Service) Init(ctx context.Context) error {
	if s.markStore != nil {
		marks, err := s.markStore.LoadWatermarks(ctx)
		if err != nil {
			return fmt.Errorf("loading watermarks: %w", err)
		}
		s.Watermarks.Restore(marks)
		slog.Info("watermarks restored", "count", len(marks))
	}

	repos, err := s.Registry.Pollable(ctx)
	if err != nil {
		return fmt.Errorf("listing pollable repositories: %w", err)
	}
	s.Pollers.Sync(repos)
	s.Watermarks.Retain(s.Pollers.Tracked())

	slog.Info("tracking initialized", "repos", len(repos))
	return nil
}

// Start runs the poll loop until ctx is canceled.
func (s *Service) Start(ctx context.Context) {
	s.Poll.Start(ctx)
}

// Flush persists the current watermarks. It is a no-op when persistence is disabled.
func (s *Service) Flush(ctx context.Context) error {
	return s.Registry.FlushWatermarks(ctx)
}
