// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/repowatch/internal/domain/model"
)

// ErrRefreshNotQueued is returned by RefreshRepo when the context ends before
// the poll loop accepts the request. No poll was started.
var ErrRefreshNotQueued = errors.New("refresh not queued: poll loop busy")

// refreshRequest represents a manual refresh trigger. An empty repoFullName
// refreshes every tracked repository.
type refreshRequest struct {
	repoFullName string
	done         chan error
}

// CycleStats summarizes one poll cycle.
type CycleStats struct {
	Repos     int
	Events    int
	Messages  int
	Errors    int
	StartedAt time.Time
	Duration  time.Duration
}

// PollService drives periodic polling of every tracked repository and routes
// new events to the Announcer.
type PollService struct {
	pollers     *PollerSet
	announcer   *Announcer
	interval    time.Duration
	concurrency int
	refreshCh   chan refreshRequest
	afterCycle  func(context.Context)

	last atomic.Pointer[CycleStats]
}

// NewPollService creates a new PollService. concurrency bounds how many
// repositories are polled at once within a cycle.
func NewPollService(pollers *PollerSet, announcer *Announcer, interval time.Duration, concurrency int) *PollService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &PollService{
		pollers:     pollers,
		announcer:   announcer,
		interval:    interval,
		concurrency: concurrency,
		refreshCh:   make(chan refreshRequest),
	}
}

// Start begins the polling loop. It runs an immediate poll, then polls on the
// configured interval. It also listens for manual refresh requests. Start blocks
// until the context is canceled. Cycles never overlap.
func (s *PollService) Start(ctx context.Context) {
	s.pollAll(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("poll service stopped")
			return
		case <-ticker.C:
			s.pollAll(ctx)
		case req := <-s.refreshCh:
			req.done <- s.handleRefresh(ctx, req)
		}
	}
}

// RefreshRepo triggers a manual poll of one repository, or of every tracked
// repository when repoFullName is empty, bypassing the polling interval. It
// blocks until the refresh completes or the context is canceled. A context
// that ends while the loop is still busy yields ErrRefreshNotQueued; once the
// request is queued the refresh runs to completion even if ctx ends first.
func (s *PollService) RefreshRepo(ctx context.Context, repoFullName string) error {
	done := make(chan error, 1)
	req := refreshRequest{
		repoFullName: repoFullName,
		done:         done,
	}

	select {
	case s.refreshCh <- req:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrRefreshNotQueued, ctx.Err())
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastCycle returns the statistics of the most recent completed cycle, or nil.
func (s *PollService) LastCycle() *CycleStats {
	return s.last.Load()
}

// OnCycleComplete registers a hook run on the loop goroutine after every cycle.
// It must be called before Start.
func (s *PollService) OnCycleComplete(fn func(context.Context)) {
	s.afterCycle = fn
}

func (s *PollService) handleRefresh(ctx context.Context, req refreshRequest) error {
	if req.repoFullName == "" {
		slog.Info("manual refresh requested")
		s.pollAll(ctx)
		return nil
	}

	slog.Info("manual refresh requested", "repo", req.repoFullName)
	_, _, err := s.pollRepo(ctx, req.repoFullName)
	if s.afterCycle != nil {
		s.afterCycle(ctx)
	}
	return err
}

// pollAll polls every tracked repository, at most concurrency at a time. A
// failing repository never aborts the cycle for the others.
func (s *PollService) pollAll(ctx context.Context) {
	start := time.Now()
	cycle := uuid.NewString()
	names := s.pollers.Tracked()

	var events, messages, pollErrors atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			found, sent, err := s.pollRepo(ctx, name)
			events.Add(int64(found))
			messages.Add(int64(sent))
			if err != nil {
				slog.Error("repo poll failed", "cycle", cycle, "repo", name, "error", err)
				pollErrors.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats := &CycleStats{
		Repos:     len(names),
		Events:    int(events.Load()),
		Messages:  int(messages.Load()),
		Errors:    int(pollErrors.Load()),
		StartedAt: start,
		Duration:  time.Since(start).Round(time.Millisecond),
	}
	s.last.Store(stats)

	slog.Info("poll cycle complete",
		"cycle", cycle,
		"repos", stats.Repos,
		"events", stats.Events,
		"messages", stats.Messages,
		"errors", stats.Errors,
		"duration", stats.Duration,
	)

	if s.afterCycle != nil {
		s.afterCycle(ctx)
	}
}

// pollRepo polls every stream of one repository under the repository's lock
// and announces what is new. It returns the number of new events and of
// messages sent.
func (s *PollService) pollRepo(ctx context.Context, repoFullName string) (int, int, error) {
	var found, sent int
	var errs []error

	err := s.pollers.Poll(ctx, repoFullName, func(ctx context.Context, p *Poller) error {
		for _, eventType := range model.PolledEventTypes {
			events, err := p.PollNew(ctx, eventType)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if len(events) == 0 {
				continue
			}

			found += len(events)
			n, err := s.announcer.Announce(ctx, repoFullName, events)
			sent += n
			if err != nil {
				errs = append(errs, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	return found, sent, errors.Join(errs...)
}
