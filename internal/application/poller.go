package application

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/repowatch/internal/domain/model"
	"github.com/ericfisherdev/repowatch/internal/domain/port/driven"
)

// Poller fetches the event streams of one repository and returns only the
// events newer than the stream's watermark.
type Poller struct {
	repoFullName string
	source       driven.EventSource
	watermarks   *Watermarks
	now          func() time.Time
	fetchTimeout time.Duration
}

// NewPoller creates a Poller and initializes the repository's watermarks to
// now, so events that predate tracking are never announced.
func NewPoller(repoFullName string, source driven.EventSource, watermarks *Watermarks, now func() time.Time, fetchTimeout time.Duration) *Poller {
	if now == nil {
		now = time.Now
	}
	watermarks.Init(repoFullName, now())

	return &Poller{
		repoFullName: repoFullName,
		source:       source,
		watermarks:   watermarks,
		now:          now,
		fetchTimeout: fetchTimeout,
	}
}

// RepoFullName returns the repository this poller watches.
func (p *Poller) RepoFullName() string {
	return p.repoFullName
}

// PollNew fetches one stream and returns the events strictly newer than its
// watermark, in API order, advancing the watermark to the newest one returned.
// A 304 or an empty page yields no events and leaves the watermark untouched.
// Items of the issues stream linked to a pull request come back typed as pull
// requests; the watermark stays keyed by the stream that was fetched.
func (p *Poller) PollNew(ctx context.Context, eventType model.EventType) ([]model.Event, error) {
	if p.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.fetchTimeout)
		defer cancel()
	}

	result, err := p.source.FetchEvents(ctx, p.repoFullName, eventType)
	if err != nil {
		return nil, fmt.Errorf("poll %s %s: %w", p.repoFullName, eventType, err)
	}
	if result.NotModified || len(result.Events) == 0 {
		return nil, nil
	}

	mark, _ := p.watermarks.Get(p.repoFullName, eventType)
	now := p.now().UTC()
	newest := mark

	var fresh []model.Event
	for _, event := range result.Events {
		// Undated items are stamped with the poll time.
		if event.Timestamp.IsZero() {
			event.Timestamp = now
		}
		if event.IsPullRequest {
			event.Type = model.EventTypePullRequest
		}
		if !event.Timestamp.After(mark) {
			continue
		}
		fresh = append(fresh, event)
		if event.Timestamp.After(newest) {
			newest = event.Timestamp
		}
	}

	if len(fresh) > 0 {
		p.watermarks.Advance(p.repoFullName, eventType, newest)
	}

	return fresh, nil
}
