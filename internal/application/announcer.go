package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/repowatch/internal/domain/model"
	"github.com/ericfisherdev/repowatch/internal/domain/port/driven"
)

const (
	unknownAuthor = "unknown author"
	untitled      = "(no title)"

	// recentCapacity bounds the in-memory announcement history.
	recentCapacity = 50
)

// ChannelLookup resolves the channels subscribed to a repository.
type ChannelLookup interface {
	ChannelsFor(ctx context.Context, fullName string) ([]string, error)
}

// Announcer formats new events and dispatches them to every channel
// subscribed to the event's repository.
type Announcer struct {
	channels  ChannelLookup
	messenger driven.Messenger
	now       func() time.Time

	mu     sync.Mutex
	recent []model.Announcement // oldest first
}

// NewAnnouncer creates an Announcer.
func NewAnnouncer(channels ChannelLookup, messenger driven.Messenger, now func() time.Time) *Announcer {
	if now == nil {
		now = time.Now
	}
	return &Announcer{
		channels:  channels,
		messenger: messenger,
		now:       now,
	}
}

// Format renders the announcement text of an event:
//
//	New commit in owner/name from alice: Fix race in watcher ( https://github.com/... )
//
// Only the first line of a multi-line title is used.
func Format(eventType model.EventType, event model.Event, repoFullName string) string {
	author := event.Author
	if author == "" {
		author = unknownAuthor
	}

	title, _, _ := strings.Cut(event.Title, "\n")
	title = strings.TrimSpace(title)
	if title == "" {
		title = untitled
	}

	return fmt.Sprintf("%s in %s from %s: %s ( %s )", eventType.Noun(), repoFullName, author, title, event.URL)
}

// Announce dispatches each event to the repository's channels, oldest first.
// Events of a repository without channels are dropped. A failed delivery to
// one channel does not stop delivery to the others. It returns the number of
// messages sent.
func (a *Announcer) Announce(ctx context.Context, repoFullName string, events []model.Event) (int, error) {
	var sent int
	var errs []error

	// Events arrive newest first.
	for i := len(events) - 1; i >= 0; i-- {
		event := events[i]

		channels, err := a.channels.ChannelsFor(ctx, repoFullName)
		if err != nil {
			errs = append(errs, fmt.Errorf("channels for %s: %w", repoFullName, err))
			continue
		}
		if len(channels) == 0 {
			slog.Debug("dropping event for repository without channels", "repo", repoFullName, "url", event.URL)
			continue
		}

		text := Format(event.Type, event, repoFullName)
		var delivered []string
		for _, channel := range channels {
			if err := a.Dispatch(ctx, channel, text); err != nil {
				errs = append(errs, err)
				continue
			}
			delivered = append(delivered, channel)
			sent++
		}

		if len(delivered) > 0 {
			a.record(model.Announcement{
				RepoFullName: repoFullName,
				Event:        event,
				Text:         text,
				Channels:     delivered,
				AnnouncedAt:  a.now().UTC(),
			})
		}
	}

	return sent, errors.Join(errs...)
}

// Dispatch sends one message to one channel.
func (a *Announcer) Dispatch(ctx context.Context, channel, text string) error {
	if err := a.messenger.SendMessage(ctx, channel, text); err != nil {
		return fmt.Errorf("send to %s: %w", channel, err)
	}
	return nil
}

func (a *Announcer) record(ann model.Announcement) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.recent = append(a.recent, ann)
	if len(a.recent) > recentCapacity {
		a.recent = a.recent[len(a.recent)-recentCapacity:]
	}
}

// Recent returns the latest announcements, newest first.
func (a *Announcer) Recent() []model.Announcement {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]model.Announcement, len(a.recent))
	for i, ann := range a.recent {
		out[len(a.recent)-1-i] = ann
	}
	return out
}
