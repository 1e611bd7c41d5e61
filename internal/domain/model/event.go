package model

import "time"

// EventType identifies one of the event streams a repository exposes.
type EventType string

const (
	EventTypeCommit      EventType = "commits"
	EventTypeIssue       EventType = "issues"
	EventTypePullRequest EventType = "pulls"
)

// PolledEventTypes are the streams the scheduler polls. Pull requests are not
// polled directly; they surface through the issues stream and are reclassified.
var PolledEventTypes = []EventType{EventTypeCommit, EventTypeIssue}

// ParseEventType maps a stream name (as used in API paths and commands) to an EventType.
func ParseEventType(s string) (EventType, bool) {
	switch EventType(s) {
	case EventTypeCommit, EventTypeIssue, EventTypePullRequest:
		return EventType(s), true
	default:
		return "", false
	}
}

// Noun returns the fixed announcement noun for the event type.
func (t EventType) Noun() string {
	switch t {
	case EventTypeCommit:
		return "New commit"
	case EventTypeIssue:
		return "New issue"
	case EventTypePullRequest:
		return "New pull request"
	default:
		return "New event"
	}
}

// Event is a single item fetched from one of a repository's event streams.
type Event struct {
	Type      EventType
	Author    string // Empty when no author could be resolved.
	Title     string // Issue/PR title or commit message.
	URL       string
	Timestamp time.Time // Zero when the item carried no timestamp at all.

	// IsPullRequest is set for items of the issues stream that carry
	// pull-request linkage; the poller relabels them before announcing.
	IsPullRequest bool
}

// FetchResult is the outcome of fetching the newest page of one event stream.
type FetchResult struct {
	NotModified   bool
	Events        []Event // Newest first, as returned by the API.
	Malformed     int     // Items excluded because their timestamp could not be parsed.
	RateRemaining int     // -1 when the response carried no rate limit header.
}

// Announcement records a dispatched event for the dashboard and API.
type Announcement struct {
	RepoFullName string
	Event        Event
	Text         string
	Channels     []string
	AnnouncedAt  time.Time
}
