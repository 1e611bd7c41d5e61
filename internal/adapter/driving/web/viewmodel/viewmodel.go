// Package viewmodel defines presentation-ready structs for the dashboard components.
// View models decouple rendering from domain model types.
package viewmodel

import "fmt"

// DashboardViewModel holds everything rendered on the dashboard page.
type DashboardViewModel struct {
	Repos         []RepoRowViewModel
	Announcements []AnnouncementViewModel
	LastCycle     *CycleViewModel // Nil until the first poll cycle completes.
	CSRFToken     string
	GeneratedAt   string
}

// RepoRowViewModel holds presentation-ready data for one registered repository.
type RepoRowViewModel struct {
	FullName   string
	URL        string
	State      string
	Channels   []string
	Watermarks []WatermarkViewModel
}

// WatermarkViewModel is the cursor of one polled stream.
type WatermarkViewModel struct {
	Stream string
	Cursor string // Empty when the stream has no cursor yet.
}

// AnnouncementViewModel holds presentation-ready data for a dispatched announcement.
type AnnouncementViewModel struct {
	Repository  string
	Noun        string
	Author      string
	TitleHTML   string // Sanitized inline HTML.
	URL         string
	Channels    []string
	AnnouncedAt string
}

// Headline describes the event the way the chat message does.
func (a AnnouncementViewModel) Headline() string {
	return a.Noun + " in " + a.Repository + " from " + a.Author
}

// CycleViewModel summarizes the last poll cycle.
type CycleViewModel struct {
	StartedAt string
	Duration  string
	Repos     int
	Events    int
	Messages  int
	Errors    int
}

// Summary is the one-line description shown in the dashboard header.
func (c CycleViewModel) Summary() string {
	return fmt.Sprintf("Last cycle %s took %s: %d repositories, %d new events, %d messages, %d errors.",
		c.StartedAt, c.Duration, c.Repos, c.Events, c.Messages, c.Errors)
}
