package web

import (
	"strings"
	"time"

	vm "github.com/ericfisherdev/repowatch/internal/adapter/driving/web/viewmodel"
	"github.com/ericfisherdev/repowatch/internal/application"
	"github.com/ericfisherdev/repowatch/internal/domain/model"
)

const displayTime = "2006-01-02 15:04:05 MST"

// toRepoRowViewModel converts a listing and its cursors into a dashboard row.
// Cursors are only shown for repositories that are actually polled.
func toRepoRowViewModel(l model.RepositoryListing, marks WatermarkReader) vm.RepoRowViewModel {
	channels := l.Channels
	if channels == nil {
		channels = []string{}
	}

	row := vm.RepoRowViewModel{
		FullName: l.FullName,
		URL:      "https://github.com/" + l.FullName,
		State:    l.State(),
		Channels: channels,
	}

	if marks == nil || !l.Pollable() {
		return row
	}
	for _, stream := range model.PolledEventTypes {
		wm := vm.WatermarkViewModel{Stream: string(stream)}
		if cursor, ok := marks.Get(l.FullName, stream); ok {
			wm.Cursor = cursor.UTC().Format(displayTime)
		}
		row.Watermarks = append(row.Watermarks, wm)
	}
	return row
}

func toAnnouncementViewModel(a model.Announcement) vm.AnnouncementViewModel {
	author := a.Event.Author
	if author == "" {
		author = "unknown author"
	}

	return vm.AnnouncementViewModel{
		Repository:  a.RepoFullName,
		Noun:        a.Event.Type.Noun(),
		Author:      author,
		TitleHTML:   RenderTitle(a.Event.Title),
		URL:         safeURL(a.Event.URL),
		Channels:    a.Channels,
		AnnouncedAt: a.AnnouncedAt.UTC().Format(displayTime),
	}
}

func toCycleViewModel(stats *application.CycleStats) *vm.CycleViewModel {
	if stats == nil {
		return nil
	}
	return &vm.CycleViewModel{
		StartedAt: stats.StartedAt.UTC().Format(displayTime),
		Duration:  stats.Duration.Round(time.Millisecond).String(),
		Repos:     stats.Repos,
		Events:    stats.Events,
		Messages:  stats.Messages,
		Errors:    stats.Errors,
	}
}

// safeURL drops anything that is not an http(s) link so event data can never
// inject a javascript: href.
func safeURL(u string) string {
	if strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://") {
		return u
	}
	return ""
}
