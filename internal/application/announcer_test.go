package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/repowatch/internal/application"
	"github.com/ericfisherdev/repowatch/internal/domain/model"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name      string
		eventType model.EventType
		event     model.Event
		want      string
	}{
		{
			name:      "commit uses first line of message",
			eventType: model.EventTypeCommit,
			event:     model.Event{Author: "alice", Title: "Fix race\n\nDetails here.", URL: "https://github.com/octo/hello/commit/abc"},
			want:      "New commit in octo/hello from alice: Fix race ( https://github.com/octo/hello/commit/abc )",
		},
		{
			name:      "issue",
			eventType: model.EventTypeIssue,
			event:     model.Event{Author: "bob", Title: "Crash on start", URL: "https://github.com/octo/hello/issues/1"},
			want:      "New issue in octo/hello from bob: Crash on start ( https://github.com/octo/hello/issues/1 )",
		},
		{
			name:      "pull request",
			eventType: model.EventTypePullRequest,
			event:     model.Event{Author: "carol", Title: "Add retries", URL: "https://github.com/octo/hello/pull/2"},
			want:      "New pull request in octo/hello from carol: Add retries ( https://github.com/octo/hello/pull/2 )",
		},
		{
			name:      "placeholders",
			eventType: model.EventTypeCommit,
			event:     model.Event{URL: "u"},
			want:      "New commit in octo/hello from unknown author: (no title) ( u )",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, application.Format(tc.eventType, tc.event, "octo/hello"))
		})
	}
}

func newAnnouncerFixture(t *testing.T) (*application.Announcer, *memRepoStore, *fakeMessenger) {
	t.Helper()

	store := newMemRepoStore()
	repo, err := model.NewRepository(repoName)
	require.NoError(t, err)
	require.NoError(t, store.Add(context.Background(), repo))

	messenger := &fakeMessenger{}
	clock := &fixedClock{now: t0}
	return application.NewAnnouncer(store, messenger, clock.Now), store, messenger
}

func TestAnnouncer_DispatchesToEveryChannelOldestFirst(t *testing.T) {
	announcer, store, messenger := newAnnouncerFixture(t)
	ctx := context.Background()
	require.NoError(t, store.Assign(ctx, repoName, "#a"))
	require.NoError(t, store.Assign(ctx, repoName, "#b"))

	sent, err := announcer.Announce(ctx, repoName, []model.Event{
		ev(model.EventTypeCommit, 2, "second"),
		ev(model.EventTypeCommit, 1, "first"),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, sent)

	msgs := messenger.messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "#a", msgs[0].Channel)
	assert.Contains(t, msgs[0].Text, "first")
	assert.Equal(t, "#b", msgs[1].Channel)
	assert.Contains(t, msgs[2].Text, "second")

	recent := announcer.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, "second", recent[0].Event.Title, "newest first")
	assert.Equal(t, []string{"#a", "#b"}, recent[0].Channels)
}

func TestAnnouncer_NoChannelsDropsSilently(t *testing.T) {
	announcer, _, messenger := newAnnouncerFixture(t)

	sent, err := announcer.Announce(context.Background(), repoName, []model.Event{ev(model.EventTypeIssue, 1, "x")})
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, messenger.messages())
	assert.Empty(t, announcer.Recent())
}

func TestAnnouncer_FailedChannelDoesNotBlockOthers(t *testing.T) {
	announcer, store, messenger := newAnnouncerFixture(t)
	ctx := context.Background()
	require.NoError(t, store.Assign(ctx, repoName, "#broken"))
	require.NoError(t, store.Assign(ctx, repoName, "#ok"))
	messenger.failFor = map[string]error{"#broken": errors.New("channel gone")}

	sent, err := announcer.Announce(ctx, repoName, []model.Event{ev(model.EventTypeIssue, 1, "x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "#broken")
	assert.Equal(t, 1, sent)

	msgs := messenger.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "#ok", msgs[0].Channel)
}

func TestAnnouncer_RecentIsBounded(t *testing.T) {
	announcer, store, _ := newAnnouncerFixture(t)
	ctx := context.Background()
	require.NoError(t, store.Assign(ctx, repoName, "#a"))

	var events []model.Event
	for i := 60; i > 0; i-- {
		events = append(events, ev(model.EventTypeCommit, i, "c"))
	}
	_, err := announcer.Announce(ctx, repoName, events)
	require.NoError(t, err)

	recent := announcer.Recent()
	assert.Len(t, recent, 50)
	assert.Equal(t, at(60), recent[0].Event.Timestamp)
}
