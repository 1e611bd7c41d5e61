package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/repowatch/internal/application"
	"github.com/ericfisherdev/repowatch/internal/domain/model"
	"github.com/ericfisherdev/repowatch/internal/domain/port/driven"
)

type registryFixture struct {
	store    *memRepoStore
	source   *fakeSource
	pollers  *application.PollerSet
	marks    *application.Watermarks
	registry *application.Registry
}

func newRegistryFixture() *registryFixture {
	clock := &fixedClock{now: t0}
	f := &registryFixture{
		store:  newMemRepoStore(),
		source: newFakeSource(),
		marks:  application.NewWatermarks(),
	}
	f.pollers = application.NewPollerSet(f.source, f.marks, clock.Now, time.Second)
	f.registry = application.NewRegistry(f.store, f.pollers, nil)
	return f
}

func TestRegistry_AddThenRemoveRoundTrip(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()

	repo, err := f.registry.Add(ctx, admin, repoName)
	require.NoError(t, err)
	assert.True(t, repo.Enabled)
	assert.False(t, repo.PushEnabled)
	assert.Equal(t, []string{repoName}, f.pollers.Tracked())
	require.NoError(t, f.registry.Assign(ctx, admin, repoName, "#dev"))

	require.NoError(t, f.registry.Remove(ctx, admin, repoName))

	listings, err := f.registry.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, listings)
	assert.Empty(t, f.pollers.Tracked())

	channels, err := f.registry.ChannelsFor(ctx, repoName)
	require.NoError(t, err)
	assert.Empty(t, channels)

	_, ok := f.marks.Get(repoName, model.EventTypeCommit)
	assert.False(t, ok, "watermarks are forgotten")
	assert.Equal(t, []string{repoName}, f.source.forgotten, "cached validators are forgotten")
}

func TestRegistry_Errors(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()

	_, err := f.registry.Add(ctx, admin, repoName)
	require.NoError(t, err)

	_, err = f.registry.Add(ctx, admin, repoName)
	assert.ErrorIs(t, err, driven.ErrRepoAlreadyExists)

	assert.ErrorIs(t, f.registry.Remove(ctx, admin, "octo/missing"), driven.ErrRepoNotFound)
	assert.ErrorIs(t, f.registry.Assign(ctx, admin, "octo/missing", "#dev"), driven.ErrRepoNotFound)
	assert.ErrorIs(t, f.registry.Unassign(ctx, admin, "octo/missing", "#dev"), driven.ErrRepoNotFound)
	assert.ErrorIs(t, f.registry.SetEnabled(ctx, admin, "octo/missing", false), driven.ErrRepoNotFound)

	_, err = f.registry.Add(ctx, admin, "not-a-repo")
	assert.ErrorIs(t, err, model.ErrInvalidRepoName)

	assert.ErrorIs(t, f.registry.Assign(ctx, admin, repoName, ""), model.ErrInvalidChannel)
}

func TestRegistry_NonAdminCannotMutate(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()

	_, err := f.registry.Add(ctx, guest, repoName)
	assert.ErrorIs(t, err, application.ErrUnauthorized)

	_, err = f.registry.Add(ctx, admin, repoName)
	require.NoError(t, err)

	assert.ErrorIs(t, f.registry.Remove(ctx, guest, repoName), application.ErrUnauthorized)
	assert.ErrorIs(t, f.registry.Assign(ctx, guest, repoName, "#dev"), application.ErrUnauthorized)
	assert.ErrorIs(t, f.registry.Unassign(ctx, guest, repoName, "#dev"), application.ErrUnauthorized)
	assert.ErrorIs(t, f.registry.SetEnabled(ctx, guest, repoName, false), application.ErrUnauthorized)
	assert.ErrorIs(t, f.registry.SetPush(ctx, guest, repoName, true), application.ErrUnauthorized)

	listings, err := f.registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Empty(t, listings[0].Channels, "no state change")
	assert.Equal(t, "enabled", listings[0].State())
}

func TestRegistry_AssignIsIdempotentAndUnassignMissingIsNoop(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()

	_, err := f.registry.Add(ctx, admin, repoName)
	require.NoError(t, err)

	require.NoError(t, f.registry.Assign(ctx, admin, repoName, "#dev"))
	require.NoError(t, f.registry.Assign(ctx, admin, repoName, "#dev"))
	require.NoError(t, f.registry.Assign(ctx, admin, repoName, "#alerts"))
	require.NoError(t, f.registry.Unassign(ctx, admin, repoName, "#never"))

	channels, err := f.registry.ChannelsFor(ctx, repoName)
	require.NoError(t, err)
	assert.Equal(t, []string{"#alerts", "#dev"}, channels)
}

func TestRegistry_DisableAndPushStopPolling(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()

	_, err := f.registry.Add(ctx, admin, repoName)
	require.NoError(t, err)

	require.NoError(t, f.registry.SetEnabled(ctx, admin, repoName, false))
	assert.Empty(t, f.pollers.Tracked())

	require.NoError(t, f.registry.SetEnabled(ctx, admin, repoName, true))
	assert.Equal(t, []string{repoName}, f.pollers.Tracked())

	require.NoError(t, f.registry.SetPush(ctx, admin, repoName, true))
	assert.Empty(t, f.pollers.Tracked())

	pollable, err := f.registry.Pollable(ctx)
	require.NoError(t, err)
	assert.Empty(t, pollable)

	listings, err := f.registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "push", listings[0].State())
}

func TestRegistry_RemoveWaitsForInFlightPoll(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()

	_, err := f.registry.Add(ctx, admin, repoName)
	require.NoError(t, err)

	f.source.started = make(chan struct{}, 1)
	f.source.block = make(chan struct{})

	pollDone := make(chan error, 1)
	go func() {
		pollDone <- f.pollers.Poll(ctx, repoName, func(ctx context.Context, p *application.Poller) error {
			_, err := p.PollNew(ctx, model.EventTypeCommit)
			return err
		})
	}()
	<-f.source.started

	removed := make(chan error, 1)
	go func() {
		removed <- f.registry.Remove(ctx, admin, repoName)
	}()

	select {
	case <-removed:
		t.Fatal("remove completed while a poll of the same repository was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.source.block)
	require.NoError(t, <-pollDone)
	require.NoError(t, <-removed)
	assert.False(t, f.pollers.IsTracked(repoName))
}

func TestRegistry_FlushRacingRemoveDoesNotResurrectCursors(t *testing.T) {
	f := newRegistryFixture()
	persisted := &memWatermarkStore{}
	f.store.marks = persisted
	f.registry = application.NewRegistry(f.store, f.pollers, persisted)
	ctx := context.Background()

	_, err := f.registry.Add(ctx, admin, repoName)
	require.NoError(t, err)
	require.NoError(t, f.registry.FlushWatermarks(ctx))
	require.True(t, persisted.has(repoName))

	// Hold the next flush inside the save, after it took its snapshot.
	persisted.entered = make(chan struct{}, 1)
	persisted.gate = make(chan struct{})
	flushed := make(chan error, 1)
	go func() {
		flushed <- f.registry.FlushWatermarks(ctx)
	}()
	<-persisted.entered

	removed := make(chan error, 1)
	go func() {
		removed <- f.registry.Remove(ctx, admin, repoName)
	}()

	select {
	case <-removed:
		t.Fatal("remove completed while a flush was saving")
	case <-time.After(50 * time.Millisecond):
	}

	close(persisted.gate)
	require.NoError(t, <-flushed)
	require.NoError(t, <-removed)
	assert.False(t, persisted.has(repoName), "removed repository has no persisted cursors")

	require.NoError(t, f.registry.FlushWatermarks(ctx))
	assert.False(t, persisted.has(repoName), "later flushes do not write them back")
}

func TestRegistry_PollAfterRemovalIsSkipped(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()

	_, err := f.registry.Add(ctx, admin, repoName)
	require.NoError(t, err)
	require.NoError(t, f.registry.Remove(ctx, admin, repoName))

	err = f.pollers.Poll(ctx, repoName, func(context.Context, *application.Poller) error {
		t.Fatal("poll must not run for a removed repository")
		return nil
	})
	assert.ErrorIs(t, err, application.ErrNotTracked)
	assert.Equal(t, 0, f.source.callCount())
}

func TestRegistry_ApplySeed(t *testing.T) {
	f := newRegistryFixture()
	ctx := context.Background()
	disabled := false

	_, err := f.registry.Add(ctx, admin, "octo/existing")
	require.NoError(t, err)

	err = f.registry.ApplySeed(ctx, []application.SeedEntry{
		{FullName: "octo/existing", Channels: []string{"#dev"}},
		{FullName: "octo/quiet", Channels: []string{"#ops"}, Enabled: &disabled},
		{FullName: "octo/hooked", Push: true},
	})
	require.NoError(t, err)

	listings, err := f.registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, listings, 3)

	states := map[string]string{}
	for _, l := range listings {
		states[l.FullName] = l.State()
	}
	assert.Equal(t, map[string]string{
		"octo/existing": "enabled",
		"octo/hooked":   "push",
		"octo/quiet":    "disabled",
	}, states)
	assert.Equal(t, []string{"octo/existing"}, f.pollers.Tracked())

	channels, err := f.registry.ChannelsFor(ctx, "octo/quiet")
	require.NoError(t, err)
	assert.Equal(t, []string{"#ops"}, channels)
}
