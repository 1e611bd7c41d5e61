package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ericfisherdev/repowatch/internal/domain/model"
	"github.com/ericfisherdev/repowatch/internal/domain/port/driven"
)

// ErrUnauthorized is returned when a non-admin actor attempts a registry mutation.
var ErrUnauthorized = errors.New("admin privileges required")

// Actor identifies who issued a registry operation.
type Actor struct {
	Name    string
	IsAdmin bool
}

// SystemActor is used for mutations that do not originate from a chat user,
// such as applying the seed file at startup.
var SystemActor = Actor{Name: "system", IsAdmin: true}

// SeedEntry describes one repository declared in the seed file.
type SeedEntry struct {
	FullName string
	Channels []string
	Enabled  *bool // nil keeps the current (or default) state.
	Push     bool
}

// Registry owns the repository registry and keeps the poller set in step with
// it. Every mutation requires an admin actor and is serialized.
type Registry struct {
	mu      sync.Mutex
	store   driven.RepoStore
	pollers *PollerSet
	marks   driven.WatermarkStore
}

// NewRegistry creates a Registry. marks may be nil when watermark persistence
// is disabled.
func NewRegistry(store driven.RepoStore, pollers *PollerSet, marks driven.WatermarkStore) *Registry {
	return &Registry{
		store:   store,
		pollers: pollers,
		marks:   marks,
	}
}

func authorize(actor Actor) error {
	if !actor.IsAdmin {
		return fmt.Errorf("%s: %w", actor.Name, ErrUnauthorized)
	}
	return nil
}

// Add registers a repository with the default state and starts polling it.
// Returns driven.ErrRepoAlreadyExists if the repository is already registered.
func (r *Registry) Add(ctx context.Context, actor Actor, fullName string) (model.Repository, error) {
	if err := authorize(actor); err != nil {
		return model.Repository{}, err
	}

	repo, err := model.NewRepository(fullName)
	if err != nil {
		return model.Repository{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Add(ctx, repo); err != nil {
		return model.Repository{}, err
	}
	if repo.Pollable() {
		r.pollers.Track(repo)
	}

	slog.Info("repository added", "repo", repo.FullName, "actor", actor.Name)
	return repo, nil
}

// Remove unregisters a repository, deleting its channel assignments and
// stopping its poller. It waits for an in-flight poll of the repository to
// finish before deleting anything.
func (r *Registry) Remove(ctx context.Context, actor Actor, fullName string) error {
	if err := authorize(actor); err != nil {
		return err
	}

	repo, err := model.NewRepository(fullName)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// The store drops the persisted cursors along with the repository.
	err = r.pollers.UntrackWith(repo.FullName, func() error {
		return r.store.Remove(ctx, repo.FullName)
	})
	if err != nil {
		return err
	}

	slog.Info("repository removed", "repo", repo.FullName, "actor", actor.Name)
	return nil
}

// FlushWatermarks persists the in-memory cursors. The snapshot and the save
// happen under the registry lock, so a removed repository's cursors are never
// written back after Remove has deleted them.
func (r *Registry) FlushWatermarks(ctx context.Context) error {
	if r.marks == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.marks.SaveWatermarks(ctx, r.pollers.watermarks.Snapshot())
}

// Assign subscribes a channel to a repository. Assigning twice is a no-op.
func (r *Registry) Assign(ctx context.Context, actor Actor, fullName, channel string) error {
	if err := authorize(actor); err != nil {
		return err
	}

	repo, err := model.NewRepository(fullName)
	if err != nil {
		return err
	}
	if err := model.ValidateChannel(channel); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Assign(ctx, repo.FullName, channel); err != nil {
		return err
	}

	slog.Info("channel assigned", "repo", repo.FullName, "channel", channel, "actor", actor.Name)
	return nil
}

// Unassign removes a channel subscription. Removing a missing assignment is a no-op.
func (r *Registry) Unassign(ctx context.Context, actor Actor, fullName, channel string) error {
	if err := authorize(actor); err != nil {
		return err
	}

	repo, err := model.NewRepository(fullName)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Unassign(ctx, repo.FullName, channel); err != nil {
		return err
	}

	slog.Info("channel unassigned", "repo", repo.FullName, "channel", channel, "actor", actor.Name)
	return nil
}

// SetEnabled enables or disables a repository. Disabled repositories keep
// their registration and channels but are not polled.
func (r *Registry) SetEnabled(ctx context.Context, actor Actor, fullName string, enabled bool) error {
	if err := authorize(actor); err != nil {
		return err
	}

	return r.update(ctx, fullName, func(name string) error {
		return r.store.SetEnabled(ctx, name, enabled)
	}, "enabled", enabled, actor)
}

// SetPush marks a repository as receiving events by push. Push repositories
// are not polled.
func (r *Registry) SetPush(ctx context.Context, actor Actor, fullName string, push bool) error {
	if err := authorize(actor); err != nil {
		return err
	}

	return r.update(ctx, fullName, func(name string) error {
		return r.store.SetPush(ctx, name, push)
	}, "push", push, actor)
}

// update applies a state change and then starts or stops the repository's
// poller to match its new state.
func (r *Registry) update(ctx context.Context, fullName string, apply func(name string) error, field string, value bool, actor Actor) error {
	repo, err := model.NewRepository(fullName)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var updated *model.Repository
	commit := func() error {
		if err := apply(repo.FullName); err != nil {
			return err
		}
		current, getErr := r.store.GetByFullName(ctx, repo.FullName)
		if getErr != nil {
			return getErr
		}
		if current == nil {
			return driven.ErrRepoNotFound
		}
		updated = current
		if updated.Pollable() {
			return errKeepPolling
		}
		return nil
	}

	err = r.pollers.UntrackWith(repo.FullName, commit)
	switch {
	case errors.Is(err, errKeepPolling):
		r.pollers.Track(*updated)
	case err != nil:
		return err
	}

	slog.Info("repository updated", "repo", repo.FullName, field, value, "actor", actor.Name)
	return nil
}

// errKeepPolling aborts UntrackWith after a successful update that leaves the
// repository pollable.
var errKeepPolling = errors.New("keep polling")

// List returns every registered repository with its channels, ordered by name.
func (r *Registry) List(ctx context.Context) ([]model.RepositoryListing, error) {
	repos, err := r.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	assignments, err := r.store.ListAssignments(ctx)
	if err != nil {
		return nil, err
	}

	channels := make(map[string][]string, len(repos))
	for _, a := range assignments {
		channels[a.RepoFullName] = append(channels[a.RepoFullName], a.Channel)
	}

	listings := make([]model.RepositoryListing, 0, len(repos))
	for _, repo := range repos {
		listings = append(listings, model.RepositoryListing{Repository: repo, Channels: channels[repo.FullName]})
	}
	return listings, nil
}

// ChannelsFor returns the channels subscribed to a repository. Unknown
// repositories have no channels.
func (r *Registry) ChannelsFor(ctx context.Context, fullName string) ([]string, error) {
	return r.store.ChannelsFor(ctx, fullName)
}

// Pollable returns the repositories the scheduler should poll.
func (r *Registry) Pollable(ctx context.Context) ([]model.Repository, error) {
	return r.store.ListPollable(ctx)
}

// ApplySeed registers the repositories of a seed file. Repositories that
// already exist keep their registration; channels are added and the declared
// state is applied.
func (r *Registry) ApplySeed(ctx context.Context, entries []SeedEntry) error {
	var errs []error

	for _, entry := range entries {
		if _, err := r.Add(ctx, SystemActor, entry.FullName); err != nil && !errors.Is(err, driven.ErrRepoAlreadyExists) {
			errs = append(errs, fmt.Errorf("seed %s: %w", entry.FullName, err))
			continue
		}
		for _, channel := range entry.Channels {
			if err := r.Assign(ctx, SystemActor, entry.FullName, channel); err != nil {
				errs = append(errs, fmt.Errorf("seed %s channel %s: %w", entry.FullName, channel, err))
			}
		}
		if entry.Enabled != nil {
			if err := r.SetEnabled(ctx, SystemActor, entry.FullName, *entry.Enabled); err != nil {
				errs = append(errs, fmt.Errorf("seed %s: %w", entry.FullName, err))
			}
		}
		if err := r.SetPush(ctx, SystemActor, entry.FullName, entry.Push); err != nil {
			errs = append(errs, fmt.Errorf("seed %s: %w", entry.FullName, err))
		}
	}

	return errors.Join(errs...)
}
