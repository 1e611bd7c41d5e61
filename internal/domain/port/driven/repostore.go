// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/repowatch/internal/domain/model"
)

// Sentinel errors returned by RepoStore implementations.
var (
	// ErrRepoNotFound indicates the requested repository does not exist.
	ErrRepoNotFound = errors.New("repository not found")

	// ErrRepoAlreadyExists indicates a repository with the same name already exists.
	ErrRepoAlreadyExists = errors.New("repository already exists")
)

// RepoStore defines the driven port for the repository registry tables
// (repositories and repos2channels).
//
// Add returns ErrRepoAlreadyExists if the repository already exists.
// Remove, Assign, Unassign, SetEnabled and SetPush return ErrRepoNotFound if
// the repository does not exist. Remove deletes the repository's channel
// assignments in the same transaction.
type RepoStore interface {
	Add(ctx context.Context, repo model.Repository) error
	Remove(ctx context.Context, fullName string) error
	// GetByFullName returns nil, nil if the repository does not exist.
	GetByFullName(ctx context.Context, fullName string) (*model.Repository, error)
	ListAll(ctx context.Context) ([]model.Repository, error)
	// ListPollable returns enabled repositories that do not receive push events.
	ListPollable(ctx context.Context) ([]model.Repository, error)
	SetEnabled(ctx context.Context, fullName string, enabled bool) error
	SetPush(ctx context.Context, fullName string, push bool) error

	// Assign is idempotent.
	Assign(ctx context.Context, fullName, channel string) error
	// Unassign is a no-op when the assignment does not exist.
	Unassign(ctx context.Context, fullName, channel string) error
	// ChannelsFor returns the channels subscribed to a repository, ordered by
	// name. An unknown repository yields an empty slice.
	ChannelsFor(ctx context.Context, fullName string) ([]string, error)
	ListAssignments(ctx context.Context) ([]model.ChannelAssignment, error)
}
