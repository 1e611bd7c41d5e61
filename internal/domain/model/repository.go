package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidRepoName indicates a repository identity that is not of the form owner/name.
	ErrInvalidRepoName = errors.New("invalid repository name: expected owner/name")

	// ErrInvalidChannel indicates an empty channel name or one containing whitespace.
	ErrInvalidChannel = errors.New("invalid channel name")
)

// Repository represents a GitHub repository tracked by repowatch.
// FullName ("owner/name") is the identity; Owner and Name are derived from it.
type Repository struct {
	FullName    string
	Owner       string
	Name        string
	PushEnabled bool // Receives events via webhook; never polled.
	Enabled     bool // Disabled repositories stay registered but are neither polled nor announced.
	AddedAt     time.Time
}

// Pollable reports whether the scheduler should actively poll the repository.
func (r Repository) Pollable() bool {
	return r.Enabled && !r.PushEnabled
}

// NewRepository validates fullName and returns a Repository with the registry
// defaults applied (enabled, push disabled).
func NewRepository(fullName string) (Repository, error) {
	owner, name, err := SplitFullName(fullName)
	if err != nil {
		return Repository{}, err
	}

	return Repository{
		FullName: owner + "/" + name,
		Owner:    owner,
		Name:     name,
		Enabled:  true,
	}, nil
}

// SplitFullName splits "owner/name" into its two halves. The identity must
// contain exactly one separator and both halves must be non-empty.
func SplitFullName(fullName string) (string, string, error) {
	fullName = strings.TrimSpace(fullName)
	if strings.Count(fullName, "/") != 1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRepoName, fullName)
	}

	owner, name, _ := strings.Cut(fullName, "/")
	if owner == "" || name == "" || strings.ContainsAny(fullName, " \t") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidRepoName, fullName)
	}

	return owner, name, nil
}

// ChannelAssignment subscribes a notification channel to a repository's events.
type ChannelAssignment struct {
	RepoFullName string
	Channel      string
}

// ValidateChannel checks that a channel name is non-empty and contains no whitespace.
func ValidateChannel(channel string) error {
	if channel == "" || strings.ContainsAny(channel, " \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	return nil
}

// RepositoryListing is a repository together with its subscribed channels,
// as shown by the list command and the dashboard.
type RepositoryListing struct {
	Repository
	Channels []string
}

// State returns the display state used in listings.
func (l RepositoryListing) State() string {
	switch {
	case !l.Enabled:
		return "disabled"
	case l.PushEnabled:
		return "push"
	default:
		return "enabled"
	}
}
