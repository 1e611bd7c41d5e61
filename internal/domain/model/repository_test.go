package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFullName(t *testing.T) {
	owner, name, err := SplitFullName("octo/hello-world")
	require.NoError(t, err)
	assert.Equal(t, "octo", owner)
	assert.Equal(t, "hello-world", name)

	for _, bad := range []string{"", "octo", "/hello", "octo/", "a/b/c", "octo /hello"} {
		_, _, err := SplitFullName(bad)
		assert.ErrorIs(t, err, ErrInvalidRepoName, "input %q", bad)
	}
}

func TestNewRepository_Defaults(t *testing.T) {
	repo, err := NewRepository(" octo/hello ")
	require.NoError(t, err)

	assert.Equal(t, "octo/hello", repo.FullName)
	assert.True(t, repo.Enabled)
	assert.False(t, repo.PushEnabled)
	assert.True(t, repo.Pollable())
}

func TestRepositoryListing_State(t *testing.T) {
	tests := []struct {
		repo Repository
		want string
	}{
		{Repository{Enabled: true}, "enabled"},
		{Repository{Enabled: true, PushEnabled: true}, "push"},
		{Repository{Enabled: false, PushEnabled: true}, "disabled"},
	}

	for _, tc := range tests {
		listing := RepositoryListing{Repository: tc.repo}
		assert.Equal(t, tc.want, listing.State())
		assert.Equal(t, tc.want == "enabled", tc.repo.Pollable())
	}
}

func TestValidateChannel(t *testing.T) {
	assert.NoError(t, ValidateChannel("#ops"))
	assert.ErrorIs(t, ValidateChannel(""), ErrInvalidChannel)
	assert.ErrorIs(t, ValidateChannel("two words"), ErrInvalidChannel)
}

func TestEventTypeNoun(t *testing.T) {
	assert.Equal(t, "New commit", EventTypeCommit.Noun())
	assert.Equal(t, "New issue", EventTypeIssue.Noun())
	assert.Equal(t, "New pull request", EventTypePullRequest.Noun())

	et, ok := ParseEventType("pulls")
	assert.True(t, ok)
	assert.Equal(t, EventTypePullRequest, et)

	_, ok = ParseEventType("releases")
	assert.False(t, ok)
}
