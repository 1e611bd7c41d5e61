package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/repowatch/internal/domain/model"
)

// Sentinel errors returned by EventSource implementations.
var (
	// ErrTransientFetch covers network failures, timeouts, 5xx responses and
	// rate limiting. The poll is retried on the next tick.
	ErrTransientFetch = errors.New("transient fetch error")

	// ErrFetchRejected covers non-retryable client errors such as 404 for a
	// deleted or renamed repository.
	ErrFetchRejected = errors.New("fetch rejected")

	// ErrMalformedResponse indicates a body that is not a JSON array of items.
	ErrMalformedResponse = errors.New("malformed response")
)

// EventSource defines the driven port for fetching a repository's event streams.
type EventSource interface {
	// FetchEvents returns the newest page of the given stream. A conditional
	// request that the server answers with "not modified" yields
	// FetchResult.NotModified and no events.
	FetchEvents(ctx context.Context, repoFullName string, eventType model.EventType) (*model.FetchResult, error)

	// Forget drops cached validators for every stream of the repository.
	Forget(repoFullName string)
}
