package github

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ericfisherdev/repowatch/internal/domain/model"
	"github.com/ericfisherdev/repowatch/internal/domain/port/driven"
)

// item is the union of the fields read from commit, issue and pull request
// listings. Timestamps are kept as strings so that one malformed value only
// disqualifies its own item instead of failing the whole page.
type item struct {
	HTMLURL     string           `json:"html_url"`
	Title       *string          `json:"title"`
	CreatedAt   *string          `json:"created_at"`
	User        *account         `json:"user"`
	Author      *account         `json:"author"` // GitHub account of a commit author; null for unknown emails.
	Commit      *commitDetail    `json:"commit"`
	PullRequest *pullRequestLink `json:"pull_request"`
}

type account struct {
	Login string `json:"login"`
}

type commitDetail struct {
	Message   *string    `json:"message"`
	Author    *signature `json:"author"`
	Committer *signature `json:"committer"`
}

type signature struct {
	Name string  `json:"name"`
	Date *string `json:"date"`
}

type pullRequestLink struct {
	URL string `json:"url"`
}

// extractor returns a field of an item if the item carries it.
type extractor func(it *item) (string, bool)

// Extractor chains, tried in order; the first present value wins. A rebased or
// merged commit keeps its original author date, so commits are dated by when
// they were committed.
var (
	timestampChain = []extractor{commitCommitterDate, commitAuthorDate, createdAt}
	authorChain    = []extractor{userLogin, authorLogin, commitAuthorName, commitCommitterName}
	titleChain     = []extractor{title, commitMessage}
)

func commitAuthorDate(it *item) (string, bool) {
	if it.Commit == nil || it.Commit.Author == nil {
		return "", false
	}
	return present(it.Commit.Author.Date)
}

func commitCommitterDate(it *item) (string, bool) {
	if it.Commit == nil || it.Commit.Committer == nil {
		return "", false
	}
	return present(it.Commit.Committer.Date)
}

func createdAt(it *item) (string, bool) {
	return present(it.CreatedAt)
}

func userLogin(it *item) (string, bool) {
	if it.User == nil {
		return "", false
	}
	return it.User.Login, it.User.Login != ""
}

func authorLogin(it *item) (string, bool) {
	if it.Author == nil {
		return "", false
	}
	return it.Author.Login, it.Author.Login != ""
}

func commitAuthorName(it *item) (string, bool) {
	if it.Commit == nil || it.Commit.Author == nil {
		return "", false
	}
	return it.Commit.Author.Name, it.Commit.Author.Name != ""
}

func commitCommitterName(it *item) (string, bool) {
	if it.Commit == nil || it.Commit.Committer == nil {
		return "", false
	}
	return it.Commit.Committer.Name, it.Commit.Committer.Name != ""
}

func title(it *item) (string, bool) {
	return present(it.Title)
}

func commitMessage(it *item) (string, bool) {
	if it.Commit == nil {
		return "", false
	}
	return present(it.Commit.Message)
}

func present(s *string) (string, bool) {
	if s == nil || *s == "" {
		return "", false
	}
	return *s, true
}

func firstPresent(it *item, chain []extractor) (string, bool) {
	for _, extract := range chain {
		if v, ok := extract(it); ok {
			return v, true
		}
	}
	return "", false
}

// MalformedItem describes an item left out of a parsed page.
type MalformedItem struct {
	Index int
	URL   string
	Err   error
}

// ParseEvents decodes a JSON array of stream items into events, preserving
// the API order. A body that is not a JSON array yields ErrMalformedResponse.
// Items that cannot be decoded or whose timestamp is present but unparseable
// are reported in the second return value and excluded from the events. Items
// without any timestamp get a zero Timestamp; the poller decides what that means.
func ParseEvents(eventType model.EventType, body []byte) ([]model.Event, []MalformedItem, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", driven.ErrMalformedResponse, err)
	}

	events := make([]model.Event, 0, len(raw))
	var malformed []MalformedItem

	for i, r := range raw {
		var it item
		if err := json.Unmarshal(r, &it); err != nil {
			malformed = append(malformed, MalformedItem{Index: i, Err: err})
			continue
		}

		event := model.Event{
			Type:          eventType,
			URL:           it.HTMLURL,
			IsPullRequest: eventType == model.EventTypeIssue && it.PullRequest != nil,
		}
		event.Author, _ = firstPresent(&it, authorChain)
		event.Title, _ = firstPresent(&it, titleChain)

		if ts, ok := firstPresent(&it, timestampChain); ok {
			parsed, err := time.Parse(time.RFC3339, ts)
			if err != nil {
				malformed = append(malformed, MalformedItem{Index: i, URL: it.HTMLURL, Err: err})
				continue
			}
			event.Timestamp = parsed.UTC()
		}

		events = append(events, event)
	}

	return events, malformed, nil
}
