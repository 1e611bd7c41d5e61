// Package github implements the EventSource port using the go-github library.
package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"
	"golang.org/x/oauth2"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/repowatch/internal/domain/model"
	"github.com/ericfisherdev/repowatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.EventSource = (*Client)(nil)

const (
	// DefaultBaseURL is the public GitHub REST API root.
	DefaultBaseURL = "https://api.github.com/"

	// DefaultUserAgent identifies repowatch to the API.
	DefaultUserAgent = "repowatch (+https://github.com/ericfisherdev/repowatch)"

	perPage = 100
)

// Options configures a Client. The zero value talks to api.github.com
// unauthenticated.
type Options struct {
	BaseURL   string
	Token     string // Personal access token; requests are unauthenticated when empty.
	UserAgent string

	// Transport is the innermost round tripper. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Client fetches repository event streams with conditional requests.
type Client struct {
	gh     *gh.Client
	cache  httpcache.Cache
	logger *slog.Logger
}

// Page is one raw API response. A StatusCode of 304 means the cached
// validator for the URL still matched and Body is empty.
type Page struct {
	StatusCode    int
	Body          []byte
	Header        http.Header
	RateRemaining int // -1 when the response carried no X-RateLimit-Remaining header.
}

// NotModified reports whether the server confirmed the cached copy.
func (p *Page) NotModified() bool {
	return p.StatusCode == http.StatusNotModified
}

// NewClient creates a GitHub API client with the following transport stack:
//  1. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  2. httpcache (ETag cache keyed by URL; sends If-None-Match on revalidation)
//  3. oauth2 (bearer token, only when a token is configured)
//  4. go-github (request building, rate limit parsing, typed errors)
func NewClient(opts Options) (*Client, error) {
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if opts.Token != "" {
		base = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}),
			Base:   base,
		}
	}

	cache := httpcache.NewMemoryCache()
	cacheTransport := &httpcache.Transport{
		Transport:           base,
		Cache:               cache,
		MarkCachedResponses: true,
	}
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient)

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	client.UserAgent = opts.UserAgent
	if client.UserAgent == "" {
		client.UserAgent = DefaultUserAgent
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{gh: client, cache: cache, logger: logger}, nil
}

// Fetch issues a GET for path (relative to the base URL). When a validator is
// cached for the URL the request is conditional; a confirmed cache entry is
// reported as a 304 page with no body rather than replaying the stale body.
func (c *Client) Fetch(ctx context.Context, path string) (*Page, error) {
	req, err := c.gh.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", path, err)
	}
	// Never serve from cache without revalidating.
	req.Header.Set("Cache-Control", "max-age=0")

	resp, err := c.gh.BareDo(ctx, req)
	if err != nil {
		return nil, classifyError(path, err)
	}
	defer resp.Body.Close()

	// Reading to EOF is what lets httpcache store the entry.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", path, driven.ErrTransientFetch, err)
	}

	page := &Page{
		StatusCode:    resp.StatusCode,
		Body:          body,
		Header:        resp.Header,
		RateRemaining: rateRemaining(resp.Header),
	}
	if resp.Header.Get(httpcache.XFromCache) != "" {
		page.StatusCode = http.StatusNotModified
		page.Body = nil
	}

	logRateLimit(c.logger, resp, path, page.StatusCode)

	return page, nil
}

// FetchEvents fetches the newest page of a repository's event stream and
// parses it into domain events. Items whose timestamp is present but cannot be
// parsed are logged and left out of the result.
func (c *Client) FetchEvents(ctx context.Context, repoFullName string, eventType model.EventType) (*model.FetchResult, error) {
	path, err := streamPath(repoFullName, eventType)
	if err != nil {
		return nil, err
	}

	page, err := c.Fetch(ctx, path)
	if err != nil {
		return nil, err
	}

	result := &model.FetchResult{RateRemaining: page.RateRemaining}
	if page.NotModified() {
		result.NotModified = true
		return result, nil
	}

	events, malformed, err := ParseEvents(eventType, page.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for _, m := range malformed {
		c.logger.Warn("skipping item with malformed timestamp",
			"repo", repoFullName,
			"stream", string(eventType),
			"index", m.Index,
			"url", m.URL,
			"error", m.Err,
		)
	}

	result.Events = events
	result.Malformed = len(malformed)

	return result, nil
}

// Forget drops the cached validators of every stream of the repository so a
// removed repository does not keep cache entries alive.
func (c *Client) Forget(repoFullName string) {
	for _, eventType := range []model.EventType{model.EventTypeCommit, model.EventTypeIssue, model.EventTypePullRequest} {
		path, err := streamPath(repoFullName, eventType)
		if err != nil {
			return
		}
		u, err := c.gh.BaseURL.Parse(path)
		if err != nil {
			continue
		}
		c.cache.Delete(u.String())
	}
}

// streamPath builds the API path of an event stream. The query string is fixed
// so each stream maps to exactly one cache entry.
func streamPath(repoFullName string, eventType model.EventType) (string, error) {
	owner, name, err := model.SplitFullName(repoFullName)
	if err != nil {
		return "", err
	}

	query := url.Values{}
	query.Set("per_page", strconv.Itoa(perPage))
	if eventType == model.EventTypeIssue || eventType == model.EventTypePullRequest {
		// Include items closed between two polls.
		query.Set("state", "all")
	}

	return fmt.Sprintf("repos/%s/%s/%s?%s", url.PathEscape(owner), url.PathEscape(name), eventType, query.Encode()), nil
}

// classifyError maps go-github errors onto the EventSource sentinels.
func classifyError(path string, err error) error {
	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	var respErr *gh.ErrorResponse

	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return fmt.Errorf("fetch %s: %w: %w", path, driven.ErrTransientFetch, err)
	case errors.As(err, &respErr) && respErr.Response != nil:
		code := respErr.Response.StatusCode
		if code >= http.StatusInternalServerError || code == http.StatusTooManyRequests {
			return fmt.Errorf("fetch %s: %w: %w", path, driven.ErrTransientFetch, err)
		}
		return fmt.Errorf("fetch %s: %w: %w", path, driven.ErrFetchRejected, err)
	default:
		// Network errors, timeouts and cancellation.
		return fmt.Errorf("fetch %s: %w: %w", path, driven.ErrTransientFetch, err)
	}
}

func rateRemaining(header http.Header) int {
	v := header.Get("X-RateLimit-Remaining")
	if v == "" {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(logger *slog.Logger, resp *gh.Response, path string, status int) {
	if resp == nil {
		return
	}

	logger.Debug("github api call",
		"endpoint", path,
		"status", status,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}
