package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/repowatch/internal/application"
	"github.com/ericfisherdev/repowatch/internal/domain/model"
)

type stubRepos struct {
	listings []model.RepositoryListing
	err      error
}

func (s *stubRepos) List(context.Context) ([]model.RepositoryListing, error) {
	return s.listings, s.err
}

type stubMarks map[string]time.Time

func (s stubMarks) Get(repo string, eventType model.EventType) (time.Time, bool) {
	t, ok := s[repo+"|"+string(eventType)]
	return t, ok
}

type stubPoll struct {
	mu        sync.Mutex
	stats     *application.CycleStats
	refreshed []string
}

func (s *stubPoll) LastCycle() *application.CycleStats { return s.stats }

func (s *stubPoll) RefreshRepo(_ context.Context, repo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshed = append(s.refreshed, repo)
	return nil
}

func (s *stubPoll) refreshCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refreshed)
}

type stubAnnouncements []model.Announcement

func (s stubAnnouncements) Recent() []model.Announcement { return s }

var renderedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(repos *stubRepos, marks stubMarks, poll *stubPoll, anns stubAnnouncements) http.Handler {
	h := NewHandler(repos, marks, poll, anns, time.Second, slog.New(slog.DiscardHandler))
	h.now = func() time.Time { return renderedAt }

	mux := http.NewServeMux()
	RegisterRoutes(mux, h)
	return mux
}

func TestDashboard_RendersReposAndAnnouncements(t *testing.T) {
	cursor := time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC)
	repos := &stubRepos{listings: []model.RepositoryListing{
		{Repository: model.Repository{FullName: "octo/a", Enabled: true}, Channels: []string{"#dev", "#ops"}},
		{Repository: model.Repository{FullName: "octo/b", Enabled: false}},
	}}
	marks := stubMarks{"octo/a|commits": cursor}
	poll := &stubPoll{stats: &application.CycleStats{Repos: 1, Events: 2, Messages: 4, StartedAt: cursor, Duration: 250 * time.Millisecond}}
	anns := stubAnnouncements{{
		RepoFullName: "octo/a",
		Event:        model.Event{Type: model.EventTypePullRequest, Title: "Use `ctx` <script>x</script>", URL: "javascript:alert(1)"},
		Channels:     []string{"#dev"},
		AnnouncedAt:  renderedAt,
	}}

	rec := httptest.NewRecorder()
	newTestServer(repos, marks, poll, anns).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `<a href="https://github.com/octo/a">octo/a</a>`)
	assert.Contains(t, body, "#dev, #ops")
	assert.Contains(t, body, `class="state-disabled"`)
	assert.Contains(t, body, "commits: 2026-03-01 11:30:00 UTC")
	assert.Contains(t, body, "issues: <span class=\"muted\">pending</span>")
	assert.Contains(t, body, "1 repositories, 2 new events, 4 messages, 0 errors")

	assert.Contains(t, body, "New pull request in octo/a from unknown author")
	assert.Contains(t, body, "<code>ctx</code>")
	assert.NotContains(t, body, "<script>")
	assert.NotContains(t, body, "javascript:")

	assert.NotEmpty(t, rec.Result().Cookies())
	assert.Contains(t, body, `name="`+csrfFormField+`"`, "the form posts the field Refresh validates")
}

func TestDashboard_RendersLayoutAndEventLink(t *testing.T) {
	anns := stubAnnouncements{{
		RepoFullName: "octo/a",
		Event:        model.Event{Type: model.EventTypeCommit, Author: "alice", Title: "Fix it", URL: "https://github.com/octo/a/commit/abc"},
		Channels:     []string{"#dev"},
		AnnouncedAt:  renderedAt,
	}}

	rec := httptest.NewRecorder()
	newTestServer(&stubRepos{}, nil, &stubPoll{}, anns).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "<!doctype html>"), "layout wraps the page")
	assert.Contains(t, body, "<title>repowatch</title>")
	assert.Contains(t, body, `<link rel="stylesheet" href="/static/dashboard.css">`)
	assert.Contains(t, body, `<a class="view" href="https://github.com/octo/a/commit/abc">view</a>`)
	assert.Contains(t, body, "from alice")
	assert.Contains(t, body, "Rendered 2026-03-01 12:00:00 UTC")
	assert.True(t, strings.HasSuffix(body, "</body></html>"))
}

func TestDashboard_EmptyState(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&stubRepos{}, nil, &stubPoll{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "No repositories are being watched.")
	assert.Contains(t, body, "Nothing announced yet.")
	assert.Contains(t, body, "No poll cycle has completed yet.")
}

func TestDashboard_EscapesRepositoryData(t *testing.T) {
	repos := &stubRepos{listings: []model.RepositoryListing{
		{Repository: model.Repository{FullName: "octo/a", Enabled: true}, Channels: []string{`<b>"x"</b>`}},
	}}

	rec := httptest.NewRecorder()
	newTestServer(repos, nil, &stubPoll{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotContains(t, rec.Body.String(), `<b>"x"</b>`)
	assert.Contains(t, rec.Body.String(), "&lt;b&gt;")
}

func TestDashboard_ListError(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&stubRepos{err: errors.New("boom")}, nil, &stubPoll{}, nil).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRefresh_RequiresCSRF(t *testing.T) {
	poll := &stubPoll{}
	srv := newTestServer(&stubRepos{}, nil, poll, nil)

	req := httptest.NewRequest(http.MethodPost, "/app/refresh", strings.NewReader("csrf_token=forged"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "real"})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, poll.refreshCount())
}

func TestRefresh_TriggersPollAndRedirects(t *testing.T) {
	poll := &stubPoll{}
	srv := newTestServer(&stubRepos{}, nil, poll, nil)

	form := url.Values{csrfFormField: {"tok"}}
	req := httptest.NewRequest(http.MethodPost, "/app/refresh", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "tok"})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	require.Eventually(t, func() bool { return poll.refreshCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStaticStylesheet(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&stubRepos{}, nil, &stubPoll{}, nil).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/dashboard.css", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "font-family")
}
