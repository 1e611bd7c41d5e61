// Package web implements the HTML dashboard driving adapter using templ components.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfisherdev/repowatch/internal/adapter/driving/web/templates"
	"github.com/ericfisherdev/repowatch/internal/adapter/driving/web/templates/pages"
	vm "github.com/ericfisherdev/repowatch/internal/adapter/driving/web/viewmodel"
	"github.com/ericfisherdev/repowatch/internal/application"
	"github.com/ericfisherdev/repowatch/internal/domain/model"
)

// RepoLister lists registered repositories with their channels.
type RepoLister interface {
	List(ctx context.Context) ([]model.RepositoryListing, error)
}

// WatermarkReader reads the in-memory cursor of one stream.
type WatermarkReader interface {
	Get(repoFullName string, eventType model.EventType) (time.Time, bool)
}

// PollStatus exposes the scheduler to the dashboard.
type PollStatus interface {
	LastCycle() *application.CycleStats
	RefreshRepo(ctx context.Context, repoFullName string) error
}

// AnnouncementSource returns recent announcements, newest first.
type AnnouncementSource interface {
	Recent() []model.Announcement
}

// Handler is the web dashboard driving adapter.
type Handler struct {
	repos          RepoLister
	marks          WatermarkReader
	poll           PollStatus
	announcements  AnnouncementSource
	refreshTimeout time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. refreshTimeout
// bounds the background poll started by the dashboard's "Poll now" button.
func NewHandler(
	repos RepoLister,
	marks WatermarkReader,
	poll PollStatus,
	announcements AnnouncementSource,
	refreshTimeout time.Duration,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		repos:          repos,
		marks:          marks,
		poll:           poll,
		announcements:  announcements,
		refreshTimeout: refreshTimeout,
		now:            time.Now,
		logger:         logger,
	}
}

// Dashboard renders the main dashboard page with the full HTML layout.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	listings, err := h.repos.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list repos for dashboard", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	page := vm.DashboardViewModel{
		Repos:       make([]vm.RepoRowViewModel, 0, len(listings)),
		LastCycle:   toCycleViewModel(h.poll.LastCycle()),
		CSRFToken:   csrfToken(w, r),
		GeneratedAt: h.now().UTC().Format(displayTime),
	}
	for _, l := range listings {
		page.Repos = append(page.Repos, toRepoRowViewModel(l, h.marks))
	}
	for _, a := range h.announcements.Recent() {
		page.Announcements = append(page.Announcements, toAnnouncementViewModel(a))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	layout := templates.Layout("repowatch", pages.Dashboard(page))
	if err := layout.Render(r.Context(), w); err != nil {
		h.logger.Error("failed to render dashboard", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// Refresh starts an immediate poll of every repository and redirects back to
// the dashboard without waiting for it to finish.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if !validateCSRF(r) {
		http.Error(w, "invalid CSRF token", http.StatusForbidden)
		return
	}

	// The request context ends with the redirect, so the poll gets its own.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.refreshTimeout)
		defer cancel()
		if err := h.poll.RefreshRepo(ctx, ""); err != nil {
			h.logger.Error("dashboard refresh failed", "error", err)
		}
	}()

	http.Redirect(w, r, "/", http.StatusSeeOther)
}
