package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ericfisherdev/repowatch/internal/adapter/driving/command"
	"github.com/ericfisherdev/repowatch/internal/application"
	"github.com/ericfisherdev/repowatch/internal/domain/model"
)

const (
	healthPath = "/api/v1/health"

	maxCommandBody = 64 << 10
)

// RepoLister lists registered repositories with their channels.
type RepoLister interface {
	List(ctx context.Context) ([]model.RepositoryListing, error)
}

// CommandHandler executes one inbound chat command.
type CommandHandler interface {
	Handle(ctx context.Context, cmd command.Command) (string, error)
}

// CycleReporter exposes the stats of the last completed poll cycle.
type CycleReporter interface {
	LastCycle() *application.CycleStats
}

// AnnouncementSource returns recent announcements, newest first.
type AnnouncementSource interface {
	Recent() []model.Announcement
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	repos         RepoLister
	commands      CommandHandler
	cycles        CycleReporter
	announcements AnnouncementSource
	validate      *validator.Validate
	logger        *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	repos RepoLister,
	commands CommandHandler,
	cycles CycleReporter,
	announcements AnnouncementSource,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		repos:         repos,
		commands:      commands,
		cycles:        cycles,
		announcements: announcements,
		validate:      validator.New(),
		logger:        logger,
	}
}

// RegisterRoutes registers the API routes on mux. commandToken guards the
// inbound command endpoint; when empty the endpoint answers 503.
func RegisterRoutes(mux *http.ServeMux, h *Handler, commandToken string) {
	mux.HandleFunc("GET "+healthPath, h.Health)
	mux.HandleFunc("GET /api/v1/repos", h.ListRepos)
	mux.HandleFunc("GET /api/v1/announcements", h.ListAnnouncements)
	mux.HandleFunc("POST /api/v1/commands", requireBearer(commandToken, h.HandleCommand))
}

// ApplyMiddleware wraps next with logging and recovery middleware.
func ApplyMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, next)
	wrapped = loggingMiddleware(logger, wrapped)
	return wrapped
}

// NewServeMux creates an http.Handler with the API routes registered and
// wrapped with logging and recovery middleware.
func NewServeMux(h *Handler, commandToken string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, h, commandToken)
	return ApplyMiddleware(mux, logger)
}

// Health reports liveness and the stats of the last poll cycle.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
	if h.cycles != nil {
		resp.LastCycle = toCycleResponse(h.cycles.LastCycle())
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRepos returns every registered repository with its channels.
func (h *Handler) ListRepos(w http.ResponseWriter, r *http.Request) {
	listings, err := h.repos.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list repos", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]RepoResponse, 0, len(listings))
	for _, l := range listings {
		resp = append(resp, toRepoResponse(l))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListAnnouncements returns the recently dispatched announcements, newest first.
func (h *Handler) ListAnnouncements(w http.ResponseWriter, _ *http.Request) {
	recent := h.announcements.Recent()

	resp := make([]AnnouncementResponse, 0, len(recent))
	for _, a := range recent {
		resp = append(resp, toAnnouncementResponse(a))
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleCommand executes a chat command relayed by a bridge and returns the
// reply to post. Text that is not a repos command yields 204.
func (h *Handler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCommandBody)

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid command: sender and text are required")
		return
	}

	reply, err := h.commands.Handle(r.Context(), command.Command{
		Sender:  req.Sender,
		IsAdmin: req.IsAdmin,
		Text:    req.Text,
	})
	if errors.Is(err, command.ErrNotACommand) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, CommandResponse{Reply: reply, OK: err == nil})
}
