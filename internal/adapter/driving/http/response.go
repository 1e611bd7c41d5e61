package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/repowatch/internal/application"
	"github.com/ericfisherdev/repowatch/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// RepoResponse is the JSON representation of a registered repository.
type RepoResponse struct {
	FullName    string   `json:"full_name"`
	Owner       string   `json:"owner"`
	Name        string   `json:"name"`
	State       string   `json:"state"`
	Enabled     bool     `json:"enabled"`
	PushEnabled bool     `json:"push"`
	Channels    []string `json:"channels"`
	AddedAt     string   `json:"added_at,omitempty"`
}

// CycleResponse summarizes the most recent poll cycle.
type CycleResponse struct {
	StartedAt  string `json:"started_at"`
	DurationMS int64  `json:"duration_ms"`
	Repos      int    `json:"repos"`
	Events     int    `json:"events"`
	Messages   int    `json:"messages"`
	Errors     int    `json:"errors"`
}

// HealthResponse is the JSON representation of the health check endpoint.
// LastCycle is null until the first cycle has completed.
type HealthResponse struct {
	Status    string         `json:"status"`
	Time      string         `json:"time"`
	LastCycle *CycleResponse `json:"last_cycle"`
}

// AnnouncementResponse is the JSON representation of one dispatched announcement.
type AnnouncementResponse struct {
	Repository  string   `json:"repository"`
	EventType   string   `json:"event_type"`
	Author      string   `json:"author"`
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	Text        string   `json:"text"`
	Channels    []string `json:"channels"`
	AnnouncedAt string   `json:"announced_at"`
}

// CommandRequest is the JSON body posted by a chat bridge for each inbound command.
type CommandRequest struct {
	Sender  string `json:"sender" validate:"required,max=200"`
	IsAdmin bool   `json:"is_admin"`
	Text    string `json:"text" validate:"required,max=1000"`
}

// CommandResponse carries the reply the bridge should post back.
type CommandResponse struct {
	Reply string `json:"reply"`
	OK    bool   `json:"ok"`
}

func toRepoResponse(l model.RepositoryListing) RepoResponse {
	channels := l.Channels
	if channels == nil {
		channels = []string{}
	}

	resp := RepoResponse{
		FullName:    l.FullName,
		Owner:       l.Owner,
		Name:        l.Name,
		State:       l.State(),
		Enabled:     l.Enabled,
		PushEnabled: l.PushEnabled,
		Channels:    channels,
	}
	if !l.AddedAt.IsZero() {
		resp.AddedAt = l.AddedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func toCycleResponse(stats *application.CycleStats) *CycleResponse {
	if stats == nil {
		return nil
	}
	return &CycleResponse{
		StartedAt:  stats.StartedAt.UTC().Format(time.RFC3339),
		DurationMS: stats.Duration.Milliseconds(),
		Repos:      stats.Repos,
		Events:     stats.Events,
		Messages:   stats.Messages,
		Errors:     stats.Errors,
	}
}

func toAnnouncementResponse(a model.Announcement) AnnouncementResponse {
	channels := a.Channels
	if channels == nil {
		channels = []string{}
	}
	return AnnouncementResponse{
		Repository:  a.RepoFullName,
		EventType:   string(a.Event.Type),
		Author:      a.Event.Author,
		Title:       a.Event.Title,
		URL:         a.Event.URL,
		Text:        a.Text,
		Channels:    channels,
		AnnouncedAt: a.AnnouncedAt.UTC().Format(time.RFC3339),
	}
}
