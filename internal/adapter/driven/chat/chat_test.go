package chat_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/repowatch/internal/adapter/driven/chat"
)

func TestWebhookMessenger_PostsJSON(t *testing.T) {
	var got map[string]string
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	m := chat.NewWebhookMessenger(chat.WebhookOptions{URL: server.URL, Token: "secret"})
	require.NoError(t, m.SendMessage(context.Background(), "#dev", "New commit in octo/hello"))

	assert.Equal(t, map[string]string{"channel": "#dev", "text": "New commit in octo/hello"}, got)
	assert.Equal(t, "Bearer secret", auth)
}

func TestWebhookMessenger_NonSuccessIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such channel", http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	m := chat.NewWebhookMessenger(chat.WebhookOptions{URL: server.URL})
	err := m.SendMessage(context.Background(), "#gone", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "no such channel")
}

func TestLogMessenger(t *testing.T) {
	var buf bytes.Buffer
	m := chat.NewLogMessenger(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, m.SendMessage(context.Background(), "#dev", "hello"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "announcement", entry["msg"])
	assert.Equal(t, "#dev", entry["channel"])
	assert.Equal(t, "hello", entry["text"])
}
