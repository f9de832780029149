package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/square-key-labs/acs-aoai-bridge/src/config"
)

func TestNoopAgentAlwaysReportsNoAnswer(t *testing.T) {
	text, ok := (NoopAgent{}).Run(context.Background(), "anything", nil)
	assert.False(t, ok)
	assert.Empty(t, text)
}

func TestFoundryAgentDisabledReturnsFalse(t *testing.T) {
	fa := NewFoundryAgent(config.AgentConfig{Enabled: false})
	_, ok := fa.Run(context.Background(), "query", nil)
	assert.False(t, ok)
}

func TestFoundryAgentEmptyQueryReturnsFalse(t *testing.T) {
	fa := NewFoundryAgent(config.AgentConfig{Enabled: true, ProjectEndpoint: "https://x", AgentID: "a1"})
	_, ok := fa.Run(context.Background(), "   ", nil)
	assert.False(t, ok)
}

func TestFoundryAgentHappyPath(t *testing.T) {
	runStatus := "queued"
	mux := http.NewServeMux()
	mux.HandleFunc("/threads", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(map[string]string{"id": "thread-1"})
			return
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/threads/thread-1/messages", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{
						"role": "assistant",
						"content": []map[string]any{
							{"text": map[string]string{"value": "the answer"}},
						},
					},
				},
			})
		}
	})
	mux.HandleFunc("/threads/thread-1/runs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "run-1"})
	})
	mux.HandleFunc("/threads/thread-1/runs/run-1", func(w http.ResponseWriter, r *http.Request) {
		runStatus = "completed"
		json.NewEncoder(w).Encode(map[string]string{"status": runStatus})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	fa := NewFoundryAgent(config.AgentConfig{
		Enabled:         true,
		ProjectEndpoint: srv.URL,
		AgentID:         "agent-1",
		TimeoutMs:       2000,
		MaxOutputChars:  1200,
	})
	fa.http = srv.Client()
	fa.tokenF = func(ctx context.Context) (string, error) { return "fake-token", nil }

	text, ok := fa.Run(context.Background(), "what's the weather", nil)
	require.True(t, ok)
	assert.Equal(t, "the answer", text)
}

func TestFoundryAgentTruncatesLongOutput(t *testing.T) {
	long := strings.Repeat("a", 2000)
	mux := http.NewServeMux()
	mux.HandleFunc("/threads", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "thread-1"})
	})
	mux.HandleFunc("/threads/thread-1/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{"role": "assistant", "content": []map[string]any{{"text": map[string]string{"value": long}}}},
				},
			})
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/threads/thread-1/runs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "run-1"})
	})
	mux.HandleFunc("/threads/thread-1/runs/run-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "completed"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fa := NewFoundryAgent(config.AgentConfig{Enabled: true, ProjectEndpoint: srv.URL, AgentID: "a1", TimeoutMs: 2000, MaxOutputChars: 100})
	fa.http = srv.Client()
	fa.tokenF = func(ctx context.Context) (string, error) { return "tok", nil }

	text, ok := fa.Run(context.Background(), "q", nil)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(text, "…"))
	assert.LessOrEqual(t, len([]rune(text)), 101)
}

func TestFoundryAgentRunFailedReturnsFalse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/threads", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "thread-1"})
	})
	mux.HandleFunc("/threads/thread-1/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/threads/thread-1/runs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "run-1"})
	})
	mux.HandleFunc("/threads/thread-1/runs/run-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "failed"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fa := NewFoundryAgent(config.AgentConfig{Enabled: true, ProjectEndpoint: srv.URL, AgentID: "a1", TimeoutMs: 2000})
	fa.http = srv.Client()
	fa.tokenF = func(ctx context.Context) (string, error) { return "tok", nil }

	_, ok := fa.Run(context.Background(), "q", nil)
	assert.False(t, ok)
}
