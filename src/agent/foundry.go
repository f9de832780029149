package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/square-key-labs/acs-aoai-bridge/src/config"
	"github.com/square-key-labs/acs-aoai-bridge/src/logger"
)

const (
	foundryScope   = "https://cognitiveservices.azure.com/.default"
	foundryAPIVer  = "2025-05-01"
	threadsPath    = "/threads"
	httpClientTime = 5 * time.Second
)

// FoundryAgent calls an existing Azure AI Foundry agent (configured with
// web grounding) over its threads/messages/runs REST surface: create a
// thread, post the user's message, run the agent to completion, and read
// back the most recent assistant message. There is no published Go SDK for
// this surface anywhere in the reference corpus this system was built
// from, so it is called directly with net/http, using the same kind of
// ambient credential as the AOAI client. Requests are not retried: any
// transport error or non-2xx status ends the run with no answer.
type FoundryAgent struct {
	cfg    config.AgentConfig
	http   *http.Client
	log    *logger.Logger
	tokenF func(ctx context.Context) (string, error)
}

// NewFoundryAgent constructs a FoundryAgent from configuration. If
// cfg.Enabled is false the returned agent's Run always reports no answer,
// so callers can construct one unconditionally.
func NewFoundryAgent(cfg config.AgentConfig) *FoundryAgent {
	fa := &FoundryAgent{
		cfg:  cfg,
		http: &http.Client{Timeout: httpClientTime},
		log:  logger.WithPrefix("agent"),
	}
	fa.tokenF = fa.fetchToken
	return fa
}

func (a *FoundryAgent) fetchToken(ctx context.Context) (string, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return "", err
	}
	tok, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{foundryScope}})
	if err != nil {
		return "", err
	}
	return tok.Token, nil
}

// Run posts query to the configured agent and returns its answer, bounded
// by cfg.TimeoutMs. It reports ok=false on any failure, timeout, disabled
// configuration, or empty query/result — this call is never allowed to
// propagate an error into the caller's hot path.
func (a *FoundryAgent) Run(ctx context.Context, query string, correlation map[string]string) (string, bool) {
	if !a.cfg.Enabled || a.cfg.ProjectEndpoint == "" || a.cfg.AgentID == "" {
		return "", false
	}
	q := strings.TrimSpace(query)
	if q == "" {
		return "", false
	}

	timeout := time.Duration(a.cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	text, ok := a.doRun(runCtx, q)
	a.log.Debug("agent run finished in %s ok=%v correlation=%v", time.Since(start), ok, correlation)
	if !ok {
		return "", false
	}

	if a.cfg.MaxOutputChars > 0 {
		runes := []rune(text)
		if len(runes) > a.cfg.MaxOutputChars {
			text = strings.TrimRight(string(runes[:a.cfg.MaxOutputChars]), " \t\n") + "…"
		}
	}
	return text, true
}

func (a *FoundryAgent) doRun(ctx context.Context, query string) (string, bool) {
	token, err := a.tokenF(ctx)
	if err != nil {
		a.log.Warn("failed to acquire credential: %v", err)
		return "", false
	}

	threadID, ok := a.createThread(ctx, token)
	if !ok {
		return "", false
	}
	if !a.postMessage(ctx, token, threadID, query) {
		return "", false
	}
	runID, ok := a.createRun(ctx, token, threadID)
	if !ok {
		return "", false
	}
	if !a.pollRunUntilDone(ctx, token, threadID, runID) {
		return "", false
	}
	return a.latestAssistantMessage(ctx, token, threadID)
}

func (a *FoundryAgent) endpoint(path string) string {
	base := strings.TrimRight(a.cfg.ProjectEndpoint, "/")
	return fmt.Sprintf("%s%s?api-version=%s", base, path, foundryAPIVer)
}

func (a *FoundryAgent) doJSON(ctx context.Context, method, url, token string, body any, out any) (int, bool) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, false
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, false
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resp.StatusCode, false
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, false
		}
	}
	return resp.StatusCode, true
}

func (a *FoundryAgent) createThread(ctx context.Context, token string) (string, bool) {
	var out struct {
		ID string `json:"id"`
	}
	_, ok := a.doJSON(ctx, http.MethodPost, a.endpoint(threadsPath), token, map[string]any{}, &out)
	if !ok || out.ID == "" {
		return "", false
	}
	return out.ID, true
}

func (a *FoundryAgent) postMessage(ctx context.Context, token, threadID, content string) bool {
	url := a.endpoint(fmt.Sprintf("%s/%s/messages", threadsPath, threadID))
	body := map[string]any{"role": "user", "content": content}
	_, ok := a.doJSON(ctx, http.MethodPost, url, token, body, nil)
	return ok
}

func (a *FoundryAgent) createRun(ctx context.Context, token, threadID string) (string, bool) {
	url := a.endpoint(fmt.Sprintf("%s/%s/runs", threadsPath, threadID))
	body := map[string]any{"agent_id": a.cfg.AgentID}
	var out struct {
		ID string `json:"id"`
	}
	_, ok := a.doJSON(ctx, http.MethodPost, url, token, body, &out)
	if !ok || out.ID == "" {
		return "", false
	}
	return out.ID, true
}

func (a *FoundryAgent) pollRunUntilDone(ctx context.Context, token, threadID, runID string) bool {
	url := a.endpoint(fmt.Sprintf("%s/%s/runs/%s", threadsPath, threadID, runID))
	for {
		var out struct {
			Status string `json:"status"`
		}
		_, ok := a.doJSON(ctx, http.MethodGet, url, token, nil, &out)
		if !ok {
			return false
		}
		switch out.Status {
		case "completed":
			return true
		case "failed", "cancelled", "expired":
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (a *FoundryAgent) latestAssistantMessage(ctx context.Context, token, threadID string) (string, bool) {
	url := a.endpoint(fmt.Sprintf("%s/%s/messages", threadsPath, threadID))
	var out struct {
		Data []struct {
			Role    string `json:"role"`
			Content []struct {
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	_, ok := a.doJSON(ctx, http.MethodGet, url, token, nil, &out)
	if !ok {
		return "", false
	}
	for _, m := range out.Data {
		if m.Role != "assistant" {
			continue
		}
		for _, c := range m.Content {
			if v := strings.TrimSpace(c.Text.Value); v != "" {
				return v, true
			}
		}
	}
	return "", false
}
