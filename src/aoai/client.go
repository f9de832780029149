// Package aoai is a typed client for the Azure OpenAI Realtime WebSocket
// API: connecting and negotiating a session, appending input audio,
// requesting or cancelling a response, and streaming inbound events back to
// the caller. It deliberately covers only the subset of the Realtime event
// catalogue this bridge needs; everything else surfaces as Event{Type:
// "..."} through Events() for the caller to ignore.
package aoai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/google/uuid"

	"github.com/square-key-labs/acs-aoai-bridge/src/config"
	"github.com/square-key-labs/acs-aoai-bridge/src/logger"
	"github.com/square-key-labs/acs-aoai-bridge/src/wsconn"
)

const cognitiveServicesScope = "https://cognitiveservices.azure.com/.default"

// SendError is returned by Client methods when the underlying transport
// write fails. It is terminal for the current link: callers should treat it
// as a signal to let the supervisor reconnect rather than retry in place.
type SendError struct {
	Op  string
	Err error
}

func (e *SendError) Error() string { return fmt.Sprintf("aoai: %s: %v", e.Op, e.Err) }
func (e *SendError) Unwrap() error { return e.Err }

// Client is a connected AOAI Realtime session.
type Client struct {
	conn *wsconn.Conn
	log  *logger.Logger
}

// WSURL builds the Realtime websocket URL for the given endpoint and
// deployment, rewriting the scheme from http(s) to ws(s) and appending the
// fixed Realtime path, matching the original implementation's ws_url().
func WSURL(endpoint, deployment string) (string, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return "", errors.New("aoai: AZURE_OPENAI_ENDPOINT is required")
	}
	if strings.TrimSpace(deployment) == "" {
		return "", errors.New("aoai: AZURE_OPENAI_DEPLOYMENT is required")
	}
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	}
	return fmt.Sprintf("%s/openai/v1/realtime?model=%s", endpoint, deployment), nil
}

// authHeaders builds the auth header set: api-key when one is configured,
// otherwise a bearer token from the ambient Azure credential.
func authHeaders(ctx context.Context, cfg config.AOAIConfig) (http.Header, error) {
	h := http.Header{}
	if cfg.APIKey != "" {
		h.Set("api-key", cfg.APIKey)
		return h, nil
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("aoai: ambient credential unavailable: %w", err)
	}
	tok, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{cognitiveServicesScope}})
	if err != nil {
		return nil, fmt.Errorf("aoai: failed to acquire token: %w", err)
	}
	h.Set("Authorization", "Bearer "+tok.Token)
	return h, nil
}

// Connect dials the Realtime endpoint, authenticates, and sends the
// session.update negotiating PCM16 mono input/output at targetRate,
// server-side VAD with create_response disabled (this bridge decides when
// to trigger a response), and whisper transcription in Japanese.
func Connect(ctx context.Context, aoaiCfg config.AOAIConfig, targetRate int) (*Client, error) {
	url, err := WSURL(aoaiCfg.Endpoint, aoaiCfg.Deployment)
	if err != nil {
		return nil, err
	}
	headers, err := authHeaders(ctx, aoaiCfg)
	if err != nil {
		return nil, err
	}

	conn, _, err := wsconn.Dial(ctx, url, headers)
	if err != nil {
		return nil, fmt.Errorf("aoai: connect: %w", err)
	}

	c := &Client{conn: conn, log: logger.WithPrefix("aoai")}

	update := map[string]any{
		"type":     "session.update",
		"event_id": "session_update_1",
		"session": map[string]any{
			"type":              "realtime",
			"instructions":      aoaiCfg.Instructions,
			"output_modalities": []string{"audio"},
			"audio": map[string]any{
				"input": map[string]any{
					"format": map[string]any{"type": "audio/pcm", "rate": targetRate},
					"transcription": map[string]any{
						"model":    "whisper-1",
						"language": "ja",
					},
					"turn_detection": map[string]any{
						"type":               "server_vad",
						"threshold":          0.5,
						"prefix_padding_ms":  300,
						"silence_duration_ms": 1000,
						"create_response":    false,
					},
				},
				"output": map[string]any{
					"voice":  aoaiCfg.Voice,
					"format": map[string]any{"type": "audio/pcm", "rate": targetRate},
				},
			},
		},
	}
	if err := c.conn.WriteJSON(update); err != nil {
		c.conn.Close()
		return nil, &SendError{Op: "session.update", Err: err}
	}
	c.log.Info("connected and negotiated session (voice=%s rate=%d)", aoaiCfg.Voice, targetRate)
	return c, nil
}

// AppendAudio sends a chunk of PCM16 mono audio at the negotiated sample
// rate to the input audio buffer.
func (c *Client) AppendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	msg := map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return &SendError{Op: "input_audio_buffer.append", Err: err}
	}
	return nil
}

// CreateResponse requests a response. When instructions is non-empty it is
// sent as a per-response instructions override (e.g. the grounding agent's
// verbatim-readback or fallback text); otherwise no "response" object is
// nested, letting AOAI use the session's default instructions.
func (c *Client) CreateResponse(instructions string) error {
	msg := map[string]any{
		"type":     "response.create",
		"event_id": uuid.NewString(),
	}
	if instructions != "" {
		msg["response"] = map[string]any{"instructions": instructions}
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return &SendError{Op: "response.create", Err: err}
	}
	return nil
}

// CancelResponse requests cancellation of the in-flight response. This is
// best-effort: AOAI may have already finished or may have nothing to
// cancel, and callers should not treat a transport error here as fatal to
// the session beyond what the supervisor already does.
func (c *Client) CancelResponse() error {
	msg := map[string]any{
		"type":     "response.cancel",
		"event_id": uuid.NewString(),
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return &SendError{Op: "response.cancel", Err: err}
	}
	return nil
}

// Events streams decoded inbound events until the connection closes or ctx
// is cancelled. The returned channel is closed when the read loop exits.
func (c *Client) Events(ctx context.Context) <-chan Event {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				c.log.Warn("read loop ended: %v", err)
				return
			}
			ev, err := ParseEvent(data)
			if err != nil {
				c.log.Warn("failed to parse event: %v", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Close closes the connection. Idempotent.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
