// Package config parses the process environment once at startup into a
// single Config value, which is then threaded explicitly through the
// gateway, mediator, AOAI client, and grounding agent. No component in this
// system reads os.Getenv after FromEnv returns.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the complete, immutable configuration for one running gateway
// process.
type Config struct {
	AOAI     AOAIConfig
	Media    MediaConfig
	BargeIn  BargeInConfig
	Resample ResamplerConfig
	Agent    AgentConfig
	Gateway  GatewayConfig
}

// AOAIConfig configures the Azure OpenAI Realtime connection.
type AOAIConfig struct {
	Endpoint     string
	Deployment   string
	APIKey       string
	Voice        string
	Instructions string
}

// MediaConfig configures the ingress/egress audio pipeline between ACS and
// AOAI.
type MediaConfig struct {
	EnableAOAI               bool
	TargetRate               int
	AutoCreateResponse       bool
	ResponseFallbackDelayMs  int
	SendAudioToACS           bool
	ACSSendMinChunkBytes     int
	ACSSendFlushOnDone       bool
	LogAudioStats            bool
	LogAudioStatsIntervalMs  int
	LogAOAIOutputTranscript  bool
}

// BargeInConfig configures interruption detection.
type BargeInConfig struct {
	Phrases           []string
	DropMs            int
	OnSpeechStarted   bool
}

// ResamplerConfig selects the resampling backend.
type ResamplerConfig struct {
	Quality     string // auto | soxr | linear | audioop
	SoXRQuality string
}

// AgentConfig configures the optional grounding agent call.
type AgentConfig struct {
	Enabled         bool
	ProjectEndpoint string
	AgentID         string
	TimeoutMs       int
	MaxOutputChars  int
	FallbackPrefix  string
}

// GatewayConfig configures the unified TCP listener and the internal
// control-plane it proxies to.
type GatewayConfig struct {
	Host        string
	Port        int
	UDSPath     string
	MediaWSPath string
}

const defaultInstructions = "あなたは親切な音声アシスタントです。簡潔に、自然な日本語で話してください。"

// FromEnv parses Config from the process environment, applying every
// default named in the environment variable table this system exposes.
func FromEnv() (Config, error) {
	repoDir, _ := os.Getwd()

	aoaiEndpoint := envStr("AZURE_OPENAI_ENDPOINT", "")
	aoaiDeployment := envStr("AZURE_OPENAI_DEPLOYMENT", "")

	cfg := Config{
		AOAI: AOAIConfig{
			Endpoint:     aoaiEndpoint,
			Deployment:   aoaiDeployment,
			APIKey:       envStr("AZURE_OPENAI_API_KEY", ""),
			Voice:        envStr("AOAI_VOICE", "sage"),
			Instructions: loadInstructions(),
		},
		Media: MediaConfig{
			EnableAOAI:              envBool("MEDIA_WS_ENABLE_AOAI", aoaiEndpoint != "" && aoaiDeployment != ""),
			TargetRate:              envInt("MEDIA_WS_AOAI_TARGET_RATE", 24000),
			AutoCreateResponse:      envBool("MEDIA_WS_AOAI_AUTO_CREATE_RESPONSE", true),
			ResponseFallbackDelayMs: envInt("MEDIA_WS_AOAI_RESPONSE_FALLBACK_DELAY_MS", 600),
			SendAudioToACS:          envBool("MEDIA_WS_SEND_AUDIO_TO_ACS", true),
			ACSSendMinChunkBytes:    envInt("MEDIA_WS_ACS_SEND_MIN_CHUNK_BYTES", 3200),
			ACSSendFlushOnDone:      envBool("MEDIA_WS_ACS_SEND_FLUSH_ON_DONE", true),
			LogAudioStats:           envBool("LOG_AUDIO_STATS", false),
			LogAudioStatsIntervalMs: envInt("LOG_AUDIO_STATS_INTERVAL_MS", 2000),
			LogAOAIOutputTranscript: envBool("LOG_AOAI_OUTPUT_TRANSCRIPT", true),
		},
		BargeIn: BargeInConfig{
			Phrases:         splitPhrases(envStr("MEDIA_WS_BARGE_IN_PHRASES", "ちょっと待って,ちょっとまって")),
			DropMs:          envInt("MEDIA_WS_BARGE_IN_DROP_MS", 1500),
			OnSpeechStarted: envBool("MEDIA_WS_BARGE_IN_ON_SPEECH_STARTED", true),
		},
		Resample: ResamplerConfig{
			Quality:     envStr("MEDIA_WS_RESAMPLER", "auto"),
			SoXRQuality: envStr("MEDIA_WS_SOXR_QUALITY", "HQ"),
		},
		Agent: AgentConfig{
			ProjectEndpoint: firstNonEmpty(envStr("AZURE_AI_PROJECT_ENDPOINT", ""), envStr("AZURE_FOUNDRY_PROJECT_ENDPOINT", "")),
			AgentID:         firstNonEmpty(envStr("AZURE_AI_AGENT_ID", ""), envStr("AZURE_FOUNDRY_AGENT_ID", "")),
			TimeoutMs:       envInt("MEDIA_WS_AGENT_TIMEOUT_MS", 2000),
			MaxOutputChars:  envInt("MEDIA_WS_AGENT_MAX_OUTPUT_CHARS", 1200),
			FallbackPrefix:  envStr("MEDIA_WS_AGENT_FALLBACK_PREFIX", "今は検索できないので一般知識で答えます"),
		},
		Gateway: GatewayConfig{
			Host:        envStr("GATEWAY_HOST", "0.0.0.0"),
			Port:        envInt("GATEWAY_PORT", 8000),
			UDSPath:     envStr("FASTAPI_UDS", filepath.Join(repoDir, ".run", "gateway.sock")),
			MediaWSPath: envStr("GATEWAY_MEDIA_WS_PATH", "/ws/media"),
		},
	}

	cfg.Agent.Enabled = envBool("MEDIA_WS_AGENT_ENABLE", cfg.Agent.ProjectEndpoint != "" && cfg.Agent.AgentID != "")

	return cfg, nil
}

// loadInstructions implements the file -> inline -> built-in default
// precedence used by the AOAI client's session instructions.
func loadInstructions() string {
	if path := envStr("AOAI_INSTRUCTIONS_FILE", ""); path != "" {
		if !filepath.IsAbs(path) {
			if wd, err := os.Getwd(); err == nil {
				path = filepath.Join(wd, path)
			}
		}
		if b, err := os.ReadFile(path); err == nil {
			if text := strings.TrimSpace(string(b)); text != "" {
				return text
			}
		}
	}
	if inline := strings.TrimSpace(envStr("AOAI_INSTRUCTIONS", "")); inline != "" {
		return inline
	}
	return defaultInstructions
}

func splitPhrases(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func envStr(name, def string) string {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return v
}

func envBool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
