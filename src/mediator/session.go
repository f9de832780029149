// Package mediator implements the per-call session state machine bridging
// one ACS media WebSocket connection to one AOAI Realtime connection:
// ingress (ACS audio -> AOAI), egress (AOAI audio -> ACS), barge-in, and the
// reconnect supervisor that keeps the AOAI side alive across transient
// failures without tearing down the call.
package mediator

import (
	"context"
	"sync"
	"time"

	"github.com/square-key-labs/acs-aoai-bridge/src/agent"
	"github.com/square-key-labs/acs-aoai-bridge/src/aoai"
	"github.com/square-key-labs/acs-aoai-bridge/src/audio"
	"github.com/square-key-labs/acs-aoai-bridge/src/config"
	"github.com/square-key-labs/acs-aoai-bridge/src/logger"
)

// Session holds all per-call state for one ACS <-> AOAI bridge. A Session is
// constructed once per accepted /ws/media connection and torn down when
// that connection closes.
type Session struct {
	cfg config.Config
	log *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	CallConnectionID  string
	CallCorrelationID string

	acsSink acsSink

	mu            sync.Mutex
	acsSampleRate int
	acsChannels   int
	acsEncoding   string

	ingressResampler *audio.Resampler // ACS rate -> AOAI target rate, mono
	egressResampler  *audio.Resampler // AOAI target rate -> ACS rate

	aoaiMu               sync.Mutex
	aoaiClient           *aoai.Client
	aoaiReady            chan struct{}
	aoaiReadyOpen        bool
	aoaiInflight         bool
	dropAoaiAudioUntilMs int64

	agentImpl     agent.Agent
	agentInflight bool

	fallbackMu     sync.Mutex
	fallbackCancel context.CancelFunc

	egressBufMu sync.Mutex
	egressBuf   []byte

	transcriptMu     sync.Mutex
	outTranscriptBuf string

	closeOnce sync.Once
	closedCh  chan struct{}
}

// NewSession constructs a Session for one accepted ACS media connection.
// The caller owns parentCtx's lifetime; cancelling it (or calling Close)
// tears the session down.
func NewSession(parentCtx context.Context, cfg config.Config, callConnectionID, callCorrelationID string, sink acsSink, ag agent.Agent) *Session {
	ctx, cancel := context.WithCancel(parentCtx)
	if ag == nil {
		ag = agent.NoopAgent{}
	}
	return &Session{
		cfg:               cfg,
		log:               logger.WithPrefix("mediator:" + callConnectionID),
		ctx:               ctx,
		cancel:            cancel,
		CallConnectionID:  callConnectionID,
		CallCorrelationID: callCorrelationID,
		acsSink:           sink,
		agentImpl:         ag,
		aoaiReady:         make(chan struct{}),
		closedCh:          make(chan struct{}),
	}
}

// Context returns the session's lifetime context, cancelled when the
// session closes.
func (s *Session) Context() context.Context { return s.ctx }

// Closed returns a channel closed exactly once, when the session ends.
func (s *Session) Closed() <-chan struct{} { return s.closedCh }

// Close tears the session down: cancels its context, closes the current
// AOAI link if any, and cancels the fallback-response timer. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.cancelFallbackTimer()
		s.aoaiMu.Lock()
		if s.aoaiClient != nil {
			s.aoaiClient.Close()
		}
		s.aoaiMu.Unlock()
		close(s.closedCh)
	})
}

// SetACSStreamInfo records the encoding/rate/channel layout ACS announced
// in its AudioMetadata frame, and (re)builds the ingress/egress resamplers
// for the negotiated AOAI target rate.
func (s *Session) SetACSStreamInfo(encoding string, sampleRate, channels int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acsEncoding = encoding
	s.acsSampleRate = sampleRate
	s.acsChannels = channels

	quality := audio.ParseQuality(s.cfg.Resample.Quality)
	s.ingressResampler = audio.NewResampler(sampleRate, s.cfg.Media.TargetRate, quality)
	s.egressResampler = audio.NewResampler(s.cfg.Media.TargetRate, sampleRate, quality)
}

func (s *Session) acsStreamInfo() (encoding string, sampleRate, channels int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acsEncoding, s.acsSampleRate, s.acsChannels
}

// setAOAIClient installs (or clears, with nil) the current AOAI link and
// resets the readiness gate accordingly. Called only by the supervisor.
func (s *Session) setAOAIClient(c *aoai.Client) {
	s.aoaiMu.Lock()
	defer s.aoaiMu.Unlock()
	s.aoaiClient = c
	if c != nil {
		if !s.aoaiReadyOpen {
			close(s.aoaiReady)
			s.aoaiReadyOpen = true
		}
	} else {
		if s.aoaiReadyOpen {
			s.aoaiReady = make(chan struct{})
			s.aoaiReadyOpen = false
		}
		s.aoaiInflight = false
	}
}

// aoaiSnapshot returns the current AOAI client (nil if not connected) and
// whether the readiness gate is open, without blocking.
func (s *Session) aoaiSnapshot() (*aoai.Client, bool) {
	s.aoaiMu.Lock()
	defer s.aoaiMu.Unlock()
	return s.aoaiClient, s.aoaiReadyOpen
}

func (s *Session) setAOAIInflight(v bool) {
	s.aoaiMu.Lock()
	s.aoaiInflight = v
	s.aoaiMu.Unlock()
}

func (s *Session) isAOAIInflight() bool {
	s.aoaiMu.Lock()
	defer s.aoaiMu.Unlock()
	return s.aoaiInflight
}

// resetDropAudioGate clears dropAoaiAudioUntilMs. response.created resets
// this gate to 0 even mid-barge-in-drop: a fresh response means fresh
// audio that should not be silently swallowed by a stale drop window.
func (s *Session) resetDropAudioGate() {
	s.mu.Lock()
	s.dropAoaiAudioUntilMs = 0
	s.mu.Unlock()
}

func (s *Session) setDropAudioUntil(untilMs int64) {
	s.mu.Lock()
	s.dropAoaiAudioUntilMs = untilMs
	s.mu.Unlock()
}

func (s *Session) shouldDropAudioNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropAoaiAudioUntilMs > 0 && nowMs() < s.dropAoaiAudioUntilMs
}

// resetOutTranscript clears the accumulated assistant transcript buffer, for
// the start of a new response.
func (s *Session) resetOutTranscript() {
	s.transcriptMu.Lock()
	s.outTranscriptBuf = ""
	s.transcriptMu.Unlock()
}

// appendOutTranscript accumulates one response.audio_transcript.delta /
// response.output_audio_transcript.delta chunk.
func (s *Session) appendOutTranscript(delta string) {
	s.transcriptMu.Lock()
	s.outTranscriptBuf += delta
	s.transcriptMu.Unlock()
}

// finalizeOutTranscript returns the accumulated transcript text and clears
// the buffer for the next response.
func (s *Session) finalizeOutTranscript() string {
	s.transcriptMu.Lock()
	defer s.transcriptMu.Unlock()
	text := s.outTranscriptBuf
	s.outTranscriptBuf = ""
	return text
}

func nowMs() int64 { return time.Now().UnixMilli() }
