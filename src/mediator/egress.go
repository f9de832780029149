package mediator

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/square-key-labs/acs-aoai-bridge/src/acsmedia"
	"github.com/square-key-labs/acs-aoai-bridge/src/aoai"
)

const groundingInstructionsPrefix = "次の回答文を、日本語で自然に読み上げてください。内容は改変せず、そのまま読み上げます。\n\n"

// responder is the subset of *aoai.Client the event pump needs to drive
// responses. Narrowing PumpEvents to this interface (rather than the
// concrete client type) lets tests exercise the full dispatch switch
// against a fake event stream without a live websocket.
type responder interface {
	CreateResponse(instructions string) error
	CancelResponse() error
}

// PumpEvents consumes decoded AOAI events from events until it closes (the
// connection dropped or ctx was cancelled) and dispatches each by type.
// This is the egress half of the bridge plus the barge-in and
// response-triggering logic, since all three are driven by the same event
// stream.
func (s *Session) PumpEvents(ctx context.Context, events <-chan aoai.Event, client responder) {
	for ev := range events {
		switch ev.Type {
		case "response.created":
			s.setAOAIInflight(true)
			// A fresh response means fresh audio; a stale barge-in drop
			// window must not swallow it. This reset is intentional and
			// does not touch the fallback timer (see handleCommitOrStop).
			s.resetDropAudioGate()
			s.resetOutTranscript()

		case "input_audio_buffer.speech_started":
			if s.cfg.BargeIn.OnSpeechStarted && s.isAOAIInflight() {
				s.triggerBargeIn("speech_started")
			}

		case "input_audio_buffer.committed", "input_audio_buffer.speech_stopped":
			s.handleCommitOrStop(client)

		case "conversation.item.input_audio_transcription.completed":
			s.handleTranscriptionCompleted(client, ev)

		case "conversation.item.input_audio_transcription.failed":
			s.log.Warn("AOAI input transcription failed")

		case "response.audio.delta", "response.output_audio.delta":
			if delta, ok := ev.AudioDelta(); ok {
				s.handleOutboundAudioDelta(delta)
			}

		case "response.audio.done", "response.output_audio.done":
			s.flushOnDone(false)

		case "response.audio_transcript.delta", "response.output_audio_transcript.delta":
			if delta, ok := ev.TranscriptDelta(); ok {
				s.appendOutTranscript(delta)
			}

		case "response.audio_transcript.done", "response.output_audio_transcript.done":
			text := s.finalizeOutTranscript()
			if text == "" {
				text, _ = ev.TranscriptText()
			}
			if s.cfg.Media.LogAOAIOutputTranscript && text != "" {
				s.log.Info("assistant transcript: %s", text)
			}

		case "response.done":
			s.setAOAIInflight(false)
			s.flushOnDone(true)

		default:
			// Other: the rest of the AOAI event catalogue is intentionally
			// out of scope for this bridge.
		}
	}
	s.log.Info("AOAI event pump ended")
}

// handleCommitOrStop restarts the fallback-response timer: if no explicit
// response.create follows within the configured delay, this bridge creates
// one itself so the assistant doesn't go silent. Per the system's
// documented behavior, this timer is NOT cancelled by a subsequent
// response.created event; its own not-inflight guard at fire time is what
// prevents a duplicate response.create.
func (s *Session) handleCommitOrStop(client responder) {
	s.cancelFallbackTimer()

	delay := time.Duration(s.cfg.Media.ResponseFallbackDelayMs) * time.Millisecond
	fallbackCtx, cancel := context.WithCancel(s.ctx)

	s.fallbackMu.Lock()
	s.fallbackCancel = cancel
	s.fallbackMu.Unlock()

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-fallbackCtx.Done():
			return
		case <-timer.C:
		}
		if s.isAOAIInflight() {
			return
		}
		if !s.cfg.Media.AutoCreateResponse {
			return
		}
		if err := client.CreateResponse(""); err != nil {
			s.log.Warn("fallback response.create failed: %v", err)
		}
	}()
}

func (s *Session) cancelFallbackTimer() {
	s.fallbackMu.Lock()
	defer s.fallbackMu.Unlock()
	if s.fallbackCancel != nil {
		s.fallbackCancel()
		s.fallbackCancel = nil
	}
}

func (s *Session) handleTranscriptionCompleted(client responder, ev interface{ TranscriptText() (string, bool) }) {
	text, ok := ev.TranscriptText()
	if !ok || text == "" {
		return
	}

	if isBargeInPhrase(text, s.cfg.BargeIn.Phrases) {
		s.triggerBargeIn("phrase:" + text)
		return
	}

	if s.cfg.Agent.Enabled {
		s.dispatchGrounding(client, text)
		return
	}

	if s.cfg.Media.AutoCreateResponse && !s.isAOAIInflight() {
		if err := client.CreateResponse(""); err != nil {
			s.log.Warn("auto response.create failed: %v", err)
		}
	}
}

// dispatchGrounding runs the grounding agent asynchronously, bounded by its
// own timeout, and issues a response.create with either the agent's answer
// (read back verbatim) or a fallback-prefixed general-knowledge request.
// An in-flight guard drops overlapping calls rather than queuing them: the
// user has already moved on to a new utterance by the time a second
// grounding call could start.
func (s *Session) dispatchGrounding(client responder, query string) {
	s.mu.Lock()
	if s.agentInflight {
		s.mu.Unlock()
		return
	}
	s.agentInflight = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.agentInflight = false
			s.mu.Unlock()
		}()

		timeout := time.Duration(s.cfg.Agent.TimeoutMs) * time.Millisecond
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()

		correlation := map[string]string{
			"callConnectionId": s.CallConnectionID,
			"correlationId":    s.CallCorrelationID,
		}
		answer, ok := s.agentImpl.Run(ctx, query, correlation)

		var instructions string
		if ok {
			instructions = groundingInstructionsPrefix + answer
		} else {
			instructions = fmt.Sprintf("ユーザーの質問に回答してください。冒頭で必ず『%s』と一言述べてから、一般知識で回答してください。", s.cfg.Agent.FallbackPrefix)
		}

		s.setAOAIInflight(true)
		if err := client.CreateResponse(instructions); err != nil {
			s.log.Warn("grounded response.create failed: %v", err)
		}
	}()
}

func (s *Session) handleOutboundAudioDelta(delta []byte) {
	if s.shouldDropAudioNow() {
		return
	}
	if !s.cfg.Media.SendAudioToACS {
		return
	}
	_, acsRate, channels := s.acsStreamInfo()
	if acsRate == 0 || (channels != 0 && channels != 1) {
		return
	}

	s.mu.Lock()
	resampler := s.egressResampler
	s.mu.Unlock()
	if resampler != nil {
		delta = resampler.Process(delta)
	}
	if len(delta) == 0 {
		return
	}

	s.egressBufMu.Lock()
	s.egressBuf = append(s.egressBuf, delta...)
	shouldFlush := len(s.egressBuf) >= s.cfg.Media.ACSSendMinChunkBytes
	s.egressBufMu.Unlock()

	if shouldFlush {
		s.flushEgress(false)
	}
}

func (s *Session) clearEgressBuffer() {
	s.egressBufMu.Lock()
	s.egressBuf = nil
	s.egressBufMu.Unlock()
}

// flushOnDone sends buffered audio in response to a response-lifecycle
// "done" event, honoring ACSSendFlushOnDone. When the flag is false this is
// a complete no-op: the buffer is left untouched for a later threshold-
// triggered flush, matching the original implementation's
// _flush_aoai_audio_to_acs, which returns immediately when the flag is off.
func (s *Session) flushOnDone(final bool) {
	if !s.cfg.Media.ACSSendFlushOnDone {
		return
	}
	s.flushEgress(final)
}

// flushEgress sends whatever is buffered for ACS playback. When final is
// true it first drains the egress resampler, so the last few samples a
// stateful backend is still holding make it out before the buffer is sent.
func (s *Session) flushEgress(final bool) {
	s.egressBufMu.Lock()
	if final {
		s.mu.Lock()
		resampler := s.egressResampler
		s.mu.Unlock()
		if resampler != nil {
			s.egressBuf = append(s.egressBuf, resampler.Flush()...)
		}
	}
	if len(s.egressBuf) == 0 {
		s.egressBufMu.Unlock()
		return
	}
	buf := s.egressBuf
	s.egressBuf = nil
	s.egressBufMu.Unlock()

	if s.acsSink == nil {
		return
	}
	b64 := base64.StdEncoding.EncodeToString(buf)
	if err := s.acsSink.SendJSON(acsmedia.NewOutboundAudio(b64)); err != nil {
		s.log.Warn("failed to send audio to ACS: %v", err)
	}
}
