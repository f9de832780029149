package mediator

import (
	"strings"
	"unicode"

	"github.com/square-key-labs/acs-aoai-bridge/src/acsmedia"
	"github.com/square-key-labs/acs-aoai-bridge/src/audio"
)

// normalizeJP strips all whitespace from text, the same normalization the
// barge-in phrase matcher uses before a substring check — Japanese speech
// transcripts often carry stray spacing around particles that would
// otherwise defeat a literal phrase match.
func normalizeJP(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
}

// isBargeInPhrase reports whether text, once normalized, contains any of
// the configured barge-in phrases.
func isBargeInPhrase(text string, phrases []string) bool {
	if text == "" {
		return false
	}
	norm := normalizeJP(text)
	for _, p := range phrases {
		p = normalizeJP(p)
		if p != "" && strings.Contains(norm, p) {
			return true
		}
	}
	return false
}

// triggerBargeIn interrupts the current AOAI response: it cancels the
// in-flight response (if any), opens the drop-audio gate for
// cfg.BargeIn.DropMs so any audio already in flight from AOAI doesn't leak
// to ACS after the user started talking over it, clears anything queued
// for ACS playback, and resets the egress resampler so the next response's
// audio doesn't pick up stale interpolation state.
func (s *Session) triggerBargeIn(reason string) {
	s.log.Info("barge-in triggered (%s)", reason)

	client, _ := s.aoaiSnapshot()
	if client != nil && s.isAOAIInflight() {
		if err := client.CancelResponse(); err != nil {
			s.log.Warn("failed to cancel AOAI response on barge-in: %v", err)
		}
	}
	// response.cancel may never be answered by a response.done if AOAI drops
	// the response entirely; clear the gate here so the next response.created
	// reopens it rather than leaving it stuck open for the rest of the call.
	s.setAOAIInflight(false)

	s.setDropAudioUntil(nowMs() + int64(s.cfg.BargeIn.DropMs))
	s.clearEgressBuffer()

	s.mu.Lock()
	if s.egressResampler != nil {
		quality := audio.ParseQuality(s.cfg.Resample.Quality)
		s.egressResampler = audio.NewResampler(s.cfg.Media.TargetRate, s.acsSampleRate, quality)
	}
	s.mu.Unlock()

	if s.acsSink != nil {
		if err := s.acsSink.SendJSON(acsmedia.NewOutboundStopAudio()); err != nil {
			s.log.Warn("failed to send StopAudio to ACS: %v", err)
		}
	}
}
