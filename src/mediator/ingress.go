package mediator

import (
	"encoding/base64"

	"github.com/square-key-labs/acs-aoai-bridge/src/acsmedia"
	"github.com/square-key-labs/acs-aoai-bridge/src/audio"
)

// HandleACSFrame dispatches one inbound ACS media frame. It is the ingress
// half of the bridge: AudioMetadata establishes the stream's rate/channel
// layout, AudioData is resampled and forwarded to AOAI, everything else is
// logged and dropped.
func (s *Session) HandleACSFrame(raw []byte) error {
	frame, err := acsmedia.Decode(raw)
	if err != nil {
		s.log.Warn("failed to decode ACS frame: %v", err)
		return nil
	}

	switch frame.Kind {
	case "AudioMetadata":
		if frame.AudioMetadata == nil {
			return nil
		}
		s.SetACSStreamInfo(frame.AudioMetadata.Encoding, frame.AudioMetadata.SampleRate, frame.AudioMetadata.Channels)
		s.log.Info("ACS stream started: encoding=%s rate=%d channels=%d", frame.AudioMetadata.Encoding, frame.AudioMetadata.SampleRate, frame.AudioMetadata.Channels)
	case "AudioData":
		if frame.AudioData == nil || frame.AudioData.Data == "" {
			return nil
		}
		s.handleInboundAudio(frame.AudioData.Data)
	case "DtmfData":
		// DTMF is logged only; it is never forwarded to AOAI.
		if frame.DTMFData != nil {
			s.log.Info("ACS DTMF received: %s", frame.DTMFData.Data)
		}
	default:
		s.log.Debug("ignoring unhandled ACS frame kind=%q", frame.Kind)
	}
	return nil
}

func (s *Session) handleInboundAudio(b64 string) {
	if !s.cfg.Media.EnableAOAI {
		return
	}

	client, ready := s.aoaiSnapshot()
	if !ready || client == nil {
		// Non-blocking readiness probe: ingress never waits for AOAI to
		// finish (re)connecting, it just drops audio until it is.
		return
	}

	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		s.log.Warn("failed to decode inbound audio: %v", err)
		return
	}

	_, _, channels := s.acsStreamInfo()
	if channels == 2 {
		pcm = audio.Stereo16ToMono16(pcm)
	}

	s.mu.Lock()
	resampler := s.ingressResampler
	s.mu.Unlock()
	if resampler != nil {
		pcm = resampler.Process(pcm)
	}
	if len(pcm) == 0 {
		return
	}

	if err := client.AppendAudio(pcm); err != nil {
		s.log.Warn("failed to append audio to AOAI: %v", err)
	}
}
