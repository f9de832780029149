package mediator

import (
	"context"
	"time"

	"github.com/square-key-labs/acs-aoai-bridge/src/aoai"
	"github.com/square-key-labs/acs-aoai-bridge/src/config"
)

const (
	initialBackoff    = 500 * time.Millisecond
	backoffMultiplier = 1.8
	maxBackoff        = 8000 * time.Millisecond
	livePollInterval  = 1 * time.Second
)

// RunAOAISupervisor keeps the session's AOAI connection alive for as long
// as the session itself is open: on failure it reconnects with exponential
// backoff (500ms initial, x1.8 per attempt, capped at 8s), and on success it
// pumps events until the link drops, then starts over with backoff reset.
// It returns when the session closes.
func RunAOAISupervisor(s *Session, aoaiCfg config.AOAIConfig) {
	log := s.log
	backoff := initialBackoff

	for {
		select {
		case <-s.Closed():
			return
		default:
		}

		client, hasLink := s.aoaiSnapshot()
		if hasLink && client != nil {
			// A link is live; just wait for it to end or the session to
			// close, polling at a fixed interval so this loop notices a
			// session close promptly without busy-waiting.
			select {
			case <-s.Closed():
				return
			case <-time.After(livePollInterval):
				continue
			}
		}

		connectCtx, cancel := context.WithTimeout(s.Context(), 15*time.Second)
		newClient, err := aoai.Connect(connectCtx, aoaiCfg, s.cfg.Media.TargetRate)
		cancel()
		if err != nil {
			log.Warn("AOAI connect failed, retrying in %s: %v", backoff, err)
			select {
			case <-s.Closed():
				return
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff)
			continue
		}

		log.Info("AOAI connected")
		s.setAOAIClient(newClient)
		backoff = initialBackoff

		pumpDone := make(chan struct{})
		go func() {
			defer close(pumpDone)
			s.PumpEvents(s.Context(), newClient.Events(s.Context()), newClient)
		}()

		select {
		case <-pumpDone:
		case <-s.Closed():
		}

		newClient.Close()
		s.setAOAIClient(nil)

		if isClosed(s) {
			return
		}
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := time.Duration(float64(cur) * backoffMultiplier)
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func isClosed(s *Session) bool {
	select {
	case <-s.Closed():
		return true
	default:
		return false
	}
}
