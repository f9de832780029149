// Package controlplane is the internal HTTP server the gateway reverse
// proxies everything except the media WebSocket to. The ACS control-plane
// endpoints themselves (call automation webhooks, token issuance, and the
// ACS SDK calls behind them) are thin vendor-SDK adapters out of this
// system's scope; this package implements only enough of that surface —
// a real health check plus stubs — for the gateway's proxy routing and
// startup-ordering contract to be exercised end-to-end.
package controlplane

import (
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/square-key-labs/acs-aoai-bridge/src/logger"
)

// Server is the control-plane HTTP server, served over a Unix domain
// socket so it is reachable only through the gateway's reverse proxy.
type Server struct {
	mux *http.ServeMux
	log *logger.Logger
}

// New builds the control-plane server's routes.
func New() *Server {
	s := &Server{mux: http.NewServeMux(), log: logger.WithPrefix("controlplane")}
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/incomingCall", s.handleNotImplemented)
	s.mux.HandleFunc("/api/callbacks", s.handleNotImplemented)
	s.mux.HandleFunc("/api/token", s.handleNotImplemented)
	s.mux.HandleFunc("/api/call/start", s.handleNotImplemented)
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleNotImplemented(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotImplemented)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "not implemented: this endpoint is a thin adapter over a vendor SDK outside this system's scope",
	})
}

// Serve removes any stale socket file at udsPath, listens on it, and serves
// HTTP until the listener is closed (typically via ctx cancellation by the
// caller closing the listener).
func (s *Server) Serve(udsPath string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(udsPath), 0o755); err != nil {
		return nil, err
	}
	_ = os.Remove(udsPath)

	ln, err := net.Listen("unix", udsPath)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := http.Serve(ln, s.mux); err != nil {
			s.log.Debug("control-plane server stopped: %v", err)
		}
	}()
	return ln, nil
}
