// Package gateway implements the single public TCP listener this system
// exposes: requests to the media WebSocket path are upgraded and handed to
// a new mediator session; everything else is reverse-proxied to the
// internal control-plane HTTP server over a Unix domain socket.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/square-key-labs/acs-aoai-bridge/src/agent"
	"github.com/square-key-labs/acs-aoai-bridge/src/config"
	"github.com/square-key-labs/acs-aoai-bridge/src/controlplane"
	"github.com/square-key-labs/acs-aoai-bridge/src/logger"
	"github.com/square-key-labs/acs-aoai-bridge/src/mediator"
	"github.com/square-key-labs/acs-aoai-bridge/src/wsconn"
)

// hopByHopHeaders are stripped from both the proxied request and its
// response, per RFC 7230 §6.1.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade",
}

// Gateway owns the public listener, the control-plane reverse proxy, and
// the factory for new mediator sessions.
type Gateway struct {
	cfg   config.Config
	agent agent.Agent
	log   *logger.Logger
	proxy *httputil.ReverseProxy
}

// New builds a Gateway. ag may be agent.NoopAgent{} if grounding is
// disabled.
func New(cfg config.Config, ag agent.Agent) *Gateway {
	return &Gateway{
		cfg:   cfg,
		agent: ag,
		log:   logger.WithPrefix("gateway"),
		proxy: newControlPlaneProxy(cfg.Gateway.UDSPath),
	}
}

func newControlPlaneProxy(udsPath string) *httputil.ReverseProxy {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", udsPath)
		},
	}
	proxy := &httputil.ReverseProxy{
		Transport: transport,
		Director: func(r *http.Request) {
			stripHopByHop(r.Header)
			r.URL.Scheme = "http"
			r.URL.Host = "control-plane"
		},
		ModifyResponse: func(resp *http.Response) error {
			stripHopByHop(resp.Header)
			return nil
		},
	}
	return proxy
}

func stripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// ServeHTTP routes one inbound HTTP request: the media WebSocket path is
// upgraded and bridged; everything else is reverse-proxied.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == g.cfg.Gateway.MediaWSPath {
		g.handleMediaWS(w, r)
		return
	}
	g.proxy.ServeHTTP(w, r)
}

func (g *Gateway) handleMediaWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsconn.Accept(w, r, nil)
	if err != nil {
		g.log.Warn("failed to upgrade media websocket: %v", err)
		return
	}

	callConnectionID := firstNonEmpty(r.Header.Get("x-ms-call-connection-id"), uuid.NewString())
	correlationID := r.Header.Get("x-ms-call-correlation-id")

	sink := mediator.NewACSSink(conn)
	sess := mediator.NewSession(r.Context(), g.cfg, callConnectionID, correlationID, sink, g.agent)
	g.log.Info("media session started call=%s correlation=%s", callConnectionID, correlationID)

	if g.cfg.Media.EnableAOAI {
		go mediator.RunAOAISupervisor(sess, g.cfg.AOAI)
	}

	defer func() {
		sess.Close()
		conn.Close()
		g.log.Info("media session ended call=%s", callConnectionID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := sess.HandleACSFrame(data); err != nil {
			g.log.Warn("error handling ACS frame: %v", err)
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Run starts the control-plane server first, waits for it to be listening,
// then binds the public TCP listener and serves until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, ag agent.Agent) error {
	log := logger.WithPrefix("gateway")
	cp := controlplane.New()
	cpListener, err := cp.Serve(cfg.Gateway.UDSPath)
	if err != nil {
		return fmt.Errorf("gateway: failed to start control-plane server: %w", err)
	}
	defer cpListener.Close()
	log.Info("control-plane server listening on %s", cfg.Gateway.UDSPath)

	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("gateway: port %d is already in use; stop the other process or set GATEWAY_PORT: %w", cfg.Gateway.Port, err)
		}
		return fmt.Errorf("gateway: failed to bind %s: %w", addr, err)
	}
	defer ln.Close()
	log.Info("gateway listening on %s (media path %s)", addr, cfg.Gateway.MediaWSPath)

	gw := New(cfg, ag)
	srv := &http.Server{Handler: gw}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		_ = srv.Close()
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !strings.Contains(err.Error(), "use of closed network connection") && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
