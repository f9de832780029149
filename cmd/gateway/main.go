// Command gateway runs the unified ACS <-> AOAI voice bridge: one public
// TCP listener multiplexing the ACS media WebSocket and a reverse proxy to
// the internal control-plane server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/square-key-labs/acs-aoai-bridge/src/agent"
	"github.com/square-key-labs/acs-aoai-bridge/src/config"
	"github.com/square-key-labs/acs-aoai-bridge/src/gateway"
	"github.com/square-key-labs/acs-aoai-bridge/src/logger"
)

func main() {
	logger.Init()
	log := logger.WithPrefix("main")

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("failed to load configuration: %v", err)
		os.Exit(1)
	}

	var groundingAgent agent.Agent = agent.NoopAgent{}
	if cfg.Agent.Enabled {
		groundingAgent = agent.NewFoundryAgent(cfg.Agent)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	if err := gateway.Run(ctx, cfg, groundingAgent); err != nil && ctx.Err() == nil {
		log.Error("gateway exited: %v", err)
		os.Exit(1)
	}
}
