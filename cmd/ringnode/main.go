// Command ringnode runs one member of the replicated key-value ring: it
// binds the peer-link listener and the HTTP adapter, joins the cluster
// through any configured seeds, and serves until it receives SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ringkv/ringkv/internal/config"
	"github.com/ringkv/ringkv/internal/httpapi"
	"github.com/ringkv/ringkv/internal/node"
	"github.com/ringkv/ringkv/internal/ringerr"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", os.Getenv("RINGNODE_CONFIG"), "path to a YAML config file")
		nodeID     = flag.String("node-id", "", "overrides server.node_id")
		peerBind   = flag.String("peer-bind", "", "overrides server.peer_bind")
		httpBind   = flag.String("http-bind", "", "overrides server.http_bind")
		seedsFlag  = flag.String("seeds", "", "comma-separated bootstrap addresses, overrides seeds")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil && *nodeID == "" {
		fmt.Fprintln(os.Stderr, "ringnode: config error:", err)
		return 1
	}
	if cfg == nil {
		cfg = &config.Config{}
	}
	applyFlagOverrides(cfg, *nodeID, *peerBind, *httpBind, *seedsFlag)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "ringnode: invalid configuration:", err)
		return 1
	}

	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ringnode: logger init failed:", err)
		return 1
	}
	defer logger.Sync()

	n, err := node.New(node.Config{
		NodeID:            cfg.Server.NodeID,
		BindAddress:       cfg.Server.PeerBind,
		ReplicationFactor: cfg.Ring.ReplicationFactor,
		VirtualNodes:      cfg.Ring.VirtualNodes,
	}, logger)
	if err != nil {
		logger.Error("failed to construct node", zap.Error(err))
		return 1
	}
	n.Start()
	defer n.Stop()

	if len(cfg.Seeds) > 0 {
		joinCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := n.Join(joinCtx, cfg.Seeds)
		cancel()
		if err != nil {
			logger.Error("failed to join cluster", zap.Error(err), zap.Strings("seeds", cfg.Seeds))
			if ringerr.CodeOf(err) == ringerr.JoinFailed {
				return 1
			}
		}
	}

	httpServer := httpapi.NewServer(httpapi.ServerConfig{
		BindAddress:      cfg.Server.HTTPBind,
		ReadTimeout:      cfg.HTTP.ReadTimeout,
		WriteTimeout:     cfg.HTTP.WriteTimeout,
		RateLimitEnabled: cfg.HTTP.RateLimitEnabled,
		RateLimitPerSec:  cfg.HTTP.RateLimitPerSec,
		RateLimitBurst:   cfg.HTTP.RateLimitBurst,
	}, n, logger)

	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- httpServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("http server exited unexpectedly", zap.Error(err))
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("ringnode shut down cleanly", zap.String("node_id", n.ID()))
	return 0
}

func applyFlagOverrides(cfg *config.Config, nodeID, peerBind, httpBind, seeds string) {
	if nodeID != "" {
		cfg.Server.NodeID = nodeID
	}
	if peerBind != "" {
		cfg.Server.PeerBind = peerBind
	}
	if httpBind != "" {
		cfg.Server.HTTPBind = httpBind
	}
	if seeds != "" {
		cfg.Seeds = strings.Split(seeds, ",")
	}
	if cfg.Server.PeerBind == "" {
		cfg.Server.PeerBind = "0.0.0.0:7946"
	}
	if cfg.Server.HTTPBind == "" {
		cfg.Server.HTTPBind = "0.0.0.0:8080"
	}
	if cfg.Ring.ReplicationFactor == 0 {
		cfg.Ring.ReplicationFactor = 3
	}
	if cfg.Ring.VirtualNodes == 0 {
		cfg.Ring.VirtualNodes = 150
	}
}

func newLogger(level string) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if level != "" {
		var lvl zap.AtomicLevel
		if err := lvl.UnmarshalText([]byte(level)); err == nil {
			zapCfg.Level = lvl
		}
	}
	return zapCfg.Build()
}
