package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sackio/unibrowse/internal/api"
	"github.com/sackio/unibrowse/internal/broker"
	"github.com/sackio/unibrowse/internal/config"
	"github.com/sackio/unibrowse/internal/controller"
	"github.com/sackio/unibrowse/internal/logging"
	"github.com/sackio/unibrowse/internal/netutil"
	"github.com/sackio/unibrowse/internal/relay"
	"github.com/sackio/unibrowse/internal/wire"
)

var version = "dev"

func main() {
	cfg, err := config.LoadController()
	if err != nil {
		slog.Error("failed to load controller config", "error", err)
		os.Exit(1)
	}

	logCloser, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}
	defer func() {
		if err := logCloser.Close(); err != nil {
			slog.Debug("log file close failed", "error", err)
		}
	}()

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}

	slog.Info("unibrowse config loaded",
		"client_id", clientID,
		"hub_url", cfg.Broker.HubURL,
		"call_timeout_ms", cfg.Broker.CallTimeout.Milliseconds(),
		"bind_addr", cfg.BindAddr,
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"relay_config", cfg.RelayConfigPath,
		"log_level", cfg.Log.Level,
		"log_file", cfg.Log.File,
	)

	relayCfg := relay.DefaultConfig()
	if cfg.RelayConfigPath != "" {
		if relayCfg, err = relay.LoadConfig(cfg.RelayConfigPath); err != nil {
			slog.Error("failed to load relay config", "path", cfg.RelayConfigPath, "error", err)
			os.Exit(1)
		}
	}

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	br := broker.New(broker.Config{
		URL:         cfg.Broker.HubURL,
		CallTimeout: cfg.Broker.CallTimeout,
		Backoff:     cfg.Broker.Backoff,
		DialTimeout: cfg.Broker.DialTimeout,
		Handshake:   broker.RegisterHandshake(wire.TypeClientRegister, clientID, "controller", version),
	})

	events := relay.NewBroker()
	rl := relay.NewRelay(relayCfg, events)
	rl.Start(br)

	svc := controller.NewService(br)
	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(svc, relay.SSEHandler(events))}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := br.ConnectRetry(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("unibrowse hub connect failed", "hub_url", cfg.Broker.HubURL, "error", err)
		}
	}()

	go func() {
		slog.Info("unibrowse listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs", "events", "http://"+bindAddr+"/events")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("unibrowse server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("unibrowse shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Close the SSE streams first so Shutdown does not wait on them.
	events.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("unibrowse shutdown failed", "error", err)
	}
	rl.Stop()
	if err := br.Close(shutdownCtx); err != nil {
		slog.Error("unibrowse broker close failed", "error", err)
	}
}
