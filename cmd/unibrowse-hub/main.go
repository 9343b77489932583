package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sackio/unibrowse/internal/config"
	"github.com/sackio/unibrowse/internal/hub"
	"github.com/sackio/unibrowse/internal/logging"
)

func main() {
	cfg, err := config.LoadHub()
	if err != nil {
		slog.Error("failed to load hub config", "error", err)
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

	slog.Info("unibrowse_hub config loaded",
		"bind_addr", cfg.BindAddr,
		"max_message_bytes", cfg.MaxMessageBytes,
		"log_level", cfg.Log.Level,
		"log_file", cfg.Log.File,
	)

	h := hub.New(hub.Options{MaxMessageBytes: cfg.MaxMessageBytes})
	srv := &http.Server{Addr: cfg.BindAddr, Handler: h.Handler()}

	go func() {
		slog.Info("unibrowse_hub listening", "addr", cfg.BindAddr, "ws", hub.WSURL("http://"+cfg.BindAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("unibrowse_hub server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h.Close()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("unibrowse_hub shutdown failed", "error", err)
	}
}
