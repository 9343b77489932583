package main

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sackio/unibrowse/internal/agent"
	"github.com/sackio/unibrowse/internal/audit"
	"github.com/sackio/unibrowse/internal/broker"
	"github.com/sackio/unibrowse/internal/browser"
	"github.com/sackio/unibrowse/internal/cdphost"
	"github.com/sackio/unibrowse/internal/config"
	"github.com/sackio/unibrowse/internal/logging"
	"github.com/sackio/unibrowse/internal/session"
	"github.com/sackio/unibrowse/internal/wire"
)

var version = "dev"

func main() {
	cfg, err := config.LoadAgent()
	if err != nil {
		slog.Error("failed to load agent config", "error", err)
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

	agentID := cfg.AgentID
	if agentID == "" {
		agentID = "agent-" + uuid.NewString()[:8]
	}

	slog.Info("unibrowse_agent config loaded",
		"agent_id", agentID,
		"hub_url", cfg.Broker.HubURL,
		"cdp_url", cfg.CDPURL(),
		"launch_browser", cfg.LaunchBrowser,
		"audit_capacity", cfg.AuditCapacity,
		"audit_retention", cfg.AuditRetention.String(),
		"audit_jsonl", cfg.AuditJSONL,
		"targets_file", cfg.TargetsFile,
		"log_level", cfg.Log.Level,
		"log_file", cfg.Log.File,
	)

	var sink audit.Sink
	if cfg.AuditJSONL != "" {
		jsonl, err := audit.NewJSONLSink(cfg.AuditJSONL, cfg.AuditBufferSize, cfg.AuditJSONLMaxMB)
		if err != nil {
			slog.Error("failed to open audit sink", "path", cfg.AuditJSONL, "error", err)
			os.Exit(1)
		}
		sink = jsonl
	}
	auditLog := audit.New(audit.Options{Capacity: cfg.AuditCapacity, Sink: sink})
	defer func() {
		if err := auditLog.Close(); err != nil {
			slog.Debug("audit log close failed", "error", err)
		}
	}()

	retention, err := audit.StartRetention(auditLog, cfg.AuditSweep, cfg.AuditRetention)
	if err != nil {
		slog.Error("failed to start audit retention", "schedule", cfg.AuditSweep, "error", err)
		os.Exit(1)
	}
	if retention != nil {
		defer retention.Stop()
	}

	cdp := cdphost.NewClient(cfg.CDPURL())
	defer func() {
		if err := cdp.Close(); err != nil {
			slog.Debug("CDP client close failed", "error", err)
		}
	}()
	host := cdphost.NewHost(cdp, auditLog, cdphost.Options{})
	defer host.Close()

	br := broker.New(broker.Config{
		URL:         cfg.Broker.HubURL,
		CallTimeout: cfg.Broker.CallTimeout,
		Backoff:     cfg.Broker.Backoff,
		DialTimeout: cfg.Broker.DialTimeout,
		Handshake:   broker.RegisterHandshake(wire.TypeExtensionRegister, agentID, "agent", version),

		RejectUnknown: true,
	})

	ag := agent.New(br, session.NewRegistry(host), host, auditLog)
	host.SetOptions(ag.HostOptions())
	ag.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			Binary:     cfg.BrowserBinary,
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.BrowserProfileDir,
			Headless:   cfg.BrowserHeadless,
		})
		if _, err := launcher.Launch(ctx); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	// Attach reconnects on demand.
	if err := cdp.Connect(ctx); err != nil {
		slog.Warn("browser not reachable yet", "cdp_url", cfg.CDPURL(), "error", err)
	}

	if cfg.TargetsFile != "" {
		openStartupTargets(ctx, ag, cfg.TargetsFile)
	}

	go func() {
		if err := br.ConnectRetry(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("unibrowse_agent hub connect failed", "hub_url", cfg.Broker.HubURL, "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("unibrowse_agent shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := br.Close(shutdownCtx); err != nil {
		slog.Error("unibrowse_agent broker close failed", "error", err)
	}
}

func openStartupTargets(ctx context.Context, ag *agent.Agent, path string) {
	tc, err := config.LoadTargets(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("startup targets file not found", "path", path)
		return
	}
	if err != nil {
		slog.Error("failed to load startup targets", "path", path, "error", err)
		return
	}
	targets := make([]agent.StartupTarget, 0, len(tc.Targets))
	for _, t := range tc.Targets {
		targets = append(targets, agent.StartupTarget{URL: t.URL, Label: t.Label})
	}
	n := ag.OpenStartupTargets(ctx, targets)
	slog.Info("startup targets opened", "path", path, "opened", n, "configured", len(targets))
}
