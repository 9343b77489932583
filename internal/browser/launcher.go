package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"
)

const defaultReadyTimeout = 15 * time.Second

// Config describes the Chromium process the agent may spawn.
type Config struct {
	// Binary overrides detection when set.
	Binary       string
	CDPAddress   string
	CDPPort      int
	ProfileDir   string
	Headless     bool
	StartURL     string
	ExtraArgs    []string
	ReadyTimeout time.Duration
}

// Launcher owns a spawned browser process. It never touches a browser it did
// not start.
type Launcher struct {
	cfg      Config
	lookPath func(string) (string, error)
	cmd      *exec.Cmd
}

func NewLauncher(cfg Config) *Launcher {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.StartURL == "" {
		cfg.StartURL = "about:blank"
	}
	return &Launcher{cfg: cfg, lookPath: exec.LookPath}
}

func (l *Launcher) versionURL() string {
	return fmt.Sprintf("http://%s:%d/json/version", l.cfg.CDPAddress, l.cfg.CDPPort)
}

// detect finds a Chrome or Chromium binary.
func (l *Launcher) detect() (string, error) {
	if l.cfg.Binary != "" {
		return l.lookPath(l.cfg.Binary)
	}
	for _, name := range []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"} {
		if path, err := l.lookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", errors.New("no supported browser found (tried chromium-browser, chromium, google-chrome)")
}

func (l *Launcher) args() []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", l.cfg.CDPPort),
		fmt.Sprintf("--remote-debugging-address=%s", l.cfg.CDPAddress),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-dev-shm-usage",
		"--disable-breakpad",
	}
	if l.cfg.ProfileDir != "" {
		args = append(args, "--user-data-dir="+l.cfg.ProfileDir)
	}
	if l.cfg.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, l.cfg.ExtraArgs...)
	return append(args, l.cfg.StartURL)
}

// Launch starts the browser unless its debugging endpoint already answers,
// then waits for the endpoint. It reports whether a process was spawned.
func (l *Launcher) Launch(ctx context.Context) (bool, error) {
	if probe(ctx, l.versionURL()) {
		slog.Info("browser already running, skipping launch", "address", l.cfg.CDPAddress, "port", l.cfg.CDPPort)
		return false, nil
	}

	path, err := l.detect()
	if err != nil {
		return false, err
	}
	if l.cfg.ProfileDir != "" {
		if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
			return false, fmt.Errorf("create profile dir: %w", err)
		}
	}

	l.cmd = exec.Command(path, l.args()...)
	l.cmd.Stdout = os.Stdout
	l.cmd.Stderr = os.Stderr
	if err := l.cmd.Start(); err != nil {
		l.cmd = nil
		return false, fmt.Errorf("start browser: %w", err)
	}
	slog.Info("browser process started", "path", path, "pid", l.cmd.Process.Pid)

	if err := l.waitReady(ctx); err != nil {
		l.Stop()
		return false, fmt.Errorf("waiting for CDP: %w", err)
	}
	slog.Info("CDP endpoint ready", "address", l.cfg.CDPAddress, "port", l.cfg.CDPPort)
	return true, nil
}

// waitReady polls /json/version until it answers or ReadyTimeout passes.
func (l *Launcher) waitReady(ctx context.Context) error {
	url := l.versionURL()
	ctx, cancel := context.WithTimeout(ctx, l.cfg.ReadyTimeout)
	defer cancel()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("no answer from %s within %s: %w", url, l.cfg.ReadyTimeout, ctx.Err())
		case <-ticker.C:
			if probe(ctx, url) {
				return nil
			}
		}
	}
}

// Running reports whether this launcher holds a live process.
func (l *Launcher) Running() bool {
	return l.cmd != nil
}

// Stop sends SIGTERM to a spawned browser and SIGKILL after five seconds.
func (l *Launcher) Stop() {
	if l.cmd == nil || l.cmd.Process == nil {
		return
	}
	cmd := l.cmd
	l.cmd = nil
	slog.Info("stopping browser", "pid", cmd.Process.Pid)
	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("browser stopped gracefully")
	case <-time.After(5 * time.Second):
		slog.Warn("browser did not exit, sending SIGKILL")
		_ = cmd.Process.Kill()
		<-done
	}
}

func probe(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
