package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sackio/unibrowse/internal/transport"
	"github.com/sackio/unibrowse/internal/wire"
)

// Config is fixed for the lifetime of a Broker.
type Config struct {
	URL         string
	CallTimeout time.Duration
	Backoff     transport.Backoff
	DialTimeout time.Duration

	// Handshake identifies this side to the hub after every (re)connect.
	Handshake func() (wire.Envelope, error)
	// Dial overrides the transport dialer; nil uses transport.Dial.
	Dial transport.DialFunc
	// RejectUnknown answers requests that have no handler with a VALIDATION
	// error. Set by the execution agent, which is the only replier for caller
	// requests; callers leave it off because the hub fans agent requests out.
	RejectUnknown bool
}

// CallOptions tunes a single call. Target only feeds error context.
type CallOptions struct {
	Timeout time.Duration
	Target  string
}

// Stats is a point-in-time view of a broker.
type Stats struct {
	State      string `json:"state"`
	Pending    int    `json:"pending"`
	Reconnects int    `json:"reconnects"`
	URL        string `json:"url"`
}

// Broker multiplexes concurrent calls, inbound commands and notifications over
// one supervised connection.
type Broker struct {
	cfg    Config
	corr   *Correlator
	router *Router
	sup    *transport.Supervisor

	mu      sync.Mutex
	closed  bool
	onClose []func(context.Context)
}

// RegisterHandshake builds a Handshake that sends typ with the given identity.
func RegisterHandshake(typ, clientID, role, version string) func() (wire.Envelope, error) {
	return func() (wire.Envelope, error) {
		return wire.NewNotification(typ, wire.RegisterPayload{ClientID: clientID, Role: role, Version: version})
	}
}

func New(cfg Config) *Broker {
	b := &Broker{cfg: cfg, corr: NewCorrelator(cfg.CallTimeout)}
	b.sup = transport.NewSupervisor(transport.Options{
		URL:         cfg.URL,
		Backoff:     cfg.Backoff,
		DialTimeout: cfg.DialTimeout,
		Dial:        cfg.Dial,
		Handshake:   cfg.Handshake,
		OnMessage:   func(data []byte) { b.router.Dispatch(data) },
		OnDown:      b.onDown,
	})
	b.router = NewRouter(b.corr, b.sup.Send)
	b.router.RejectUnknown(cfg.RejectUnknown)
	return b
}

// Connect opens the supervised connection.
func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return wire.NewError(wire.CodeClosed, "broker closed", nil)
	}
	return b.sup.Connect(ctx)
}

// ConnectRetry calls Connect until it succeeds, waiting the configured backoff
// between failures. It gives up when ctx ends or the broker is closed.
func (b *Broker) ConnectRetry(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		err := b.Connect(ctx)
		if err == nil || wire.IsCode(err, wire.CodeClosed) {
			return err
		}
		delay := b.cfg.Backoff.Delay(attempt)
		slog.Info("broker connect retry scheduled", "url", b.cfg.URL, "attempt", attempt+1, "delay_ms", delay.Milliseconds())
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Disconnect closes the connection without reconnecting. Pending calls fail.
// The broker stays usable and Connect may be called again.
func (b *Broker) Disconnect() {
	b.sup.Disconnect()
}

// Call issues one request and waits for its outcome.
func (b *Broker) Call(ctx context.Context, command string, payload any, opts CallOptions) (json.RawMessage, error) {
	return b.corr.Call(ctx, command, payload, opts, b.sup.Send)
}

// CallInto is Call followed by decoding the result into out.
func (b *Broker) CallInto(ctx context.Context, command string, payload any, opts CallOptions, out any) error {
	raw, err := b.Call(ctx, command, payload, opts)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &wire.CodedError{Code: wire.CodeRemote, Message: "undecodable result", Command: command, Target: opts.Target, Cause: err}
	}
	return nil
}

// Emit sends a fire-and-forget notification.
func (b *Broker) Emit(typ string, payload any) error {
	env, err := wire.NewNotification(typ, payload)
	if err != nil {
		return err
	}
	return b.sup.Send(env)
}

// Handle registers an inbound command handler.
func (b *Broker) Handle(typ string, h Handler) { b.router.Handle(typ, h) }

// Notify registers a passive listener. Returns an unregister function.
func (b *Broker) Notify(typ string, fn NotifyFunc) func() { return b.router.Notify(typ, fn) }

// Subscribe streams connection state changes.
func (b *Broker) Subscribe() (<-chan transport.StateChange, func()) { return b.sup.Subscribe() }

func (b *Broker) State() transport.State { return b.sup.State() }

func (b *Broker) Stats() Stats {
	return Stats{
		State:      b.sup.State().String(),
		Pending:    b.corr.Len(),
		Reconnects: b.sup.Reconnects(),
		URL:        b.cfg.URL,
	}
}

// OnClose registers fn to run during Close, after the transport is gone.
func (b *Broker) OnClose(fn func(context.Context)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onClose = append(b.onClose, fn)
}

// Close rejects pending calls, stops the supervisor and the transport, runs
// the release hooks, and waits for inbound handlers. Safe to call twice.
func (b *Broker) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	hooks := b.onClose
	b.onClose = nil
	b.mu.Unlock()

	if n := b.corr.close(); n > 0 {
		slog.Info("broker rejected pending calls on close", "count", n)
	}
	b.sup.Disconnect()
	for _, fn := range hooks {
		fn(ctx)
	}
	err := b.router.Close(ctx)
	slog.Info("broker closed", "url", b.cfg.URL)
	return err
}

func (b *Broker) onDown(cause error) {
	if n := b.corr.failAll(wire.CodeNotConnected, "disconnected", cause); n > 0 {
		slog.Warn("broker rejected in-flight calls", "count", n, "url", b.cfg.URL)
	}
}
