package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sackio/unibrowse/internal/wire"
)

const (
	subscriberBufSize  = 64
	defaultDialTimeout = 10 * time.Second
)

// DialFunc opens a Conn. Tests swap it to inject failures.
type DialFunc func(ctx context.Context, url string) (*Conn, error)

// Options configures a Supervisor. All fields are fixed at construction.
type Options struct {
	URL         string
	Backoff     Backoff
	DialTimeout time.Duration
	Dial        DialFunc

	// Handshake builds the identification envelope written right after every
	// successful (re)connect, before the channel is offered to senders.
	Handshake func() (wire.Envelope, error)
	// OnMessage receives every inbound frame on the read goroutine.
	OnMessage func([]byte)
	// OnDown runs each time an open channel goes away, before any reconnect
	// is scheduled.
	OnDown func(error)
}

// Supervisor keeps one Conn alive, reconnecting with exponential backoff after
// unexpected closes. An intentional Disconnect suppresses reconnection until
// the next Connect.
type Supervisor struct {
	opts Options

	mu         sync.Mutex
	fsm        Machine
	conn       *Conn
	attempt    int
	reconnects int
	running    bool
	gen        uint64
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	subMu   sync.Mutex
	subs    map[int64]chan StateChange
	nextSub atomic.Int64
}

// NewSupervisor builds an idle supervisor in the disconnected state.
func NewSupervisor(opts Options) *Supervisor {
	if opts.Dial == nil {
		opts.Dial = Dial
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.OnMessage == nil {
		opts.OnMessage = func([]byte) {}
	}
	return &Supervisor{opts: opts, subs: make(map[int64]chan StateChange)}
}

// Connect opens the channel. It returns once the handshake has been written,
// or the error of the initial attempt; a failed initial attempt is not retried.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.fsm.State() == StateConnected:
		s.mu.Unlock()
		return nil
	case s.running || s.fsm.State() == StateConnecting:
		s.mu.Unlock()
		return wire.NewError(wire.CodeNotConnected, "connect already in progress", nil)
	}
	if _, err := s.fireLocked(EventDial, nil); err != nil {
		s.mu.Unlock()
		return err
	}
	s.gen++
	gen := s.gen
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	// Disconnect cancels runCtx, which aborts the dial too.
	dialCtx, dialCancel := context.WithTimeout(ctx, s.opts.DialTimeout)
	stopDial := context.AfterFunc(runCtx, dialCancel)
	conn, err := s.dialAndGreet(dialCtx)
	stopDial()
	dialCancel()

	s.mu.Lock()
	if s.gen != gen || s.fsm.State() != StateConnecting {
		// Disconnect won the race, possibly followed by a newer Connect.
		s.mu.Unlock()
		cancel()
		if conn != nil {
			_ = conn.Close()
		}
		return wire.NewError(wire.CodeNotConnected, "disconnected during connect", err)
	}
	if err != nil {
		_, _ = s.fireLocked(EventFailed, err)
		s.mu.Unlock()
		cancel()
		slog.Warn("transport connect failed", "url", s.opts.URL, "error", err)
		return wire.NewError(wire.CodeNotConnected, "connect to "+s.opts.URL+" failed", err)
	}
	if _, err := s.fireLocked(EventEstablished, nil); err != nil {
		s.mu.Unlock()
		cancel()
		_ = conn.Close()
		return err
	}
	s.conn = conn
	s.attempt = 0
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	slog.Info("transport connected", "url", s.opts.URL)
	go s.serve(runCtx, conn)
	return nil
}

// Disconnect closes the channel and marks the disconnect intentional. It
// returns after the supervision goroutine has exited.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	_, _ = s.fireLocked(EventStop, nil)
	conn := s.conn
	s.conn = nil
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			slog.Debug("transport close failed", "url", s.opts.URL, "error", err)
		}
	}
	s.wg.Wait()
}

// Send writes env on the open channel, failing synchronously when there is none.
func (s *Supervisor) Send(env wire.Envelope) error {
	s.mu.Lock()
	conn := s.conn
	state := s.fsm.State()
	s.mu.Unlock()
	if conn == nil || state != StateConnected {
		return wire.NewError(wire.CodeNotConnected, "not connected (state="+state.String()+")", nil)
	}
	return conn.Send(env)
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.State()
}

// Reconnects returns the number of automatic reconnect attempts so far.
func (s *Supervisor) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

// Subscribe registers a state-change consumer. The channel is buffered; slow
// consumers miss changes rather than stall the supervisor.
func (s *Supervisor) Subscribe() (<-chan StateChange, func()) {
	id := s.nextSub.Add(1)
	ch := make(chan StateChange, subscriberBufSize)
	s.subMu.Lock()
	s.subs[id] = ch
	s.subMu.Unlock()
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// fireLocked applies ev and publishes the change. Caller holds s.mu, which
// keeps the published order identical to the applied order.
func (s *Supervisor) fireLocked(ev Event, cause error) (StateChange, error) {
	change, err := s.fsm.Fire(ev)
	if err != nil {
		return change, err
	}
	if cause != nil {
		change.Err = cause.Error()
	}
	if change.From == change.To {
		return change, nil
	}
	slog.Debug("transport state", "url", s.opts.URL, "from", change.From, "to", change.To, "event", ev)
	s.subMu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- change:
		default:
		}
	}
	s.subMu.Unlock()
	return change, nil
}

func (s *Supervisor) dialAndGreet(ctx context.Context) (*Conn, error) {
	conn, err := s.opts.Dial(ctx, s.opts.URL)
	if err != nil {
		return nil, err
	}
	if s.opts.Handshake == nil {
		return conn, nil
	}
	env, err := s.opts.Handshake()
	if err == nil {
		err = conn.Send(env)
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// serve runs the read loop for conn and every reconnected successor.
func (s *Supervisor) serve(ctx context.Context, conn *Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for conn != nil {
		err := conn.ReadLoop(s.opts.OnMessage)

		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		if s.fsm.State() == StateConnected {
			_, _ = s.fireLocked(EventLost, err)
		}
		intentional := s.fsm.Intentional()
		s.mu.Unlock()

		if closeErr := conn.Close(); closeErr != nil && !errors.Is(closeErr, context.Canceled) {
			slog.Debug("transport close after read exit", "url", s.opts.URL, "error", closeErr)
		}
		if intentional {
			slog.Info("transport disconnected", "url", s.opts.URL)
		} else {
			slog.Warn("transport lost", "url", s.opts.URL, "error", err)
		}
		if s.opts.OnDown != nil {
			s.opts.OnDown(err)
		}
		if intentional {
			return
		}
		conn = s.reconnect(ctx)
	}
}

// reconnect retries until a channel is established or ctx is cancelled.
func (s *Supervisor) reconnect(ctx context.Context) *Conn {
	for {
		s.mu.Lock()
		delay := s.opts.Backoff.Delay(s.attempt)
		attempt := s.attempt
		s.mu.Unlock()

		slog.Info("transport reconnect scheduled", "url", s.opts.URL, "attempt", attempt+1, "delay_ms", delay.Milliseconds())
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		s.mu.Lock()
		if _, err := s.fireLocked(EventRetry, nil); err != nil {
			s.mu.Unlock()
			return nil
		}
		s.reconnects++
		s.mu.Unlock()

		dialCtx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
		conn, err := s.dialAndGreet(dialCtx)
		cancel()

		s.mu.Lock()
		if s.fsm.State() != StateConnecting {
			s.mu.Unlock()
			if conn != nil {
				_ = conn.Close()
			}
			return nil
		}
		if err != nil {
			_, _ = s.fireLocked(EventFailed, err)
			s.attempt++
			s.mu.Unlock()
			slog.Warn("transport reconnect failed", "url", s.opts.URL, "attempt", attempt+1, "error", err)
			continue
		}
		_, _ = s.fireLocked(EventEstablished, nil)
		s.conn = conn
		s.attempt = 0
		s.mu.Unlock()
		slog.Info("transport reconnected", "url", s.opts.URL, "attempt", attempt+1)
		return conn
	}
}
