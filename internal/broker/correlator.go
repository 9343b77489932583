package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sackio/unibrowse/internal/wire"
)

const (
	DefaultCallTimeout = 30 * time.Second
	UserActionTimeout  = 5 * time.Minute
)

type outcome struct {
	result json.RawMessage
	err    error
}

type pendingCall struct {
	id      string
	command string
	target  string
	started time.Time
	done    chan outcome
}

// Correlator pairs outbound requests with their responses. Every pending call
// leaves the table exactly once, through whichever of resolve, timeout,
// cancellation or failAll reaches it first.
type Correlator struct {
	prefix         string
	seq            atomic.Uint64
	defaultTimeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingCall
	closed  bool
}

// NewCorrelator returns a correlator whose ids share a random prefix, so ids
// stay unique across broker instances talking through one hub.
func NewCorrelator(defaultTimeout time.Duration) *Correlator {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultCallTimeout
	}
	return &Correlator{
		prefix:         strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		defaultTimeout: defaultTimeout,
		pending:        make(map[string]*pendingCall),
	}
}

// NextID returns a fresh correlation id.
func (c *Correlator) NextID() string {
	return fmt.Sprintf("%s-%d", c.prefix, c.seq.Add(1))
}

// Len returns the number of calls awaiting a response.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Call sends one request through send and blocks until its response, the
// timeout, ctx cancellation, or a connection failure.
func (c *Correlator) Call(ctx context.Context, command string, payload any, opts CallOptions, send func(wire.Envelope) error) (json.RawMessage, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	p, err := c.register(command, opts.Target)
	if err != nil {
		return nil, err
	}
	env, err := wire.NewRequest(p.id, command, payload)
	if err != nil {
		c.take(p.id)
		return nil, &wire.CodedError{Code: wire.CodeValidation, Message: "payload is not serialisable", Command: command, Target: opts.Target, Cause: err}
	}
	if err := send(env); err != nil {
		c.take(p.id)
		code := wire.CodeOf(err)
		if code == "" {
			code = wire.CodeNotConnected
		}
		return nil, &wire.CodedError{Code: code, Message: "send failed", Command: command, Target: opts.Target, Cause: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-p.done:
		return o.result, o.err
	case <-timer.C:
		if c.take(p.id) != nil {
			return nil, timeoutError(command, opts.Target, timeout, time.Since(p.started))
		}
	case <-ctx.Done():
		if c.take(p.id) != nil {
			return nil, contextError(ctx.Err(), command, opts.Target, time.Since(p.started))
		}
	}
	// A completion took the call first; its outcome is already buffered.
	o := <-p.done
	return o.result, o.err
}

func (c *Correlator) register(command, target string) (*pendingCall, error) {
	p := &pendingCall{
		id:      c.NextID(),
		command: command,
		target:  target,
		started: time.Now(),
		done:    make(chan outcome, 1),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, &wire.CodedError{Code: wire.CodeClosed, Message: "broker closed", Command: command, Target: target}
	}
	c.pending[p.id] = p
	return p, nil
}

// take removes and returns the pending call for id, or nil if another path
// already completed it.
func (c *Correlator) take(id string) *pendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return p
}

// resolve completes the call answered by resp. It reports false for late or
// unknown responses, which are dropped.
func (c *Correlator) resolve(resp wire.ResponsePayload) bool {
	p := c.take(resp.RequestID)
	if p == nil {
		return false
	}
	if resp.Error != "" {
		p.done <- outcome{err: &wire.CodedError{
			Code:       wire.CodeRemote,
			Message:    resp.Error,
			Command:    p.command,
			Target:     p.target,
			Elapsed:    time.Since(p.started),
			RemoteCode: resp.Code,
		}}
		return true
	}
	p.done <- outcome{result: resp.Result}
	return true
}

// failAll rejects every pending call with an error of the given code.
func (c *Correlator) failAll(code, msg string, cause error) int {
	c.mu.Lock()
	calls := make([]*pendingCall, 0, len(c.pending))
	for id, p := range c.pending {
		calls = append(calls, p)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	for _, p := range calls {
		p.done <- outcome{err: &wire.CodedError{
			Code:    code,
			Message: msg,
			Command: p.command,
			Target:  p.target,
			Elapsed: time.Since(p.started),
			Cause:   cause,
		}}
	}
	return len(calls)
}

// close rejects everything pending and refuses new calls.
func (c *Correlator) close() int {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.failAll(wire.CodeClosed, "broker closed", nil)
}

func timeoutError(command, target string, timeout, elapsed time.Duration) error {
	return &wire.CodedError{
		Code:    wire.CodeTimeout,
		Message: fmt.Sprintf("no response after %dms", timeout.Milliseconds()),
		Command: command,
		Target:  target,
		Elapsed: elapsed,
	}
}

func contextError(err error, command, target string, elapsed time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &wire.CodedError{Code: wire.CodeTimeout, Message: "caller deadline exceeded", Command: command, Target: target, Elapsed: elapsed, Cause: err}
	}
	return &wire.CodedError{Code: wire.CodeClosed, Message: "call cancelled", Command: command, Target: target, Elapsed: elapsed, Cause: err}
}
