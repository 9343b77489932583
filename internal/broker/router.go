package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sackio/unibrowse/internal/wire"
)

// AnyType registers a notification listener for every envelope type.
const AnyType = "*"

// Handler serves an inbound command. For requests its result or error becomes
// the correlated messageResponse; id-less commands get no reply.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// NotifyFunc consumes an unsolicited envelope. It runs on the read goroutine
// and must not block.
type NotifyFunc func(env wire.Envelope)

type listener struct {
	id int64
	fn NotifyFunc
}

// Router decides the disposition of every inbound frame: correlated response,
// inbound command, or passive notification.
type Router struct {
	corr  *Correlator
	reply func(wire.Envelope) error

	mu        sync.RWMutex
	handlers  map[string]Handler
	listeners map[string][]listener
	seq       atomic.Int64
	closed    bool
	strict    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRouter(corr *Correlator, reply func(wire.Envelope) error) *Router {
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		corr:      corr,
		reply:     reply,
		handlers:  make(map[string]Handler),
		listeners: make(map[string][]listener),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Handle registers h for inbound requests of type typ, replacing any earlier
// handler.
func (r *Router) Handle(typ string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typ] = h
}

// RejectUnknown makes requests with no registered handler fail fast with a
// VALIDATION reply instead of going to listeners. Only a side that is the
// sole replier for its peers should set it.
func (r *Router) RejectUnknown(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strict = on
}

// Notify registers fn for notifications of type typ (or AnyType). Returns an
// unregister function.
func (r *Router) Notify(typ string, fn NotifyFunc) func() {
	id := r.seq.Add(1)
	r.mu.Lock()
	r.listeners[typ] = append(r.listeners[typ], listener{id: id, fn: fn})
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		ls := r.listeners[typ]
		for i, l := range ls {
			if l.id == id {
				r.listeners[typ] = append(ls[:i:i], ls[i+1:]...)
				break
			}
		}
	}
}

// Dispatch routes one raw inbound frame. It never panics on bad input.
func (r *Router) Dispatch(data []byte) {
	env, err := wire.Decode(data)
	if err != nil {
		slog.Warn("router dropped malformed envelope", "error", err, "bytes", len(data))
		return
	}

	if env.IsResponse() {
		resp, err := env.Response()
		if err != nil {
			slog.Warn("router dropped malformed response", "error", err)
			return
		}
		if !r.corr.resolve(resp) {
			slog.Debug("router dropped late response", "request_id", resp.RequestID)
		}
		return
	}

	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	strict, closed := r.strict, r.closed
	expectsReply := env.IsRequest()
	if !ok && expectsReply && strict {
		h, ok = unknownCommand(env.Type), true
	}
	if ok && !closed {
		r.wg.Add(1)
	}
	r.mu.RUnlock()
	if !ok {
		// Unmatched requests belong to passive consumers; another peer may serve them.
		r.notify(env)
		return
	}
	if closed {
		slog.Debug("router dropped inbound command after close", "type", env.Type, "id", env.ID)
		return
	}
	go r.serve(env, h, expectsReply)
}

func (r *Router) serve(env wire.Envelope, h Handler, expectsReply bool) {
	defer r.wg.Done()

	result, err := r.invoke(env, h)
	if !expectsReply {
		if err != nil {
			slog.Warn("router handler failed", "type", env.Type, "error", err)
		}
		return
	}
	resp, mErr := wire.NewResponse(env.ID, result, err)
	if mErr != nil {
		resp, _ = wire.NewResponse(env.ID, nil, wire.NewError(wire.CodeValidation, "result is not serialisable", mErr))
	}
	if err := r.reply(resp); err != nil {
		slog.Warn("router reply failed", "type", env.Type, "id", env.ID, "error", err)
	}
}

func (r *Router) invoke(env wire.Envelope, h Handler) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("router handler panic", "type", env.Type, "id", env.ID, "panic", rec)
			err = fmt.Errorf("handler %s panicked: %v", env.Type, rec)
		}
	}()
	return h(r.ctx, env.Payload)
}

func (r *Router) notify(env wire.Envelope) {
	r.mu.RLock()
	ls := make([]listener, 0, len(r.listeners[env.Type])+len(r.listeners[AnyType]))
	ls = append(ls, r.listeners[env.Type]...)
	ls = append(ls, r.listeners[AnyType]...)
	r.mu.RUnlock()

	if len(ls) == 0 {
		slog.Debug("router dropped notification", "type", env.Type)
		return
	}
	for _, l := range ls {
		r.deliver(l, env)
	}
}

func (r *Router) deliver(l listener, env wire.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("router listener panic", "type", env.Type, "panic", rec)
		}
	}()
	l.fn(env)
}

// Close cancels in-flight handlers and waits for them, bounded by ctx.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("router: handlers still running: %w", ctx.Err())
	}
}

func unknownCommand(typ string) Handler {
	return func(context.Context, json.RawMessage) (any, error) {
		return nil, wire.NewError(wire.CodeValidation, "unknown command "+typ, nil)
	}
}
