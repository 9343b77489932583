package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sackio/unibrowse/internal/broker"
	"github.com/sackio/unibrowse/internal/transport"
	"github.com/sackio/unibrowse/internal/wire"
)

// Source is the part of a broker the relay listens to.
type Source interface {
	Subscribe() (<-chan transport.StateChange, func())
	Notify(typ string, fn broker.NotifyFunc) func()
}

// StatePayload is the data of a "state" event.
type StatePayload struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Event string `json:"event"`
	At    int64  `json:"at"`
	Error string `json:"error,omitempty"`
}

// NotificationPayload is the data of a notification event.
type NotificationPayload struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Relay publishes a broker's connection state changes and inbound
// notifications to an SSE Broker.
type Relay struct {
	cfg    *RelayConfig
	broker *Broker

	mu            sync.Mutex
	unregisterFns []func()
}

func NewRelay(cfg *RelayConfig, broker *Broker) *Relay {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Relay{cfg: cfg, broker: broker}
}

// Start attaches to src. Call Stop to detach.
func (r *Relay) Start(src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changes, unsubscribe := src.Subscribe()
	done := make(chan struct{})
	go r.pumpState(changes, done)

	r.unregisterFns = append(r.unregisterFns,
		func() {
			unsubscribe()
			<-done
		},
		src.Notify(broker.AnyType, r.onNotification),
	)
	slog.Info("relay started", "feeds", len(r.cfg.Feeds)+2)
}

// Stop detaches from the source.
func (r *Relay) Stop() {
	r.mu.Lock()
	fns := r.unregisterFns
	r.unregisterFns = nil
	r.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	slog.Info("relay stopped")
}

func (r *Relay) pumpState(changes <-chan transport.StateChange, done chan struct{}) {
	defer close(done)
	for ch := range changes {
		p := StatePayload{
			From:  ch.From.String(),
			To:    ch.To.String(),
			Event: ch.On.String(),
			At:    ch.At.UnixMilli(),
			Error: ch.Err,
		}
		if ch.At.IsZero() {
			p.At = time.Now().UnixMilli()
		}
		if err := r.broker.PublishJSON(FeedState, p); err != nil {
			slog.Debug("relay state publish failed", "error", err)
		}
	}
}

func (r *Relay) onNotification(env wire.Envelope) {
	feed := r.cfg.feedFor(env.Type)
	if err := r.broker.PublishJSON(feed, NotificationPayload{Type: env.Type, Payload: env.Payload}); err != nil {
		slog.Debug("relay notification publish failed", "type", env.Type, "error", err)
	}
}
