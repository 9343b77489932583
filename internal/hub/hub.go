package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sackio/unibrowse/internal/wire"
)

const (
	DefaultMaxMessageBytes = 8 << 20
	writeWait              = 10 * time.Second
)

// Options configures a Hub.
type Options struct {
	MaxMessageBytes int64
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	AgentConnected bool   `json:"agentConnected"`
	AgentID        string `json:"agentId,omitempty"`
	Callers        int    `json:"callers"`
	Forwarded      int    `json:"forwarded"`
	AgentRequests  int    `json:"agentRequests"`
}

// Hub relays envelopes between one execution agent and any number of
// callers. Caller requests reach the agent under hub-scoped ids; agent
// requests and notifications are broadcast to every caller.
type Hub struct {
	upgrader   websocket.Upgrader
	maxMessage int64
	prefix     string
	seq        atomic.Uint64

	mu        sync.Mutex
	agent     *peer
	callers   map[string]*peer
	forwarded map[string]route    // hub id -> originating caller
	inbound   map[string]struct{} // agent request ids still unanswered
}

type route struct {
	caller     *peer
	originalID string
	command    string
}

type peer struct {
	id      string
	remote  string
	conn    *websocket.Conn
	writeMu sync.Mutex

	idMu     sync.Mutex
	clientID string
}

func (p *peer) write(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *peer) send(env wire.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.write(data)
}

func (p *peer) setClientID(id string) {
	p.idMu.Lock()
	p.clientID = id
	p.idMu.Unlock()
}

func (p *peer) name() string {
	p.idMu.Lock()
	defer p.idMu.Unlock()
	if p.clientID != "" {
		return p.clientID
	}
	return p.id
}

func New(opts Options) *Hub {
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = DefaultMaxMessageBytes
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Loopback service; local tools set no Origin or a localhost one.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		maxMessage: opts.MaxMessageBytes,
		prefix:     "hub-" + uuid.NewString()[:8],
		callers:    make(map[string]*peer),
		forwarded:  make(map[string]route),
		inbound:    make(map[string]struct{}),
	}
}

// Handler mounts the WebSocket endpoint at /ws and a JSON health probe.
func (h *Hub) Handler() http.Handler {
	router := chi.NewMux()
	router.Get("/ws", h.ServeWS)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(h.Stats()); err != nil {
			slog.Debug("hub health write failed", "error", err)
		}
	})
	return router
}

// ServeWS upgrades one connection and relays its frames until it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("hub websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(h.maxMessage)

	p := &peer{id: uuid.NewString(), remote: r.RemoteAddr, conn: conn}
	h.mu.Lock()
	h.callers[p.id] = p
	h.mu.Unlock()
	slog.Info("hub peer connected", "conn_id", p.id, "remote", p.remote)

	defer func() {
		_ = conn.Close()
		h.drop(p)
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("hub peer read ended", "conn_id", p.id, "error", err)
			return
		}
		h.handleFrame(p, msg)
	}
}

// Stats reports the current peers and routing tables.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Stats{
		Callers:       len(h.callers),
		Forwarded:     len(h.forwarded),
		AgentRequests: len(h.inbound),
	}
	if h.agent != nil {
		st.AgentConnected = true
		st.AgentID = h.agent.name()
	}
	return st
}

// Close drops every peer.
func (h *Hub) Close() {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.callers)+1)
	for _, p := range h.callers {
		peers = append(peers, p)
	}
	if h.agent != nil {
		peers = append(peers, h.agent)
	}
	h.mu.Unlock()
	for _, p := range peers {
		p.writeMu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub shutting down"), time.Now().Add(time.Second))
		p.writeMu.Unlock()
		_ = p.conn.Close()
	}
}

func (h *Hub) handleFrame(p *peer, data []byte) {
	env, err := wire.Decode(data)
	if err != nil {
		slog.Warn("hub dropped malformed envelope", "conn_id", p.id, "error", err)
		return
	}

	switch env.Type {
	case wire.TypeExtensionRegister:
		h.registerAgent(p, env)
		return
	case wire.TypeClientRegister:
		var reg wire.RegisterPayload
		_ = json.Unmarshal(env.Payload, &reg)
		p.setClientID(reg.ClientID)
		slog.Info("hub caller registered", "conn_id", p.id, "client_id", reg.ClientID, "role", reg.Role)
		return
	}

	h.mu.Lock()
	isAgent := h.agent == p
	h.mu.Unlock()
	if isAgent {
		h.fromAgent(p, env)
		return
	}
	h.fromCaller(p, env)
}

func (h *Hub) registerAgent(p *peer, env wire.Envelope) {
	var reg wire.RegisterPayload
	_ = json.Unmarshal(env.Payload, &reg)

	h.mu.Lock()
	prev := h.agent
	delete(h.callers, p.id)
	p.setClientID(reg.ClientID)
	h.agent = p
	var orphaned []route
	if prev != nil && prev != p {
		orphaned = h.takeForwardedLocked()
	}
	h.mu.Unlock()

	if prev != nil && prev != p {
		slog.Warn("hub execution agent replaced", "previous", prev.name(), "agent", p.name())
		h.failRoutes(orphaned, "execution agent replaced")
		_ = prev.conn.Close()
	}
	slog.Info("hub execution agent registered", "conn_id", p.id, "client_id", reg.ClientID, "version", reg.Version)
}

func (h *Hub) fromAgent(agent *peer, env wire.Envelope) {
	switch {
	case env.IsResponse():
		resp, err := env.Response()
		if err != nil {
			slog.Warn("hub dropped malformed agent response", "error", err)
			return
		}
		h.mu.Lock()
		rt, ok := h.forwarded[resp.RequestID]
		delete(h.forwarded, resp.RequestID)
		h.mu.Unlock()
		if !ok {
			slog.Debug("hub dropped unroutable agent response", "request_id", resp.RequestID)
			return
		}
		resp.RequestID = rt.originalID
		if err := rt.caller.send(rewrap(resp)); err != nil {
			slog.Debug("hub response delivery failed", "caller", rt.caller.name(), "error", err)
		}

	case env.IsRequest():
		h.mu.Lock()
		callers := h.callerListLocked()
		if len(callers) > 0 {
			h.inbound[env.ID] = struct{}{}
		}
		h.mu.Unlock()
		if len(callers) == 0 {
			reply, _ := wire.NewResponse(env.ID, nil, wire.NewError(wire.CodeNotConnected, "no clients connected", nil))
			_ = agent.send(reply)
			return
		}
		h.broadcast(callers, env)

	default:
		h.mu.Lock()
		callers := h.callerListLocked()
		h.mu.Unlock()
		h.broadcast(callers, env)
	}
}

func (h *Hub) fromCaller(caller *peer, env wire.Envelope) {
	switch {
	case env.IsResponse():
		resp, err := env.Response()
		if err != nil {
			slog.Warn("hub dropped malformed caller response", "conn_id", caller.id, "error", err)
			return
		}
		h.mu.Lock()
		_, pending := h.inbound[resp.RequestID]
		delete(h.inbound, resp.RequestID)
		agent := h.agent
		h.mu.Unlock()
		if !pending || agent == nil {
			slog.Debug("hub dropped duplicate caller response", "request_id", resp.RequestID, "caller", caller.name())
			return
		}
		if err := agent.send(rewrap(resp)); err != nil {
			slog.Debug("hub reply to agent failed", "error", err)
		}

	case env.IsRequest():
		h.mu.Lock()
		agent := h.agent
		hubID := ""
		if agent != nil {
			hubID = fmt.Sprintf("%s-%d", h.prefix, h.seq.Add(1))
			h.forwarded[hubID] = route{caller: caller, originalID: env.ID, command: env.Type}
		}
		h.mu.Unlock()
		if agent == nil {
			h.reject(caller, env.ID, "no execution agent connected")
			return
		}
		fwd := env
		fwd.ID = hubID
		if err := agent.send(fwd); err != nil {
			h.mu.Lock()
			delete(h.forwarded, hubID)
			h.mu.Unlock()
			h.reject(caller, env.ID, "execution agent unreachable")
		}

	default:
		h.mu.Lock()
		agent := h.agent
		h.mu.Unlock()
		if agent == nil {
			slog.Debug("hub dropped caller notification", "type", env.Type)
			return
		}
		_ = agent.send(env)
	}
}

func (h *Hub) drop(p *peer) {
	h.mu.Lock()
	var orphaned []route
	wasAgent := h.agent == p
	if wasAgent {
		h.agent = nil
		orphaned = h.takeForwardedLocked()
		h.inbound = make(map[string]struct{})
	} else {
		delete(h.callers, p.id)
		for id, rt := range h.forwarded {
			if rt.caller == p {
				delete(h.forwarded, id)
			}
		}
	}
	h.mu.Unlock()

	if wasAgent {
		slog.Warn("hub execution agent disconnected", "conn_id", p.id, "failed_requests", len(orphaned))
		h.failRoutes(orphaned, "execution agent disconnected")
		return
	}
	slog.Info("hub peer disconnected", "conn_id", p.id, "client_id", p.name())
}

func (h *Hub) takeForwardedLocked() []route {
	out := make([]route, 0, len(h.forwarded))
	for _, rt := range h.forwarded {
		out = append(out, rt)
	}
	h.forwarded = make(map[string]route)
	return out
}

func (h *Hub) failRoutes(routes []route, msg string) {
	for _, rt := range routes {
		h.reject(rt.caller, rt.originalID, msg)
	}
}

func (h *Hub) reject(caller *peer, requestID, msg string) {
	reply, err := wire.NewResponse(requestID, nil, wire.NewError(wire.CodeNotConnected, msg, nil))
	if err != nil {
		return
	}
	if err := caller.send(reply); err != nil {
		slog.Debug("hub error delivery failed", "caller", caller.name(), "error", err)
	}
}

func (h *Hub) callerListLocked() []*peer {
	out := make([]*peer, 0, len(h.callers))
	for _, p := range h.callers {
		out = append(out, p)
	}
	return out
}

func (h *Hub) broadcast(callers []*peer, env wire.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	for _, p := range callers {
		if err := p.write(data); err != nil {
			slog.Debug("hub broadcast failed", "caller", p.name(), "type", env.Type, "error", err)
		}
	}
}

// rewrap re-encodes a response payload after its requestId was rewritten.
func rewrap(resp wire.ResponsePayload) wire.Envelope {
	raw, _ := json.Marshal(resp)
	return wire.Envelope{Type: wire.TypeResponse, Payload: raw}
}

// WSURL converts an http(s) base into the hub's ws(s) endpoint.
func WSURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}
