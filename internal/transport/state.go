package transport

import (
	"fmt"
	"time"
)

// State is the connection state owned by a Supervisor.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Event drives a Machine from one state to the next.
type Event int

const (
	// EventDial is an explicit caller connect. It clears an intentional stop.
	EventDial Event = iota
	// EventEstablished marks a completed handshake.
	EventEstablished
	// EventFailed marks a failed dial attempt.
	EventFailed
	// EventLost marks an unexpected close of an open channel.
	EventLost
	// EventRetry is an automatic reconnect attempt.
	EventRetry
	// EventStop is an intentional caller disconnect.
	EventStop
)

func (e Event) String() string {
	switch e {
	case EventDial:
		return "dial"
	case EventEstablished:
		return "established"
	case EventFailed:
		return "failed"
	case EventLost:
		return "lost"
	case EventRetry:
		return "retry"
	case EventStop:
		return "stop"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

type transitionKey struct {
	from State
	on   Event
}

// transitions is the exhaustive table. EventStop is accepted from every state
// and handled separately.
var transitions = map[transitionKey]State{
	{StateDisconnected, EventDial}:      StateConnecting,
	{StateError, EventDial}:             StateConnecting,
	{StateConnecting, EventEstablished}: StateConnected,
	{StateConnecting, EventFailed}:      StateError,
	{StateConnected, EventLost}:         StateDisconnected,
	{StateDisconnected, EventRetry}:     StateConnecting,
	{StateError, EventRetry}:            StateConnecting,
}

// StateChange describes one accepted transition.
type StateChange struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	On   Event     `json:"-"`
	At   time.Time `json:"at"`
	Err  string    `json:"error,omitempty"`
}

// Machine is the connection finite-state machine. It is not safe for
// concurrent use; the Supervisor serialises access.
type Machine struct {
	state       State
	intentional bool
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Intentional reports whether the last stop was caller-initiated.
func (m *Machine) Intentional() bool { return m.intentional }

// Fire applies ev and returns the resulting transition. Retries after an
// intentional stop are rejected so a reconnect can never race a disconnect.
func (m *Machine) Fire(ev Event) (StateChange, error) {
	from := m.state
	if ev == EventStop {
		m.state = StateDisconnected
		m.intentional = true
		return StateChange{From: from, To: m.state, On: ev, At: time.Now()}, nil
	}
	if ev == EventRetry && m.intentional {
		return StateChange{}, fmt.Errorf("transport: %s rejected after intentional disconnect", ev)
	}
	to, ok := transitions[transitionKey{from: from, on: ev}]
	if !ok {
		return StateChange{}, fmt.Errorf("transport: illegal transition %s --%s-->", from, ev)
	}
	if ev == EventDial {
		m.intentional = false
	}
	m.state = to
	return StateChange{From: from, To: to, On: ev, At: time.Now()}, nil
}

// MarshalText renders states by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
