package transport

import (
	"testing"
	"time"
)

func TestMachineTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		on      Event
		want    State
		wantErr bool
	}{
		{name: "dial from disconnected", from: StateDisconnected, on: EventDial, want: StateConnecting},
		{name: "dial from error", from: StateError, on: EventDial, want: StateConnecting},
		{name: "established", from: StateConnecting, on: EventEstablished, want: StateConnected},
		{name: "failed", from: StateConnecting, on: EventFailed, want: StateError},
		{name: "lost", from: StateConnected, on: EventLost, want: StateDisconnected},
		{name: "retry from disconnected", from: StateDisconnected, on: EventRetry, want: StateConnecting},
		{name: "retry from error", from: StateError, on: EventRetry, want: StateConnecting},
		{name: "stop from connected", from: StateConnected, on: EventStop, want: StateDisconnected},
		{name: "stop from connecting", from: StateConnecting, on: EventStop, want: StateDisconnected},
		{name: "dial while connected", from: StateConnected, on: EventDial, wantErr: true},
		{name: "established while disconnected", from: StateDisconnected, on: EventEstablished, wantErr: true},
		{name: "lost while connecting", from: StateConnecting, on: EventLost, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Machine{state: tt.from}
			change, err := m.Fire(tt.on)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Fire(%s) from %s = nil error; want error", tt.on, tt.from)
				}
				if m.State() != tt.from {
					t.Fatalf("state after rejected event = %s; want %s", m.State(), tt.from)
				}
				return
			}
			if err != nil {
				t.Fatalf("Fire(%s) from %s = %v", tt.on, tt.from, err)
			}
			if change.From != tt.from || change.To != tt.want || m.State() != tt.want {
				t.Fatalf("change = %+v state = %s; want %s -> %s", change, m.State(), tt.from, tt.want)
			}
		})
	}
}

func TestMachineRetryRejectedAfterStop(t *testing.T) {
	m := Machine{state: StateConnected}
	if _, err := m.Fire(EventStop); err != nil {
		t.Fatalf("Fire(stop) = %v", err)
	}
	if !m.Intentional() {
		t.Fatal("Intentional() = false after stop")
	}
	if _, err := m.Fire(EventRetry); err == nil {
		t.Fatal("Fire(retry) after stop = nil error; want rejection")
	}
	if _, err := m.Fire(EventDial); err != nil {
		t.Fatalf("Fire(dial) after stop = %v", err)
	}
	if m.Intentional() {
		t.Fatal("Intentional() = true after explicit dial")
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 30 * time.Second}
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for attempt, w := range want {
		if got := b.Delay(attempt); got != w {
			t.Fatalf("Delay(%d) = %s; want %s", attempt, got, w)
		}
	}
	if got := (Backoff{}).Delay(0); got != DefaultBackoffBase {
		t.Fatalf("zero Backoff Delay(0) = %s; want %s", got, DefaultBackoffBase)
	}
	if got := b.Delay(200); got != 30*time.Second {
		t.Fatalf("Delay(200) = %s; want cap", got)
	}
}
