package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/sackio/unibrowse/internal/transport"
	"github.com/sackio/unibrowse/internal/wire"
)

// fakeRemote answers "echo" with its payload, ignores "hang", and drops the
// socket on "drop". Notifications are reflected back with their type.
func fakeRemote(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		go serveFake(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func serveFake(conn net.Conn) {
	defer conn.Close()
	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		env, err := wire.Decode(data)
		if err != nil || !env.IsRequest() {
			continue
		}
		switch env.Type {
		case "echo":
			resp, _ := wire.NewResponse(env.ID, env.Payload, nil)
			out, _ := json.Marshal(resp)
			if err := wsutil.WriteServerText(conn, out); err != nil {
				return
			}
		case "drop":
			return
		}
	}
}

func newTestBroker(t *testing.T, url string) *Broker {
	t.Helper()
	b := New(Config{
		URL:         url,
		CallTimeout: 5 * time.Second,
		Backoff:     transport.Backoff{Base: 10 * time.Millisecond, Max: 20 * time.Millisecond},
		Handshake:   RegisterHandshake(wire.TypeClientRegister, "test", "controller", "dev"),
	})
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func TestBrokerCallRoundTrip(t *testing.T) {
	b := newTestBroker(t, fakeRemote(t))
	var out struct {
		URL string `json:"url"`
	}
	err := b.CallInto(context.Background(), "echo", map[string]string{"url": "https://example.com"}, CallOptions{}, &out)
	if err != nil {
		t.Fatalf("CallInto() = %v", err)
	}
	if out.URL != "https://example.com" {
		t.Fatalf("result url = %q", out.URL)
	}
	if st := b.Stats(); st.State != "connected" || st.Pending != 0 {
		t.Fatalf("Stats() = %+v", st)
	}
}

func TestBrokerRejectsInFlightCallsOnDrop(t *testing.T) {
	b := newTestBroker(t, fakeRemote(t))

	hung := make(chan error, 1)
	go func() {
		_, err := b.Call(context.Background(), "hang", nil, CallOptions{Timeout: 10 * time.Second})
		hung <- err
	}()
	waitUntil(t, "hang pending", func() bool { return b.Stats().Pending == 1 })

	start := time.Now()
	_, err := b.Call(context.Background(), "drop", nil, CallOptions{Timeout: 10 * time.Second})
	if !wire.IsCode(err, wire.CodeNotConnected) {
		t.Fatalf("Call(drop) = %v; want NOT_CONNECTED", err)
	}
	select {
	case err := <-hung:
		if !wire.IsCode(err, wire.CodeNotConnected) {
			t.Fatalf("Call(hang) = %v; want NOT_CONNECTED", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight call not rejected after drop")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("rejection took %s", elapsed)
	}

	waitUntil(t, "reconnect", func() bool { return b.State() == transport.StateConnected })
	if _, err := b.Call(context.Background(), "echo", map[string]int{"n": 1}, CallOptions{}); err != nil {
		t.Fatalf("Call(echo) after reconnect = %v", err)
	}
	if b.Stats().Reconnects < 1 {
		t.Fatalf("Reconnects = %d; want >= 1", b.Stats().Reconnects)
	}
}

func TestBrokerCloseOrder(t *testing.T) {
	b := New(Config{URL: fakeRemote(t), CallTimeout: time.Minute})
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() = %v", err)
	}

	hung := make(chan error, 1)
	go func() {
		_, err := b.Call(context.Background(), "hang", nil, CallOptions{})
		hung <- err
	}()
	waitUntil(t, "hang pending", func() bool { return b.Stats().Pending == 1 })

	var stateAtHook transport.State = -1
	b.OnClose(func(context.Context) { stateAtHook = b.State() })

	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := <-hung; !wire.IsCode(err, wire.CodeClosed) {
		t.Fatalf("pending call after Close = %v; want CLOSED", err)
	}
	if stateAtHook != transport.StateDisconnected {
		t.Fatalf("state during release hook = %s; want disconnected", stateAtHook)
	}
	if _, err := b.Call(context.Background(), "echo", nil, CallOptions{}); !wire.IsCode(err, wire.CodeClosed) {
		t.Fatalf("Call() after Close = %v; want CLOSED", err)
	}
	if err := b.Connect(context.Background()); !wire.IsCode(err, wire.CodeClosed) {
		t.Fatalf("Connect() after Close = %v; want CLOSED", err)
	}
	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
}

func TestBrokerCallWhileDisconnected(t *testing.T) {
	b := New(Config{URL: "ws://127.0.0.1:1/unused"})
	_, err := b.Call(context.Background(), "browser_navigate", nil, CallOptions{})
	if !wire.IsCode(err, wire.CodeNotConnected) {
		t.Fatalf("Call() = %v; want NOT_CONNECTED", err)
	}
	if !strings.Contains(err.Error(), "browser_navigate") {
		t.Fatalf("Call() = %q; want command context", err)
	}
}

func TestConnectRetryWaitsForRemote(t *testing.T) {
	url := fakeRemote(t)
	var dials atomic.Int32
	b := New(Config{
		URL:         url,
		CallTimeout: 5 * time.Second,
		Backoff:     transport.Backoff{Base: 5 * time.Millisecond, Max: 10 * time.Millisecond},
		Dial: func(ctx context.Context, u string) (*transport.Conn, error) {
			if dials.Add(1) <= 2 {
				return nil, errors.New("connection refused")
			}
			return transport.Dial(ctx, u)
		},
	})
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	if err := b.ConnectRetry(context.Background()); err != nil {
		t.Fatalf("ConnectRetry() = %v", err)
	}
	if got := dials.Load(); got != 3 {
		t.Fatalf("dials = %d; want 3", got)
	}
	if _, err := b.Call(context.Background(), "echo", map[string]int{"n": 1}, CallOptions{}); err != nil {
		t.Fatalf("Call() after retry = %v", err)
	}
}

func TestConnectRetryStopsOnContext(t *testing.T) {
	b := New(Config{
		URL:     "ws://127.0.0.1:1/ws",
		Backoff: transport.Backoff{Base: time.Hour, Max: time.Hour},
		Dial: func(context.Context, string) (*transport.Conn, error) {
			return nil, errors.New("connection refused")
		},
	})
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := b.ConnectRetry(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ConnectRetry() = %v; want deadline exceeded", err)
	}

	_ = b.Close(context.Background())
	if err := b.ConnectRetry(context.Background()); !wire.IsCode(err, wire.CodeClosed) {
		t.Fatalf("ConnectRetry() after Close = %v; want CLOSED", err)
	}
}
