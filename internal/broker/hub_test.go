package broker

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sackio/unibrowse/internal/hub"
	"github.com/sackio/unibrowse/internal/transport"
	"github.com/sackio/unibrowse/internal/wire"
)

func hubBroker(t *testing.T, url, typ, id string, strict bool) *Broker {
	t.Helper()
	b := New(Config{
		URL:           url,
		CallTimeout:   5 * time.Second,
		Backoff:       transport.Backoff{Base: 10 * time.Millisecond, Max: 20 * time.Millisecond},
		Handshake:     RegisterHandshake(typ, id, "test", "dev"),
		RejectUnknown: strict,
	})
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect(%s) = %v", id, err)
	}
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func TestAgentRequestAnsweredByCallerWithHandler(t *testing.T) {
	h := hub.New(hub.Options{})
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	url := hub.WSURL(srv.URL)

	ag := hubBroker(t, url, wire.TypeExtensionRegister, "agent", true)
	ctl := hubBroker(t, url, wire.TypeClientRegister, "controller", false)
	hubBroker(t, url, wire.TypeClientRegister, "cli", false)
	ctl.Handle("user_action", func(context.Context, json.RawMessage) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return "ok", nil
	})
	waitUntil(t, "hub peers", func() bool {
		st := h.Stats()
		return st.AgentConnected && st.Callers == 2
	})

	var answer string
	if err := ag.CallInto(context.Background(), "user_action", nil, CallOptions{}, &answer); err != nil {
		t.Fatalf("agent call = %v", err)
	}
	if answer != "ok" {
		t.Fatalf("answer = %q; want ok", answer)
	}

	_, err := ctl.Call(context.Background(), "browser_teleport", nil, CallOptions{})
	if !wire.IsCode(err, wire.CodeRemote) || wire.CodeOf(err) != wire.CodeValidation {
		t.Fatalf("unknown agent command = %v; want remote VALIDATION", err)
	}
}
