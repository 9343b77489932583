package wire

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "empty", data: ""},
		{name: "array", data: `[1,2]`},
		{name: "garbage", data: `{not json`},
		{name: "missing type", data: `{"id":"1","payload":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.data)); err == nil {
				t.Fatalf("Decode(%q) = nil error; want error", tt.data)
			}
		})
	}
}

func TestDecodeClassifiesEnvelopes(t *testing.T) {
	req, err := Decode([]byte(`{"id":"a-1","type":"browser_navigate","payload":{"url":"https://example.com"}}`))
	if err != nil {
		t.Fatalf("Decode() = %v", err)
	}
	if !req.IsRequest() || req.IsResponse() {
		t.Fatalf("request classified wrong: %+v", req)
	}

	note, err := Decode([]byte(`{"type":"INTERACTION","payload":null}`))
	if err != nil {
		t.Fatalf("Decode() = %v", err)
	}
	if note.IsRequest() {
		t.Fatal("notification classified as request")
	}
	if note.Payload != nil {
		t.Fatalf("null payload = %s; want nil", note.Payload)
	}
}

func TestResponseRequiresRequestID(t *testing.T) {
	env := Envelope{Type: TypeResponse, Payload: json.RawMessage(`{"result":1}`)}
	if _, err := env.Response(); err == nil {
		t.Fatal("Response() = nil error; want missing requestId error")
	}
}

func TestNewResponseCarriesCode(t *testing.T) {
	env, err := NewResponse("r-1", nil, &CodedError{Code: CodeNoActiveTarget, Message: "no attached target"})
	if err != nil {
		t.Fatalf("NewResponse() = %v", err)
	}
	resp, err := env.Response()
	if err != nil {
		t.Fatalf("Response() = %v", err)
	}
	if resp.Code != CodeNoActiveTarget {
		t.Fatalf("code = %q; want %q", resp.Code, CodeNoActiveTarget)
	}
	if !strings.Contains(resp.Error, "no attached target") {
		t.Fatalf("error = %q", resp.Error)
	}

	ok, err := NewResponse("r-2", map[string]int{"n": 2}, nil)
	if err != nil {
		t.Fatalf("NewResponse() = %v", err)
	}
	resp, _ = ok.Response()
	if string(resp.Result) != `{"n":2}` {
		t.Fatalf("result = %s", resp.Result)
	}
}

func TestCodedErrorContext(t *testing.T) {
	err := &CodedError{Code: CodeTimeout, Message: "no response after 5000ms", Command: "browser_navigate", Target: "checkout", Elapsed: 5 * time.Second}
	msg := err.Error()
	for _, want := range []string{"TIMEOUT", "5000", "browser_navigate", "checkout"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("Error() = %q; want to contain %q", msg, want)
		}
	}

	remote := &CodedError{Code: CodeRemote, Message: "boom", RemoteCode: CodeTargetNotFound}
	wrapped := errors.Join(errors.New("outer"), remote)
	if !IsCode(wrapped, CodeTargetNotFound) || !IsCode(wrapped, CodeRemote) {
		t.Fatal("IsCode() did not see remote code through wrapping")
	}
	if CodeOf(remote) != CodeTargetNotFound {
		t.Fatalf("CodeOf() = %q", CodeOf(remote))
	}
}
