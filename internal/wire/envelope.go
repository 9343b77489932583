package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Reserved envelope types.
const (
	TypeResponse          = "messageResponse"
	TypeExtensionRegister = "EXTENSION_REGISTER"
	TypeClientRegister    = "CLIENT_REGISTER"
	TypeTabRemoved        = "TAB_REMOVED"
	TypeInteraction       = "INTERACTION"
)

// Envelope is the unit of wire traffic. ID is empty on pure notifications.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ResponsePayload is the payload of a messageResponse envelope.
type ResponsePayload struct {
	RequestID string          `json:"requestId"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`
}

// RegisterPayload is sent by each side right after a (re)connect.
type RegisterPayload struct {
	ClientID string `json:"clientId"`
	Role     string `json:"role,omitempty"`
	Version  string `json:"version,omitempty"`
}

// IsResponse reports whether the envelope answers an earlier request.
func (e Envelope) IsResponse() bool { return e.Type == TypeResponse }

// IsRequest reports whether the envelope expects a correlated reply.
func (e Envelope) IsRequest() bool { return e.ID != "" && !e.IsResponse() }

// Decode parses one raw frame. Frames without a type, or responses without a
// requestId, are rejected.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return Envelope{}, fmt.Errorf("envelope: not a JSON object")
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope: missing type")
	}
	if bytes.Equal(bytes.TrimSpace(env.Payload), []byte("null")) {
		env.Payload = nil
	}
	return env, nil
}

// Response extracts the response payload of a messageResponse envelope.
func (e Envelope) Response() (ResponsePayload, error) {
	if !e.IsResponse() {
		return ResponsePayload{}, fmt.Errorf("envelope: %s is not a response", e.Type)
	}
	var resp ResponsePayload
	if len(e.Payload) == 0 {
		return ResponsePayload{}, fmt.Errorf("envelope: response without payload")
	}
	if err := json.Unmarshal(e.Payload, &resp); err != nil {
		return ResponsePayload{}, fmt.Errorf("envelope: response payload: %w", err)
	}
	if resp.RequestID == "" {
		return ResponsePayload{}, fmt.Errorf("envelope: response missing requestId")
	}
	return resp, nil
}

// NewRequest builds a request envelope, marshalling payload unless it is
// already raw JSON.
func NewRequest(id, typ string, payload any) (Envelope, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: id, Type: typ, Payload: raw}, nil
}

// NewNotification builds an envelope that expects no reply.
func NewNotification(typ string, payload any) (Envelope, error) {
	return NewRequest("", typ, payload)
}

// NewResponse builds the messageResponse answering requestID. A non-nil err
// becomes the response error string, and its code travels alongside.
func NewResponse(requestID string, result any, err error) (Envelope, error) {
	resp := ResponsePayload{RequestID: requestID}
	if err != nil {
		resp.Error = err.Error()
		resp.Code = CodeOf(err)
	} else {
		raw, mErr := marshalPayload(result)
		if mErr != nil {
			return Envelope{}, mErr
		}
		resp.Result = raw
	}
	raw, mErr := json.Marshal(resp)
	if mErr != nil {
		return Envelope{}, fmt.Errorf("envelope: marshal response: %w", mErr)
	}
	return Envelope{Type: TypeResponse, Payload: raw}, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal payload: %w", err)
	}
	return raw, nil
}
