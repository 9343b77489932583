package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sackio/unibrowse/internal/agent"
	"github.com/sackio/unibrowse/internal/audit"
	"github.com/sackio/unibrowse/internal/broker"
	"github.com/sackio/unibrowse/internal/cdphost"
	"github.com/sackio/unibrowse/internal/session"
	"github.com/sackio/unibrowse/internal/transport"
	"github.com/sackio/unibrowse/internal/wire"
)

// UserActionTimeout bounds a wait for the human at the browser.
const UserActionTimeout = 5 * time.Minute

// Caller is the broker surface the service needs.
type Caller interface {
	Call(ctx context.Context, command string, payload any, opts broker.CallOptions) (json.RawMessage, error)
	Stats() broker.Stats
}

// Address selects a tab. Both fields empty means the active tab.
type Address struct {
	TargetID string `json:"targetId,omitempty"`
	Label    string `json:"label,omitempty"`
}

func (a Address) String() string {
	if a.TargetID != "" {
		return a.TargetID
	}
	return a.Label
}

// Status describes the controller's hub connection.
type Status struct {
	Connected  bool   `json:"connected"`
	State      string `json:"state"`
	Pending    int    `json:"pending"`
	Reconnects int    `json:"reconnects"`
	HubURL     string `json:"hubUrl"`
}

// DetachResult reports whether a detach released a tracked tab.
type DetachResult struct {
	TargetID string `json:"targetId"`
	Detached bool   `json:"detached"`
}

// Service exposes the agent's command catalog as typed operations.
type Service struct {
	br Caller
}

func NewService(br Caller) *Service {
	return &Service{br: br}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return wire.NewError(wire.CodeValidation, fieldName+" is required", nil)
	}
	return nil
}

// call issues command and decodes its result into T.
func call[T any](ctx context.Context, s *Service, command string, payload any, opts broker.CallOptions) (T, error) {
	var out T
	raw, err := s.br.Call(ctx, command, payload, opts)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s result: %w", command, err)
	}
	return out, nil
}

func (s *Service) Status(context.Context) Status {
	st := s.br.Stats()
	return Status{
		Connected:  st.State == transport.StateConnected.String(),
		State:      st.State,
		Pending:    st.Pending,
		Reconnects: st.Reconnects,
		HubURL:     st.URL,
	}
}

// Call forwards any command with a raw JSON payload. A zero timeout uses the
// broker default, except for user actions which wait UserActionTimeout.
func (s *Service) Call(ctx context.Context, command string, payload json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	command = strings.TrimSpace(command)
	if err := s.requireNonEmpty(command, "command"); err != nil {
		return nil, err
	}
	if timeout < 0 {
		return nil, wire.NewError(wire.CodeValidation, "timeout must not be negative", nil)
	}
	if timeout == 0 && command == agent.CmdRequestUserAction {
		timeout = UserActionTimeout
	}
	var body any
	if len(payload) > 0 {
		if !json.Valid(payload) {
			return nil, wire.NewError(wire.CodeValidation, "payload is not valid JSON", nil)
		}
		body = payload
	}
	return s.br.Call(ctx, command, body, broker.CallOptions{Timeout: timeout})
}

func (s *Service) Navigate(ctx context.Context, addr Address, url string) (cdphost.NavigateResult, error) {
	if err := s.requireNonEmpty(url, "url"); err != nil {
		return cdphost.NavigateResult{}, err
	}
	payload := struct {
		Address
		URL string `json:"url"`
	}{trimAddress(addr), strings.TrimSpace(url)}
	return call[cdphost.NavigateResult](ctx, s, agent.CmdNavigate, payload, broker.CallOptions{Target: addr.String()})
}

func (s *Service) Evaluate(ctx context.Context, addr Address, expression string) (agent.EvaluateResult, error) {
	if err := s.requireNonEmpty(expression, "expression"); err != nil {
		return agent.EvaluateResult{}, err
	}
	payload := struct {
		Address
		Expression string `json:"expression"`
	}{trimAddress(addr), expression}
	return call[agent.EvaluateResult](ctx, s, agent.CmdEvaluate, payload, broker.CallOptions{Target: addr.String()})
}

func (s *Service) EnsureAttached(ctx context.Context, addr Address, autoOpenURI string) (session.Target, error) {
	payload := struct {
		Address
		AutoOpenURI string `json:"autoOpenUri,omitempty"`
	}{trimAddress(addr), strings.TrimSpace(autoOpenURI)}
	return call[session.Target](ctx, s, agent.CmdEnsureAttached, payload, broker.CallOptions{Target: addr.String()})
}

func (s *Service) ListAttachedTabs(ctx context.Context) (agent.AttachedTabs, error) {
	return call[agent.AttachedTabs](ctx, s, agent.CmdListAttachedTabs, nil, broker.CallOptions{})
}

func (s *Service) ListTabs(ctx context.Context) ([]cdphost.Tab, error) {
	out, err := call[struct {
		Tabs []cdphost.Tab `json:"tabs"`
	}](ctx, s, agent.CmdListTabs, nil, broker.CallOptions{})
	return out.Tabs, err
}

func (s *Service) DetachTab(ctx context.Context, targetID string) (DetachResult, error) {
	targetID = strings.TrimSpace(targetID)
	if err := s.requireNonEmpty(targetID, "target_id"); err != nil {
		return DetachResult{}, err
	}
	return call[DetachResult](ctx, s, agent.CmdDetachTab, map[string]string{"targetId": targetID}, broker.CallOptions{Target: targetID})
}

// SetTabLabel labels the tab addressed by target, an id or a current label.
// An empty label clears it.
func (s *Service) SetTabLabel(ctx context.Context, target, label string) (session.Target, error) {
	target = strings.TrimSpace(target)
	if err := s.requireNonEmpty(target, "target"); err != nil {
		return session.Target{}, err
	}
	payload := map[string]string{"target": target, "label": strings.TrimSpace(label)}
	return call[session.Target](ctx, s, agent.CmdSetTabLabel, payload, broker.CallOptions{Target: target})
}

// RequestUserAction shows message in the tab and waits for the user to answer.
// A zero timeout waits UserActionTimeout.
func (s *Service) RequestUserAction(ctx context.Context, addr Address, message string, timeout time.Duration) (agent.UserActionResult, error) {
	if err := s.requireNonEmpty(message, "message"); err != nil {
		return agent.UserActionResult{}, err
	}
	if timeout <= 0 {
		timeout = UserActionTimeout
	}
	payload := struct {
		Address
		Message string `json:"message"`
	}{trimAddress(addr), message}
	return call[agent.UserActionResult](ctx, s, agent.CmdRequestUserAction, payload, broker.CallOptions{Timeout: timeout, Target: addr.String()})
}

// QueryInteractions forwards query, any value encoding the agent's query
// fields, and returns one page of entries.
func (s *Service) QueryInteractions(ctx context.Context, query any) (audit.QueryResult, error) {
	return call[audit.QueryResult](ctx, s, agent.CmdGetInteractions, query, broker.CallOptions{})
}

// SearchInteractions runs a case-insensitive text search. opts carries the
// optional types, time bounds and limit.
func (s *Service) SearchInteractions(ctx context.Context, text string, opts map[string]any) (audit.QueryResult, error) {
	if err := s.requireNonEmpty(text, "query"); err != nil {
		return audit.QueryResult{}, err
	}
	payload := make(map[string]any, len(opts)+1)
	for k, v := range opts {
		payload[k] = v
	}
	payload["query"] = text
	return call[audit.QueryResult](ctx, s, agent.CmdSearchInteractions, payload, broker.CallOptions{})
}

func (s *Service) PruneInteractions(ctx context.Context, req any) (audit.PruneResult, error) {
	return call[audit.PruneResult](ctx, s, agent.CmdPruneInteractions, req, broker.CallOptions{})
}

func (s *Service) InteractionStats(ctx context.Context) (audit.Stats, error) {
	return call[audit.Stats](ctx, s, agent.CmdInteractionStats, nil, broker.CallOptions{})
}

func trimAddress(a Address) Address {
	return Address{TargetID: strings.TrimSpace(a.TargetID), Label: strings.TrimSpace(a.Label)}
}
