package cdphost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sackio/unibrowse/internal/audit"
	"github.com/sackio/unibrowse/internal/session"
)

// Recorder stores captured interactions.
type Recorder interface {
	Append(audit.Entry)
}

// Options wires host events back into the agent. Every callback is optional
// and runs on the CDP read goroutine.
type Options struct {
	OnInteraction  func(audit.Entry)
	OnNavigated    func(targetID, url string)
	OnTargetClosed func(targetID string)
}

// Tab is one browser page as reported by the debugging endpoint.
type Tab struct {
	TargetID string `json:"targetId"`
	Type     string `json:"type"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Attached bool   `json:"attached"`
}

// NavigateResult reports the frame a navigation committed in.
type NavigateResult struct {
	TargetID string `json:"targetId"`
	URL      string `json:"url"`
	FrameID  string `json:"frameId,omitempty"`
	LoaderID string `json:"loaderId,omitempty"`
}

// Host drives tabs through a Client and implements session.Host.
type Host struct {
	cdp  *Client
	rec  Recorder
	opts Options

	mu       sync.Mutex
	sessions map[string]string // target id -> session id
	targets  map[string]string // session id -> target id

	unregister []func()
}

var _ session.Host = (*Host)(nil)

func NewHost(cdp *Client, rec Recorder, opts Options) *Host {
	h := &Host{
		cdp:      cdp,
		rec:      rec,
		opts:     opts,
		sessions: make(map[string]string),
		targets:  make(map[string]string),
	}
	h.unregister = append(h.unregister,
		cdp.RegisterEventHandler("Runtime.bindingCalled", h.onBindingCalled),
		cdp.RegisterEventHandler("Page.frameNavigated", h.onFrameNavigated),
		cdp.RegisterEventHandler("Target.detachedFromTarget", h.onDetached),
	)
	cdp.OnDisconnect(h.onBrowserLost)
	return h
}

// SetOptions replaces the event callbacks.
func (h *Host) SetOptions(opts Options) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opts = opts
}

func (h *Host) options() Options {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opts
}

// Close unregisters event handlers. Sessions are released by the registry.
func (h *Host) Close() {
	for _, fn := range h.unregister {
		fn()
	}
	h.unregister = nil
}

// Attach opens a flattened session on targetID and installs interaction
// capture on the current and future documents.
func (h *Host) Attach(ctx context.Context, targetID string) (session.TargetInfo, error) {
	if err := h.cdp.Connect(ctx); err != nil {
		return session.TargetInfo{}, err
	}

	if _, ok := h.sessionFor(targetID); !ok {
		raw, err := h.cdp.Send(ctx, "Target.attachToTarget", struct {
			TargetID string `json:"targetId"`
			Flatten  bool   `json:"flatten"`
		}{TargetID: targetID, Flatten: true})
		if err != nil {
			return session.TargetInfo{}, err
		}
		var resp struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil || resp.SessionID == "" {
			return session.TargetInfo{}, fmt.Errorf("cdphost: attach %s: no session id", targetID)
		}

		h.mu.Lock()
		h.sessions[targetID] = resp.SessionID
		h.targets[resp.SessionID] = targetID
		h.mu.Unlock()

		if err := h.installCapture(ctx, resp.SessionID); err != nil {
			_ = h.Detach(ctx, targetID)
			return session.TargetInfo{}, err
		}
		slog.Debug("cdphost session attached", "target_id", targetID, "session_id", resp.SessionID)
	}

	return h.targetInfo(ctx, targetID)
}

func (h *Host) installCapture(ctx context.Context, sessionID string) error {
	steps := []struct {
		method string
		params any
	}{
		{"Page.enable", nil},
		{"Runtime.addBinding", struct {
			Name string `json:"name"`
		}{Name: bindingName}},
		{"Page.addScriptToEvaluateOnNewDocument", struct {
			Source string `json:"source"`
		}{Source: captureScript}},
		{"Runtime.evaluate", struct {
			Expression string `json:"expression"`
		}{Expression: captureScript}},
	}
	for _, s := range steps {
		if _, err := h.cdp.SendSession(ctx, sessionID, s.method, s.params); err != nil {
			return fmt.Errorf("cdphost: install capture: %w", err)
		}
	}
	return nil
}

func (h *Host) targetInfo(ctx context.Context, targetID string) (session.TargetInfo, error) {
	raw, err := h.cdp.Send(ctx, "Target.getTargetInfo", struct {
		TargetID string `json:"targetId"`
	}{TargetID: targetID})
	if err != nil {
		return session.TargetInfo{}, err
	}
	var resp struct {
		TargetInfo struct {
			TargetID string `json:"targetId"`
			Title    string `json:"title"`
			URL      string `json:"url"`
		} `json:"targetInfo"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return session.TargetInfo{}, fmt.Errorf("cdphost: unmarshal target info: %w", err)
	}
	return session.TargetInfo{TargetID: targetID, URL: resp.TargetInfo.URL, Title: resp.TargetInfo.Title}, nil
}

// Detach releases the session on targetID without closing the tab.
func (h *Host) Detach(ctx context.Context, targetID string) error {
	h.mu.Lock()
	sid, ok := h.sessions[targetID]
	if ok {
		delete(h.sessions, targetID)
		delete(h.targets, sid)
	}
	h.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := h.cdp.Send(ctx, "Target.detachFromTarget", struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sid})
	return err
}

// Open creates a new tab at uri and returns its target id.
func (h *Host) Open(ctx context.Context, uri string) (string, error) {
	if err := h.cdp.Connect(ctx); err != nil {
		return "", err
	}
	raw, err := h.cdp.Send(ctx, "Target.createTarget", struct {
		URL string `json:"url"`
	}{URL: uri})
	if err != nil {
		return "", err
	}
	var resp struct {
		TargetID string `json:"targetId"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.TargetID == "" {
		return "", fmt.Errorf("cdphost: createTarget %s: no target id", uri)
	}
	return resp.TargetID, nil
}

// ListTabs returns every page target the browser reports.
func (h *Host) ListTabs(ctx context.Context) ([]Tab, error) {
	infos, err := h.cdp.ListTargets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Tab, 0, len(infos))
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		_, attached := h.sessionFor(string(info.TargetID))
		out = append(out, Tab{
			TargetID: string(info.TargetID),
			Type:     info.Type,
			URL:      info.URL,
			Title:    info.Title,
			Attached: attached,
		})
	}
	return out, nil
}

// Navigate loads url in the attached tab.
func (h *Host) Navigate(ctx context.Context, targetID, url string) (NavigateResult, error) {
	sid, ok := h.sessionFor(targetID)
	if !ok {
		return NavigateResult{}, fmt.Errorf("cdphost: target %s is not attached", targetID)
	}
	raw, err := h.cdp.SendSession(ctx, sid, "Page.navigate", struct {
		URL string `json:"url"`
	}{URL: url})
	if err != nil {
		return NavigateResult{}, err
	}
	var resp struct {
		FrameID   string `json:"frameId"`
		LoaderID  string `json:"loaderId"`
		ErrorText string `json:"errorText"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return NavigateResult{}, fmt.Errorf("cdphost: unmarshal navigate: %w", err)
	}
	if resp.ErrorText != "" {
		return NavigateResult{}, fmt.Errorf("cdphost: navigate %s: %s", url, resp.ErrorText)
	}
	return NavigateResult{TargetID: targetID, URL: url, FrameID: resp.FrameID, LoaderID: resp.LoaderID}, nil
}

// Evaluate runs expression in the attached tab and returns its JSON value.
func (h *Host) Evaluate(ctx context.Context, targetID, expression string) (json.RawMessage, error) {
	sid, ok := h.sessionFor(targetID)
	if !ok {
		return nil, fmt.Errorf("cdphost: target %s is not attached", targetID)
	}
	raw, err := h.cdp.SendSession(ctx, sid, "Runtime.evaluate", struct {
		Expression    string `json:"expression"`
		ReturnByValue bool   `json:"returnByValue"`
		AwaitPromise  bool   `json:"awaitPromise"`
	}{Expression: expression, ReturnByValue: true, AwaitPromise: true})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("cdphost: unmarshal eval: %w", err)
	}
	if ex := resp.ExceptionDetails; ex != nil {
		msg := ex.Text
		if ex.Exception != nil && ex.Exception.Description != "" {
			msg = ex.Exception.Description
		}
		return nil, fmt.Errorf("cdphost: eval exception: %s", msg)
	}
	if len(resp.Result.Value) == 0 {
		return json.RawMessage("null"), nil
	}
	return resp.Result.Value, nil
}

func (h *Host) sessionFor(targetID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sid, ok := h.sessions[targetID]
	return sid, ok
}

func (h *Host) targetFor(sessionID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tid, ok := h.targets[sessionID]
	return tid, ok
}

func (h *Host) onBindingCalled(sessionID string, params json.RawMessage) {
	var p struct {
		Name    string `json:"name"`
		Payload string `json:"payload"`
	}
	if json.Unmarshal(params, &p) != nil || p.Name != bindingName {
		return
	}
	targetID, ok := h.targetFor(sessionID)
	if !ok {
		return
	}
	entry, err := decodeCapture(targetID, p.Payload)
	if err != nil {
		slog.Debug("cdphost dropped capture", "target_id", targetID, "error", err)
		return
	}
	h.record(entry)
}

func (h *Host) onFrameNavigated(sessionID string, params json.RawMessage) {
	var p struct {
		Frame struct {
			ID       string `json:"id"`
			ParentID string `json:"parentId"`
			URL      string `json:"url"`
		} `json:"frame"`
	}
	if json.Unmarshal(params, &p) != nil || p.Frame.ParentID != "" {
		return
	}
	targetID, ok := h.targetFor(sessionID)
	if !ok {
		return
	}
	if fn := h.options().OnNavigated; fn != nil {
		fn(targetID, p.Frame.URL)
	}
	h.record(audit.Entry{Type: audit.TypeNavigation, Timestamp: time.Now().UnixMilli(), URL: p.Frame.URL, TargetID: targetID})
}

func (h *Host) onDetached(_ string, params json.RawMessage) {
	var p struct {
		SessionID string `json:"sessionId"`
		TargetID  string `json:"targetId"`
	}
	if json.Unmarshal(params, &p) != nil {
		return
	}
	h.mu.Lock()
	targetID, ok := h.targets[p.SessionID]
	if ok {
		delete(h.targets, p.SessionID)
		delete(h.sessions, targetID)
	}
	h.mu.Unlock()
	if !ok {
		// Our own Detach already dropped it.
		return
	}
	slog.Info("cdphost target detached", "target_id", targetID)
	if fn := h.options().OnTargetClosed; fn != nil {
		fn(targetID)
	}
}

func (h *Host) onBrowserLost(error) {
	h.mu.Lock()
	closed := make([]string, 0, len(h.sessions))
	for targetID := range h.sessions {
		closed = append(closed, targetID)
	}
	h.sessions = make(map[string]string)
	h.targets = make(map[string]string)
	h.mu.Unlock()

	fn := h.options().OnTargetClosed
	if fn == nil {
		return
	}
	for _, targetID := range closed {
		fn(targetID)
	}
}

func (h *Host) record(e audit.Entry) {
	if h.rec != nil {
		h.rec.Append(e)
	}
	if fn := h.options().OnInteraction; fn != nil {
		fn(e)
	}
}
