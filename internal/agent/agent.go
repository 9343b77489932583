package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/sackio/unibrowse/internal/audit"
	"github.com/sackio/unibrowse/internal/broker"
	"github.com/sackio/unibrowse/internal/cdphost"
	"github.com/sackio/unibrowse/internal/session"
	"github.com/sackio/unibrowse/internal/wire"
)

// Command names served by the agent.
const (
	CmdEnsureAttached     = "browser_ensure_attached"
	CmdListAttachedTabs   = "browser_list_attached_tabs"
	CmdDetachTab          = "browser_detach_tab"
	CmdSetTabLabel        = "browser_set_tab_label"
	CmdListTabs           = "browser_list_tabs"
	CmdNavigate           = "browser_navigate"
	CmdEvaluate           = "browser_evaluate"
	CmdRequestUserAction  = "browser_request_user_action"
	CmdGetInteractions    = "browser_get_interactions"
	CmdSearchInteractions = "browser_search_interactions"
	CmdPruneInteractions  = "browser_prune_interactions"
	CmdInteractionStats   = "browser_interaction_stats"
)

// Endpoint is the broker surface the agent serves on.
type Endpoint interface {
	Handle(typ string, h broker.Handler)
	Emit(typ string, payload any) error
	OnClose(fn func(context.Context))
}

// Browser performs tab work outside the registry.
type Browser interface {
	Open(ctx context.Context, uri string) (string, error)
	ListTabs(ctx context.Context) ([]cdphost.Tab, error)
	Navigate(ctx context.Context, targetID, url string) (cdphost.NavigateResult, error)
	Evaluate(ctx context.Context, targetID, expression string) (json.RawMessage, error)
}

// StartupTarget is a tab opened when the agent starts.
type StartupTarget struct {
	URL   string
	Label string
}

// Agent serves the browser command catalog over an Endpoint.
type Agent struct {
	ep       Endpoint
	registry *session.Registry
	browser  Browser
	log      *audit.Log
}

func New(ep Endpoint, registry *session.Registry, browser Browser, log *audit.Log) *Agent {
	return &Agent{ep: ep, registry: registry, browser: browser, log: log}
}

// Register installs every command handler and releases attached targets when
// the endpoint closes.
func (a *Agent) Register() {
	handlers := map[string]broker.Handler{
		CmdEnsureAttached:     a.ensureAttached,
		CmdListAttachedTabs:   a.listAttachedTabs,
		CmdDetachTab:          a.detachTab,
		CmdSetTabLabel:        a.setTabLabel,
		CmdListTabs:           a.listTabs,
		CmdNavigate:           a.navigate,
		CmdEvaluate:           a.evaluate,
		CmdRequestUserAction:  a.requestUserAction,
		CmdGetInteractions:    a.getInteractions,
		CmdSearchInteractions: a.searchInteractions,
		CmdPruneInteractions:  a.pruneInteractions,
		CmdInteractionStats:   a.interactionStats,
	}
	for name, h := range handlers {
		a.ep.Handle(name, h)
	}
	a.ep.OnClose(func(ctx context.Context) {
		a.registry.DetachAll(ctx)
	})
	slog.Info("agent commands registered", "count", len(handlers))
}

// HostOptions returns cdphost callbacks that feed the registry and forward
// events to callers.
func (a *Agent) HostOptions() cdphost.Options {
	return cdphost.Options{
		OnInteraction:  a.Interaction,
		OnNavigated:    a.Navigated,
		OnTargetClosed: a.TargetClosed,
	}
}

// Interaction forwards a recorded entry to callers.
func (a *Agent) Interaction(e audit.Entry) {
	if err := a.ep.Emit(wire.TypeInteraction, e); err != nil {
		slog.Debug("agent interaction emit failed", "target_id", e.TargetID, "error", err)
	}
}

// Navigated refreshes the tracked url of a target.
func (a *Agent) Navigated(targetID, url string) {
	a.registry.UpdateInfo(targetID, url, "")
}

// TargetClosed drops a tab the browser reported gone and tells callers.
func (a *Agent) TargetClosed(targetID string) {
	if !a.registry.TargetClosed(targetID) {
		return
	}
	if err := a.ep.Emit(wire.TypeTabRemoved, tabRemoved{TargetID: targetID}); err != nil {
		slog.Debug("agent tab removal emit failed", "target_id", targetID, "error", err)
	}
}

// OpenStartupTargets opens and labels each entry. Failures are logged and
// skipped.
func (a *Agent) OpenStartupTargets(ctx context.Context, targets []StartupTarget) int {
	opened := 0
	for _, t := range targets {
		var (
			target session.Target
			err    error
		)
		if t.Label != "" {
			target, err = a.registry.EnsureAttached(ctx, session.Selector{Label: t.Label, AutoOpenURI: t.URL})
		} else {
			var id string
			if id, err = a.browser.Open(ctx, t.URL); err == nil {
				target, err = a.registry.EnsureAttached(ctx, session.Selector{TargetID: id})
			}
		}
		if err != nil {
			slog.Warn("agent startup target failed", "url", t.URL, "label", t.Label, "error", err)
			continue
		}
		opened++
		slog.Info("agent startup target ready", "target_id", target.TargetID, "label", target.Label, "url", t.URL)
	}
	return opened
}

type tabRemoved struct {
	TargetID string `json:"targetId"`
}

// address is the optional target selection every tab-scoped command accepts.
type address struct {
	TargetID string `json:"targetId,omitempty"`
	Label    string `json:"label,omitempty"`
}

func (ad address) selector() session.Selector {
	return session.Selector{TargetID: strings.TrimSpace(ad.TargetID), Label: strings.TrimSpace(ad.Label)}
}

// decode unmarshals a command payload; an empty payload yields the zero value.
func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, wire.NewError(wire.CodeValidation, "invalid payload", err)
	}
	return v, nil
}

func requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return wire.NewError(wire.CodeValidation, fieldName+" is required", nil)
	}
	return nil
}
