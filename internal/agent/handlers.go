package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sackio/unibrowse/internal/audit"
	"github.com/sackio/unibrowse/internal/cdphost"
	"github.com/sackio/unibrowse/internal/session"
)

type ensureAttachedArgs struct {
	address
	AutoOpenURI string `json:"autoOpenUri,omitempty"`
}

func (a *Agent) ensureAttached(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[ensureAttachedArgs](raw)
	if err != nil {
		return nil, err
	}
	sel := args.selector()
	sel.AutoOpenURI = args.AutoOpenURI
	return a.registry.EnsureAttached(ctx, sel)
}

// AttachedTabs is the browser_list_attached_tabs result.
type AttachedTabs struct {
	Tabs           []session.Target `json:"tabs"`
	ActiveTargetID string           `json:"activeTargetId,omitempty"`
}

func (a *Agent) listAttachedTabs(context.Context, json.RawMessage) (any, error) {
	out := AttachedTabs{Tabs: a.registry.ListAttached()}
	for _, t := range out.Tabs {
		if t.Active {
			out.ActiveTargetID = t.TargetID
			break
		}
	}
	return out, nil
}

type detachArgs struct {
	TargetID string `json:"targetId"`
}

func (a *Agent) detachTab(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[detachArgs](raw)
	if err != nil {
		return nil, err
	}
	if err := requireNonEmpty(args.TargetID, "targetId"); err != nil {
		return nil, err
	}
	_, tracked := a.registry.Get(args.TargetID)
	if err := a.registry.Detach(ctx, args.TargetID); err != nil {
		return nil, err
	}
	return map[string]any{"targetId": args.TargetID, "detached": tracked}, nil
}

type setLabelArgs struct {
	Target string `json:"target"`
	Label  string `json:"label"`
}

func (a *Agent) setTabLabel(_ context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[setLabelArgs](raw)
	if err != nil {
		return nil, err
	}
	if err := requireNonEmpty(args.Target, "target"); err != nil {
		return nil, err
	}
	return a.registry.SetLabel(args.Target, args.Label)
}

func (a *Agent) listTabs(ctx context.Context, _ json.RawMessage) (any, error) {
	tabs, err := a.browser.ListTabs(ctx)
	if err != nil {
		return nil, err
	}
	return map[string][]cdphost.Tab{"tabs": tabs}, nil
}

type navigateArgs struct {
	address
	URL string `json:"url"`
}

func (a *Agent) navigate(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[navigateArgs](raw)
	if err != nil {
		return nil, err
	}
	if err := requireNonEmpty(args.URL, "url"); err != nil {
		return nil, err
	}
	sel := args.selector()
	sel.AutoOpenURI = args.URL
	target, err := a.registry.EnsureAttached(ctx, sel)
	if err != nil {
		return nil, err
	}
	res, err := a.browser.Navigate(ctx, target.TargetID, args.URL)
	if err != nil {
		return nil, err
	}
	a.registry.UpdateInfo(target.TargetID, args.URL, "")
	return res, nil
}

type evaluateArgs struct {
	address
	Expression string `json:"expression"`
}

// EvaluateResult wraps a page value with the target it came from.
type EvaluateResult struct {
	TargetID string          `json:"targetId"`
	Result   json.RawMessage `json:"result"`
}

func (a *Agent) evaluate(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[evaluateArgs](raw)
	if err != nil {
		return nil, err
	}
	if err := requireNonEmpty(args.Expression, "expression"); err != nil {
		return nil, err
	}
	target, err := a.registry.EnsureAttached(ctx, args.selector())
	if err != nil {
		return nil, err
	}
	val, err := a.browser.Evaluate(ctx, target.TargetID, args.Expression)
	if err != nil {
		return nil, err
	}
	return EvaluateResult{TargetID: target.TargetID, Result: val}, nil
}

type userActionArgs struct {
	address
	Message string `json:"message"`
}

// UserActionResult reports whether the user confirmed the prompt.
type UserActionResult struct {
	TargetID  string `json:"targetId"`
	Confirmed bool   `json:"confirmed"`
}

// requestUserAction blocks on a confirm dialog in the tab until the user
// answers it.
func (a *Agent) requestUserAction(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[userActionArgs](raw)
	if err != nil {
		return nil, err
	}
	if err := requireNonEmpty(args.Message, "message"); err != nil {
		return nil, err
	}
	target, err := a.registry.EnsureAttached(ctx, args.selector())
	if err != nil {
		return nil, err
	}
	msg, _ := json.Marshal(args.Message)
	val, err := a.browser.Evaluate(ctx, target.TargetID, fmt.Sprintf("window.confirm(%s)", msg))
	if err != nil {
		return nil, err
	}
	var confirmed bool
	_ = json.Unmarshal(val, &confirmed)
	return UserActionResult{TargetID: target.TargetID, Confirmed: confirmed}, nil
}

func (a *Agent) getInteractions(_ context.Context, raw json.RawMessage) (any, error) {
	q, err := decode[audit.Query](raw)
	if err != nil {
		return nil, err
	}
	return a.log.Query(q)
}

type searchArgs struct {
	audit.SearchOptions
	Query string `json:"query"`
}

func (a *Agent) searchInteractions(_ context.Context, raw json.RawMessage) (any, error) {
	args, err := decode[searchArgs](raw)
	if err != nil {
		return nil, err
	}
	return a.log.Search(args.Query, args.SearchOptions)
}

func (a *Agent) pruneInteractions(_ context.Context, raw json.RawMessage) (any, error) {
	req, err := decode[audit.PruneRequest](raw)
	if err != nil {
		return nil, err
	}
	return a.log.Prune(req)
}

func (a *Agent) interactionStats(context.Context, json.RawMessage) (any, error) {
	return a.log.Stats(), nil
}
