package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sackio/unibrowse/internal/controller"
)

type CallCmd struct {
	Command string        `arg:"" help:"Agent command, e.g. browser_list_tabs."`
	Payload string        `arg:"" optional:"" help:"JSON payload."`
	Wait    time.Duration `help:"Override the call timeout. User actions default to five minutes."`
}

func (c *CallCmd) Run(g *Globals) error {
	return g.run(func(ctx context.Context, svc *controller.Service) (any, error) {
		var payload json.RawMessage
		if c.Payload != "" {
			payload = json.RawMessage(c.Payload)
		}
		return svc.Call(ctx, c.Command, payload, c.Wait)
	})
}

type TabsCmd struct {
	All bool `help:"List every page the browser has open, not just attached tabs."`
}

func (c *TabsCmd) Run(g *Globals) error {
	return g.run(func(ctx context.Context, svc *controller.Service) (any, error) {
		if c.All {
			return svc.ListTabs(ctx)
		}
		return svc.ListAttachedTabs(ctx)
	})
}

type NavigateCmd struct {
	URL    string `arg:"" help:"Destination URL."`
	Target string `help:"Target id of the tab." short:"t"`
	Label  string `help:"Label of the tab." short:"l"`
}

func (c *NavigateCmd) Run(g *Globals) error {
	return g.run(func(ctx context.Context, svc *controller.Service) (any, error) {
		return svc.Navigate(ctx, controller.Address{TargetID: c.Target, Label: c.Label}, c.URL)
	})
}

type LabelCmd struct {
	Target string `arg:"" help:"Target id or current label."`
	Label  string `arg:"" optional:"" help:"New label. Omit to clear."`
}

func (c *LabelCmd) Run(g *Globals) error {
	return g.run(func(ctx context.Context, svc *controller.Service) (any, error) {
		return svc.SetTabLabel(ctx, c.Target, c.Label)
	})
}

type DetachCmd struct {
	TargetID string `arg:"" help:"Target id of the tab."`
}

func (c *DetachCmd) Run(g *Globals) error {
	return g.run(func(ctx context.Context, svc *controller.Service) (any, error) {
		return svc.DetachTab(ctx, c.TargetID)
	})
}

type InteractionsCmd struct {
	Query  QueryCmd  `cmd:"" help:"List recorded interactions."`
	Search SearchCmd `cmd:"" help:"Search recorded interactions by text."`
	Prune  PruneCmd  `cmd:"" help:"Remove recorded interactions."`
	Stats  StatsCmd  `cmd:"" help:"Show interaction log statistics."`
}

type QueryCmd struct {
	Types    []string `help:"Interaction types to include." sep:","`
	Since    string   `help:"Lower time bound: unix ms, negative ms offset, or duration such as -5m."`
	Until    string   `help:"Upper time bound, same forms as --since."`
	URL      string   `name:"url" help:"Regular expression matched against the page URL."`
	Selector string   `help:"Regular expression matched against the element selector."`
	Order    string   `help:"Arrival order." enum:"asc,desc" default:"desc"`
	Limit    int      `help:"Maximum entries returned." default:"0"`
	Offset   int      `help:"Entries to skip." default:"0"`
}

func (c *QueryCmd) Run(g *Globals) error {
	q := map[string]any{"sortOrder": c.Order}
	setList(q, "types", c.Types)
	setIf(q, "startTime", c.Since)
	setIf(q, "endTime", c.Until)
	setIf(q, "urlPattern", c.URL)
	setIf(q, "selectorPattern", c.Selector)
	setIf(q, "limit", c.Limit)
	setIf(q, "offset", c.Offset)
	return g.run(func(ctx context.Context, svc *controller.Service) (any, error) {
		return svc.QueryInteractions(ctx, q)
	})
}

type SearchCmd struct {
	Text  string   `arg:"" help:"Case-insensitive text to find."`
	Types []string `help:"Interaction types to include." sep:","`
	Since string   `help:"Lower time bound."`
	Until string   `help:"Upper time bound."`
	Limit int      `help:"Maximum entries returned." default:"0"`
}

func (c *SearchCmd) Run(g *Globals) error {
	opts := map[string]any{}
	setList(opts, "types", c.Types)
	setIf(opts, "startTime", c.Since)
	setIf(opts, "endTime", c.Until)
	setIf(opts, "limit", c.Limit)
	return g.run(func(ctx context.Context, svc *controller.Service) (any, error) {
		return svc.SearchInteractions(ctx, c.Text, opts)
	})
}

type PruneCmd struct {
	Before       string   `help:"Select entries older than this bound."`
	After        string   `help:"Select entries newer than this bound."`
	KeepLast     int      `help:"Keep only the newest N selected entries." default:"-1"`
	KeepFirst    int      `help:"Keep only the oldest N selected entries." default:"-1"`
	RemoveOldest int      `help:"Remove the oldest N selected entries." default:"-1"`
	Types        []string `help:"Interaction types to select." sep:","`
	ExcludeTypes []string `help:"Interaction types never removed." sep:","`
	URL          string   `name:"url" help:"Regular expression matched against the page URL."`
	Selector     string   `help:"Regular expression matched against the element selector."`
}

func (c *PruneCmd) Run(g *Globals) error {
	req := map[string]any{}
	setIf(req, "before", c.Before)
	setIf(req, "after", c.After)
	setList(req, "types", c.Types)
	setList(req, "excludeTypes", c.ExcludeTypes)
	setIf(req, "urlPattern", c.URL)
	setIf(req, "selectorPattern", c.Selector)
	for key, n := range map[string]int{"keepLast": c.KeepLast, "keepFirst": c.KeepFirst, "removeOldest": c.RemoveOldest} {
		if n >= 0 {
			req[key] = n
		}
	}
	return g.run(func(ctx context.Context, svc *controller.Service) (any, error) {
		return svc.PruneInteractions(ctx, req)
	})
}

type StatsCmd struct{}

func (c *StatsCmd) Run(g *Globals) error {
	return g.run(func(ctx context.Context, svc *controller.Service) (any, error) {
		return svc.InteractionStats(ctx)
	})
}

type StatusCmd struct{}

func (c *StatusCmd) Run(g *Globals) error {
	return g.run(func(ctx context.Context, svc *controller.Service) (any, error) {
		out := map[string]any{"hub": svc.Status(ctx)}
		if stats, err := svc.InteractionStats(ctx); err != nil {
			out["agentError"] = err.Error()
		} else {
			out["interactions"] = stats
		}
		return out, nil
	})
}

type VersionCmd struct{}

func (c *VersionCmd) Run(*Globals) error {
	_, err := fmt.Fprintln(stdout, version)
	return err
}

// setIf adds non-zero values to m.
func setIf[T comparable](m map[string]any, key string, v T) {
	var zero T
	if v != zero {
		m[key] = v
	}
}

func setList(m map[string]any, key string, v []string) {
	if len(v) > 0 {
		m[key] = v
	}
}
