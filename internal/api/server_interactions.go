package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sackio/unibrowse/internal/audit"
)

// Time bounds are passed through untyped; the agent parses them.
type interactionQueryBody struct {
	StartTime       any      `json:"startTime,omitempty" doc:"Inclusive lower bound. Unix milliseconds, a negative millisecond offset from now, or a duration such as \"-5m\""`
	EndTime         any      `json:"endTime,omitempty" doc:"Inclusive upper bound. Same forms as startTime."`
	Types           []string `json:"types,omitempty" doc:"Interaction types to include"`
	URLPattern      string   `json:"urlPattern,omitempty" doc:"Regular expression matched against the page URL"`
	SelectorPattern string   `json:"selectorPattern,omitempty" doc:"Regular expression matched against the element selector"`
	SortOrder       string   `json:"sortOrder,omitempty" enum:"asc,desc" doc:"Arrival order. Defaults to desc."`
	Limit           int      `json:"limit,omitempty" minimum:"0"`
	Offset          int      `json:"offset,omitempty" minimum:"0"`
}

type interactionSearchBody struct {
	Query     string   `json:"query" minLength:"1" doc:"Case-insensitive text matched against selector, value, URL, key and element text"`
	Types     []string `json:"types,omitempty"`
	StartTime any      `json:"startTime,omitempty"`
	EndTime   any      `json:"endTime,omitempty"`
	Limit     int      `json:"limit,omitempty" minimum:"0"`
}

func (b interactionSearchBody) options() map[string]any {
	opts := map[string]any{}
	if len(b.Types) > 0 {
		opts["types"] = b.Types
	}
	if b.StartTime != nil {
		opts["startTime"] = b.StartTime
	}
	if b.EndTime != nil {
		opts["endTime"] = b.EndTime
	}
	if b.Limit > 0 {
		opts["limit"] = b.Limit
	}
	return opts
}

type interactionPruneBody struct {
	Before          any      `json:"before,omitempty" doc:"Select entries older than this bound"`
	After           any      `json:"after,omitempty" doc:"Select entries newer than this bound"`
	Between         any      `json:"between,omitempty" doc:"Inclusive window, [start, end] or {\"start\",\"end\"}"`
	KeepLast        *int     `json:"keepLast,omitempty" minimum:"0"`
	KeepFirst       *int     `json:"keepFirst,omitempty" minimum:"0"`
	RemoveOldest    *int     `json:"removeOldest,omitempty" minimum:"0"`
	Types           []string `json:"types,omitempty"`
	ExcludeTypes    []string `json:"excludeTypes,omitempty"`
	URLPattern      string   `json:"urlPattern,omitempty"`
	SelectorPattern string   `json:"selectorPattern,omitempty"`
}

func registerInteractionHandlers(api huma.API, svc Service) {
	type queryInput struct {
		Body interactionQueryBody
	}
	type resultOutput struct {
		Body audit.QueryResult
	}
	huma.Register(api, huma.Operation{OperationID: "query-interactions", Method: http.MethodPost, Path: "/api/v1/interactions/query", Summary: "Query recorded interactions", Tags: []string{"Interactions"}},
		func(ctx context.Context, input *queryInput) (*resultOutput, error) {
			res, err := svc.QueryInteractions(ctx, input.Body)
			if err != nil {
				return nil, mapErr(err)
			}
			return &resultOutput{Body: nonNilEntries(res)}, nil
		})

	type searchInput struct {
		Body interactionSearchBody
	}
	huma.Register(api, huma.Operation{OperationID: "search-interactions", Method: http.MethodPost, Path: "/api/v1/interactions/search", Summary: "Search recorded interactions by text", Tags: []string{"Interactions"}},
		func(ctx context.Context, input *searchInput) (*resultOutput, error) {
			res, err := svc.SearchInteractions(ctx, input.Body.Query, input.Body.options())
			if err != nil {
				return nil, mapErr(err)
			}
			return &resultOutput{Body: nonNilEntries(res)}, nil
		})

	type pruneInput struct {
		Body interactionPruneBody
	}
	type pruneOutput struct {
		Body audit.PruneResult
	}
	huma.Register(api, huma.Operation{OperationID: "prune-interactions", Method: http.MethodPost, Path: "/api/v1/interactions/prune", Summary: "Remove recorded interactions", Tags: []string{"Interactions"}},
		func(ctx context.Context, input *pruneInput) (*pruneOutput, error) {
			res, err := svc.PruneInteractions(ctx, input.Body)
			if err != nil {
				return nil, mapErr(err)
			}
			return &pruneOutput{Body: res}, nil
		})

	type statsOutput struct {
		Body audit.Stats
	}
	huma.Register(api, huma.Operation{OperationID: "interaction-stats", Method: http.MethodGet, Path: "/api/v1/interactions/stats", Summary: "Interaction log statistics", Tags: []string{"Interactions"}},
		func(ctx context.Context, input *struct{}) (*statsOutput, error) {
			st, err := svc.InteractionStats(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &statsOutput{Body: st}, nil
		})
}

func nonNilEntries(res audit.QueryResult) audit.QueryResult {
	if res.Entries == nil {
		res.Entries = []audit.Entry{}
	}
	return res
}
