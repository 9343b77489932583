package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sackio/unibrowse/internal/agent"
	"github.com/sackio/unibrowse/internal/cdphost"
	"github.com/sackio/unibrowse/internal/controller"
	"github.com/sackio/unibrowse/internal/session"
)

func registerTabHandlers(api huma.API, svc Service) {
	type navigateInput struct {
		Body struct {
			TabAddress
			URL string `json:"url" minLength:"1" doc:"Destination URL. Opens a tab when none is attached."`
		}
	}
	type navigateOutput struct {
		Body cdphost.NavigateResult
	}
	huma.Register(api, huma.Operation{OperationID: "navigate", Method: http.MethodPost, Path: "/api/v1/navigate", Summary: "Navigate a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *navigateInput) (*navigateOutput, error) {
			res, err := svc.Navigate(ctx, input.Body.address(), input.Body.URL)
			if err != nil {
				return nil, mapErr(err)
			}
			return &navigateOutput{Body: res}, nil
		})

	type attachedTabsOutput struct {
		Body agent.AttachedTabs
	}
	huma.Register(api, huma.Operation{OperationID: "list-attached-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List attached tabs", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*attachedTabsOutput, error) {
			tabs, err := svc.ListAttachedTabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			if tabs.Tabs == nil {
				tabs.Tabs = []session.Target{}
			}
			return &attachedTabsOutput{Body: tabs}, nil
		})

	type browserTabsOutput struct {
		Body struct {
			Tabs []cdphost.Tab `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-browser-tabs", Method: http.MethodGet, Path: "/api/v1/browser/tabs", Summary: "List every page the browser has open", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*browserTabsOutput, error) {
			tabs, err := svc.ListTabs(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &browserTabsOutput{}
			out.Body.Tabs = tabs
			if out.Body.Tabs == nil {
				out.Body.Tabs = []cdphost.Tab{}
			}
			return out, nil
		})

	type attachInput struct {
		Body struct {
			TabAddress
			AutoOpenURI string `json:"autoOpenUri,omitempty" doc:"URL to open when no matching tab exists"`
		}
	}
	type targetOutput struct {
		Body session.Target
	}
	huma.Register(api, huma.Operation{OperationID: "attach-tab", Method: http.MethodPost, Path: "/api/v1/tabs/attach", Summary: "Resolve and attach a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *attachInput) (*targetOutput, error) {
			target, err := svc.EnsureAttached(ctx, input.Body.address(), input.Body.AutoOpenURI)
			if err != nil {
				return nil, mapErr(err)
			}
			return &targetOutput{Body: target}, nil
		})

	type detachInput struct {
		TargetID string `path:"target" doc:"Target id of the tab"`
	}
	type detachOutput struct {
		Body controller.DetachResult
	}
	huma.Register(api, huma.Operation{OperationID: "detach-tab", Method: http.MethodDelete, Path: "/api/v1/tabs/{target}", Summary: "Detach a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *detachInput) (*detachOutput, error) {
			res, err := svc.DetachTab(ctx, input.TargetID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &detachOutput{Body: res}, nil
		})

	type labelInput struct {
		Target string `path:"target" doc:"Target id or current label"`
		Body   struct {
			Label string `json:"label" doc:"New label. Empty clears it."`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "set-tab-label", Method: http.MethodPut, Path: "/api/v1/tabs/{target}/label", Summary: "Label a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *labelInput) (*targetOutput, error) {
			target, err := svc.SetTabLabel(ctx, input.Target, input.Body.Label)
			if err != nil {
				return nil, mapErr(err)
			}
			return &targetOutput{Body: target}, nil
		})
}
