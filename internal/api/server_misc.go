package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sackio/unibrowse/internal/agent"
	"github.com/sackio/unibrowse/internal/controller"
)

func registerMiscHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type statusOutput struct {
		Body controller.Status
	}
	huma.Register(api, huma.Operation{OperationID: "status", Method: http.MethodGet, Path: "/api/v1/status", Summary: "Hub connection status", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			return &statusOutput{Body: svc.Status(ctx)}, nil
		})

	type toolCallInput struct {
		Name      string `path:"name" doc:"Agent command, e.g. browser_list_tabs"`
		TimeoutMS int64  `query:"timeout_ms" minimum:"0" doc:"Call timeout in milliseconds. 0 uses the default."`
		RawBody   []byte
	}
	type toolCallOutput struct {
		Body struct {
			Command string `json:"command"`
			Result  any    `json:"result"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "call-tool", Method: http.MethodPost, Path: "/api/v1/tools/{name}", Summary: "Call any agent command with a raw JSON payload", Tags: []string{"Tools"}},
		func(ctx context.Context, input *toolCallInput) (*toolCallOutput, error) {
			result, err := svc.Call(ctx, input.Name, json.RawMessage(input.RawBody), time.Duration(input.TimeoutMS)*time.Millisecond)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &toolCallOutput{}
			out.Body.Command = input.Name
			if len(result) > 0 {
				out.Body.Result = result
			}
			return out, nil
		})

	type evaluateInput struct {
		Body struct {
			TabAddress
			Expression string `json:"expression" minLength:"1" doc:"JavaScript expression evaluated in the page"`
		}
	}
	type evaluateOutput struct {
		Body agent.EvaluateResult
	}
	huma.Register(api, huma.Operation{OperationID: "evaluate", Method: http.MethodPost, Path: "/api/v1/evaluate", Summary: "Evaluate a JavaScript expression in a tab", Tags: []string{"Tools"}},
		func(ctx context.Context, input *evaluateInput) (*evaluateOutput, error) {
			res, err := svc.Evaluate(ctx, input.Body.address(), input.Body.Expression)
			if err != nil {
				return nil, mapErr(err)
			}
			return &evaluateOutput{Body: res}, nil
		})

	type userActionInput struct {
		Body struct {
			TabAddress
			Message   string `json:"message" minLength:"1" doc:"Prompt shown to the user in the tab"`
			TimeoutMS int64  `json:"timeoutMs,omitempty" minimum:"0" doc:"How long to wait for the user. Defaults to five minutes."`
		}
	}
	type userActionOutput struct {
		Body agent.UserActionResult
	}
	huma.Register(api, huma.Operation{OperationID: "request-user-action", Method: http.MethodPost, Path: "/api/v1/user-action", Summary: "Ask the user to act in a tab and wait for the answer", Tags: []string{"Tools"}},
		func(ctx context.Context, input *userActionInput) (*userActionOutput, error) {
			timeout := time.Duration(input.Body.TimeoutMS) * time.Millisecond
			res, err := svc.RequestUserAction(ctx, input.Body.address(), input.Body.Message, timeout)
			if err != nil {
				return nil, mapErr(err)
			}
			return &userActionOutput{Body: res}, nil
		})
}
