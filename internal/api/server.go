package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sackio/unibrowse/internal/agent"
	"github.com/sackio/unibrowse/internal/audit"
	"github.com/sackio/unibrowse/internal/cdphost"
	"github.com/sackio/unibrowse/internal/controller"
	"github.com/sackio/unibrowse/internal/session"
	"github.com/sackio/unibrowse/internal/wire"
)

type Service interface {
	Status(ctx context.Context) controller.Status
	Call(ctx context.Context, command string, payload json.RawMessage, timeout time.Duration) (json.RawMessage, error)
	Navigate(ctx context.Context, addr controller.Address, url string) (cdphost.NavigateResult, error)
	Evaluate(ctx context.Context, addr controller.Address, expression string) (agent.EvaluateResult, error)
	EnsureAttached(ctx context.Context, addr controller.Address, autoOpenURI string) (session.Target, error)
	ListAttachedTabs(ctx context.Context) (agent.AttachedTabs, error)
	ListTabs(ctx context.Context) ([]cdphost.Tab, error)
	DetachTab(ctx context.Context, targetID string) (controller.DetachResult, error)
	SetTabLabel(ctx context.Context, target, label string) (session.Target, error)
	RequestUserAction(ctx context.Context, addr controller.Address, message string, timeout time.Duration) (agent.UserActionResult, error)
	QueryInteractions(ctx context.Context, query any) (audit.QueryResult, error)
	SearchInteractions(ctx context.Context, text string, opts map[string]any) (audit.QueryResult, error)
	PruneInteractions(ctx context.Context, req any) (audit.PruneResult, error)
	InteractionStats(ctx context.Context) (audit.Stats, error)
}

// TabAddress is the optional tab selection shared by tab-scoped bodies.
type TabAddress struct {
	TargetID string `json:"targetId,omitempty" doc:"Target id of the tab. Omit to use the active tab."`
	Label    string `json:"label,omitempty" doc:"Label of the tab. Ignored when targetId is set."`
}

func (a TabAddress) address() controller.Address {
	return controller.Address{TargetID: a.TargetID, Label: a.Label}
}

// NewServer builds the controller HTTP surface. events, when non-nil, is
// mounted at /events.
func NewServer(svc Service, events http.Handler) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Unibrowse Controller API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	if events != nil {
		router.Method(http.MethodGet, "/events", events)
	}

	registerMiscHandlers(api, svc)
	registerTabHandlers(api, svc)
	registerInteractionHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *wire.CodedError
	if errors.As(err, &coded) {
		msg := coded.Error()
		switch wire.CodeOf(err) {
		case wire.CodeValidation:
			return huma.Error400BadRequest(msg)
		case wire.CodeTargetNotFound:
			return huma.Error404NotFound(msg)
		case wire.CodeDuplicateLabel, wire.CodeNoActiveTarget:
			return huma.Error409Conflict(msg)
		case wire.CodeTimeout:
			return huma.Error504GatewayTimeout(msg)
		case wire.CodeNotConnected, wire.CodeClosed:
			return huma.Error503ServiceUnavailable(msg)
		case wire.CodeRemote:
			return huma.Error502BadGateway(msg)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
