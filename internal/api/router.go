package api

import (
	"context"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lzjever/remote-workspace/internal/api/middleware"
	"github.com/lzjever/remote-workspace/internal/core"
)

// Daemon is the workspace daemon as seen by the HTTP edge.
type Daemon interface {
	Create(ctx context.Context, opts core.CreateWorkspaceOptions) (string, error)
	Update(ctx context.Context, ws core.WorkspaceMetadata) error
	Delete(ctx context.Context, id string) error
	Statuses(ctx context.Context) ([]core.WorkspaceStatus, error)
	Log(ctx context.Context, id string) (string, error)
	Health() core.ReconcileHealth
}

type API struct {
	daemon      Daemon
	idempotency *core.IdempotencyCache
	log         *zap.Logger
}

func NewAPI(daemon Daemon, log *zap.Logger) *API {
	return &API{
		daemon:      daemon,
		idempotency: &core.IdempotencyCache{Size: 1024},
		log:         log,
	}
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Recoverer(a.log))
	r.Use(middleware.Logger(a.log))

	// Health endpoints
	r.Get("/healthz", a.HealthHandler)
	r.Get("/readyz", a.ReadyHandler)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.AllowContentType("application/json"))
			r.Post("/workspaces", a.CreateWorkspace)
			r.Put("/workspaces/{id}", a.UpdateWorkspace)
		})
		r.Get("/workspaces", a.ListWorkspaces)
		r.Delete("/workspaces/{id}", a.DeleteWorkspace)
		r.Get("/workspaces/{id}/log", a.WorkspaceLog)

		r.Get("/reconcile", a.ReconcileHealth)
	})

	return r
}
