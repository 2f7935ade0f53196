// Package hostapi is the HTTP edge running on the developer's machine. It
// owns the ssh tunnel and ssh config, launches the editor and forwards
// everything else to the workspace daemon.
package hostapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lzjever/remote-workspace/internal/api"
	"github.com/lzjever/remote-workspace/internal/api/middleware"
	"github.com/lzjever/remote-workspace/internal/core"
)

// Version is reported by /api/client-host-version. Set with -ldflags.
var Version = "dev"

// WorkspaceSource lists workspace statuses from the daemon.
type WorkspaceSource interface {
	ListWorkspaces(ctx context.Context) ([]core.WorkspaceStatus, error)
}

type SSHConfigWriter interface {
	Update(workspaces []core.WorkspaceMetadata) error
}

type Tunnels interface {
	Switch(ws core.WorkspaceStatus) error
	Stop()
	ActiveWorkspaceID() (string, bool)
}

type Deps struct {
	Workspaces WorkspaceSource
	SSHConfig  SSHConfigWriter
	Tunnels    Tunnels
	// Launch defaults to starting a detached process.
	Launch Launcher
	// Transport carries proxied daemon requests. Defaults to
	// NewTransport(cfg.HTTPProxy).
	Transport http.RoundTripper
	Log       *zap.Logger
}

type Host struct {
	cfg        Config
	remote     *url.URL
	proxy      *httputil.ReverseProxy
	transport  http.RoundTripper
	workspaces WorkspaceSource
	sshConfig  SSHConfigWriter
	tunnels    Tunnels
	launch     Launcher
	log        *zap.Logger
}

func New(cfg Config, deps Deps) (*Host, error) {
	remote, err := url.Parse(cfg.RemoteURL)
	if err != nil || remote.Scheme == "" || remote.Host == "" {
		return nil, fmt.Errorf("invalid remote url %q", cfg.RemoteURL)
	}
	if deps.Launch == nil {
		deps.Launch = startDetached
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Transport == nil {
		t, err := NewTransport(cfg.HTTPProxy)
		if err != nil {
			return nil, err
		}
		deps.Transport = t
	}
	h := &Host{
		cfg:        cfg,
		remote:     remote,
		workspaces: deps.Workspaces,
		sshConfig:  deps.SSHConfig,
		tunnels:    deps.Tunnels,
		launch:     deps.Launch,
		transport:  deps.Transport,
		log:        deps.Log,
	}
	h.proxy = h.newProxy()
	return h, nil
}

func (h *Host) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Recoverer(h.log))
	r.Use(middleware.Logger(h.log))

	r.Route("/api", func(r chi.Router) {
		r.Get("/client-host-version", h.ClientHostVersion)
		r.Get("/workspaces", h.ListWorkspaces)
		r.Get("/untunnel", h.Untunnel)
		r.Get("/workspace-id-of-active-tunnel", h.ActiveTunnel)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.AllowContentType("application/json"))
			r.Post("/launch", h.Launch)
			r.Post("/switch-tunnel", h.SwitchTunnel)
		})
	})

	// Everything else belongs to the daemon.
	r.NotFound(h.proxy.ServeHTTP)
	r.MethodNotAllowed(h.proxy.ServeHTTP)

	return r
}

func (h *Host) ClientHostVersion(w http.ResponseWriter, r *http.Request) {
	api.WriteData(w, http.StatusOK, Version)
}

// ListWorkspaces fetches statuses from the daemon and refreshes the
// managed ssh config block before returning them.
func (h *Host) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.workspaces.ListWorkspaces(r.Context())
	if err != nil {
		h.log.Warn("fetch workspaces from daemon failed", zap.Error(err))
		api.WriteError(w, api.AsAppError(err, core.ErrUpstream, "failed to fetch workspaces"))
		return
	}
	if statuses == nil {
		statuses = []core.WorkspaceStatus{}
	}

	metas := make([]core.WorkspaceMetadata, len(statuses))
	for i, s := range statuses {
		metas[i] = s.WorkspaceMetadata
	}
	if err := h.sshConfig.Update(metas); err != nil {
		h.log.Error("update ssh config failed", zap.Error(err))
		api.WriteError(w, core.NewAppError(core.ErrInternal, "failed to update ssh config"))
		return
	}

	api.WriteData(w, http.StatusOK, statuses)
}

func (h *Host) Launch(w http.ResponseWriter, r *http.Request) {
	var req LaunchRequest
	if appErr := decode(r, &req); appErr != nil {
		api.WriteError(w, appErr)
		return
	}
	if appErr := req.Validate(); appErr != nil {
		api.WriteError(w, appErr)
		return
	}

	args := LaunchArgs(req.Workspace.WorkspaceMetadata, req.Project)
	if err := h.launch(h.cfg.EditorExecutable, args...); err != nil {
		h.log.Error("launch editor failed", zap.String("workspace_id", req.Workspace.ID), zap.Error(err))
		api.WriteError(w, core.NewAppError(core.ErrInternal, "failed to launch editor"))
		return
	}
	h.log.Info("editor launched", zap.String("workspace_id", req.Workspace.ID), zap.Strings("args", args))
	api.WriteJSON(w, http.StatusOK, struct{}{})
}

func (h *Host) SwitchTunnel(w http.ResponseWriter, r *http.Request) {
	var req SwitchTunnelRequest
	if appErr := decode(r, &req); appErr != nil {
		api.WriteError(w, appErr)
		return
	}
	if appErr := req.Validate(); appErr != nil {
		api.WriteError(w, appErr)
		return
	}

	if err := h.tunnels.Switch(req.Workspace); err != nil {
		h.log.Error("switch tunnel failed", zap.String("workspace_id", req.Workspace.ID), zap.Error(err))
		api.WriteError(w, core.NewAppError(core.ErrInternal, "failed to start tunnel"))
		return
	}
	api.WriteJSON(w, http.StatusOK, struct{}{})
}

func (h *Host) Untunnel(w http.ResponseWriter, r *http.Request) {
	h.tunnels.Stop()
	api.WriteJSON(w, http.StatusOK, struct{}{})
}

// ActiveTunnel returns {"data": id}, or an empty envelope when no tunnel
// is active.
func (h *Host) ActiveTunnel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tunnels.ActiveWorkspaceID()
	if !ok {
		api.WriteJSON(w, http.StatusOK, struct{}{})
		return
	}
	api.WriteData(w, http.StatusOK, id)
}

func (h *Host) newProxy() *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Transport: h.transport,
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(h.remote)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.log.Warn("proxy to daemon failed", zap.String("path", r.URL.Path), zap.Error(err))
			api.WriteError(w, core.NewAppError(core.ErrUpstream, "workspace daemon unreachable"))
		},
	}
}

func decode(r *http.Request, v interface{}) *core.AppError {
	body, err := io.ReadAll(io.LimitReader(r.Body, api.MaxBodyBytes))
	if err != nil {
		return core.NewAppError(core.ErrBadRequest, "failed to read request body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return core.NewAppError(core.ErrBadRequest, "invalid request body: "+err.Error())
	}
	return nil
}
