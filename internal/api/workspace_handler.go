package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lzjever/remote-workspace/internal/core"
)

// MaxBodyBytes bounds every request body read by the API handlers.
const MaxBodyBytes = 1 << 20

// ListWorkspaces returns the status of every workspace.
func (a *API) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	statuses, err := a.daemon.Statuses(r.Context())
	if err != nil {
		a.log.Error("list workspaces failed", zap.Error(err))
		WriteError(w, AsAppError(err, core.ErrInternal, "failed to list workspaces"))
		return
	}
	if statuses == nil {
		statuses = []core.WorkspaceStatus{}
	}
	WriteData(w, http.StatusOK, statuses)
}

// CreateWorkspace registers a workspace. Reconciliation happens in the
// background. An Idempotency-Key header makes retries return the same id.
func (a *API) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
	if err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "failed to read request body"))
		return
	}
	var req CreateWorkspaceRequest
	if err := DecodeStrict(body, &req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body: "+err.Error()))
		return
	}
	if appErr := req.Validate(); appErr != nil {
		WriteError(w, appErr)
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	var requestHash string
	if idempotencyKey != "" {
		requestHash = core.ComputeRequestHash(body, r.Method, r.URL.Path)
		id, ok, err := a.idempotency.Reserve(ctx, idempotencyKey, requestHash)
		if err != nil {
			WriteError(w, AsAppError(err, core.ErrInternal, "idempotent request was not completed"))
			return
		}
		if ok {
			WriteData(w, http.StatusOK, CreateWorkspaceResponse{ID: id})
			return
		}
	}

	id, err := a.daemon.Create(ctx, req.Options())
	if err != nil {
		a.log.Error("create workspace failed", zap.Error(err))
		if idempotencyKey != "" {
			a.idempotency.Release(idempotencyKey)
		}
		WriteError(w, AsAppError(err, core.ErrInternal, "failed to create workspace"))
		return
	}
	if idempotencyKey != "" {
		a.idempotency.Store(idempotencyKey, requestHash, id)
	}

	WriteData(w, http.StatusCreated, CreateWorkspaceResponse{ID: id})
}

// UpdateWorkspace replaces a workspace definition.
func (a *API) UpdateWorkspace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !core.ValidID(id) {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid workspace id"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
	if err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "failed to read request body"))
		return
	}
	var req UpdateWorkspaceRequest
	if err := DecodeStrict(body, &req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body: "+err.Error()))
		return
	}
	if appErr := req.Validate(); appErr != nil {
		WriteError(w, appErr)
		return
	}

	if err := a.daemon.Update(r.Context(), req.Metadata(id)); err != nil {
		a.log.Error("update workspace failed", zap.String("workspace_id", id), zap.Error(err))
		WriteError(w, AsAppError(err, core.ErrInternal, "failed to update workspace"))
		return
	}
	WriteData(w, http.StatusOK, struct{}{})
}

// DeleteWorkspace removes a workspace. Unknown ids succeed.
func (a *API) DeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.daemon.Delete(r.Context(), id); err != nil {
		a.log.Error("delete workspace failed", zap.String("workspace_id", id), zap.Error(err))
		WriteError(w, AsAppError(err, core.ErrInternal, "failed to delete workspace"))
		return
	}
	WriteData(w, http.StatusOK, struct{}{})
}

// WorkspaceLog returns the merged container log.
func (a *API) WorkspaceLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	text, err := a.daemon.Log(r.Context(), id)
	if err != nil {
		a.log.Warn("retrieve workspace log failed", zap.String("workspace_id", id), zap.Error(err))
		WriteError(w, AsAppError(err, core.ErrInternal, "failed to retrieve log"))
		return
	}
	WriteData(w, http.StatusOK, text)
}

// DecodeStrict decodes a JSON body, rejecting unknown fields.
func DecodeStrict(body []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
