package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/lzjever/remote-workspace/internal/api"
	"github.com/lzjever/remote-workspace/internal/core"
)

func (c *Client) ListWorkspaces(ctx context.Context) ([]core.WorkspaceStatus, error) {
	var statuses []core.WorkspaceStatus
	if err := c.do(ctx, http.MethodGet, "/api/workspaces", nil, nil, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// CreateWorkspace returns the new workspace id. A non-empty idempotencyKey
// makes retries with the same request return the same id.
func (c *Client) CreateWorkspace(ctx context.Context, req api.CreateWorkspaceRequest, idempotencyKey string) (string, error) {
	var headers map[string]string
	if idempotencyKey != "" {
		headers = map[string]string{"Idempotency-Key": idempotencyKey}
	}
	var resp api.CreateWorkspaceResponse
	if err := c.do(ctx, http.MethodPost, "/api/workspaces", headers, req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) UpdateWorkspace(ctx context.Context, id string, req api.UpdateWorkspaceRequest) error {
	return c.do(ctx, http.MethodPut, "/api/workspaces/"+url.PathEscape(id), nil, req, nil)
}

func (c *Client) DeleteWorkspace(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/workspaces/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) WorkspaceLog(ctx context.Context, id string) (string, error) {
	var text string
	if err := c.do(ctx, http.MethodGet, "/api/workspaces/"+url.PathEscape(id)+"/log", nil, nil, &text); err != nil {
		return "", err
	}
	return text, nil
}

func (c *Client) ReconcileHealth(ctx context.Context) (api.ReconcileHealthResponse, error) {
	var resp api.ReconcileHealthResponse
	err := c.do(ctx, http.MethodGet, "/api/reconcile", nil, nil, &resp)
	return resp, err
}
