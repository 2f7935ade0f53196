package apiclient

import (
	"context"
	"net/http"

	"github.com/lzjever/remote-workspace/internal/core"
	"github.com/lzjever/remote-workspace/internal/hostapi"
)

func (c *Client) ClientHostVersion(ctx context.Context) (string, error) {
	var version string
	err := c.do(ctx, http.MethodGet, "/api/client-host-version", nil, nil, &version)
	return version, err
}

// Launch opens the editor on the client host, at project when given.
func (c *Client) Launch(ctx context.Context, ws core.WorkspaceStatus, project string) error {
	return c.do(ctx, http.MethodPost, "/api/launch", nil, hostapi.LaunchRequest{Workspace: ws, Project: project}, nil)
}

func (c *Client) SwitchTunnel(ctx context.Context, ws core.WorkspaceStatus) error {
	return c.do(ctx, http.MethodPost, "/api/switch-tunnel", nil, hostapi.SwitchTunnelRequest{Workspace: ws}, nil)
}

func (c *Client) Untunnel(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/untunnel", nil, nil, nil)
}

// ActiveTunnel returns the id of the workspace the client host is
// tunnelled into, or "" when there is none.
func (c *Client) ActiveTunnel(ctx context.Context) (string, error) {
	var id string
	err := c.do(ctx, http.MethodGet, "/api/workspace-id-of-active-tunnel", nil, nil, &id)
	return id, err
}
