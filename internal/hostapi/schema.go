package hostapi

import (
	"github.com/lzjever/remote-workspace/internal/core"
)

type LaunchRequest struct {
	Workspace core.WorkspaceStatus `json:"workspace"`
	// Project opens that project's folder. Empty opens the workspace root.
	Project string `json:"project,omitempty"`
}

type SwitchTunnelRequest struct {
	Workspace core.WorkspaceStatus `json:"workspace"`
}

func (r LaunchRequest) Validate() *core.AppError {
	if !core.ValidID(r.Workspace.ID) {
		return core.NewAppError(core.ErrBadRequest, "workspace.id is invalid")
	}
	if r.Project == "" {
		return nil
	}
	for _, p := range r.Workspace.Projects {
		if p.Name == r.Project {
			return nil
		}
	}
	return core.NewAppError(core.ErrBadRequest, "project "+r.Project+" is not part of the workspace")
}

func (r SwitchTunnelRequest) Validate() *core.AppError {
	if !core.ValidID(r.Workspace.ID) {
		return core.NewAppError(core.ErrBadRequest, "workspace.id is invalid")
	}
	return nil
}
