package api

import (
	"fmt"

	"github.com/lzjever/remote-workspace/internal/core"
)

const maxNameLength = 128

type ProjectRequest struct {
	Name string            `json:"name"`
	Git  ProjectGitRequest `json:"git"`
}

type ProjectGitRequest struct {
	URL       string `json:"url"`
	Branch    string `json:"branch,omitempty"`
	NewBranch string `json:"newBranch,omitempty"`
}

type CreateWorkspaceRequest struct {
	Name     string           `json:"name"`
	Owner    string           `json:"owner,omitempty"`
	Projects []ProjectRequest `json:"projects"`
}

type UpdateWorkspaceRequest struct {
	// Port may be omitted to keep the current port.
	Port     uint16           `json:"port,omitempty"`
	Name     string           `json:"name"`
	Owner    string           `json:"owner,omitempty"`
	Projects []ProjectRequest `json:"projects"`
}

type CreateWorkspaceResponse struct {
	ID string `json:"id"`
}

type ReconcileHealthResponse struct {
	core.ReconcileHealth
	Healthy bool `json:"healthy"`
}

func (r CreateWorkspaceRequest) Validate() *core.AppError {
	if err := validateName(r.Name); err != nil {
		return err
	}
	return validateProjects(r.Projects)
}

func (r CreateWorkspaceRequest) Options() core.CreateWorkspaceOptions {
	return core.CreateWorkspaceOptions{Name: r.Name, Owner: r.Owner, Projects: toProjects(r.Projects)}
}

func (r UpdateWorkspaceRequest) Validate() *core.AppError {
	if err := validateName(r.Name); err != nil {
		return err
	}
	return validateProjects(r.Projects)
}

func (r UpdateWorkspaceRequest) Metadata(id string) core.WorkspaceMetadata {
	return core.WorkspaceMetadata{ID: id, Port: r.Port, Name: r.Name, Owner: r.Owner, Projects: toProjects(r.Projects)}
}

func validateName(name string) *core.AppError {
	if name == "" {
		return core.NewAppError(core.ErrBadRequest, "name is required")
	}
	if len(name) > maxNameLength {
		return core.NewAppError(core.ErrBadRequest, fmt.Sprintf("name exceeds %d characters", maxNameLength))
	}
	return nil
}

func validateProjects(projects []ProjectRequest) *core.AppError {
	seen := make(map[string]struct{}, len(projects))
	for i, p := range projects {
		if !core.ValidProjectName(p.Name) {
			return core.NewAppError(core.ErrBadRequest, fmt.Sprintf("projects[%d]: invalid name %q", i, p.Name))
		}
		if _, dup := seen[p.Name]; dup {
			return core.NewAppError(core.ErrBadRequest, fmt.Sprintf("projects[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = struct{}{}
		if p.Git.URL == "" {
			return core.NewAppError(core.ErrBadRequest, fmt.Sprintf("projects[%d]: git.url is required", i))
		}
	}
	return nil
}

func toProjects(in []ProjectRequest) []core.RawWorkspaceProject {
	out := make([]core.RawWorkspaceProject, 0, len(in))
	for _, p := range in {
		out = append(out, core.RawWorkspaceProject{
			Name: p.Name,
			Git: core.RawWorkspaceProjectGit{
				URL:       p.Git.URL,
				Branch:    p.Git.Branch,
				NewBranch: p.Git.NewBranch,
			},
		})
	}
	return out
}
