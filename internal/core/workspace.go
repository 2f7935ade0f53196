package core

import "time"

// DefaultBranch is the target branch used when a project does not name one.
const DefaultBranch = "master"

type WorkspaceMetadata struct {
	ID        string                `json:"id"`
	Port      uint16                `json:"port"`
	Name      string                `json:"name"`
	Owner     string                `json:"owner,omitempty"`
	Projects  []RawWorkspaceProject `json:"projects"`
	CreatedAt time.Time             `json:"createdAt"`
}

type CreateWorkspaceOptions struct {
	Name     string                `json:"name"`
	Owner    string                `json:"owner,omitempty"`
	Projects []RawWorkspaceProject `json:"projects"`
}

type RawWorkspaceProject struct {
	Name          string                            `json:"name"`
	Git           RawWorkspaceProjectGit            `json:"git"`
	InPlaceConfig *RawWorkspaceProjectInPlaceConfig `json:"inPlaceConfig,omitempty"`
}

type RawWorkspaceProjectGit struct {
	URL              string                `json:"url"`
	Branch           string                `json:"branch,omitempty"`
	NewBranch        string                `json:"newBranch,omitempty"`
	PullMergeRequest *PullMergeRequestLink `json:"pullMergeRequest,omitempty"`
}

// RawWorkspaceProjectInPlaceConfig is read from the project checkout on
// demand. It is never persisted in the registry.
type RawWorkspaceProjectInPlaceConfig struct {
	Forwards []ForwardConfig `json:"forwards,omitempty"`
}

// ForwardConfig is one ssh forwarding option, e.g. {"L", "8080:localhost:8080"}.
type ForwardConfig struct {
	Flag  string `json:"flag"`
	Value string `json:"value"`
}

// BranchPair is the resolved target/source branch pair of a project.
type BranchPair struct {
	Target string `json:"target"`
	Source string `json:"source"`
}

// Branches resolves the defaults: target falls back to DefaultBranch and
// source falls back to target.
func (g RawWorkspaceProjectGit) Branches() BranchPair {
	target := g.Branch
	if target == "" {
		target = DefaultBranch
	}
	source := g.NewBranch
	if source == "" {
		source = target
	}
	return BranchPair{Target: target, Source: source}
}

// SameBranch reports whether no pull/merge request applies.
func (p BranchPair) SameBranch() bool {
	return p.Target == p.Source
}

type WorkspaceStatus struct {
	WorkspaceMetadata
	Ready bool `json:"ready"`
}

// Stripped returns a deep copy without the transient, derived fields
// (in-place config and pull/merge request links). This is the shape
// that gets persisted.
func (w WorkspaceMetadata) Stripped() WorkspaceMetadata {
	out := w
	out.Projects = make([]RawWorkspaceProject, len(w.Projects))
	for i, p := range w.Projects {
		p.InPlaceConfig = nil
		p.Git.PullMergeRequest = nil
		out.Projects[i] = p
	}
	return out
}
