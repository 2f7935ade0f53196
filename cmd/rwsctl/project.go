package main

import (
	"fmt"
	"strings"

	"github.com/lzjever/remote-workspace/internal/api"
)

// parseProject parses name=url[#branch[:newBranch]]. The fragment
// separator keeps scp-like urls such as git@host:org/repo.git intact.
func parseProject(s string) (api.ProjectRequest, error) {
	name, rest, ok := strings.Cut(s, "=")
	if !ok || name == "" || rest == "" {
		return api.ProjectRequest{}, fmt.Errorf("invalid project %q, want name=url[#branch[:newBranch]]", s)
	}
	url, branches, _ := strings.Cut(rest, "#")
	branch, newBranch, _ := strings.Cut(branches, ":")
	if url == "" {
		return api.ProjectRequest{}, fmt.Errorf("invalid project %q: empty url", s)
	}
	return api.ProjectRequest{
		Name: name,
		Git:  api.ProjectGitRequest{URL: url, Branch: branch, NewBranch: newBranch},
	}, nil
}

func parseProjects(specs []string) ([]api.ProjectRequest, error) {
	projects := make([]api.ProjectRequest, 0, len(specs))
	for _, s := range specs {
		p, err := parseProject(s)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}
