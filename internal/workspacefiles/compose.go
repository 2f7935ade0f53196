package workspacefiles

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/lzjever/remote-workspace/internal/core"
)

const (
	ComposeFileName = "docker-compose.yml"
	// WorkspaceMountPath is where the workspace directory appears inside
	// the container.
	WorkspaceMountPath = "/root/workspace"
	hostKeysMountPath  = "/etc/ssh/host-keys"
	// IDLabel marks containers with the workspace they belong to.
	IDLabel = "remote-workspace.id"
)

type composeFile struct {
	Name     string                    `yaml:"name,omitempty"`
	Include  []string                  `yaml:"include,omitempty"`
	Services map[string]composeService `yaml:"services"`
	Volumes  map[string]composeVolume  `yaml:"volumes,omitempty"`
}

type composeVolume struct {
	Name string `yaml:"name"`
}

type composeService struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name"`
	Hostname      string            `yaml:"hostname"`
	Restart       string            `yaml:"restart"`
	Ports         []string          `yaml:"ports"`
	Volumes       []string          `yaml:"volumes"`
	Environment   map[string]string `yaml:"environment"`
	Labels        map[string]string `yaml:"labels"`
}

type projectEnv struct {
	Name     string          `json:"name"`
	URL      string          `json:"url"`
	Branches core.BranchPair `json:"branches"`
}

// ContainerName is the name of the single container of a workspace.
func ContainerName(project, id string) string {
	return project + "_" + id
}

// ServiceName is the compose service key of a workspace.
func ServiceName(id string) string {
	return "workspace-" + id
}

func (s *Synthesizer) renderWorkspace(ws core.WorkspaceMetadata) ([]byte, error) {
	projects := make([]projectEnv, 0, len(ws.Projects))
	for _, p := range ws.Projects {
		projects = append(projects, projectEnv{Name: p.Name, URL: p.Git.URL, Branches: p.Git.Branches()})
	}
	projectsJSON, err := json.Marshal(projects)
	if err != nil {
		return nil, fmt.Errorf("marshal projects: %w", err)
	}

	volumes := []string{s.workspaceDir(ws.ID) + ":" + WorkspaceMountPath}
	if s.cfg.SSHHostKeysDir != "" {
		volumes = append(volumes, s.cfg.SSHHostKeysDir+":"+hostKeysMountPath+":ro")
	}
	var named map[string]composeVolume
	if s.cfg.SSHVolume != "" {
		// Every included file declares the shared volume identically.
		named = map[string]composeVolume{sshVolumeKey: {Name: s.cfg.SSHVolume}}
		volumes = append(volumes, sshVolumeKey+":"+sshMountPath)
	}
	if len(s.cfg.Users) > 0 {
		volumes = append(volumes, s.authorizedKeysPath()+":"+authorizedKeysMountPath+":ro")
	}
	if s.cfg.IdentityFile != "" {
		volumes = append(volumes, s.cfg.IdentityFile+":"+IdentityMountPath+":ro")
	}

	svc := composeService{
		Image:         s.cfg.Image,
		ContainerName: ContainerName(s.cfg.ProjectName, ws.ID),
		Hostname:      ServiceName(ws.ID),
		Restart:       "unless-stopped",
		Ports:         []string{fmt.Sprintf("%d:22", ws.Port)},
		Volumes:       volumes,
		Environment: map[string]string{
			"WORKSPACE_ID":       ws.ID,
			"WORKSPACE_NAME":     ws.Name,
			"WORKSPACE_OWNER":    ws.Owner,
			"WORKSPACE_PROJECTS": string(projectsJSON),
		},
		Labels: map[string]string{IDLabel: ws.ID},
	}
	if s.cfg.IdentityFile != "" {
		svc.Environment["GIT_SSH_COMMAND"] = "ssh -i " + IdentityMountPath + " -o IdentitiesOnly=yes -o StrictHostKeyChecking=accept-new"
	}
	if owner, ok := s.cfg.Users.Owner(ws.Owner); ok {
		svc.Environment["GIT_AUTHOR_NAME"] = owner.Name
		svc.Environment["GIT_COMMITTER_NAME"] = owner.Name
		if owner.Email != "" {
			svc.Environment["GIT_AUTHOR_EMAIL"] = owner.Email
			svc.Environment["GIT_COMMITTER_EMAIL"] = owner.Email
		}
	}
	file := composeFile{
		Services: map[string]composeService{ServiceName(ws.ID): svc},
		Volumes:  named,
	}
	return marshal(file)
}

func (s *Synthesizer) renderRoot(workspaces []core.WorkspaceMetadata) ([]byte, error) {
	ids := make([]string, 0, len(workspaces))
	for _, ws := range workspaces {
		ids = append(ids, ws.ID)
	}
	sort.Strings(ids)

	include := make([]string, 0, len(ids))
	for _, id := range ids {
		include = append(include, filepath.ToSlash(filepath.Join(workspacesDirName, id, ComposeFileName)))
	}
	return marshal(composeFile{
		Name:     s.cfg.ProjectName,
		Include:  include,
		Services: map[string]composeService{},
	})
}

func marshal(v interface{}) ([]byte, error) {
	out, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal compose file: %w", err)
	}
	return append([]byte("# generated by rws-daemon, do not edit\n"), out...), nil
}
