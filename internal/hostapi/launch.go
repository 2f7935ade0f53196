package hostapi

import (
	"fmt"
	"os/exec"
	"path"

	"github.com/lzjever/remote-workspace/internal/core"
	"github.com/lzjever/remote-workspace/internal/sshconfig"
	"github.com/lzjever/remote-workspace/internal/workspacefiles"
)

// Launcher starts a detached process.
type Launcher func(name string, args ...string) error

// LaunchArgs returns the editor arguments opening ws over ssh-remote,
// either at a project folder or at the workspace itself.
func LaunchArgs(ws core.WorkspaceMetadata, project string) []string {
	uri := "vscode-remote://ssh-remote+" + sshconfig.HostAlias(ws)
	if project == "" {
		return []string{"--file-uri", uri}
	}
	return []string{"--folder-uri", uri + path.Join(workspacefiles.WorkspaceMountPath, project)}
}

func startDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	return cmd.Process.Release()
}
