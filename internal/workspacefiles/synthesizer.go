// Package workspacefiles derives the on-disk compose definitions from the
// registry and answers per-workspace file lookups (in-place project
// config, readiness sentinel).
//
// Layout under the data dir:
//
//	docker-compose.yml                  root file, includes every workspace
//	authorized_keys                     public keys of the configured users
//	workspaces/<id>/docker-compose.yml  one service per workspace
//	workspaces/<id>/<project>/          project checkout, mounted into the container
//	workspaces/<id>/.ready              written by the container once sshd is up
package workspacefiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"go.uber.org/zap"

	"github.com/lzjever/remote-workspace/internal/core"
)

const (
	workspacesDirName = "workspaces"
	inPlaceConfigName = "remote-workspace.json"
	readySentinelName = ".ready"
	generatedFilePerm = 0o644
	workspaceDirPerm  = 0o755
)

type Config struct {
	DataDir        string
	ProjectName    string
	Image          string
	SSHHostKeysDir string
	// Users get ssh access to every workspace.
	Users UserList
	// IdentityFile is the deploy key mounted for git operations.
	IdentityFile string
	// SSHVolume is a named volume mounted at /root/.ssh in every
	// workspace. Empty disables it.
	SSHVolume string
}

type Synthesizer struct {
	cfg Config
	log *zap.Logger
}

func New(cfg Config, log *zap.Logger) (*Synthesizer, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("workspacefiles: data dir is required")
	}
	abs, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("workspacefiles: resolve data dir: %w", err)
	}
	cfg.DataDir = filepath.Clean(abs)
	if cfg.IdentityFile != "" {
		if cfg.IdentityFile, err = filepath.Abs(cfg.IdentityFile); err != nil {
			return nil, fmt.Errorf("workspacefiles: resolve identity file: %w", err)
		}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Synthesizer{cfg: cfg, log: log}, nil
}

// Dir is the compose working directory.
func (s *Synthesizer) Dir() string { return s.cfg.DataDir }

// ProjectName is the compose project name.
func (s *Synthesizer) ProjectName() string { return s.cfg.ProjectName }

func (s *Synthesizer) workspacesRoot() string {
	return filepath.Join(s.cfg.DataDir, workspacesDirName)
}

func (s *Synthesizer) authorizedKeysPath() string {
	return filepath.Join(s.cfg.DataDir, authorizedKeysName)
}

func (s *Synthesizer) workspaceDir(id string) string {
	return filepath.Join(s.workspacesRoot(), id)
}

// Update writes the compose definitions for workspaces. Files whose
// content is unchanged are not rewritten.
func (s *Synthesizer) Update(workspaces []core.WorkspaceMetadata) error {
	if err := os.MkdirAll(s.workspacesRoot(), workspaceDirPerm); err != nil {
		return fmt.Errorf("mkdir %s: %w", s.workspacesRoot(), err)
	}
	if len(s.cfg.Users) > 0 {
		if _, err := writeIfChanged(s.authorizedKeysPath(), s.cfg.Users.authorizedKeys(), generatedFilePerm); err != nil {
			return err
		}
	}

	for _, ws := range workspaces {
		if !core.ValidID(ws.ID) {
			return fmt.Errorf("workspace id %q is not a valid path segment", ws.ID)
		}
		dir := s.workspaceDir(ws.ID)
		if err := os.MkdirAll(dir, workspaceDirPerm); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
		data, err := s.renderWorkspace(ws)
		if err != nil {
			return fmt.Errorf("render %s: %w", ws.ID, err)
		}
		written, err := writeIfChanged(filepath.Join(dir, ComposeFileName), data, generatedFilePerm)
		if err != nil {
			return err
		}
		if written {
			s.log.Info("workspace compose file written", zap.String("workspace_id", ws.ID))
		}
	}

	root, err := s.renderRoot(workspaces)
	if err != nil {
		return err
	}
	if _, err := writeIfChanged(filepath.Join(s.cfg.DataDir, ComposeFileName), root, generatedFilePerm); err != nil {
		return err
	}
	return nil
}

// Prune removes the directory of every workspace not in workspaces.
// Only directories directly below the workspaces root are considered.
func (s *Synthesizer) Prune(workspaces []core.WorkspaceMetadata) error {
	keep := make(map[string]struct{}, len(workspaces))
	for _, ws := range workspaces {
		keep[ws.ID] = struct{}{}
	}

	root := s.workspacesRoot()
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", root, err)
	}

	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := keep[entry.Name()]; ok {
			continue
		}
		target := filepath.Join(root, entry.Name())
		if !within(root, target) {
			errs = append(errs, fmt.Errorf("refusing to remove %s outside %s", target, root))
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", target, err))
			continue
		}
		s.log.Info("workspace files pruned", zap.String("workspace_id", entry.Name()))
	}
	return errors.Join(errs...)
}

// InPlaceConfig reads the project's remote-workspace.json. Missing or
// malformed files yield nil.
func (s *Synthesizer) InPlaceConfig(ws core.WorkspaceMetadata, project string) *core.RawWorkspaceProjectInPlaceConfig {
	log := s.log.With(zap.String("workspace_id", ws.ID), zap.String("project", project))
	if !core.ValidID(ws.ID) || project == "" {
		return nil
	}
	path := filepath.Join(s.workspaceDir(ws.ID), project, inPlaceConfigName)
	if !within(s.workspaceDir(ws.ID), path) {
		log.Debug("in-place config path escapes workspace dir")
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Debug("in-place config unreadable", zap.Error(err))
		}
		return nil
	}
	var cfg core.RawWorkspaceProjectInPlaceConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		log.Debug("in-place config malformed", zap.Error(err))
		return nil
	}
	return &cfg
}

// Ready reports whether the workspace container has written its
// readiness sentinel.
func (s *Synthesizer) Ready(id string) bool {
	if !core.ValidID(id) {
		return false
	}
	_, err := os.Stat(filepath.Join(s.workspaceDir(id), readySentinelName))
	return err == nil
}

// within reports whether target is strictly below root.
func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
