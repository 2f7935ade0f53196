// Package sshconfig maintains a managed block of Host entries, one per
// workspace, inside an ssh client config file.
package sshconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lzjever/remote-workspace/internal/core"
	"github.com/lzjever/remote-workspace/internal/observability"
)

const (
	BeginMarker = "# >>> remote-workspace >>>"
	EndMarker   = "# <<< remote-workspace <<<"
	aliasPrefix = "remote-workspace-"
)

// HostAlias is the ssh host name a workspace is reachable under.
func HostAlias(ws core.WorkspaceMetadata) string {
	return aliasPrefix + ws.ID
}

type Config struct {
	// Path of the ssh config file, usually ~/.ssh/config.
	Path string
	// RemoteHost is the machine running the daemon.
	RemoteHost   string
	User         string
	IdentityFile string
}

type Writer struct {
	cfg Config
	mu  sync.Mutex
	log *zap.Logger
}

func NewWriter(cfg Config, log *zap.Logger) (*Writer, error) {
	if cfg.Path == "" {
		return nil, errors.New("sshconfig: path is required")
	}
	if cfg.RemoteHost == "" {
		return nil, errors.New("sshconfig: remote host is required")
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{cfg: cfg, log: log}, nil
}

// Update rewrites the managed block for workspaces, leaving everything
// outside the markers untouched. The file is created when missing.
func (w *Writer) Update(workspaces []core.WorkspaceMetadata) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	existing, err := os.ReadFile(w.cfg.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read ssh config: %w", err)
	}
	updated, err := replaceBlock(string(existing), w.render(workspaces))
	if err != nil {
		return err
	}
	if bytes.Equal(existing, []byte(updated)) {
		return nil
	}

	target, err := resolveTarget(w.cfg.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return fmt.Errorf("mkdir ssh dir: %w", err)
	}
	tmp := target + ".rws-tmp"
	if err := os.WriteFile(tmp, []byte(updated), 0o600); err != nil {
		return fmt.Errorf("write ssh config tmp: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename ssh config: %w", err)
	}
	observability.SSHConfigWritesTotal.Inc()
	w.log.Info("ssh config updated", zap.String("path", w.cfg.Path), zap.Int("workspaces", len(workspaces)))
	return nil
}

// resolveTarget follows symlinks so the rename replaces the file a
// symlinked config points at instead of the link itself. A link whose
// target does not exist yet resolves to that target.
func resolveTarget(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("resolve ssh config: %w", err)
	}
	link, err := os.Readlink(path)
	if err != nil {
		// Not a symlink; the file itself is missing.
		return path, nil
	}
	if !filepath.IsAbs(link) {
		link = filepath.Join(filepath.Dir(path), link)
	}
	return link, nil
}

func (w *Writer) render(workspaces []core.WorkspaceMetadata) string {
	var b strings.Builder
	b.WriteString(BeginMarker + "\n")
	for _, ws := range workspaces {
		fmt.Fprintf(&b, "Host %s\n", HostAlias(ws))
		fmt.Fprintf(&b, "  HostName %s\n", w.cfg.RemoteHost)
		fmt.Fprintf(&b, "  Port %d\n", ws.Port)
		fmt.Fprintf(&b, "  User %s\n", w.cfg.User)
		if w.cfg.IdentityFile != "" {
			fmt.Fprintf(&b, "  IdentityFile %s\n", w.cfg.IdentityFile)
		}
		b.WriteString("  StrictHostKeyChecking no\n")
		b.WriteString("  UserKnownHostsFile /dev/null\n")
	}
	b.WriteString(EndMarker + "\n")
	return b.String()
}

// replaceBlock swaps the managed block in content for block, or appends
// block when there is none.
func replaceBlock(content, block string) (string, error) {
	start := strings.Index(content, BeginMarker)
	if start < 0 {
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		if content != "" {
			content += "\n"
		}
		return content + block, nil
	}
	rel := strings.Index(content[start:], EndMarker)
	if rel < 0 {
		return "", fmt.Errorf("sshconfig: %q without matching %q", BeginMarker, EndMarker)
	}
	end := start + rel + len(EndMarker)
	if end < len(content) && content[end] == '\n' {
		end++
	}
	return content[:start] + block + content[end:], nil
}
