// Package tunnel owns the single ssh process forwarding local ports into
// a workspace.
package tunnel

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lzjever/remote-workspace/internal/core"
	"github.com/lzjever/remote-workspace/internal/observability"
	"github.com/lzjever/remote-workspace/internal/sshconfig"
)

const defaultStopTimeout = 5 * time.Second

// Process is a started tunnel subprocess.
type Process interface {
	Signal(sig os.Signal) error
	Kill() error
	Wait() error
	Pid() int
}

// Starter spawns name with args without waiting for it.
type Starter func(name string, args ...string) (Process, error)

type Manager struct {
	executable  string
	start       Starter
	stopTimeout time.Duration
	log         *zap.Logger

	mu     sync.Mutex
	active *activeTunnel
}

type activeTunnel struct {
	workspaceID string
	process     Process
	exited      chan struct{}
}

func NewManager(executable string, log *zap.Logger) *Manager {
	if executable == "" {
		executable = "ssh"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		executable:  executable,
		start:       startCommand,
		stopTimeout: defaultStopTimeout,
		log:         log,
	}
}

// WithStarter replaces how processes are spawned.
func (m *Manager) WithStarter(s Starter) *Manager {
	m.start = s
	return m
}

// Switch stops the active tunnel, if any, and starts one for ws. It
// returns once the new process is spawned, not once it is connected.
// On a spawn error no tunnel is active.
func (m *Manager) Switch(ws core.WorkspaceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLocked()

	args := Args(ws, m.log)
	log := m.log.With(zap.String("workspace_id", ws.ID))
	proc, err := m.start(m.executable, args...)
	if err != nil {
		observability.TunnelSwitchTotal.WithLabelValues("failed").Inc()
		log.Error("tunnel spawn failed", zap.Error(err))
		return fmt.Errorf("start tunnel to %s: %w", ws.ID, err)
	}

	t := &activeTunnel{workspaceID: ws.ID, process: proc, exited: make(chan struct{})}
	m.active = t
	go m.reap(t)

	observability.TunnelSwitchTotal.WithLabelValues("started").Inc()
	observability.TunnelActive.Set(1)
	log.Info("tunnel started", zap.Int("pid", proc.Pid()), zap.Strings("args", args))
	return nil
}

// Stop interrupts the active tunnel. It is a no-op without one.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// ActiveWorkspaceID returns the target of the last successful Switch,
// unless the tunnel was stopped since.
func (m *Manager) ActiveWorkspaceID() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return "", false
	}
	return m.active.workspaceID, true
}

func (m *Manager) stopLocked() {
	t := m.active
	if t == nil {
		return
	}
	m.active = nil
	observability.TunnelActive.Set(0)

	log := m.log.With(zap.String("workspace_id", t.workspaceID), zap.Int("pid", t.process.Pid()))
	if err := t.process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Warn("tunnel interrupt failed", zap.Error(err))
	}
	select {
	case <-t.exited:
	case <-time.After(m.stopTimeout):
		log.Warn("tunnel ignored interrupt, killing")
		if err := t.process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Error("tunnel kill failed", zap.Error(err))
		}
		<-t.exited
	}
	log.Info("tunnel stopped")
}

// reap waits for the process so it does not linger as a zombie. Exits
// are only logged; the tunnel is not restarted.
func (m *Manager) reap(t *activeTunnel) {
	err := t.process.Wait()
	close(t.exited)

	m.mu.Lock()
	current := m.active == t
	m.mu.Unlock()
	if current {
		m.log.Warn("tunnel exited", zap.String("workspace_id", t.workspaceID), zap.Error(err))
	}
}

// Args builds the ssh arguments for ws: -N, one flag/value pair per
// forward in project order, then the host alias. Forwards with a flag
// other than L, R or D are skipped.
func Args(ws core.WorkspaceStatus, log *zap.Logger) []string {
	args := []string{"-N"}
	for _, p := range ws.Projects {
		if p.InPlaceConfig == nil {
			continue
		}
		for _, f := range p.InPlaceConfig.Forwards {
			switch f.Flag {
			case "L", "R", "D":
				args = append(args, "-"+f.Flag, f.Value)
			default:
				if log != nil {
					log.Debug("forward skipped", zap.String("project", p.Name), zap.String("flag", f.Flag))
				}
			}
		}
	}
	return append(args, sshconfig.HostAlias(ws.WorkspaceMetadata))
}

type cmdProcess struct {
	cmd *exec.Cmd
}

func startCommand(name string, args ...string) (Process, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdin = nil
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &cmdProcess{cmd: cmd}, nil
}

func (p *cmdProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p *cmdProcess) Kill() error                { return p.cmd.Process.Kill() }
func (p *cmdProcess) Wait() error                { return p.cmd.Wait() }
func (p *cmdProcess) Pid() int                   { return p.cmd.Process.Pid }
