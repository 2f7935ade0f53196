// Package daemon owns the workspace registry and keeps the container
// runtime in line with it through a serialized reconciliation queue.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lzjever/remote-workspace/internal/compose"
	"github.com/lzjever/remote-workspace/internal/core"
	"github.com/lzjever/remote-workspace/internal/observability"
	"github.com/lzjever/remote-workspace/internal/store"
	"github.com/lzjever/remote-workspace/internal/workspacefiles"
)

// Files synthesizes and inspects the per-workspace files.
type Files interface {
	Update(workspaces []core.WorkspaceMetadata) error
	Prune(workspaces []core.WorkspaceMetadata) error
	InPlaceConfig(ws core.WorkspaceMetadata, project string) *core.RawWorkspaceProjectInPlaceConfig
	Ready(id string) bool
	Dir() string
	ProjectName() string
}

// Driver is the container orchestration driver.
type Driver interface {
	Up(ctx context.Context, project, dir string) error
	Logs(ctx context.Context, containerName string) (stdout, stderr string, err error)
}

type PortAllocator interface {
	Allocate(ctx context.Context, excluding map[uint16]struct{}) (uint16, error)
}

type PullRequestResolver interface {
	Resolve(ctx context.Context, statuses []core.WorkspaceStatus) []core.WorkspaceStatus
}

type Deps struct {
	Registry     store.Registry
	Files        Files
	Driver       Driver
	Ports        PortAllocator
	PullRequests PullRequestResolver
	// OnPass is called after every reconciliation pass.
	OnPass func(core.ReconcileHealth)
	Log    *zap.Logger
}

type Daemon struct {
	registry store.Registry
	files    Files
	driver   Driver
	ports    PortAllocator
	prs      PullRequestResolver
	onPass   func(core.ReconcileHealth)
	cfg      Config
	log      *zap.Logger

	// mu serializes registry mutations so that port selection and the
	// push that claims the port cannot interleave.
	mu sync.Mutex

	queue chan passRequest

	healthMu sync.Mutex
	health   core.ReconcileHealth

	now func() time.Time
}

func New(cfg Config, deps Deps) (*Daemon, error) {
	if deps.Registry == nil || deps.Files == nil || deps.Driver == nil || deps.Ports == nil {
		return nil, errors.New("daemon: registry, files, driver and ports are required")
	}
	if cfg.ReconcileQueueSize <= 0 {
		cfg.ReconcileQueueSize = 16
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Daemon{
		registry: deps.Registry,
		files:    deps.Files,
		driver:   deps.Driver,
		ports:    deps.Ports,
		prs:      deps.PullRequests,
		onPass:   deps.OnPass,
		cfg:      cfg,
		log:      log,
		queue:    make(chan passRequest, cfg.ReconcileQueueSize),
		now:      time.Now,
	}, nil
}

// Create registers a new workspace and returns its id. It does not wait
// for the workspace to come up.
func (d *Daemon) Create(ctx context.Context, opts core.CreateWorkspaceOptions) (string, error) {
	if err := validateProjects(opts.Projects); err != nil {
		return "", err
	}

	d.mu.Lock()
	existing, err := d.registry.List(ctx)
	if err != nil {
		d.mu.Unlock()
		return "", fmt.Errorf("list registry: %w", err)
	}
	port, err := d.ports.Allocate(ctx, portsOf(existing, ""))
	if err != nil {
		d.mu.Unlock()
		return "", fmt.Errorf("allocate port: %w", err)
	}
	ws := core.WorkspaceMetadata{
		ID:        core.NewID(),
		Port:      port,
		Name:      opts.Name,
		Owner:     opts.Owner,
		Projects:  opts.Projects,
		CreatedAt: d.now().UTC(),
	}
	err = d.registry.Push(ctx, ws.Stripped())
	d.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("push workspace: %w", err)
	}

	observability.WorkspaceLogger(d.log, ws.ID, "create").Info("workspace created", zap.Uint16("port", port))
	d.Trigger()
	return ws.ID, nil
}

// Update replaces the entry with the same id. The port of an existing
// workspace cannot change; zero keeps it.
func (d *Daemon) Update(ctx context.Context, ws core.WorkspaceMetadata) error {
	if !core.ValidID(ws.ID) {
		return core.NewAppError(core.ErrBadRequest, fmt.Sprintf("invalid workspace id %q", ws.ID))
	}
	if err := validateProjects(ws.Projects); err != nil {
		return err
	}

	d.mu.Lock()
	entries, err := d.registry.List(ctx)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("list registry: %w", err)
	}
	var current *core.WorkspaceMetadata
	for i := range entries {
		if entries[i].ID == ws.ID {
			current = &entries[i]
			break
		}
	}

	others := portsOf(entries, ws.ID)
	switch {
	case current != nil && ws.Port == 0:
		ws.Port = current.Port
	case current != nil && ws.Port != current.Port:
		d.mu.Unlock()
		return core.NewAppError(core.ErrConflict,
			fmt.Sprintf("workspace %s holds port %d; ports cannot change", ws.ID, current.Port))
	case current == nil && ws.Port == 0:
		port, err := d.ports.Allocate(ctx, others)
		if err != nil {
			d.mu.Unlock()
			return fmt.Errorf("allocate port: %w", err)
		}
		ws.Port = port
	case current == nil:
		if _, taken := others[ws.Port]; taken {
			d.mu.Unlock()
			return core.NewAppError(core.ErrConflict, fmt.Sprintf("port %d is held by another workspace", ws.Port))
		}
	}
	if ws.CreatedAt.IsZero() {
		if current != nil {
			ws.CreatedAt = current.CreatedAt
		} else {
			ws.CreatedAt = d.now().UTC()
		}
	}

	err = d.registry.Replace(ctx, ws.Stripped())
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("replace workspace: %w", err)
	}

	observability.WorkspaceLogger(d.log, ws.ID, "update").Info("workspace updated", zap.Bool("existed", current != nil))
	d.Trigger()
	return nil
}

// Delete removes the workspace. Unknown ids are not an error.
func (d *Daemon) Delete(ctx context.Context, id string) error {
	d.mu.Lock()
	removed, err := d.registry.Pull(ctx, store.ByID(id))
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("pull workspace: %w", err)
	}

	observability.WorkspaceLogger(d.log, id, "delete").Info("workspace deleted", zap.Int("removed", len(removed)))
	d.Trigger()
	return nil
}

// Statuses reports every registered workspace with in-place config,
// readiness and pull/merge request links merged in. Workspace and
// project order follows the registry.
func (d *Daemon) Statuses(ctx context.Context) ([]core.WorkspaceStatus, error) {
	entries, err := d.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}

	statuses := make([]core.WorkspaceStatus, len(entries))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, ws := range entries {
		g.Go(func() error {
			st := core.WorkspaceStatus{WorkspaceMetadata: ws.Stripped()}
			for j := range st.Projects {
				st.Projects[j].InPlaceConfig = d.files.InPlaceConfig(ws, st.Projects[j].Name)
			}
			st.Ready = d.files.Ready(ws.ID)
			statuses[i] = st
			return nil
		})
	}
	_ = g.Wait()

	if d.prs != nil {
		statuses = d.prs.Resolve(ctx, statuses)
	}
	return statuses, nil
}

// Log returns the container log of a workspace, stdout and stderr lines
// merged by lexicographic sort. Lines carry a timestamp prefix, so the
// order is chronological to the precision of that prefix.
func (d *Daemon) Log(ctx context.Context, id string) (string, error) {
	entries, err := d.registry.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list registry: %w", err)
	}
	found := false
	for _, ws := range entries {
		if ws.ID == id {
			found = true
			break
		}
	}
	if !found {
		return "", core.NewAppError(core.ErrNotFound, fmt.Sprintf("workspace %s not found", id))
	}

	if d.cfg.LogTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.LogTimeout)
		defer cancel()
	}
	name := workspacefiles.ContainerName(d.files.ProjectName(), id)
	stdout, stderr, err := d.driver.Logs(ctx, name)
	if err != nil {
		switch {
		case errors.Is(err, compose.ErrContainerNotFound):
			return "", core.NewAppError(core.ErrNotFound, fmt.Sprintf("container %s not found", name))
		case errors.Is(err, context.DeadlineExceeded):
			return "", core.NewAppError(core.ErrUpstreamTimeout, fmt.Sprintf("log retrieval for %s timed out", id))
		default:
			return "", core.NewAppError(core.ErrUpstream, err.Error())
		}
	}

	lines := strings.Split(stdout+stderr, "\n")
	sort.Strings(lines)
	return strings.Join(lines, "\n"), nil
}

// Health returns the outcome of recent reconciliation passes.
func (d *Daemon) Health() core.ReconcileHealth {
	d.healthMu.Lock()
	defer d.healthMu.Unlock()
	return d.health
}

func portsOf(entries []core.WorkspaceMetadata, exceptID string) map[uint16]struct{} {
	ports := make(map[uint16]struct{}, len(entries))
	for _, ws := range entries {
		if ws.ID == exceptID {
			continue
		}
		ports[ws.Port] = struct{}{}
	}
	return ports
}

func validateProjects(projects []core.RawWorkspaceProject) error {
	seen := make(map[string]struct{}, len(projects))
	for _, p := range projects {
		if !core.ValidProjectName(p.Name) {
			return core.NewAppError(core.ErrBadRequest, fmt.Sprintf("invalid project name %q", p.Name))
		}
		if _, dup := seen[p.Name]; dup {
			return core.NewAppError(core.ErrBadRequest, fmt.Sprintf("duplicate project name %q", p.Name))
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}
