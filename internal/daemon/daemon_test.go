package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lzjever/remote-workspace/internal/compose"
	"github.com/lzjever/remote-workspace/internal/core"
	"github.com/lzjever/remote-workspace/internal/portalloc"
	"github.com/lzjever/remote-workspace/internal/store"
	"github.com/lzjever/remote-workspace/internal/workspacefiles"
)

type fakeDriver struct {
	mu       sync.Mutex
	ups      int
	failNext error
	inFlight int32
	overlap  atomic.Bool
	block    chan struct{}

	stdout, stderr string
	logsErr        error
	lastContainer  string
}

func (f *fakeDriver) Up(ctx context.Context, project, dir string) error {
	if atomic.AddInt32(&f.inFlight, 1) > 1 {
		f.overlap.Store(true)
	}
	defer atomic.AddInt32(&f.inFlight, -1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ups++
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeDriver) Logs(_ context.Context, name string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastContainer = name
	return f.stdout, f.stderr, f.logsErr
}

func (f *fakeDriver) upCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ups
}

type fakePRs struct {
	calls int
}

func (f *fakePRs) Resolve(_ context.Context, statuses []core.WorkspaceStatus) []core.WorkspaceStatus {
	f.calls++
	for i := range statuses {
		for j := range statuses[i].Projects {
			statuses[i].Projects[j].Git.PullMergeRequest = &core.PullMergeRequestLink{Text: "Create PR", URL: "u"}
		}
	}
	return statuses
}

type harness struct {
	d      *Daemon
	files  *workspacefiles.Synthesizer
	driver *fakeDriver
	prs    *fakePRs
	health []core.ReconcileHealth
	mu     sync.Mutex
}

func newHarness(t *testing.T, queueSize int) *harness {
	return newHarnessWith(t, queueSize, nil)
}

// newHarnessWith lets wrap decorate the file registry.
func newHarnessWith(t *testing.T, queueSize int, wrap func(store.Registry) store.Registry) *harness {
	t.Helper()
	dir := t.TempDir()
	files, err := workspacefiles.New(workspacefiles.Config{DataDir: dir, ProjectName: "rws", Image: "img"}, nil)
	require.NoError(t, err)
	fileReg, err := store.NewFileRegistry(filepath.Join(dir, "registry.json"))
	require.NoError(t, err)
	var reg store.Registry = fileReg
	if wrap != nil {
		reg = wrap(fileReg)
	}

	h := &harness{files: files, driver: &fakeDriver{}, prs: &fakePRs{}}
	h.d, err = New(Config{ReconcileQueueSize: queueSize, ComposeTimeout: time.Minute, LogTimeout: time.Second}, Deps{
		Registry:     reg,
		Files:        files,
		Driver:       h.driver,
		Ports:        portalloc.New(),
		PullRequests: h.prs,
		OnPass: func(hl core.ReconcileHealth) {
			h.mu.Lock()
			h.health = append(h.health, hl)
			h.mu.Unlock()
		},
	})
	require.NoError(t, err)
	return h
}

func (h *harness) run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.d.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func flush(t *testing.T, d *Daemon) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.Flush(ctx)
}

func TestCreate_FreshIDsAndPorts(t *testing.T) {
	h := newHarness(t, 16)
	ctx := context.Background()

	id1, err := h.d.Create(ctx, core.CreateWorkspaceOptions{Name: "demo"})
	require.NoError(t, err)
	id2, err := h.d.Create(ctx, core.CreateWorkspaceOptions{Name: "demo"})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	list, err := h.d.registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NotZero(t, list[0].Port)
	require.NotEqual(t, list[0].Port, list[1].Port)
}

func TestCreate_ConcurrentPortsUnique(t *testing.T) {
	h := newHarness(t, 4)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.d.Create(ctx, core.CreateWorkspaceOptions{Name: fmt.Sprintf("ws-%d", i)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	list, err := h.d.registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 16)
	seen := map[uint16]bool{}
	for _, ws := range list {
		require.False(t, seen[ws.Port], "port %d assigned twice", ws.Port)
		seen[ws.Port] = true
	}
}

func TestCreate_DoesNotWaitForReconcile(t *testing.T) {
	h := newHarness(t, 16)
	h.driver.block = make(chan struct{})
	h.run(t)
	defer close(h.driver.block)

	done := make(chan error, 1)
	go func() {
		_, err := h.d.Create(context.Background(), core.CreateWorkspaceOptions{Name: "demo"})
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("create blocked on reconciliation")
	}
}

func TestCreate_RejectsDuplicateProjectNames(t *testing.T) {
	h := newHarness(t, 16)
	_, err := h.d.Create(context.Background(), core.CreateWorkspaceOptions{
		Name: "demo",
		Projects: []core.RawWorkspaceProject{
			{Name: "repo", Git: core.RawWorkspaceProjectGit{URL: "git@host.example:org/repo.git"}},
			{Name: "repo", Git: core.RawWorkspaceProjectGit{URL: "git@host.example:org/other.git"}},
		},
	})
	var appErr *core.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, core.ErrBadRequest, appErr.Code)
}

func TestDelete_PrunesAndIsIdempotent(t *testing.T) {
	h := newHarness(t, 16)
	h.run(t)
	ctx := context.Background()

	id, err := h.d.Create(ctx, core.CreateWorkspaceOptions{Name: "demo"})
	require.NoError(t, err)
	require.NoError(t, flush(t, h.d))
	wsDir := filepath.Join(h.files.Dir(), "workspaces", id)
	_, err = os.Stat(filepath.Join(wsDir, workspacefiles.ComposeFileName))
	require.NoError(t, err)

	require.NoError(t, h.d.Delete(ctx, id))
	require.NoError(t, flush(t, h.d))
	_, err = os.Stat(wsDir)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, h.d.Delete(ctx, id))
	require.NoError(t, flush(t, h.d))
	list, err := h.d.registry.List(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestUpdate_PortRules(t *testing.T) {
	h := newHarness(t, 16)
	ctx := context.Background()

	id, err := h.d.Create(ctx, core.CreateWorkspaceOptions{Name: "demo"})
	require.NoError(t, err)
	list, _ := h.d.registry.List(ctx)
	port := list[0].Port
	created := list[0].CreatedAt

	// Zero keeps the port.
	require.NoError(t, h.d.Update(ctx, core.WorkspaceMetadata{ID: id, Name: "renamed"}))
	list, _ = h.d.registry.List(ctx)
	require.Equal(t, port, list[0].Port)
	require.Equal(t, "renamed", list[0].Name)
	require.True(t, created.Equal(list[0].CreatedAt))

	// Changing it is rejected.
	err = h.d.Update(ctx, core.WorkspaceMetadata{ID: id, Port: port + 1, Name: "renamed"})
	var appErr *core.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, core.ErrConflict, appErr.Code)

	// A new id cannot take a held port.
	err = h.d.Update(ctx, core.WorkspaceMetadata{ID: "imported", Port: port})
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, core.ErrConflict, appErr.Code)

	// A new id without port gets a fresh one.
	require.NoError(t, h.d.Update(ctx, core.WorkspaceMetadata{ID: "imported"}))
	list, _ = h.d.registry.List(ctx)
	require.Len(t, list, 2)
	require.Equal(t, "imported", list[1].ID)
	require.NotZero(t, list[1].Port)
	require.NotEqual(t, port, list[1].Port)
}

// brokenWrites fails every mutation once broken is set.
type brokenWrites struct {
	store.Registry
	broken atomic.Bool
}

func (b *brokenWrites) Push(ctx context.Context, ws core.WorkspaceMetadata) error {
	if b.broken.Load() {
		return errors.New("disk full")
	}
	return b.Registry.Push(ctx, ws)
}

func (b *brokenWrites) Replace(ctx context.Context, ws core.WorkspaceMetadata) error {
	if b.broken.Load() {
		return errors.New("disk full")
	}
	return b.Registry.Replace(ctx, ws)
}

func TestUpdate_FailedWriteKeepsWorkspace(t *testing.T) {
	broken := &brokenWrites{}
	h := newHarnessWith(t, 16, func(r store.Registry) store.Registry {
		broken.Registry = r
		return broken
	})
	h.run(t)
	ctx := context.Background()

	id, err := h.d.Create(ctx, core.CreateWorkspaceOptions{Name: "demo"})
	require.NoError(t, err)
	require.NoError(t, flush(t, h.d))
	wsDir := filepath.Join(h.files.Dir(), "workspaces", id)

	broken.broken.Store(true)
	require.Error(t, h.d.Update(ctx, core.WorkspaceMetadata{ID: id, Name: "renamed"}))

	list, err := h.d.registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "demo", list[0].Name)

	require.NoError(t, flush(t, h.d))
	_, err = os.Stat(wsDir)
	require.NoError(t, err, "workspace dir pruned after a failed update")
}

func TestUpdate_StripsTransientFields(t *testing.T) {
	h := newHarness(t, 16)
	ctx := context.Background()

	err := h.d.Update(ctx, core.WorkspaceMetadata{
		ID: "ws-1",
		Projects: []core.RawWorkspaceProject{{
			Name:          "repo",
			Git:           core.RawWorkspaceProjectGit{URL: "u", PullMergeRequest: &core.PullMergeRequestLink{Text: "#1"}},
			InPlaceConfig: &core.RawWorkspaceProjectInPlaceConfig{Forwards: []core.ForwardConfig{{Flag: "L", Value: "1:a:1"}}},
		}},
	})
	require.NoError(t, err)

	list, _ := h.d.registry.List(ctx)
	require.Nil(t, list[0].Projects[0].InPlaceConfig)
	require.Nil(t, list[0].Projects[0].Git.PullMergeRequest)
}

func TestReconcile_HealthRecordsFailure(t *testing.T) {
	h := newHarness(t, 16)
	h.run(t)

	h.driver.mu.Lock()
	h.driver.failNext = errors.New("compose exploded")
	h.driver.mu.Unlock()

	_, err := h.d.Create(context.Background(), core.CreateWorkspaceOptions{Name: "demo"})
	require.NoError(t, err)

	// Passes queued before the flush include the failing one.
	require.NoError(t, flush(t, h.d))
	hl := h.d.Health()
	require.Equal(t, uint64(1), hl.Failures)
	require.True(t, hl.Healthy(), "a later success clears the consecutive failure count")
	require.GreaterOrEqual(t, hl.Passes, uint64(1))

	h.driver.mu.Lock()
	h.driver.failNext = errors.New("compose exploded again")
	h.driver.mu.Unlock()
	err = flush(t, h.d)
	require.Error(t, err)
	hl = h.d.Health()
	require.False(t, hl.Healthy())
	require.Contains(t, hl.LastError, "compose exploded again")

	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.health)
	require.Equal(t, hl.LastSeq, h.health[len(h.health)-1].LastSeq)
}

func TestReconcile_SerializedAndCoalesced(t *testing.T) {
	h := newHarness(t, 2)
	for i := 0; i < 50; i++ {
		h.d.Trigger()
	}
	require.Len(t, h.d.queue, 2)

	h.run(t)
	require.NoError(t, flush(t, h.d))
	require.False(t, h.driver.overlap.Load())
	// Initial trigger from Run is absorbed by the full queue.
	require.LessOrEqual(t, h.driver.upCount(), 4)
}

func TestStatuses(t *testing.T) {
	h := newHarness(t, 16)
	ctx := context.Background()

	idA, err := h.d.Create(ctx, core.CreateWorkspaceOptions{Name: "a", Projects: []core.RawWorkspaceProject{
		{Name: "front", Git: core.RawWorkspaceProjectGit{URL: "git@host.example:org/front.git", NewBranch: "x"}},
		{Name: "back", Git: core.RawWorkspaceProjectGit{URL: "git@host.example:org/back.git"}},
	}})
	require.NoError(t, err)
	idB, err := h.d.Create(ctx, core.CreateWorkspaceOptions{Name: "b"})
	require.NoError(t, err)
	list, _ := h.d.registry.List(ctx)
	require.NoError(t, h.files.Update(list))

	projDir := filepath.Join(h.files.Dir(), "workspaces", idA, "front")
	require.NoError(t, os.MkdirAll(projDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projDir, "remote-workspace.json"),
		[]byte(`{"forwards":[{"flag":"L","value":"3000:localhost:3000"}]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(h.files.Dir(), "workspaces", idB, ".ready"), nil, 0o644))

	statuses, err := h.d.Statuses(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, h.prs.calls)
	require.Len(t, statuses, 2)
	require.Equal(t, idA, statuses[0].ID)
	require.Equal(t, idB, statuses[1].ID)
	require.False(t, statuses[0].Ready)
	require.True(t, statuses[1].Ready)
	require.Equal(t, "front", statuses[0].Projects[0].Name)
	require.Equal(t, "back", statuses[0].Projects[1].Name)
	require.NotNil(t, statuses[0].Projects[0].InPlaceConfig)
	require.Nil(t, statuses[0].Projects[1].InPlaceConfig)
	require.NotNil(t, statuses[0].Projects[0].Git.PullMergeRequest)

	// Nothing derived leaks into the registry.
	list, _ = h.d.registry.List(ctx)
	require.Nil(t, list[0].Projects[0].InPlaceConfig)
	require.Nil(t, list[0].Projects[0].Git.PullMergeRequest)
}

func TestLog_SortsMergedStreams(t *testing.T) {
	h := newHarness(t, 16)
	ctx := context.Background()
	id, err := h.d.Create(ctx, core.CreateWorkspaceOptions{Name: "demo"})
	require.NoError(t, err)

	h.driver.stdout = "2024-01-01T00:00:03Z c\n2024-01-01T00:00:01Z a"
	h.driver.stderr = "\n2024-01-01T00:00:02Z b"

	out, err := h.d.Log(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "2024-01-01T00:00:01Z a\n2024-01-01T00:00:02Z b\n2024-01-01T00:00:03Z c", out)
	require.Equal(t, "rws_"+id, h.driver.lastContainer)
}

func TestLog_NotFound(t *testing.T) {
	h := newHarness(t, 16)
	ctx := context.Background()

	_, err := h.d.Log(ctx, "missing")
	var appErr *core.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, core.ErrNotFound, appErr.Code)

	id, err := h.d.Create(ctx, core.CreateWorkspaceOptions{Name: "demo"})
	require.NoError(t, err)
	h.driver.logsErr = fmt.Errorf("%w: rws_%s", compose.ErrContainerNotFound, id)
	_, err = h.d.Log(ctx, id)
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, core.ErrNotFound, appErr.Code)
}
