package workspacefiles

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/lzjever/remote-workspace/internal/core"
)

func newTestSynthesizer(t *testing.T) *Synthesizer {
	t.Helper()
	s, err := New(Config{
		DataDir:        t.TempDir(),
		ProjectName:    "rws",
		Image:          "remote-workspace:latest",
		SSHHostKeysDir: "/srv/rws/host-keys",
	}, nil)
	require.NoError(t, err)
	return s
}

func sampleWorkspaces() []core.WorkspaceMetadata {
	return []core.WorkspaceMetadata{
		{
			ID:    "ws-b",
			Port:  40002,
			Name:  "second",
			Owner: "alice",
			Projects: []core.RawWorkspaceProject{{
				Name: "repo",
				Git:  core.RawWorkspaceProjectGit{URL: "git@host.example:org/repo.git", NewBranch: "feature-x"},
			}},
		},
		{ID: "ws-a", Port: 40001, Name: "first"},
	}
}

func TestUpdate_Idempotent(t *testing.T) {
	s := newTestSynthesizer(t)
	wss := sampleWorkspaces()

	require.NoError(t, s.Update(wss))
	rootPath := filepath.Join(s.Dir(), ComposeFileName)
	wsPath := filepath.Join(s.Dir(), "workspaces", "ws-b", ComposeFileName)
	rootFirst, err := os.ReadFile(rootPath)
	require.NoError(t, err)
	wsFirst, err := os.ReadFile(wsPath)
	require.NoError(t, err)

	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(wsPath, old, old))

	require.NoError(t, s.Update(wss))
	rootSecond, err := os.ReadFile(rootPath)
	require.NoError(t, err)
	wsSecond, err := os.ReadFile(wsPath)
	require.NoError(t, err)

	require.Equal(t, rootFirst, rootSecond)
	require.Equal(t, wsFirst, wsSecond)

	info, err := os.Stat(wsPath)
	require.NoError(t, err)
	require.True(t, info.ModTime().Equal(old), "unchanged file must not be rewritten")
}

func TestUpdate_ComposeContent(t *testing.T) {
	s := newTestSynthesizer(t)
	require.NoError(t, s.Update(sampleWorkspaces()))

	var root composeFile
	data, err := os.ReadFile(filepath.Join(s.Dir(), ComposeFileName))
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, &root))
	require.Equal(t, "rws", root.Name)
	require.Equal(t, []string{
		"workspaces/ws-a/docker-compose.yml",
		"workspaces/ws-b/docker-compose.yml",
	}, root.Include)

	var ws composeFile
	data, err = os.ReadFile(filepath.Join(s.Dir(), "workspaces", "ws-b", ComposeFileName))
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, &ws))
	svc, ok := ws.Services["workspace-ws-b"]
	require.True(t, ok)
	require.Equal(t, "rws_ws-b", svc.ContainerName)
	require.Equal(t, []string{"40002:22"}, svc.Ports)
	require.Equal(t, "remote-workspace:latest", svc.Image)
	require.Equal(t, []string{
		filepath.Join(s.Dir(), "workspaces", "ws-b") + ":/root/workspace",
		"/srv/rws/host-keys:/etc/ssh/host-keys:ro",
	}, svc.Volumes)
	require.Equal(t, "ws-b", svc.Labels[IDLabel])
	require.Equal(t, "alice", svc.Environment["WORKSPACE_OWNER"])
	require.JSONEq(t,
		`[{"name":"repo","url":"git@host.example:org/repo.git","branches":{"target":"master","source":"feature-x"}}]`,
		svc.Environment["WORKSPACE_PROJECTS"])
}

func TestUpdate_ComposeContent_UsersAndIdentity(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{
		DataDir:      dir,
		ProjectName:  "rws",
		Image:        "remote-workspace:latest",
		IdentityFile: "/srv/rws/deploy_key",
		SSHVolume:    "rws-ssh",
		Users: UserList{
			{Name: "alice", Email: "alice@example.com", PublicKey: "ssh-ed25519 AAAA1"},
			{Name: "bob", Email: "bob@example.com", PublicKey: "ssh-ed25519 AAAA2\n"},
		},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Update(sampleWorkspaces()))

	keys, err := os.ReadFile(filepath.Join(s.Dir(), "authorized_keys"))
	require.NoError(t, err)
	require.Equal(t, "ssh-ed25519 AAAA1 alice\nssh-ed25519 AAAA2 bob\n", string(keys))

	var owned composeFile
	data, err := os.ReadFile(filepath.Join(s.Dir(), "workspaces", "ws-b", ComposeFileName))
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, &owned))
	require.Equal(t, map[string]composeVolume{"ssh": {Name: "rws-ssh"}}, owned.Volumes)

	svc := owned.Services["workspace-ws-b"]
	require.Equal(t, []string{
		filepath.Join(s.Dir(), "workspaces", "ws-b") + ":/root/workspace",
		"ssh:/root/.ssh",
		filepath.Join(s.Dir(), "authorized_keys") + ":/root/.ssh/authorized_keys:ro",
		"/srv/rws/deploy_key:/etc/remote-workspace/identity:ro",
	}, svc.Volumes)
	require.Equal(t, "alice", svc.Environment["GIT_AUTHOR_NAME"])
	require.Equal(t, "alice@example.com", svc.Environment["GIT_COMMITTER_EMAIL"])
	require.Contains(t, svc.Environment["GIT_SSH_COMMAND"], "-i /etc/remote-workspace/identity")

	// ws-a has no owner, so no git identity is set.
	var unowned composeFile
	data, err = os.ReadFile(filepath.Join(s.Dir(), "workspaces", "ws-a", ComposeFileName))
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal(data, &unowned))
	_, ok := unowned.Services["workspace-ws-a"].Environment["GIT_AUTHOR_NAME"]
	require.False(t, ok)
}

func TestUserList_Decode(t *testing.T) {
	var users UserList
	require.NoError(t, users.Decode(`[
		// team
		{"name": "alice", "email": "Alice@Example.com", "publicKey": "ssh-ed25519 AAAA1"},
	]`))
	require.Len(t, users, 1)

	owner, ok := users.Owner("alice@example.com")
	require.True(t, ok)
	require.Equal(t, "alice", owner.Name)
	_, ok = users.Owner("carol")
	require.False(t, ok)

	require.Error(t, users.Decode(`[{"name": "bob"}]`))
	require.Error(t, users.Decode(`[{"publicKey": "ssh-ed25519 AAAA"}]`))
	require.NoError(t, users.Decode(""))
	require.Empty(t, users)
}

func TestUpdate_RejectsUnsafeID(t *testing.T) {
	s := newTestSynthesizer(t)
	err := s.Update([]core.WorkspaceMetadata{{ID: "../escape", Port: 1}})
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(s.Dir(), "escape"))
	require.True(t, os.IsNotExist(statErr))
}

func TestPrune(t *testing.T) {
	s := newTestSynthesizer(t)
	wss := sampleWorkspaces()
	require.NoError(t, s.Update(wss))

	// Checkout content of a surviving workspace.
	keepFile := filepath.Join(s.Dir(), "workspaces", "ws-a", "repo", "main.go")
	require.NoError(t, os.MkdirAll(filepath.Dir(keepFile), 0o755))
	require.NoError(t, os.WriteFile(keepFile, []byte("package main\n"), 0o644))

	// A stray file at the root and a sibling outside the root stay.
	stray := filepath.Join(s.Dir(), "workspaces", "notes.txt")
	require.NoError(t, os.WriteFile(stray, []byte("x"), 0o644))
	outside := filepath.Join(s.Dir(), "ws-b")
	require.NoError(t, os.MkdirAll(outside, 0o755))

	require.NoError(t, s.Prune(wss[1:]))

	_, err := os.Stat(filepath.Join(s.Dir(), "workspaces", "ws-b"))
	require.True(t, os.IsNotExist(err), "ws-b files must be pruned")
	_, err = os.Stat(keepFile)
	require.NoError(t, err)
	_, err = os.Stat(stray)
	require.NoError(t, err)
	_, err = os.Stat(outside)
	require.NoError(t, err)
}

func TestPrune_MissingRoot(t *testing.T) {
	s := newTestSynthesizer(t)
	require.NoError(t, s.Prune(nil))
}

func TestInPlaceConfig(t *testing.T) {
	s := newTestSynthesizer(t)
	ws := core.WorkspaceMetadata{ID: "ws-a"}
	dir := filepath.Join(s.Dir(), "workspaces", "ws-a", "repo")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	require.Nil(t, s.InPlaceConfig(ws, "repo"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "remote-workspace.json"), []byte(`{
		// dev server
		"forwards": [
			{"flag": "L", "value": "8080:localhost:8080"},
		],
	}`), 0o644))
	cfg := s.InPlaceConfig(ws, "repo")
	require.NotNil(t, cfg)
	require.Equal(t, []core.ForwardConfig{{Flag: "L", Value: "8080:localhost:8080"}}, cfg.Forwards)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "remote-workspace.json"), []byte(`{"forwards": [`), 0o644))
	require.Nil(t, s.InPlaceConfig(ws, "repo"))

	require.Nil(t, s.InPlaceConfig(ws, "../../ws-b"))
}

func TestReady(t *testing.T) {
	s := newTestSynthesizer(t)
	require.NoError(t, s.Update(sampleWorkspaces()))
	require.False(t, s.Ready("ws-a"))

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "workspaces", "ws-a", ".ready"), nil, 0o644))
	require.True(t, s.Ready("ws-a"))
	require.False(t, s.Ready("ws-b"))
	require.False(t, s.Ready("../ws-a"))
}
