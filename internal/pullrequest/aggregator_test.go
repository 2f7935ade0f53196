package pullrequest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lzjever/remote-workspace/internal/core"
	"github.com/lzjever/remote-workspace/internal/gitservice"
)

type fakeService struct {
	mu    sync.Mutex
	calls map[string]int
	prs   map[string][]core.PullMergeRequestInfo
	err   error
}

func (f *fakeService) ListPullMergeRequests(_ context.Context, project string) ([]core.PullMergeRequestInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[project]++
	return f.prs[project], f.err
}

func (f *fakeService) NewRequestURL(project, source, target string) string {
	return "https://new.example/" + project + "?from=" + source + "&to=" + target
}

func (f *fakeService) CreateText() string { return "Create PR" }

func (f *fakeService) callCount(project string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[project]
}

func status(id string, projects ...core.RawWorkspaceProject) core.WorkspaceStatus {
	return core.WorkspaceStatus{WorkspaceMetadata: core.WorkspaceMetadata{ID: id, Projects: projects}}
}

func project(name, url, branch, newBranch string) core.RawWorkspaceProject {
	return core.RawWorkspaceProject{
		Name: name,
		Git:  core.RawWorkspaceProjectGit{URL: url, Branch: branch, NewBranch: newBranch},
	}
}

func TestResolve_SameBranchLeavesProjectUntouched(t *testing.T) {
	svc := &fakeService{}
	agg := NewAggregator(map[string]gitservice.Service{"host.example": svc}, Config{}, nil)

	out := agg.Resolve(context.Background(), []core.WorkspaceStatus{
		status("ws1", project("repo", "git@host.example:org/repo.git", "", "")),
	})

	require.Len(t, out, 1)
	require.Equal(t, core.BranchPair{Target: "master", Source: "master"}, out[0].Projects[0].Git.Branches())
	require.Nil(t, out[0].Projects[0].Git.PullMergeRequest)
}

func TestResolve_SynthesizesCreateLink(t *testing.T) {
	svc := &fakeService{}
	agg := NewAggregator(map[string]gitservice.Service{"host.example": svc}, Config{}, nil)

	out := agg.Resolve(context.Background(), []core.WorkspaceStatus{
		status("ws1", project("repo", "git@host.example:org/repo.git", "", "feature-x")),
	})

	link := out[0].Projects[0].Git.PullMergeRequest
	require.NotNil(t, link)
	require.Equal(t, "Create PR", link.Text)
	require.Equal(t, "https://new.example/org/repo?from=feature-x&to=master", link.URL)
	require.Empty(t, link.State)
}

func TestResolve_AttachesExistingRequest(t *testing.T) {
	svc := &fakeService{prs: map[string][]core.PullMergeRequestInfo{
		"org/repo": {
			{ID: "41", URL: "https://host.example/org/repo/pull/41", State: "closed", SourceBranch: "feature-x", TargetBranch: "develop"},
			{ID: "42", URL: "https://host.example/org/repo/pull/42", State: "open", SourceBranch: "feature-x", TargetBranch: "master"},
		},
	}}
	agg := NewAggregator(map[string]gitservice.Service{"host.example": svc}, Config{}, nil)

	out := agg.Resolve(context.Background(), []core.WorkspaceStatus{
		status("ws1", project("repo", "https://host.example/org/repo", "", "feature-x")),
	})

	require.Equal(t, &core.PullMergeRequestLink{
		Text:  "#42",
		URL:   "https://host.example/org/repo/pull/42",
		State: "open",
	}, out[0].Projects[0].Git.PullMergeRequest)
}

func TestResolve_QueriesEachRefOnce(t *testing.T) {
	svc := &fakeService{}
	agg := NewAggregator(map[string]gitservice.Service{"host.example": svc}, Config{RPS: 1000}, nil)

	out := agg.Resolve(context.Background(), []core.WorkspaceStatus{
		status("ws1", project("repo", "git@host.example:org/repo.git", "", "feature-x")),
		status("ws2",
			project("repo", "ssh://git@host.example/org/repo", "", "feature-x"),
			project("other", "https://host.example/org/other.git", "main", "fix"),
		),
	})

	require.Equal(t, 1, svc.callCount("org/repo"))
	require.Equal(t, 1, svc.callCount("org/other"))
	require.Equal(t, "ws1", out[0].ID)
	require.Equal(t, "ws2", out[1].ID)
	require.Equal(t, "repo", out[1].Projects[0].Name)
	require.Equal(t, "other", out[1].Projects[1].Name)
}

func TestResolve_UnconfiguredHostAndBadURL(t *testing.T) {
	svc := &fakeService{}
	agg := NewAggregator(map[string]gitservice.Service{"host.example": svc}, Config{}, nil)

	out := agg.Resolve(context.Background(), []core.WorkspaceStatus{
		status("ws1",
			project("a", "git@elsewhere.example:org/repo.git", "", "feature-x"),
			project("b", "not a url", "", "feature-x"),
		),
	})

	require.Nil(t, out[0].Projects[0].Git.PullMergeRequest)
	require.Nil(t, out[0].Projects[1].Git.PullMergeRequest)
	require.Equal(t, 0, svc.callCount("org/repo"))
}

func TestResolve_HostFailureIsIsolated(t *testing.T) {
	broken := &fakeService{err: errors.New("boom")}
	healthy := &fakeService{prs: map[string][]core.PullMergeRequestInfo{
		"org/repo": {{ID: "5", URL: "u5", State: "open", SourceBranch: "feature-x", TargetBranch: "master"}},
	}}
	agg := NewAggregator(map[string]gitservice.Service{
		"broken.example":  broken,
		"healthy.example": healthy,
	}, Config{}, nil)

	out := agg.Resolve(context.Background(), []core.WorkspaceStatus{
		status("ws1",
			project("a", "git@broken.example:org/repo.git", "", "feature-x"),
			project("b", "git@healthy.example:org/repo.git", "", "feature-x"),
		),
	})

	// Without a listing there is no telling whether a request exists.
	require.Nil(t, out[0].Projects[0].Git.PullMergeRequest)
	require.Equal(t, "#5", out[0].Projects[1].Git.PullMergeRequest.Text)
}

func TestResolve_TruncatedListingKeepsFoundRequests(t *testing.T) {
	svc := &fakeService{
		err: fmt.Errorf("list pulls org/repo: %w", gitservice.ErrTruncated),
		prs: map[string][]core.PullMergeRequestInfo{
			"org/repo": {{ID: "9", URL: "u9", State: "open", SourceBranch: "feature-x", TargetBranch: "master"}},
		},
	}
	agg := NewAggregator(map[string]gitservice.Service{"host.example": svc}, Config{}, nil)

	out := agg.Resolve(context.Background(), []core.WorkspaceStatus{
		status("ws1",
			project("found", "git@host.example:org/repo.git", "", "feature-x"),
			project("beyond", "git@host.example:org/repo.git", "", "feature-y"),
		),
	})

	require.Equal(t, "#9", out[0].Projects[0].Git.PullMergeRequest.Text)
	require.Nil(t, out[0].Projects[1].Git.PullMergeRequest)
}

func TestResolve_DoesNotMutateInput(t *testing.T) {
	svc := &fakeService{}
	agg := NewAggregator(map[string]gitservice.Service{"host.example": svc}, Config{}, nil)

	in := []core.WorkspaceStatus{status("ws1", project("repo", "git@host.example:org/repo.git", "", "feature-x"))}
	_ = agg.Resolve(context.Background(), in)

	require.Nil(t, in[0].Projects[0].Git.PullMergeRequest)
}
