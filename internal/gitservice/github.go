package gitservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/lzjever/remote-workspace/internal/core"
)

// GitHub lists pull requests through the REST API.
type GitHub struct {
	webURL     string
	apiURL     string
	token      string
	httpClient *http.Client
}

type githubPullRequest struct {
	Number   int     `json:"number"`
	HTMLURL  string  `json:"html_url"`
	State    string  `json:"state"`
	MergedAt *string `json:"merged_at"`
	Head     struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

func (g *GitHub) ListPullMergeRequests(ctx context.Context, project string) ([]core.PullMergeRequestInfo, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/pulls?state=all&per_page=100", g.apiURL, project)
	headers := map[string]string{
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	}
	if g.token != "" {
		headers["Authorization"] = "Bearer " + g.token
	}

	pulls, err := listPages[githubPullRequest](ctx, g.httpClient, endpoint, headers, nextLink)
	if err != nil && !errors.Is(err, ErrTruncated) {
		return nil, fmt.Errorf("list pulls %s: %w", project, err)
	}

	host := hostOf(g.webURL)
	out := make([]core.PullMergeRequestInfo, 0, len(pulls))
	for _, p := range pulls {
		state := p.State
		if p.MergedAt != nil && *p.MergedAt != "" {
			state = "merged"
		}
		out = append(out, core.PullMergeRequestInfo{
			ID:           strconv.Itoa(p.Number),
			URL:          p.HTMLURL,
			State:        state,
			Host:         host,
			Project:      project,
			SourceBranch: p.Head.Ref,
			TargetBranch: p.Base.Ref,
		})
	}
	if err != nil {
		return out, fmt.Errorf("list pulls %s: %w", project, err)
	}
	return out, nil
}

func (g *GitHub) NewRequestURL(project, source, target string) string {
	return fmt.Sprintf("%s/%s/compare/%s...%s?expand=1",
		g.webURL, project, url.PathEscape(target), url.PathEscape(source))
}

func (g *GitHub) CreateText() string {
	return "Create PR"
}
