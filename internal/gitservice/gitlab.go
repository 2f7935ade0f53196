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

// GitLab lists merge requests through the v4 API.
type GitLab struct {
	webURL     string
	apiURL     string
	token      string
	httpClient *http.Client
}

type gitlabMergeRequest struct {
	IID          int    `json:"iid"`
	WebURL       string `json:"web_url"`
	State        string `json:"state"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
}

func (g *GitLab) ListPullMergeRequests(ctx context.Context, project string) ([]core.PullMergeRequestInfo, error) {
	endpoint := fmt.Sprintf("%s/api/v4/projects/%s/merge_requests?state=all&per_page=100",
		g.apiURL, url.PathEscape(project))
	headers := map[string]string{}
	if g.token != "" {
		headers["PRIVATE-TOKEN"] = g.token
	}

	requests, err := listPages[gitlabMergeRequest](ctx, g.httpClient, endpoint, headers, gitlabNextPage)
	if err != nil && !errors.Is(err, ErrTruncated) {
		return nil, fmt.Errorf("list merge requests %s: %w", project, err)
	}

	host := hostOf(g.webURL)
	out := make([]core.PullMergeRequestInfo, 0, len(requests))
	for _, mr := range requests {
		out = append(out, core.PullMergeRequestInfo{
			ID:           strconv.Itoa(mr.IID),
			URL:          mr.WebURL,
			State:        mr.State,
			Host:         host,
			Project:      project,
			SourceBranch: mr.SourceBranch,
			TargetBranch: mr.TargetBranch,
		})
	}
	if err != nil {
		return out, fmt.Errorf("list merge requests %s: %w", project, err)
	}
	return out, nil
}

// gitlabNextPage follows the Link header, falling back to X-Next-Page.
func gitlabNextPage(current string, h http.Header) string {
	if next := nextLink(current, h); next != "" {
		return next
	}
	page := h.Get("X-Next-Page")
	if page == "" {
		return ""
	}
	u, err := url.Parse(current)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("page", page)
	u.RawQuery = q.Encode()
	return u.String()
}

func (g *GitLab) NewRequestURL(project, source, target string) string {
	query := url.Values{}
	query.Set("merge_request[source_branch]", source)
	query.Set("merge_request[target_branch]", target)
	return fmt.Sprintf("%s/%s/-/merge_requests/new?%s", g.webURL, project, query.Encode())
}

func (g *GitLab) CreateText() string {
	return "Create MR"
}
