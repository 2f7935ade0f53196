// Package gitservice queries git hosting services for pull/merge
// requests and builds "new request" deep links.
//
// One Service is built per configured host. The hosting service type
// selects the implementation; the host itself is only used to build
// default URLs.
package gitservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/lzjever/remote-workspace/internal/core"
)

const (
	TypeGitHub = "github"
	TypeGitLab = "gitlab"
)

// Service is the capability the pull request aggregator needs from a
// hosting service.
type Service interface {
	// ListPullMergeRequests returns requests of any state on any branch
	// pair for the project.
	ListPullMergeRequests(ctx context.Context, project string) ([]core.PullMergeRequestInfo, error)
	// NewRequestURL returns a link to the service's "new request" page
	// prefilled with the branch pair.
	NewRequestURL(project, source, target string) string
	// CreateText is the label of a synthesized create link.
	CreateText() string
}

// ServiceConfig configures the service for one host.
type ServiceConfig struct {
	Type string `json:"type"`
	// URL is the web root, defaults to https://<host>.
	URL string `json:"url,omitempty"`
	// APIURL defaults to https://api.github.com for github.com, to
	// <URL>/api/v3 for other GitHub hosts and to <URL> for GitLab.
	APIURL string `json:"apiUrl,omitempty"`
	Token  string `json:"token,omitempty"`
}

// ServiceConfigMap maps a git host to its service configuration. It
// decodes from a JSONC object so it can be set from a single
// environment variable.
type ServiceConfigMap map[string]ServiceConfig

// Decode implements envconfig.Decoder.
func (m *ServiceConfigMap) Decode(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		*m = ServiceConfigMap{}
		return nil
	}
	var raw map[string]ServiceConfig
	if err := json.Unmarshal(jsonc.ToJSON([]byte(value)), &raw); err != nil {
		return fmt.Errorf("parse git services: %w", err)
	}
	out := make(ServiceConfigMap, len(raw))
	for host, cfg := range raw {
		out[strings.ToLower(strings.TrimSpace(host))] = cfg
	}
	*m = out
	return nil
}

// Build creates one Service per configured host.
func Build(configs ServiceConfigMap, httpClient *http.Client) (map[string]Service, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	services := make(map[string]Service, len(configs))
	for host, cfg := range configs {
		svc, err := New(host, cfg, httpClient)
		if err != nil {
			return nil, err
		}
		services[host] = svc
	}
	return services, nil
}

// New creates the Service for a single host.
func New(host string, cfg ServiceConfig, httpClient *http.Client) (Service, error) {
	if host == "" {
		return nil, fmt.Errorf("gitservice: host is required")
	}
	webURL := strings.TrimRight(cfg.URL, "/")
	if webURL == "" {
		webURL = "https://" + host
	}
	switch strings.ToLower(cfg.Type) {
	case TypeGitHub:
		apiURL := strings.TrimRight(cfg.APIURL, "/")
		if apiURL == "" {
			if host == "github.com" {
				apiURL = "https://api.github.com"
			} else {
				apiURL = webURL + "/api/v3"
			}
		}
		return &GitHub{webURL: webURL, apiURL: apiURL, token: cfg.Token, httpClient: httpClient}, nil
	case TypeGitLab:
		apiURL := strings.TrimRight(cfg.APIURL, "/")
		if apiURL == "" {
			apiURL = webURL
		}
		return &GitLab{webURL: webURL, apiURL: apiURL, token: cfg.Token, httpClient: httpClient}, nil
	default:
		return nil, fmt.Errorf("gitservice: unsupported service type %q for host %s", cfg.Type, host)
	}
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gitservice: %s returned %d: %s", e.URL, e.StatusCode, e.Body)
}

// MaxPages bounds how many result pages one listing follows.
const MaxPages = 10

// ErrTruncated is returned alongside the partial result when a listing
// has more than MaxPages pages.
var ErrTruncated = errors.New("gitservice: listing truncated")

// listPages GETs endpoint and every following page reported by next,
// concatenating the decoded arrays.
func listPages[T any](ctx context.Context, client *http.Client, endpoint string, headers map[string]string,
	next func(current string, h http.Header) string) ([]T, error) {
	var all []T
	for page := 0; endpoint != ""; page++ {
		if page == MaxPages {
			return all, fmt.Errorf("%w after %d pages", ErrTruncated, MaxPages)
		}
		var batch []T
		h, err := getJSON(ctx, client, endpoint, headers, &batch)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		endpoint = next(endpoint, h)
	}
	return all, nil
}

// nextLink returns the rel="next" target of an RFC 8288 Link header,
// resolved against current.
func nextLink(current string, h http.Header) string {
	for _, link := range strings.Split(h.Get("Link"), ",") {
		parts := strings.Split(link, ";")
		target := strings.TrimSpace(parts[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range parts[1:] {
			key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok || !strings.EqualFold(key, "rel") {
				continue
			}
			for _, rel := range strings.Fields(strings.Trim(value, `"`)) {
				if rel == "next" {
					return resolveAgainst(current, target[1:len(target)-1])
				}
			}
		}
	}
	return ""
}

func resolveAgainst(current, ref string) string {
	base, err := url.Parse(current)
	if err != nil {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ""
	}
	return u.String()
}

// getJSON performs an authenticated GET and decodes the JSON body. The
// response headers are returned for pagination.
func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, out interface{}) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("gitservice: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gitservice: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("gitservice: read %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, &APIError{StatusCode: resp.StatusCode, URL: url, Body: msg}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return nil, fmt.Errorf("gitservice: decode %s: %w", url, err)
	}
	return resp.Header, nil
}

func hostOf(webURL string) string {
	u, err := url.Parse(webURL)
	if err != nil || u.Host == "" {
		return webURL
	}
	return strings.ToLower(u.Hostname())
}
