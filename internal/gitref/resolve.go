// Package gitref parses git remote URLs into host/project pairs.
package gitref

import (
	"net/url"
	"strings"

	"github.com/lzjever/remote-workspace/internal/core"
)

// Resolve parses SSH (scp-like or ssh://) and HTTP(S) git remote URLs.
// It returns false for anything it does not understand; callers treat
// that as "no data", never as an error.
func Resolve(raw string) (core.GitURLInfo, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return core.GitURLInfo{}, false
	}

	var host, path string

	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return core.GitURLInfo{}, false
		}
		switch u.Scheme {
		case "ssh", "git", "git+ssh", "http", "https":
		default:
			return core.GitURLInfo{}, false
		}
		host = u.Hostname()
		path = u.Path
	} else {
		// scp-like: [user@]host:path
		colon := strings.Index(trimmed, ":")
		if colon < 0 {
			return core.GitURLInfo{}, false
		}
		host = trimmed[:colon]
		if at := strings.LastIndex(host, "@"); at >= 0 {
			host = host[at+1:]
		}
		path = trimmed[colon+1:]
	}

	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" || strings.ContainsAny(host, "/ ") {
		return core.GitURLInfo{}, false
	}

	project := strings.Trim(path, "/")
	project = strings.TrimSuffix(project, ".git")
	project = strings.Trim(project, "/")

	segments := strings.Split(project, "/")
	if len(segments) < 2 {
		return core.GitURLInfo{}, false
	}
	for _, s := range segments {
		if s == "" || s == "." || s == ".." {
			return core.GitURLInfo{}, false
		}
	}

	return core.GitURLInfo{Host: host, Project: project}, true
}
