// Package pullrequest attaches pull/merge request links to workspace
// projects, querying each distinct (host, project) ref at most once per
// call.
package pullrequest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/lzjever/remote-workspace/internal/core"
	"github.com/lzjever/remote-workspace/internal/gitref"
	"github.com/lzjever/remote-workspace/internal/gitservice"
	"github.com/lzjever/remote-workspace/internal/observability"
)

type Config struct {
	// Timeout bounds every single service request.
	Timeout time.Duration
	// RPS is the per-host request budget. Zero means unlimited.
	RPS float64
}

type Aggregator struct {
	services map[string]gitservice.Service
	limiters map[string]*rate.Limiter
	timeout  time.Duration
	log      *zap.Logger
}

func NewAggregator(services map[string]gitservice.Service, cfg Config, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	limiters := make(map[string]*rate.Limiter, len(services))
	for host := range services {
		limit := rate.Inf
		if cfg.RPS > 0 {
			limit = rate.Limit(cfg.RPS)
		}
		limiters[host] = rate.NewLimiter(limit, 1)
	}
	return &Aggregator{
		services: services,
		limiters: limiters,
		timeout:  cfg.Timeout,
		log:      log,
	}
}

// Resolve returns copies of statuses with PullMergeRequest set on every
// project that has a differing branch pair and a configured service.
// Ordering of workspaces and projects is preserved. A ref whose lookup
// failed or was truncated gets no link at all rather than a create link
// for a request that may exist; Resolve itself never fails.
func (a *Aggregator) Resolve(ctx context.Context, statuses []core.WorkspaceStatus) []core.WorkspaceStatus {
	byHost := a.refsByHost(statuses)
	found, failed := a.fetch(ctx, byHost)

	out := make([]core.WorkspaceStatus, len(statuses))
	for i, st := range statuses {
		st.Projects = append([]core.RawWorkspaceProject(nil), st.Projects...)
		for j := range st.Projects {
			a.attach(&st.Projects[j], found, failed)
		}
		out[i] = st
	}
	return out
}

// refsByHost derives the deduplicated refs, grouped by host, keeping
// first-seen order. Unparseable URLs and hosts without a service are
// dropped.
func (a *Aggregator) refsByHost(statuses []core.WorkspaceStatus) map[string][]string {
	seen := make(map[core.GitURLInfo]struct{})
	byHost := make(map[string][]string)
	for _, st := range statuses {
		for _, p := range st.Projects {
			ref, ok := gitref.Resolve(p.Git.URL)
			if !ok {
				continue
			}
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}
			if _, configured := a.services[ref.Host]; !configured {
				continue
			}
			byHost[ref.Host] = append(byHost[ref.Host], ref.Project)
		}
	}
	return byHost
}

// projectRef identifies one project on one host.
type projectRef struct {
	host    string
	project string
}

type hostResult struct {
	infos  []core.PullMergeRequestInfo
	failed []string
}

// fetch queries hosts concurrently and projects of one host sequentially.
// failed holds the refs whose listing is missing or incomplete.
func (a *Aggregator) fetch(ctx context.Context, byHost map[string][]string) (map[core.PullMergeRequestKey]core.PullMergeRequestInfo, map[projectRef]struct{}) {
	results := make([]hostResult, 0, len(byHost))
	hosts := make([]string, 0, len(byHost))
	for host := range byHost {
		hosts = append(hosts, host)
		results = append(results, hostResult{})
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, host := range hosts {
		g.Go(func() error {
			results[i] = a.fetchHost(gctx, host, byHost[host])
			return nil
		})
	}
	_ = g.Wait()

	found := make(map[core.PullMergeRequestKey]core.PullMergeRequestInfo)
	failed := make(map[projectRef]struct{})
	for i, res := range results {
		for _, info := range res.infos {
			key := info.Key()
			if _, exists := found[key]; !exists {
				found[key] = info
			}
		}
		for _, project := range res.failed {
			failed[projectRef{host: hosts[i], project: project}] = struct{}{}
		}
	}
	return found, failed
}

func (a *Aggregator) fetchHost(ctx context.Context, host string, projects []string) hostResult {
	svc := a.services[host]
	limiter := a.limiters[host]
	log := a.log.With(zap.String("host", host))

	var out hostResult
	for _, project := range projects {
		if err := limiter.Wait(ctx); err != nil {
			log.Warn("git service query skipped", zap.String("project", project), zap.Error(err))
			observability.GitServiceRequestsTotal.WithLabelValues(host, "skipped").Inc()
			out.failed = append(out.failed, project)
			continue
		}

		reqCtx, cancel := ctx, context.CancelFunc(func() {})
		if a.timeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, a.timeout)
		}
		start := time.Now()
		infos, err := svc.ListPullMergeRequests(reqCtx, project)
		cancel()
		observability.GitServiceRequestDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())

		switch {
		case errors.Is(err, gitservice.ErrTruncated):
			log.Warn("git service listing truncated", zap.String("project", project), zap.Error(err))
			observability.GitServiceRequestsTotal.WithLabelValues(host, "truncated").Inc()
			out.failed = append(out.failed, project)
		case err != nil:
			log.Warn("git service query failed", zap.String("project", project), zap.Error(err))
			observability.GitServiceRequestsTotal.WithLabelValues(host, "error").Inc()
			out.failed = append(out.failed, project)
			continue
		default:
			observability.GitServiceRequestsTotal.WithLabelValues(host, "ok").Inc()
		}

		for _, info := range infos {
			// Key on the ref, not on what the service echoes back.
			info.Host = host
			info.Project = project
			out.infos = append(out.infos, info)
		}
	}
	return out
}

func (a *Aggregator) attach(p *core.RawWorkspaceProject, found map[core.PullMergeRequestKey]core.PullMergeRequestInfo, failed map[projectRef]struct{}) {
	branches := p.Git.Branches()
	if branches.SameBranch() {
		return
	}
	ref, ok := gitref.Resolve(p.Git.URL)
	if !ok {
		return
	}
	svc, configured := a.services[ref.Host]
	if !configured {
		return
	}

	git := p.Git
	key := core.PullMergeRequestKey{
		Host:         ref.Host,
		Project:      ref.Project,
		SourceBranch: branches.Source,
		TargetBranch: branches.Target,
	}
	info, ok := found[key]
	switch {
	case ok:
		git.PullMergeRequest = &core.PullMergeRequestLink{
			Text:  "#" + info.ID,
			URL:   info.URL,
			State: info.State,
		}
	case isFailed(failed, ref.Host, ref.Project):
		return
	default:
		git.PullMergeRequest = &core.PullMergeRequestLink{
			Text: svc.CreateText(),
			URL:  svc.NewRequestURL(ref.Project, branches.Source, branches.Target),
		}
	}
	p.Git = git
}

func isFailed(failed map[projectRef]struct{}, host, project string) bool {
	_, ok := failed[projectRef{host: host, project: project}]
	return ok
}
