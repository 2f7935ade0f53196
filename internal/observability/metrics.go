package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// http metrics (daemon and host)
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rws_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"route", "method", "code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rws_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	ActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rws_active_requests",
		Help: "Current in-flight requests",
	})

	// reconciliation
	ReconcilePassTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rws_reconcile_pass_total",
		Help: "Reconciliation passes by outcome",
	}, []string{"status"})

	ReconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rws_reconcile_duration_seconds",
		Help:    "Reconciliation pass duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	ReconcileQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rws_reconcile_queue_depth",
		Help: "Queued reconciliation passes",
	})

	ReconcileCoalescedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rws_reconcile_coalesced_total",
		Help: "Triggers absorbed by an already queued pass",
	})

	WorkspacesRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rws_workspaces_registered",
		Help: "Workspaces in the registry at the last pass",
	})

	PortAllocRetryTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rws_port_alloc_retry_total",
		Help: "Ports discarded because a workspace already holds them",
	})

	// container driver
	ComposeUpDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rws_compose_up_duration_seconds",
		Help:    "docker compose up duration",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	ComposeFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rws_compose_fail_total",
		Help: "Container driver failures",
	}, []string{"op"})

	// git hosting services
	GitServiceRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rws_git_service_requests_total",
		Help: "Pull/merge request list queries",
	}, []string{"host", "status"})

	GitServiceRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rws_git_service_request_duration_seconds",
		Help:    "Pull/merge request list query latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"host"})

	// tunnel (host)
	TunnelSwitchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rws_tunnel_switch_total",
		Help: "Tunnel switch attempts",
	}, []string{"result"})

	TunnelActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rws_tunnel_active",
		Help: "1 while a tunnel process is recorded as active",
	})

	SSHConfigWritesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rws_ssh_config_writes_total",
		Help: "Managed ssh config block rewrites",
	})
)

func RegisterAll(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, ActiveRequests,
		ReconcilePassTotal, ReconcileDuration, ReconcileQueueDepth, ReconcileCoalescedTotal,
		WorkspacesRegistered, PortAllocRetryTotal,
		ComposeUpDuration, ComposeFailTotal,
		GitServiceRequestsTotal, GitServiceRequestDuration,
		TunnelSwitchTotal, TunnelActive, SSHConfigWritesTotal,
	)
}
