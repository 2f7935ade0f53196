// Package healthrpc exposes reconciliation health over the standard gRPC
// health checking protocol.
package healthrpc

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lzjever/remote-workspace/internal/core"
)

// ReconcilerService is the health service name of the reconciliation
// queue. The empty name reports process liveness.
const ReconcilerService = "rws.daemon.Reconciler"

type Server struct {
	health *health.Server
	log    *zap.Logger
	last   healthpb.HealthCheckResponse_ServingStatus
}

func NewServer(log *zap.Logger) *Server {
	s := &Server{health: health.NewServer(), log: log}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	// Unknown until the first pass completes.
	s.health.SetServingStatus(ReconcilerService, healthpb.HealthCheckResponse_NOT_SERVING)
	s.last = healthpb.HealthCheckResponse_NOT_SERVING
	return s
}

func (s *Server) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Report publishes the outcome of a reconciliation pass. It is meant to
// be passed as the daemon's pass observer, which runs on the single
// reconcile worker.
func (s *Server) Report(h core.ReconcileHealth) {
	status := healthpb.HealthCheckResponse_SERVING
	if !h.Healthy() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	if status != s.last {
		s.log.Info("reconciler health changed",
			zap.String("status", status.String()),
			zap.Uint64("seq", h.LastSeq),
			zap.String("last_error", h.LastError),
		)
		s.last = status
	}
	s.health.SetServingStatus(ReconcilerService, status)
}

// Shutdown marks every service NOT_SERVING so that clients stop routing
// before the listener closes.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}
