package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/lzjever/remote-workspace/internal/api"
	"github.com/lzjever/remote-workspace/internal/compose"
	"github.com/lzjever/remote-workspace/internal/daemon"
	"github.com/lzjever/remote-workspace/internal/gitservice"
	"github.com/lzjever/remote-workspace/internal/healthrpc"
	"github.com/lzjever/remote-workspace/internal/observability"
	"github.com/lzjever/remote-workspace/internal/portalloc"
	"github.com/lzjever/remote-workspace/internal/pullrequest"
	"github.com/lzjever/remote-workspace/internal/store"
	"github.com/lzjever/remote-workspace/internal/workspacefiles"
)

func main() {
	var cfg daemon.Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, _ := observability.NewLogger(cfg.LogLevel)
	defer log.Sync()

	zap.ReplaceGlobals(log)

	reg := prometheus.DefaultRegisterer
	observability.RegisterAll(reg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry, closeRegistry, err := openRegistry(ctx, cfg)
	if err != nil {
		log.Fatal("registry open failed", zap.Error(err))
	}
	defer closeRegistry()

	files, err := workspacefiles.New(workspacefiles.Config{
		DataDir:        cfg.DataDir,
		ProjectName:    cfg.ProjectName,
		Image:          cfg.WorkspaceImage,
		SSHHostKeysDir: cfg.SSHHostKeysDir,
		Users:          cfg.Users,
		IdentityFile:   cfg.IdentityFile,
		SSHVolume:      cfg.SSHVolume,
	}, log)
	if err != nil {
		log.Fatal("workspace files init failed", zap.Error(err))
	}

	engine, err := compose.NewEngineClient()
	if err != nil {
		log.Fatal("docker client init failed", zap.Error(err))
	}
	driver := compose.NewDriver(cfg.DockerExecutable, engine, log)
	defer driver.Close()

	services, err := gitservice.Build(cfg.GitServices, &http.Client{})
	if err != nil {
		log.Fatal("git services config invalid", zap.Error(err))
	}
	prs := pullrequest.NewAggregator(services, pullrequest.Config{
		Timeout: cfg.GitServiceTimeout,
		RPS:     cfg.GitServiceRPS,
	}, log)

	healthSrv := healthrpc.NewServer(log)

	d, err := daemon.New(cfg, daemon.Deps{
		Registry:     registry,
		Files:        files,
		Driver:       driver,
		Ports:        portalloc.New(),
		PullRequests: prs,
		OnPass:       healthSrv.Report,
		Log:          log,
	})
	if err != nil {
		log.Fatal("daemon init failed", zap.Error(err))
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		d.Run(ctx)
	}()

	// Main API server
	apiHandler := api.NewAPI(d, log)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      apiHandler.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LogTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Metrics server
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mux,
	}

	// gRPC health server
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal("grpc listen failed", zap.Error(err))
	}
	grpcSrv := grpc.NewServer()
	healthSrv.Register(grpcSrv)

	go func() {
		log.Info("metrics server starting", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		log.Info("gRPC server starting", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			log.Fatal("grpc serve failed", zap.Error(err))
		}
	}()

	go func() {
		log.Info("API server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("API server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down daemon")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	healthSrv.Shutdown()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()

	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Warn("reconcile worker did not stop in time")
	}

	log.Info("daemon stopped")
}

// openRegistry returns the Postgres registry when a DSN is configured and
// the file registry under the data directory otherwise.
func openRegistry(ctx context.Context, cfg daemon.Config) (store.Registry, func(), error) {
	if cfg.DBDSN == "" {
		r, err := store.NewFileRegistry(filepath.Join(cfg.DataDir, "registry.json"))
		return r, func() {}, err
	}

	pool, err := store.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		return nil, nil, err
	}
	r := store.NewPGRegistry(pool)
	if err := r.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return r, pool.Close, nil
}
