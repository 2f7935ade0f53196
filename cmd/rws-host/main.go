package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/lzjever/remote-workspace/internal/apiclient"
	"github.com/lzjever/remote-workspace/internal/hostapi"
	"github.com/lzjever/remote-workspace/internal/observability"
	"github.com/lzjever/remote-workspace/internal/sshconfig"
	"github.com/lzjever/remote-workspace/internal/tunnel"
)

func main() {
	var cfg hostapi.Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, _ := observability.NewLogger(cfg.LogLevel)
	defer log.Sync()

	zap.ReplaceGlobals(log)

	if err := applyDefaults(&cfg); err != nil {
		log.Fatal("config invalid", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sshCfg, err := sshconfig.NewWriter(sshconfig.Config{
		Path:         cfg.SSHConfigPath,
		RemoteHost:   cfg.RemoteHost,
		User:         cfg.SSHUser,
		IdentityFile: cfg.SSHIdentityFile,
	}, log)
	if err != nil {
		log.Fatal("ssh config init failed", zap.Error(err))
	}

	tunnels := tunnel.NewManager(cfg.SSHExecutable, log)
	defer tunnels.Stop()

	transport, err := hostapi.NewTransport(cfg.HTTPProxy)
	if err != nil {
		log.Fatal("proxy config invalid", zap.Error(err))
	}
	if cfg.HTTPProxy != "" {
		log.Info("using http proxy for daemon requests; set ProxyCommand in ssh config to tunnel through it",
			zap.String("proxy", cfg.HTTPProxy))
	}
	daemonClient := apiclient.New(cfg.RemoteURL, &http.Client{Timeout: cfg.RemoteTimeout, Transport: transport})

	host, err := hostapi.New(cfg, hostapi.Deps{
		Workspaces: daemonClient,
		SSHConfig:  sshCfg,
		Tunnels:    tunnels,
		Transport:  transport,
		Log:        log,
	})
	if err != nil {
		log.Fatal("host init failed", zap.Error(err))
	}

	srv := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     host.Router(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info("client host starting",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("remote_url", cfg.RemoteURL),
			zap.String("version", hostapi.Version),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("client host failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down client host")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)

	log.Info("client host stopped")
}

// applyDefaults fills the settings derived from the environment: the ssh
// host defaults to the daemon's host and the config file to ~/.ssh/config.
func applyDefaults(cfg *hostapi.Config) error {
	if cfg.RemoteHost == "" {
		u, err := url.Parse(cfg.RemoteURL)
		if err != nil {
			return fmt.Errorf("parse RWS_REMOTE_URL: %w", err)
		}
		cfg.RemoteHost = u.Hostname()
	}
	if cfg.SSHConfigPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.SSHConfigPath = filepath.Join(home, ".ssh", "config")
	}
	return nil
}
