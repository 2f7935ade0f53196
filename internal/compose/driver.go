// Package compose drives the container runtime: `docker compose up` for
// reconciliation and the Docker Engine API for log retrieval.
package compose

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"github.com/lzjever/remote-workspace/internal/observability"
)

var ErrContainerNotFound = errors.New("container not found")

// EngineAPI is the subset of the Docker client used for logs.
type EngineAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	Close() error
}

// Runner executes the compose CLI. The default runs the real binary.
type Runner func(ctx context.Context, dir, name string, args ...string) (stdout, stderr []byte, err error)

type Driver struct {
	executable string
	engine     EngineAPI
	run        Runner
	log        *zap.Logger
}

// NewEngineClient connects to the daemon configured by the DOCKER_*
// environment variables.
func NewEngineClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return cli, nil
}

func NewDriver(executable string, engine EngineAPI, log *zap.Logger) *Driver {
	if executable == "" {
		executable = "docker"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{executable: executable, engine: engine, run: execRunner, log: log}
}

// WithRunner replaces the subprocess runner.
func (d *Driver) WithRunner(r Runner) *Driver {
	d.run = r
	return d
}

// Up brings the declared set up and removes orphans. It is idempotent.
func (d *Driver) Up(ctx context.Context, project, dir string) error {
	start := time.Now()
	d.log.Info("compose up: starting", zap.String("project", project), zap.String("dir", dir))

	_, stderr, err := d.run(ctx, dir, d.executable,
		"compose", "--project-name", project, "up", "--detach", "--remove-orphans")
	duration := time.Since(start).Seconds()
	observability.ComposeUpDuration.Observe(duration)

	if err != nil {
		observability.ComposeFailTotal.WithLabelValues("up").Inc()
		return fmt.Errorf("compose up failed: %w, stderr: %s", err, strings.TrimSpace(string(stderr)))
	}

	d.log.Info("compose up: completed", zap.Float64("duration_s", duration))
	return nil
}

// Logs returns the container's stdout and stderr with timestamps.
func (d *Driver) Logs(ctx context.Context, containerName string) (stdout, stderr string, err error) {
	if d.engine == nil {
		return "", "", fmt.Errorf("docker engine client not configured")
	}

	info, err := d.engine.ContainerInspect(ctx, containerName)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", "", fmt.Errorf("%w: %s", ErrContainerNotFound, containerName)
		}
		observability.ComposeFailTotal.WithLabelValues("logs").Inc()
		return "", "", fmt.Errorf("inspect %s: %w", containerName, err)
	}

	reader, err := d.engine.ContainerLogs(ctx, containerName, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
	})
	if err != nil {
		observability.ComposeFailTotal.WithLabelValues("logs").Inc()
		return "", "", fmt.Errorf("logs %s: %w", containerName, err)
	}
	defer reader.Close()

	var outBuf, errBuf bytes.Buffer
	if info.Config != nil && info.Config.Tty {
		// TTY containers have a single raw stream.
		_, err = io.Copy(&outBuf, reader)
	} else {
		_, err = stdcopy.StdCopy(&outBuf, &errBuf, reader)
	}
	if err != nil {
		observability.ComposeFailTotal.WithLabelValues("logs").Inc()
		return "", "", fmt.Errorf("read logs %s: %w", containerName, err)
	}
	return outBuf.String(), errBuf.String(), nil
}

func (d *Driver) Close() error {
	if d.engine == nil {
		return nil
	}
	return d.engine.Close()
}

func execRunner(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
