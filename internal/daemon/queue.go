package daemon

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lzjever/remote-workspace/internal/observability"
)

type passRequest struct {
	// done receives the pass outcome when set.
	done chan error
}

// Run processes reconciliation passes one at a time until ctx ends. An
// initial pass brings the runtime in line with the persisted registry.
func (d *Daemon) Run(ctx context.Context) {
	d.log.Info("reconciler started", zap.Int("queue_size", cap(d.queue)))
	d.Trigger()
	for {
		select {
		case <-ctx.Done():
			d.log.Info("reconciler stopping")
			return
		case req := <-d.queue:
			observability.ReconcileQueueDepth.Set(float64(len(d.queue)))
			err := d.pass(ctx)
			if req.done != nil {
				req.done <- err
			}
		}
	}
}

// Trigger queues a pass without blocking. When the queue is full the
// trigger is absorbed: a queued pass reads the registry when it starts
// and therefore already covers the caller's mutation.
func (d *Daemon) Trigger() {
	select {
	case d.queue <- passRequest{}:
		observability.ReconcileQueueDepth.Set(float64(len(d.queue)))
	default:
		observability.ReconcileCoalescedTotal.Inc()
	}
}

// Flush queues a pass and waits for its outcome. Passes queued earlier
// run first.
func (d *Daemon) Flush(ctx context.Context) error {
	req := passRequest{done: make(chan error, 1)}
	select {
	case d.queue <- req:
		observability.ReconcileQueueDepth.Set(float64(len(d.queue)))
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Daemon) pass(ctx context.Context) error {
	start := d.now()
	d.healthMu.Lock()
	d.health.LastSeq++
	seq := d.health.LastSeq
	d.health.LastStartedAt = start
	d.healthMu.Unlock()

	log := d.log.With(zap.Uint64("seq", seq))
	log.Info("reconcile pass started")

	err := d.reconcile(ctx, log)
	observability.ReconcileDuration.Observe(time.Since(start).Seconds())

	d.healthMu.Lock()
	d.health.LastFinishedAt = d.now()
	if err != nil {
		d.health.Failures++
		d.health.ConsecutiveFailures++
		d.health.LastError = err.Error()
	} else {
		d.health.Passes++
		d.health.ConsecutiveFailures = 0
		d.health.LastError = ""
	}
	snapshot := d.health
	d.healthMu.Unlock()

	if err != nil {
		observability.ReconcilePassTotal.WithLabelValues("failed").Inc()
		log.Error("reconcile pass failed", zap.Error(err), zap.Int("consecutive_failures", snapshot.ConsecutiveFailures))
	} else {
		observability.ReconcilePassTotal.WithLabelValues("succeeded").Inc()
		log.Info("reconcile pass succeeded")
	}
	if d.onPass != nil {
		d.onPass(snapshot)
	}
	return err
}

func (d *Daemon) reconcile(ctx context.Context, log *zap.Logger) error {
	workspaces, err := d.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("list registry: %w", err)
	}
	observability.WorkspacesRegistered.Set(float64(len(workspaces)))

	if err := d.files.Update(workspaces); err != nil {
		return fmt.Errorf("update files: %w", err)
	}

	upCtx := ctx
	if d.cfg.ComposeTimeout > 0 {
		var cancel context.CancelFunc
		upCtx, cancel = context.WithTimeout(ctx, d.cfg.ComposeTimeout)
		defer cancel()
	}
	if err := d.driver.Up(upCtx, d.files.ProjectName(), d.files.Dir()); err != nil {
		return fmt.Errorf("compose up: %w", err)
	}

	if err := d.files.Prune(workspaces); err != nil {
		return fmt.Errorf("prune files: %w", err)
	}
	log.Debug("reconcile pass applied", zap.Int("workspaces", len(workspaces)))
	return nil
}
