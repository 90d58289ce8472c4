// Package agent runs the refresh loop: sample telemetry, resolve container
// ownership, aggregate, publish. It is the only writer to the snapshot
// store.
package agent

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/siv237siv/Proxmox-GML/internal/attribution"
	"github.com/siv237siv/Proxmox-GML/internal/config"
	"github.com/siv237siv/Proxmox-GML/internal/errors"
	"github.com/siv237siv/Proxmox-GML/internal/lxc"
	"github.com/siv237siv/Proxmox-GML/internal/observability"
	"github.com/siv237siv/Proxmox-GML/internal/store"
	"github.com/siv237siv/Proxmox-GML/internal/telemetry"
)

// Agent owns the periodic refresh cycle. Cycles never overlap: the loop is
// a single goroutine and ticks that fire during a slow cycle are dropped.
type Agent struct {
	cfg       config.Config
	provider  telemetry.Provider
	resolver  *lxc.Resolver
	engine    *attribution.Engine
	snapshots *store.SnapshotStore
	errs      *errors.Collector
	metrics   *observability.Metrics

	ready atomic.Bool
}

// NewAgent wires the refresh loop together.
func NewAgent(
	cfg config.Config,
	provider telemetry.Provider,
	resolver *lxc.Resolver,
	engine *attribution.Engine,
	snapshots *store.SnapshotStore,
	errs *errors.Collector,
	metrics *observability.Metrics,
) *Agent {
	return &Agent{
		cfg:       cfg,
		provider:  provider,
		resolver:  resolver,
		engine:    engine,
		snapshots: snapshots,
		errs:      errs,
		metrics:   metrics,
	}
}

// IsReady reports whether at least one snapshot has been published.
// Implements web.ReadinessChecker.
func (a *Agent) IsReady() bool {
	return a.ready.Load()
}

// Run executes refresh cycles on the configured interval until the context
// is canceled. The first cycle runs immediately.
func (a *Agent) Run(ctx context.Context) error {
	slog.Info("refresh loop starting",
		"provider", a.provider.Name(),
		"interval", a.cfg.RefreshInterval,
	)

	a.refresh(ctx)

	ticker := time.NewTicker(a.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.refresh(ctx)
			// A tick that fired while the cycle was running is skipped,
			// not queued.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// refresh runs one cycle. A telemetry failure publishes nothing: the
// previous snapshot stays current until the next successful cycle.
func (a *Agent) refresh(ctx context.Context) {
	start := time.Now()

	sample, err := a.provider.Sample(ctx)
	if err != nil {
		slog.Warn("telemetry sampling failed, keeping previous snapshot", "error", err)
		a.errs.Report(errors.AgentError{
			Code:      errors.ErrTelemetryUnavailable,
			Message:   err.Error(),
			Component: "agent",
			Timestamp: time.Now().UnixMilli(),
			Err:       err,
		})
		a.metrics.RefreshTotal.WithLabelValues("telemetry_error").Inc()
		return
	}

	cycle := a.resolver.NewCycle()
	snap := a.engine.Aggregate(ctx, sample.Devices, sample.Processes, cycle)
	snap.ActiveErrors = a.errs.ActiveCodes()

	a.snapshots.Publish(snap)
	a.ready.Store(true)

	elapsed := time.Since(start)
	a.metrics.RefreshDuration.Observe(elapsed.Seconds())
	a.metrics.RefreshTotal.WithLabelValues("success").Inc()
	a.metrics.LastRefreshTime.Set(float64(snap.Timestamp.Unix()))
	a.metrics.SnapshotDevices.Set(float64(len(snap.Devices)))
	a.metrics.SnapshotContainers.Set(float64(len(snap.Containers)))

	slog.Debug("snapshot published",
		"snapshot_id", snap.SnapshotID,
		"devices", len(snap.Devices),
		"containers", len(snap.Containers),
		"elapsed", elapsed.Round(time.Millisecond),
	)
}
