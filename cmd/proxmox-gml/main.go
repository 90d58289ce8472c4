package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/KimMachineGun/automemlimit"
	_ "go.uber.org/automaxprocs"

	"github.com/siv237siv/Proxmox-GML/internal/agent"
	"github.com/siv237siv/Proxmox-GML/internal/attribution"
	"github.com/siv237siv/Proxmox-GML/internal/config"
	"github.com/siv237siv/Proxmox-GML/internal/errors"
	"github.com/siv237siv/Proxmox-GML/internal/exporter"
	"github.com/siv237siv/Proxmox-GML/internal/lxc"
	"github.com/siv237siv/Proxmox-GML/internal/observability"
	"github.com/siv237siv/Proxmox-GML/internal/store"
	"github.com/siv237siv/Proxmox-GML/internal/telemetry"
	"github.com/siv237siv/Proxmox-GML/internal/web"
)

func main() {
	// 1. Load and validate config.
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// 2. Create context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", "signal", sig)
		cancel()
	}()

	slog.Info("proxmox-gml starting",
		"listen_port", cfg.ListenPort,
		"refresh_interval", cfg.RefreshInterval,
		"util_policy", cfg.UtilPolicy,
	)

	// 3. Create shared infrastructure.
	metrics := observability.NewMetrics()
	errCollector := errors.NewCollector(errors.RealClock{})
	snapshots := store.NewSnapshotStore()

	// 4. Initialize GPU telemetry. A host without a usable driver cannot
	// produce anything useful, so this failure is fatal.
	provider, err := telemetry.NewNVML()
	if err != nil {
		slog.Error("failed to initialize GPU telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := provider.Close(); err != nil {
			slog.Warn("telemetry shutdown error", "error", err)
		}
	}()
	slog.Info("GPU telemetry initialized", "provider", provider.Name())

	// 5. Build the attribution pipeline.
	resolver := lxc.NewResolver(cfg, metrics, errCollector)
	engine := attribution.New(cfg.UtilPolicy, metrics)
	ag := agent.NewAgent(cfg, provider, resolver, engine, snapshots, errCollector, metrics)

	// 6. Expose the snapshot on the agent's metric registry and start
	// the web server.
	metrics.Registry.MustRegister(exporter.NewSnapshotCollector(snapshots))

	webSrv := web.NewServer(cfg.ListenPort, metrics, ag, snapshots, cfg.DebugEndpoints)
	if err := webSrv.Start(); err != nil {
		slog.Error("failed to start web server", "error", err)
		os.Exit(1)
	}
	slog.Info("web server listening", "addr", webSrv.Addr())

	// 7. Run the refresh loop (blocks until context is canceled).
	if err := ag.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("agent exited with error", "error", err)
	}

	// 8. Graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := webSrv.Stop(shutdownCtx); err != nil {
		slog.Error("web server shutdown error", "error", err)
	}

	slog.Info("proxmox-gml stopped")
}
