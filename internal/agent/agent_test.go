package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siv237siv/Proxmox-GML/internal/attribution"
	"github.com/siv237siv/Proxmox-GML/internal/config"
	"github.com/siv237siv/Proxmox-GML/internal/errors"
	"github.com/siv237siv/Proxmox-GML/internal/lxc"
	"github.com/siv237siv/Proxmox-GML/internal/observability"
	"github.com/siv237siv/Proxmox-GML/internal/store"
	"github.com/siv237siv/Proxmox-GML/internal/telemetry"
	"github.com/siv237siv/Proxmox-GML/pkg/model"
)

// fakeProvider returns a scripted sequence of samples and errors.
type fakeProvider struct {
	samples []telemetry.Sample
	errs    []error
	calls   int
}

func (f *fakeProvider) Sample(context.Context) (telemetry.Sample, error) {
	i := f.calls
	f.calls++
	if i >= len(f.samples) {
		i = len(f.samples) - 1
	}
	return f.samples[i], f.errs[i]
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) Close() error { return nil }

// newTestAgent builds an agent over a fake proc filesystem. Container 105
// has a config-store hostname, so name resolution never reaches pct.
func newTestAgent(t *testing.T, provider telemetry.Provider) (*Agent, *store.SnapshotStore, *errors.Collector) {
	t.Helper()

	procRoot := t.TempDir()
	configDir := t.TempDir()

	for _, pid := range []int32{100, 101} {
		dir := filepath.Join(procRoot, fmt.Sprint(pid))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "cgroup"),
			[]byte("0::/lxc/105/ns/init.scope\n"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "105.conf"),
		[]byte("hostname: trainer\n"), 0o644))

	cfg := config.Config{
		ListenPort:      8001,
		RefreshInterval: 5 * time.Second,
		ProcRoot:        procRoot,
		PVEConfigDir:    configDir,
		PCTTimeout:      time.Second,
		UtilPolicy:      config.UtilPolicyCappedSum,
	}

	metrics := observability.NewMetrics()
	errs := errors.NewCollector(errors.RealClock{})
	resolver := lxc.NewResolver(cfg, metrics, errs)
	engine := attribution.New(cfg.UtilPolicy, metrics)
	snapshots := store.NewSnapshotStore()

	return NewAgent(cfg, provider, resolver, engine, snapshots, errs, metrics), snapshots, errs
}

func sampleWithProcs() telemetry.Sample {
	return telemetry.Sample{
		Devices: []model.GPUDevice{{Index: 0, Name: "NVIDIA RTX A4000"}},
		Processes: []model.GPUProcess{
			{PID: 100, GPUIndex: 0, GPUMemoryBytes: 2048},
			{PID: 101, GPUIndex: 0, GPUMemoryBytes: 1024},
		},
	}
}

func TestRefresh_PublishesSnapshot(t *testing.T) {
	provider := &fakeProvider{
		samples: []telemetry.Sample{sampleWithProcs()},
		errs:    []error{nil},
	}
	ag, snapshots, _ := newTestAgent(t, provider)

	require.False(t, ag.IsReady())
	ag.refresh(context.Background())
	require.True(t, ag.IsReady())

	snap := snapshots.Current()
	require.NotNil(t, snap)
	require.Len(t, snap.Containers, 1)
	assert.Equal(t, "105", snap.Containers[0].ID)
	assert.Equal(t, "trainer", snap.Containers[0].Name)
	assert.Len(t, snap.Containers[0].Processes, 2)
}

func TestRefresh_TelemetryFailureKeepsPreviousSnapshot(t *testing.T) {
	provider := &fakeProvider{
		samples: []telemetry.Sample{sampleWithProcs(), {}},
		errs:    []error{nil, fmt.Errorf("%w: driver reset", telemetry.ErrUnavailable)},
	}
	ag, snapshots, errs := newTestAgent(t, provider)

	ag.refresh(context.Background())
	first := snapshots.Current()
	require.NotNil(t, first)

	ag.refresh(context.Background())
	second := snapshots.Current()

	require.Same(t, first, second, "failed cycle must not publish")
	assert.Equal(t, first.Timestamp, second.Timestamp)
	assert.Contains(t, errs.ActiveCodes(), string(errors.ErrTelemetryUnavailable))
}

func TestRefresh_EmptySampleIsValid(t *testing.T) {
	// No GPUs is a valid result, distinct from a transient failure: the
	// cycle publishes an empty snapshot.
	provider := &fakeProvider{
		samples: []telemetry.Sample{{}},
		errs:    []error{nil},
	}
	ag, snapshots, _ := newTestAgent(t, provider)

	ag.refresh(context.Background())

	snap := snapshots.Current()
	require.NotNil(t, snap)
	assert.Empty(t, snap.Devices)
	assert.Empty(t, snap.Containers)
	assert.Nil(t, snap.Unattributed)
}

func TestRefresh_ActiveErrorCodesCarriedOnNextSnapshot(t *testing.T) {
	provider := &fakeProvider{
		samples: []telemetry.Sample{{}, sampleWithProcs()},
		errs:    []error{telemetry.ErrUnavailable, nil},
	}
	ag, snapshots, _ := newTestAgent(t, provider)

	ag.refresh(context.Background())
	ag.refresh(context.Background())

	snap := snapshots.Current()
	require.NotNil(t, snap)
	assert.Contains(t, snap.ActiveErrors, string(errors.ErrTelemetryUnavailable))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	provider := &fakeProvider{
		samples: []telemetry.Sample{{}},
		errs:    []error{nil},
	}
	ag, _, _ := newTestAgent(t, provider)
	ag.cfg.RefreshInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ag.Run(ctx) }()

	require.Eventually(t, ag.IsReady, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}
