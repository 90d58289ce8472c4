package lxc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siv237siv/Proxmox-GML/internal/config"
	"github.com/siv237siv/Proxmox-GML/internal/errors"
	"github.com/siv237siv/Proxmox-GML/internal/observability"
)

const cgroupV2Container = "0::/lxc/105/ns/system.slice/nginx.service\n"

func newTestResolver(t *testing.T) (*Resolver, string, string) {
	t.Helper()
	procRoot := t.TempDir()
	configDir := t.TempDir()

	cfg := config.Config{
		ProcRoot:     procRoot,
		PVEConfigDir: configDir,
		PCTPath:      "pct", // never executed in tests; runPCT is stubbed
		PCTTimeout:   time.Second,
	}
	r := NewResolver(cfg, observability.NewMetrics(), errors.NewCollector(errors.RealClock{}))
	r.runPCT = func(context.Context) (string, error) {
		t.Fatal("pct invoked unexpectedly")
		return "", nil
	}
	return r, procRoot, configDir
}

func writeCgroup(t *testing.T, procRoot string, pid int32, content string) {
	t.Helper()
	dir := filepath.Join(procRoot, fmt.Sprint(pid))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cgroup"), []byte(content), 0o644))
}

func TestResolve_VanishedProcess(t *testing.T) {
	r, _, _ := newTestResolver(t)

	_, outcome := r.NewCycle().Resolve(context.Background(), 9999)
	assert.Equal(t, Vanished, outcome)
}

func TestResolve_HostLevelProcess(t *testing.T) {
	r, procRoot, _ := newTestResolver(t)
	writeCgroup(t, procRoot, 200, "0::/system.slice/pveproxy.service\n")

	_, outcome := r.NewCycle().Resolve(context.Background(), 200)
	assert.Equal(t, HostLevel, outcome)
}

func TestResolve_NameFromPVEConfig(t *testing.T) {
	r, procRoot, configDir := newTestResolver(t)
	writeCgroup(t, procRoot, 100, cgroupV2Container)
	require.NoError(t, os.WriteFile(
		filepath.Join(configDir, "105.conf"),
		[]byte("arch: amd64\nhostname: web-frontend\nmemory: 2048\n"), 0o644))

	id, outcome := r.NewCycle().Resolve(context.Background(), 100)
	require.Equal(t, Attributed, outcome)
	assert.Equal(t, "105", id.ID)
	assert.Equal(t, "web-frontend", id.Name)
	// runPCT stub fails the test if the config-store hit did not short-circuit.
}

func TestResolve_NameFromPCT_SingleInvocationPerCycle(t *testing.T) {
	r, procRoot, _ := newTestResolver(t)
	writeCgroup(t, procRoot, 100, "0::/lxc/200/ns/init.scope\n")
	writeCgroup(t, procRoot, 101, "0::/lxc/200/ns/init.scope\n")

	calls := 0
	r.runPCT = func(context.Context) (string, error) {
		calls++
		return "VMID  Status   Lock  Name\n200   running        training-job\n", nil
	}

	cycle := r.NewCycle()
	first, outcome := cycle.Resolve(context.Background(), 100)
	require.Equal(t, Attributed, outcome)
	assert.Equal(t, "training-job", first.Name)

	second, outcome := cycle.Resolve(context.Background(), 101)
	require.Equal(t, Attributed, outcome)
	assert.Equal(t, "training-job", second.Name)

	assert.Equal(t, 1, calls, "pct must run at most once per cycle")
}

func TestResolve_PCTNotMemoizedAcrossCycles(t *testing.T) {
	r, procRoot, _ := newTestResolver(t)
	writeCgroup(t, procRoot, 100, "0::/lxc/200/ns/init.scope\n")

	calls := 0
	r.runPCT = func(context.Context) (string, error) {
		calls++
		return "200 running renamed-job\n", nil
	}

	_, _ = r.NewCycle().Resolve(context.Background(), 100)
	id, _ := r.NewCycle().Resolve(context.Background(), 100)

	assert.Equal(t, 2, calls, "name bindings are not stable across cycles")
	assert.Equal(t, "renamed-job", id.Name)
}

func TestResolve_ServiceNameFallback(t *testing.T) {
	r, procRoot, _ := newTestResolver(t)
	writeCgroup(t, procRoot, 100, cgroupV2Container)
	r.runPCT = func(context.Context) (string, error) { return "", nil }

	id, outcome := r.NewCycle().Resolve(context.Background(), 100)
	require.Equal(t, Attributed, outcome)
	assert.Equal(t, "nginx", id.Name)
}

func TestResolve_IDFallback(t *testing.T) {
	r, procRoot, _ := newTestResolver(t)
	writeCgroup(t, procRoot, 100, "0::/lxc/105/ns/init.scope\n")
	r.runPCT = func(context.Context) (string, error) { return "", fmt.Errorf("pct: not connected") }

	id, outcome := r.NewCycle().Resolve(context.Background(), 100)
	require.Equal(t, Attributed, outcome)
	assert.Equal(t, "105", id.ID)
	assert.Equal(t, "105", id.Name)
}

func TestResolve_PCTErrorIsReportedNotFatal(t *testing.T) {
	procRoot := t.TempDir()
	cfg := config.Config{
		ProcRoot:     procRoot,
		PVEConfigDir: t.TempDir(),
		PCTPath:      "pct",
		PCTTimeout:   time.Second,
	}
	errs := errors.NewCollector(errors.RealClock{})
	r := NewResolver(cfg, observability.NewMetrics(), errs)
	r.runPCT = func(context.Context) (string, error) { return "", fmt.Errorf("timeout") }

	writeCgroup(t, procRoot, 100, "0::/lxc/300/ns/init.scope\n")
	_, outcome := r.NewCycle().Resolve(context.Background(), 100)
	require.Equal(t, Attributed, outcome)

	codes := errs.ActiveCodes()
	require.Len(t, codes, 1)
	assert.Equal(t, string(errors.ErrNameLookupFailed), codes[0])
}

func TestParseCgroup(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantID      string
		wantService string
	}{
		{
			name:    "cgroup v2 lxc",
			content: "0::/lxc/105/ns/init.scope\n",
			wantID:  "105",
		},
		{
			name: "cgroup v1 multiline",
			content: "12:pids:/lxc/42/ns\n" +
				"11:memory:/lxc/42/ns/system.slice/jellyfin.service\n" +
				"1:name=systemd:/lxc/42/ns\n",
			wantID:      "42",
			wantService: "jellyfin",
		},
		{
			name:    "host process",
			content: "0::/system.slice/pvedaemon.service\n",
			wantID:  "", wantService: "pvedaemon",
		},
		{
			name:    "lxc-like but non-numeric segment",
			content: "0::/lxc/monitoring-helper/ns\n",
			wantID:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, service := parseCgroup(tt.content)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantService, service)
		})
	}
}

func TestParsePCTList(t *testing.T) {
	out := "VMID  Status   Lock  Name\n" +
		"105   running        ollama\n" +
		"106   stopped  backup  db-replica\n" +
		"\n"

	names := parsePCTList(out)
	assert.Equal(t, map[string]string{"105": "ollama", "106": "db-replica"}, names)
}

func TestFindPCT_ConfiguredPathWins(t *testing.T) {
	assert.Equal(t, "/opt/bin/pct", findPCT("/opt/bin/pct"))
}
