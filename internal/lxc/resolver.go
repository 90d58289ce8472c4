// Package lxc resolves host PIDs to the LXC containers that own them by
// inspecting control-group membership, and resolves container display names
// through the Proxmox config store and the pct command.
package lxc

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/siv237siv/Proxmox-GML/internal/config"
	"github.com/siv237siv/Proxmox-GML/internal/errors"
	"github.com/siv237siv/Proxmox-GML/internal/observability"
	"github.com/siv237siv/Proxmox-GML/pkg/model"
)

// Outcome classifies a PID resolution attempt.
type Outcome int

const (
	// Attributed means the process belongs to an LXC container.
	Attributed Outcome = iota
	// HostLevel means the cgroup record carries no LXC segment; the process
	// goes to the unattributed bucket.
	HostLevel
	// Vanished means the cgroup record could not be read (the process exited
	// between sampling and inspection); the process is dropped entirely.
	Vanished
)

var (
	lxcSegmentRe = regexp.MustCompile(`(?:^|/)lxc/([0-9]+)(?:/|$)`)
	serviceRe    = regexp.MustCompile(`system\.slice/([^/]+)\.service`)
)

// Resolver holds the host paths and command used for container resolution.
// It carries no per-cycle state; call NewCycle at the start of each refresh.
type Resolver struct {
	procRoot   string
	configDir  string
	pctPath    string
	pctTimeout time.Duration

	metrics *observability.Metrics
	errs    *errors.Collector

	// runPCT is swapped out in tests.
	runPCT func(ctx context.Context) (string, error)
}

// NewResolver creates a Resolver from configuration. The pct binary is
// located once: explicit path, then PATH lookup, then the stock Proxmox
// location. An absent binary disables that fallback step, nothing more.
func NewResolver(cfg config.Config, metrics *observability.Metrics, errs *errors.Collector) *Resolver {
	r := &Resolver{
		procRoot:   cfg.ProcRoot,
		configDir:  cfg.PVEConfigDir,
		pctPath:    findPCT(cfg.PCTPath),
		pctTimeout: cfg.PCTTimeout,
		metrics:    metrics,
		errs:       errs,
	}
	r.runPCT = r.execPCTList
	return r
}

func findPCT(configured string) string {
	if configured != "" {
		return configured
	}
	if p, err := exec.LookPath("pct"); err == nil {
		return p
	}
	if _, err := os.Stat("/usr/sbin/pct"); err == nil {
		return "/usr/sbin/pct"
	}
	return ""
}

// Cycle is the cycle-scoped resolution state: a name cache keyed by
// container ID and the memoized pct listing. It must only be used by the
// single refresh task and discarded when the cycle ends, because container
// identity-to-name bindings are not stable across cycles.
type Cycle struct {
	r *Resolver

	names    map[string]string
	pctNames map[string]string
	pctRan   bool
}

// NewCycle returns fresh resolution state for one refresh cycle.
func (r *Resolver) NewCycle() *Cycle {
	return &Cycle{r: r, names: make(map[string]string)}
}

// Resolve maps a host PID to its owning container. Any I/O error at a
// lookup step means "no resolution at this step", never a failed cycle.
func (c *Cycle) Resolve(ctx context.Context, pid int32) (model.ContainerIdentity, Outcome) {
	cgroup, err := os.ReadFile(filepath.Join(c.r.procRoot, fmt.Sprint(pid), "cgroup"))
	if err != nil {
		return model.ContainerIdentity{}, Vanished
	}

	id, service := parseCgroup(string(cgroup))
	if id == "" {
		return model.ContainerIdentity{}, HostLevel
	}

	return model.ContainerIdentity{ID: id, Name: c.lookupName(ctx, id, service)}, Attributed
}

// parseCgroup extracts the LXC container ID and, when present, the systemd
// service name from a /proc/<pid>/cgroup record.
func parseCgroup(content string) (id, service string) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if id == "" {
			if m := lxcSegmentRe.FindStringSubmatch(line); len(m) == 2 {
				id = m[1]
			}
		}
		if service == "" {
			if m := serviceRe.FindStringSubmatch(line); len(m) == 2 {
				service = m[1]
			}
		}
		if id != "" && service != "" {
			break
		}
	}
	return id, service
}

// lookupName resolves a display name for a container ID using the fallback
// chain: PVE config store, pct listing, systemd service segment, the ID
// itself. Results are cached for the remainder of the cycle.
func (c *Cycle) lookupName(ctx context.Context, id, service string) string {
	if name, ok := c.names[id]; ok {
		return name
	}

	name, source := c.resolveName(ctx, id, service)
	c.names[id] = name
	c.r.metrics.NameLookupTotal.WithLabelValues(source).Inc()
	return name
}

func (c *Cycle) resolveName(ctx context.Context, id, service string) (name, source string) {
	if name := c.r.configHostname(id); name != "" {
		return name, "pve_config"
	}
	if name := c.pctName(ctx, id); name != "" {
		return name, "pct"
	}
	if service != "" {
		return service, "service"
	}
	return id, "id"
}

// configHostname reads the hostname key from /etc/pve/lxc/<id>.conf.
// Absent file or key is not an error.
func (r *Resolver) configHostname(id string) string {
	f, err := os.Open(filepath.Join(r.configDir, id+".conf"))
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if rest, ok := strings.CutPrefix(line, "hostname:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// pctName resolves a name from `pct list`. The listing is fetched at most
// once per cycle, so many processes from many containers cost one
// invocation.
func (c *Cycle) pctName(ctx context.Context, id string) string {
	if !c.pctRan {
		c.pctRan = true
		c.pctNames = c.fetchPCTList(ctx)
	}
	return c.pctNames[id]
}

func (c *Cycle) fetchPCTList(ctx context.Context) map[string]string {
	if c.r.pctPath == "" {
		return nil
	}

	c.r.metrics.PCTInvocationTotal.Inc()
	out, err := c.r.runPCT(ctx)
	if err != nil {
		c.r.errs.Report(errors.AgentError{
			Code:      errors.ErrNameLookupFailed,
			Message:   fmt.Sprintf("pct list failed: %v", err),
			Component: "lxc",
			Timestamp: time.Now().UnixMilli(),
			Err:       err,
		})
		return nil
	}
	return parsePCTList(out)
}

func (r *Resolver) execPCTList(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.pctTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, r.pctPath, "list").Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// parsePCTList parses pct's tabular output:
//
//	VMID  Status   Lock  Name
//	105   running        training-job
//
// Name is the last column; the Lock column is usually empty.
func parsePCTList(out string) map[string]string {
	names := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] == "VMID" {
			continue
		}
		names[fields[0]] = fields[len(fields)-1]
	}
	return names
}
