// Package attribution joins GPU process samples with resolved container
// identities and folds them into the per-cycle Snapshot: per-GPU devices,
// per-container aggregates and the residual unattributed bucket.
package attribution

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/siv237siv/Proxmox-GML/internal/config"
	"github.com/siv237siv/Proxmox-GML/internal/lxc"
	"github.com/siv237siv/Proxmox-GML/internal/observability"
	"github.com/siv237siv/Proxmox-GML/pkg/model"
)

// ResolverCycle is the cycle-scoped view of the container resolver.
type ResolverCycle interface {
	Resolve(ctx context.Context, pid int32) (model.ContainerIdentity, lxc.Outcome)
}

// Engine builds Snapshots. It holds no shared state; all effects are in the
// returned value.
type Engine struct {
	policy  config.UtilPolicy
	metrics *observability.Metrics
}

// New creates an Engine with the given utilization-combining policy.
func New(policy config.UtilPolicy, metrics *observability.Metrics) *Engine {
	return &Engine{policy: policy, metrics: metrics}
}

// unattributedIdentity labels the residual bucket for host-level GPU usage.
var unattributedIdentity = model.ContainerIdentity{ID: "host", Name: "Host System"}

// Aggregate resolves every process to its container and produces the
// Snapshot for this cycle. Each input process ends up in exactly one
// container aggregate or the unattributed bucket, except processes whose
// cgroup record vanished mid-cycle, which are dropped.
func (e *Engine) Aggregate(ctx context.Context, devices []model.GPUDevice, procs []model.GPUProcess, cycle ResolverCycle) *model.Snapshot {
	groups := make(map[string]*model.ContainerAggregate)
	var unattributed *model.ContainerAggregate

	for _, p := range procs {
		identity, outcome := cycle.Resolve(ctx, p.PID)
		switch outcome {
		case lxc.Vanished:
			e.metrics.ProcessesTotal.WithLabelValues("vanished").Inc()
			continue
		case lxc.HostLevel:
			e.metrics.ProcessesTotal.WithLabelValues("unattributed").Inc()
			if unattributed == nil {
				unattributed = &model.ContainerAggregate{ContainerIdentity: unattributedIdentity}
			}
			unattributed.Processes = append(unattributed.Processes, p)
		case lxc.Attributed:
			e.metrics.ProcessesTotal.WithLabelValues("attributed").Inc()
			agg := groups[identity.ID]
			if agg == nil {
				agg = &model.ContainerAggregate{ContainerIdentity: identity}
				groups[identity.ID] = agg
			}
			agg.Processes = append(agg.Processes, p)
		}
	}

	containers := make([]model.ContainerAggregate, 0, len(groups))
	for _, agg := range groups {
		e.finalize(agg)
		containers = append(containers, *agg)
	}
	sortContainers(containers)

	if unattributed != nil {
		e.finalize(unattributed)
	}

	snap := &model.Snapshot{
		SnapshotID:   uuid.New().String(),
		Timestamp:    time.Now(),
		Devices:      sortDevices(devices),
		Containers:   containers,
		Unattributed: unattributed,
	}
	return snap
}

// finalize computes the derived aggregate fields from the member processes.
func (e *Engine) finalize(agg *model.ContainerAggregate) {
	sort.Slice(agg.Processes, func(i, j int) bool {
		a, b := agg.Processes[i], agg.Processes[j]
		if a.GPUMemoryBytes != b.GPUMemoryBytes {
			return a.GPUMemoryBytes > b.GPUMemoryBytes
		}
		return a.PID < b.PID
	})

	indexSet := make(map[int]struct{})
	byGPU := make(map[int]float64)
	var memory uint64
	for _, p := range agg.Processes {
		indexSet[p.GPUIndex] = struct{}{}
		byGPU[p.GPUIndex] += p.GPUUtilizationPercent
		memory += p.GPUMemoryBytes
	}

	if e.policy == config.UtilPolicyCappedSum {
		for gpu, util := range byGPU {
			if util > 100 {
				byGPU[gpu] = 100
			}
		}
	}

	var combined float64
	indices := make([]int, 0, len(indexSet))
	for idx := range indexSet {
		indices = append(indices, idx)
		combined += byGPU[idx]
	}
	sort.Ints(indices)

	agg.GPUIndices = indices
	agg.IsMultiGPU = len(indices) > 1
	agg.GPUMemoryBytes = memory
	agg.GPUUtilizationPercent = combined
	agg.UtilizationByGPU = byGPU
}

// sortContainers orders aggregates by numeric container ID when possible,
// lexicographically otherwise, for deterministic output.
func sortContainers(containers []model.ContainerAggregate) {
	sort.Slice(containers, func(i, j int) bool {
		a, aErr := strconv.Atoi(containers[i].ID)
		b, bErr := strconv.Atoi(containers[j].ID)
		if aErr == nil && bErr == nil {
			return a < b
		}
		return containers[i].ID < containers[j].ID
	})
}

func sortDevices(devices []model.GPUDevice) []model.GPUDevice {
	out := make([]model.GPUDevice, len(devices))
	copy(out, devices)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
