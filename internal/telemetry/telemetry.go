// Package telemetry provides the GPU telemetry adapter: a thin, typed call
// into the vendor metrics library returning per-device and per-process
// samples for one refresh cycle.
package telemetry

import (
	"context"
	"errors"
	"sort"

	"github.com/siv237siv/Proxmox-GML/pkg/model"
)

// ErrUnavailable marks a transient provider failure for the current cycle.
// It is distinct from a valid empty result: a host with no GPUs yields an
// empty Sample and no error.
var ErrUnavailable = errors.New("telemetry provider unavailable")

// Sample is the raw output of one telemetry query.
type Sample struct {
	Devices   []model.GPUDevice
	Processes []model.GPUProcess
}

// Provider abstracts the GPU telemetry source.
type Provider interface {
	// Sample returns current device and process samples. A failure for the
	// cycle wraps ErrUnavailable.
	Sample(ctx context.Context) (Sample, error)
	Name() string
	Close() error
}

// dedupeProcesses merges process lists that may contain the same PID on the
// same GPU (a process can appear as both a compute and a graphics client).
// GPU memory of duplicates is not summed; the first record wins.
func dedupeProcesses(procs []model.GPUProcess) []model.GPUProcess {
	type key struct {
		pid int32
		gpu int
	}
	seen := make(map[key]struct{}, len(procs))
	out := make([]model.GPUProcess, 0, len(procs))
	for _, p := range procs {
		k := key{pid: p.PID, gpu: p.GPUIndex}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GPUIndex != out[j].GPUIndex {
			return out[i].GPUIndex < out[j].GPUIndex
		}
		return out[i].PID < out[j].PID
	})
	return out
}
