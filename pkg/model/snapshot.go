package model

import "time"

// Snapshot is one immutable, fully-aggregated view of GPU and container
// state as of a single refresh cycle. Exactly one Snapshot is current at any
// time; a refresh replaces it wholesale and the previous one is discarded.
type Snapshot struct {
	SnapshotID string    `json:"snapshot_id"`
	Timestamp  time.Time `json:"timestamp"`

	Devices    []GPUDevice          `json:"gpu_info"`
	Containers []ContainerAggregate `json:"containers"`

	// Unattributed collects processes whose cgroup record carries no LXC
	// segment (host-level usage, e.g. passthrough helpers). Nil when every
	// process was attributed.
	Unattributed *ContainerAggregate `json:"unattributed,omitempty"`

	// ActiveErrors lists error codes reported during recent cycles.
	ActiveErrors []string `json:"active_errors,omitempty"`
}

// MultiGPUContainers returns the containers whose processes span more than
// one physical GPU in this cycle.
func (s *Snapshot) MultiGPUContainers() []ContainerAggregate {
	var out []ContainerAggregate
	for _, c := range s.Containers {
		if c.IsMultiGPU {
			out = append(out, c)
		}
	}
	return out
}

// AllProcesses returns every process in the snapshot, attributed or not.
// Order follows the container list with the unattributed bucket last.
func (s *Snapshot) AllProcesses() []GPUProcess {
	var out []GPUProcess
	for _, c := range s.Containers {
		out = append(out, c.Processes...)
	}
	if s.Unattributed != nil {
		out = append(out, s.Unattributed.Processes...)
	}
	return out
}
