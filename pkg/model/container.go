package model

// ContainerIdentity names the LXC container a process was attributed to.
// ID is the numeric container ID extracted from the process's cgroup path;
// Name is the resolved display name and falls back to the ID itself.
type ContainerIdentity struct {
	ID   string `json:"container_id"`
	Name string `json:"container_name"`
}

// ContainerAggregate folds all GPU processes of one container into a single
// per-cycle view.
//
// Invariants maintained by the attribution engine:
//   - GPUIndices is exactly the union of member processes' GPU indices.
//   - GPUMemoryBytes is exactly the sum of member processes' GPU memory.
//   - IsMultiGPU is derived from GPUIndices, never set independently.
type ContainerAggregate struct {
	ContainerIdentity

	GPUIndices []int `json:"gpu_indices"`
	IsMultiGPU bool  `json:"is_multi_gpu"`

	GPUMemoryBytes uint64 `json:"gpu_memory"`

	// GPUUtilizationPercent is an advisory combined figure; the per-GPU
	// breakdown is authoritative since percentages are not additive
	// across devices.
	GPUUtilizationPercent float64         `json:"gpu_utilization"`
	UtilizationByGPU      map[int]float64 `json:"gpu_utilization_by_gpu"`

	// Processes are sorted by GPU memory descending, PID ascending on ties.
	Processes []GPUProcess `json:"processes"`
}

// ProcessCount returns the number of member processes.
func (c *ContainerAggregate) ProcessCount() int {
	return len(c.Processes)
}
