package model

// GPUDevice holds one physical GPU's metrics for a single sampling cycle.
// Devices are recreated on every refresh and never mutated afterwards.
type GPUDevice struct {
	Index int    `json:"index"`
	UUID  string `json:"uuid,omitempty"`
	Name  string `json:"name"`

	UtilizationPercent float64 `json:"utilization"`
	MemoryUsedBytes    uint64  `json:"memory_used"`
	MemoryTotalBytes   uint64  `json:"memory_total"`
	MemoryPercent      float64 `json:"memory_percent"`
	TemperatureCelsius int     `json:"temperature"`
	PowerUsageWatts    float64 `json:"power_usage"`
	PowerLimitWatts    float64 `json:"power_limit"`

	GraphicsClockMHz int `json:"graphics_clock,omitempty"`
	MemoryClockMHz   int `json:"memory_clock,omitempty"`
	SMClockMHz       int `json:"sm_clock,omitempty"`

	// PCIe throughput is absent on GPUs/drivers that do not report it.
	PCIeTxBytesPerSec *int64 `json:"pcie_tx,omitempty"`
	PCIeRxBytesPerSec *int64 `json:"pcie_rx,omitempty"`

	EncoderUtilPercent *float64 `json:"encoder_utilization,omitempty"`
	DecoderUtilPercent *float64 `json:"decoder_utilization,omitempty"`
}

// GPUProcess is one GPU-using host process observed during a sampling cycle.
// Host-side fields (CPU, RSS, uptime) are best-effort and zero when the
// process could not be inspected.
type GPUProcess struct {
	PID      int32  `json:"pid"`
	Command  string `json:"command,omitempty"`
	GPUIndex int    `json:"gpu_index"`

	GPUMemoryBytes        uint64  `json:"gpu_memory"`
	GPUUtilizationPercent float64 `json:"gpu_utilization"`

	CPUPercent      float64 `json:"cpu_percent,omitempty"`
	HostMemoryBytes uint64  `json:"host_memory,omitempty"`
	UptimeSeconds   int64   `json:"running_time,omitempty"`
}
