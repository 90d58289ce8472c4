// Package exporter renders the current Snapshot as Prometheus metrics.
// It reads the snapshot store on every scrape; the store is lock-free for
// readers so scrapes never block the refresh cycle.
package exporter

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/siv237siv/Proxmox-GML/internal/store"
	"github.com/siv237siv/Proxmox-GML/pkg/model"
)

var (
	deviceLabels    = []string{"gpu"}
	processLabels   = []string{"pid", "gpu", "container_id", "container_name"}
	containerLabels = []string{"container_id", "container_name"}

	descGPUUtilization = prometheus.NewDesc("gpu_utilization",
		"GPU utilization percentage.", deviceLabels, nil)
	descGPUMemoryUsed = prometheus.NewDesc("gpu_memory_used",
		"GPU memory used in bytes.", deviceLabels, nil)
	descGPUMemoryTotal = prometheus.NewDesc("gpu_memory_total",
		"GPU total memory in bytes.", deviceLabels, nil)
	descGPUMemoryPercent = prometheus.NewDesc("gpu_memory_percent",
		"GPU memory used as a percentage of total.", deviceLabels, nil)
	descGPUTemperature = prometheus.NewDesc("gpu_temperature",
		"GPU temperature in degrees Celsius.", deviceLabels, nil)
	descGPUPowerUsage = prometheus.NewDesc("gpu_power_usage",
		"GPU power usage in watts.", deviceLabels, nil)
	descGPUPowerLimit = prometheus.NewDesc("gpu_power_limit",
		"GPU power limit in watts.", deviceLabels, nil)
	descGPUGraphicsClock = prometheus.NewDesc("gpu_graphics_clock",
		"GPU graphics clock in MHz.", deviceLabels, nil)
	descGPUMemoryClock = prometheus.NewDesc("gpu_memory_clock",
		"GPU memory clock in MHz.", deviceLabels, nil)
	descGPUSMClock = prometheus.NewDesc("gpu_sm_clock",
		"GPU SM clock in MHz.", deviceLabels, nil)
	descGPUPCIeTx = prometheus.NewDesc("gpu_pcie_tx",
		"PCIe TX throughput in bytes per second.", deviceLabels, nil)
	descGPUPCIeRx = prometheus.NewDesc("gpu_pcie_rx",
		"PCIe RX throughput in bytes per second.", deviceLabels, nil)

	descProcessGPUMemory = prometheus.NewDesc("process_gpu_memory",
		"GPU memory used by a process in bytes.", processLabels, nil)
	descProcessGPUUtilization = prometheus.NewDesc("process_gpu_utilization",
		"GPU utilization percentage attributed to a process.", processLabels, nil)
	descProcessCPUPercent = prometheus.NewDesc("process_cpu_percent",
		"Host CPU usage percentage of a process.", processLabels, nil)
	descProcessHostMemory = prometheus.NewDesc("process_host_memory",
		"Host memory used by a process in bytes.", processLabels, nil)
	descProcessRunningTime = prometheus.NewDesc("process_running_time",
		"Process uptime in seconds.", processLabels, nil)

	descContainerGPUCount = prometheus.NewDesc("container_gpu_count",
		"Number of GPUs used by a container.", containerLabels, nil)
	descContainerGPUMemory = prometheus.NewDesc("container_gpu_memory_used",
		"GPU memory used by a container in bytes.", containerLabels, nil)
	descContainerGPUUtilization = prometheus.NewDesc("container_gpu_utilization",
		"Combined GPU utilization percentage of a container (advisory).", containerLabels, nil)
)

// SnapshotCollector implements prometheus.Collector over the snapshot store.
type SnapshotCollector struct {
	snapshots *store.SnapshotStore
}

// NewSnapshotCollector creates a collector reading from the given store.
func NewSnapshotCollector(snapshots *store.SnapshotStore) *SnapshotCollector {
	return &SnapshotCollector{snapshots: snapshots}
}

// Describe implements prometheus.Collector.
func (c *SnapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		descGPUUtilization, descGPUMemoryUsed, descGPUMemoryTotal,
		descGPUMemoryPercent, descGPUTemperature, descGPUPowerUsage,
		descGPUPowerLimit, descGPUGraphicsClock, descGPUMemoryClock,
		descGPUSMClock, descGPUPCIeTx, descGPUPCIeRx,
		descProcessGPUMemory, descProcessGPUUtilization,
		descProcessCPUPercent, descProcessHostMemory,
		descProcessRunningTime,
		descContainerGPUCount, descContainerGPUMemory,
		descContainerGPUUtilization,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector. Before the first snapshot is
// published it emits nothing.
func (c *SnapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.snapshots.Current()
	if snap == nil {
		return
	}

	for i := range snap.Devices {
		collectDevice(ch, &snap.Devices[i])
	}
	for i := range snap.Containers {
		collectContainer(ch, &snap.Containers[i])
	}
	if snap.Unattributed != nil {
		collectProcesses(ch, snap.Unattributed)
	}
}

func collectDevice(ch chan<- prometheus.Metric, d *model.GPUDevice) {
	gpu := fmt.Sprint(d.Index)
	gauge := func(desc *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, gpu)
	}

	gauge(descGPUUtilization, d.UtilizationPercent)
	gauge(descGPUMemoryUsed, float64(d.MemoryUsedBytes))
	gauge(descGPUMemoryTotal, float64(d.MemoryTotalBytes))
	gauge(descGPUMemoryPercent, d.MemoryPercent)
	gauge(descGPUTemperature, float64(d.TemperatureCelsius))
	gauge(descGPUPowerUsage, d.PowerUsageWatts)
	gauge(descGPUPowerLimit, d.PowerLimitWatts)
	gauge(descGPUGraphicsClock, float64(d.GraphicsClockMHz))
	gauge(descGPUMemoryClock, float64(d.MemoryClockMHz))
	gauge(descGPUSMClock, float64(d.SMClockMHz))

	if d.PCIeTxBytesPerSec != nil {
		gauge(descGPUPCIeTx, float64(*d.PCIeTxBytesPerSec))
	}
	if d.PCIeRxBytesPerSec != nil {
		gauge(descGPUPCIeRx, float64(*d.PCIeRxBytesPerSec))
	}
}

func collectContainer(ch chan<- prometheus.Metric, agg *model.ContainerAggregate) {
	gauge := func(desc *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, agg.ID, agg.Name)
	}

	gauge(descContainerGPUCount, float64(len(agg.GPUIndices)))
	gauge(descContainerGPUMemory, float64(agg.GPUMemoryBytes))
	gauge(descContainerGPUUtilization, agg.GPUUtilizationPercent)

	collectProcesses(ch, agg)
}

func collectProcesses(ch chan<- prometheus.Metric, agg *model.ContainerAggregate) {
	for _, p := range agg.Processes {
		labels := []string{fmt.Sprint(p.PID), fmt.Sprint(p.GPUIndex), agg.ID, agg.Name}
		gauge := func(desc *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, labels...)
		}

		gauge(descProcessGPUMemory, float64(p.GPUMemoryBytes))
		gauge(descProcessGPUUtilization, p.GPUUtilizationPercent)
		gauge(descProcessCPUPercent, p.CPUPercent)
		gauge(descProcessHostMemory, float64(p.HostMemoryBytes))
		gauge(descProcessRunningTime, float64(p.UptimeSeconds))
	}
}
