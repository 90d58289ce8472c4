package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/siv237siv/Proxmox-GML/pkg/model"
)

// NVMLProvider samples GPUs through the NVML cgo bindings.
type NVMLProvider struct {
	// lastSeen tracks the per-device timestamp passed to
	// GetProcessUtilization so each cycle only receives new samples.
	lastSeen map[int]uint64
}

// NewNVML initializes NVML and returns a provider. An initialization
// failure is fatal for the process; callers surface it at startup.
func NewNVML() (*NVMLProvider, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml init failed: %s", nvml.ErrorString(ret))
	}
	return &NVMLProvider{lastSeen: make(map[int]uint64)}, nil
}

// Name returns the provider name.
func (p *NVMLProvider) Name() string { return "nvml" }

// Close shuts NVML down.
func (p *NVMLProvider) Close() error {
	_ = nvml.Shutdown()
	return nil
}

// Sample queries every GPU for device metrics and running processes.
// Per-device optional queries (PCIe, encoder/decoder, per-process
// utilization) degrade to absent fields; cycle-wide failures wrap
// ErrUnavailable.
func (p *NVMLProvider) Sample(ctx context.Context) (Sample, error) {
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return Sample{}, fmt.Errorf("%w: device count: %s", ErrUnavailable, nvml.ErrorString(ret))
	}

	sample := Sample{Devices: make([]model.GPUDevice, 0, count)}
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return Sample{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		dev, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			return Sample{}, fmt.Errorf("%w: device handle %d: %s", ErrUnavailable, i, nvml.ErrorString(ret))
		}

		sample.Devices = append(sample.Devices, p.sampleDevice(i, dev))
		sample.Processes = append(sample.Processes, p.sampleProcesses(i, dev)...)
	}

	sample.Processes = dedupeProcesses(sample.Processes)
	enrichFromHost(sample.Processes)
	return sample, nil
}

func (p *NVMLProvider) sampleDevice(index int, dev nvml.Device) model.GPUDevice {
	d := model.GPUDevice{Index: index}

	d.Name, _ = dev.GetName()
	d.UUID, _ = dev.GetUUID()

	if util, ret := dev.GetUtilizationRates(); ret == nvml.SUCCESS {
		d.UtilizationPercent = float64(util.Gpu)
	}
	if mem, ret := dev.GetMemoryInfo(); ret == nvml.SUCCESS {
		d.MemoryUsedBytes = mem.Used
		d.MemoryTotalBytes = mem.Total
		if mem.Total > 0 {
			d.MemoryPercent = float64(mem.Used) / float64(mem.Total) * 100
		}
	}
	if temp, ret := dev.GetTemperature(nvml.TEMPERATURE_GPU); ret == nvml.SUCCESS {
		d.TemperatureCelsius = int(temp)
	}
	if mw, ret := dev.GetPowerUsage(); ret == nvml.SUCCESS {
		d.PowerUsageWatts = float64(mw) / 1000
	}
	if mw, ret := dev.GetPowerManagementLimit(); ret == nvml.SUCCESS {
		d.PowerLimitWatts = float64(mw) / 1000
	}
	if clk, ret := dev.GetClockInfo(nvml.CLOCK_GRAPHICS); ret == nvml.SUCCESS {
		d.GraphicsClockMHz = int(clk)
	}
	if clk, ret := dev.GetClockInfo(nvml.CLOCK_MEM); ret == nvml.SUCCESS {
		d.MemoryClockMHz = int(clk)
	}
	if clk, ret := dev.GetClockInfo(nvml.CLOCK_SM); ret == nvml.SUCCESS {
		d.SMClockMHz = int(clk)
	}

	// PCIe counters are KB/s and unsupported on some boards.
	if tx, ret := dev.GetPcieThroughput(nvml.PCIE_UTIL_TX_BYTES); ret == nvml.SUCCESS {
		v := int64(tx) * 1024
		d.PCIeTxBytesPerSec = &v
	}
	if rx, ret := dev.GetPcieThroughput(nvml.PCIE_UTIL_RX_BYTES); ret == nvml.SUCCESS {
		v := int64(rx) * 1024
		d.PCIeRxBytesPerSec = &v
	}

	if enc, _, ret := dev.GetEncoderUtilization(); ret == nvml.SUCCESS {
		v := float64(enc)
		d.EncoderUtilPercent = &v
	}
	if dec, _, ret := dev.GetDecoderUtilization(); ret == nvml.SUCCESS {
		v := float64(dec)
		d.DecoderUtilPercent = &v
	}

	return d
}

func (p *NVMLProvider) sampleProcesses(index int, dev nvml.Device) []model.GPUProcess {
	var infos []nvml.ProcessInfo
	if procs, ret := dev.GetComputeRunningProcesses(); ret == nvml.SUCCESS {
		infos = append(infos, procs...)
	}
	if procs, ret := dev.GetGraphicsRunningProcesses(); ret == nvml.SUCCESS {
		infos = append(infos, procs...)
	}
	if len(infos) == 0 {
		return nil
	}

	smUtil := p.processUtilization(index, dev)

	out := make([]model.GPUProcess, 0, len(infos))
	for _, info := range infos {
		proc := model.GPUProcess{
			PID:            int32(info.Pid),
			GPUIndex:       index,
			GPUMemoryBytes: info.UsedGpuMemory,
		}
		if util, ok := smUtil[info.Pid]; ok {
			proc.GPUUtilizationPercent = float64(util)
		}
		out = append(out, proc)
	}
	return out
}

// processUtilization returns per-PID SM utilization accumulated since the
// previous cycle. NVML reports ERROR_NOT_FOUND when no process ran in the
// window; that is a valid empty result.
func (p *NVMLProvider) processUtilization(index int, dev nvml.Device) map[uint32]uint32 {
	samples, ret := dev.GetProcessUtilization(p.lastSeen[index])
	if ret != nvml.SUCCESS {
		if ret != nvml.ERROR_NOT_FOUND {
			slog.Debug("process utilization query failed", "gpu", index, "nvml", nvml.ErrorString(ret))
		}
		return nil
	}

	util := make(map[uint32]uint32, len(samples))
	for _, s := range samples {
		util[s.Pid] = s.SmUtil
		if s.TimeStamp > p.lastSeen[index] {
			p.lastSeen[index] = s.TimeStamp
		}
	}
	return util
}
