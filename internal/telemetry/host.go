package telemetry

import (
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/siv237siv/Proxmox-GML/pkg/model"
)

// enrichFromHost fills in command name, CPU usage, host RSS and uptime for
// each sampled process. A process that vanished or cannot be inspected keeps
// zero-valued host fields; only the container resolver decides whether a
// vanished process is dropped.
func enrichFromHost(procs []model.GPUProcess) {
	now := time.Now().UnixMilli()
	for i := range procs {
		hp, err := process.NewProcess(procs[i].PID)
		if err != nil {
			continue
		}
		if name, err := hp.Name(); err == nil {
			procs[i].Command = name
		}
		if cpu, err := hp.CPUPercent(); err == nil {
			procs[i].CPUPercent = cpu
		}
		if mem, err := hp.MemoryInfo(); err == nil && mem != nil {
			procs[i].HostMemoryBytes = mem.RSS
		}
		if created, err := hp.CreateTime(); err == nil && created > 0 && created <= now {
			procs[i].UptimeSeconds = (now - created) / 1000
		}
	}
}
