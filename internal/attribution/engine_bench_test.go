package attribution

import (
	"context"
	"fmt"
	"testing"

	"github.com/siv237siv/Proxmox-GML/internal/config"
	"github.com/siv237siv/Proxmox-GML/internal/observability"
	"github.com/siv237siv/Proxmox-GML/pkg/model"
)

func BenchmarkAggregate(b *testing.B) {
	const nProcs = 512

	devices := make([]model.GPUDevice, 8)
	for i := range devices {
		devices[i] = model.GPUDevice{Index: i, Name: "NVIDIA A100"}
	}

	procs := make([]model.GPUProcess, nProcs)
	attributed := make(map[int32]model.ContainerIdentity, nProcs)
	for i := range procs {
		pid := int32(1000 + i)
		procs[i] = model.GPUProcess{
			PID:                   pid,
			GPUIndex:              i % len(devices),
			GPUMemoryBytes:        uint64(i) << 20,
			GPUUtilizationPercent: float64(i % 100),
		}
		attributed[pid] = model.ContainerIdentity{
			ID:   fmt.Sprint(100 + i%32),
			Name: fmt.Sprintf("ct-%d", 100+i%32),
		}
	}
	cycle := &fakeCycle{attributed: attributed}
	engine := New(config.UtilPolicyCappedSum, observability.NewMetrics())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		snap := engine.Aggregate(context.Background(), devices, procs, cycle)
		if len(snap.Containers) != 32 {
			b.Fatalf("unexpected container count %d", len(snap.Containers))
		}
	}
}
