package web

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/siv237siv/Proxmox-GML/pkg/model"
)

// dashboardData is the template input for the HTML dashboard.
type dashboardData struct {
	Snapshot         *model.Snapshot
	GeneratedAt      time.Time
	StalenessSeconds float64
	Unattributed     *model.ContainerAggregate
}

var dashboardFuncs = template.FuncMap{
	"mib": func(b uint64) string {
		return fmt.Sprintf("%.0f MiB", float64(b)/(1<<20))
	},
	"pct": func(v float64) string {
		return fmt.Sprintf("%.1f%%", v)
	},
	"watts": func(v float64) string {
		return fmt.Sprintf("%.1f W", v)
	},
	"indices": func(idx []int) string {
		parts := make([]string, len(idx))
		for i, n := range idx {
			parts[i] = fmt.Sprint(n)
		}
		return strings.Join(parts, ", ")
	},
	"uptime": func(secs int64) string {
		d := time.Duration(secs) * time.Second
		if d >= time.Hour {
			return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
		}
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	},
	"kbps": func(v *int64) string {
		if v == nil {
			return "n/a"
		}
		return fmt.Sprintf("%.1f MiB/s", float64(*v)/(1<<20))
	},
}

var dashboardTmpl = template.Must(template.New("dashboard").Funcs(dashboardFuncs).Parse(`<!DOCTYPE html>
<html>
<head>
    <title>GPU and LXC Container Monitoring</title>
    <meta http-equiv="refresh" content="5">
    <style>
        body { font-family: sans-serif; margin: 20px; background: #f5f5f5; }
        h1 { color: #333; }
        h2 { color: #555; margin-top: 30px; }
        table { border-collapse: collapse; width: 100%; background: #fff; }
        th, td { border: 1px solid #ddd; padding: 6px 10px; text-align: left; }
        th { background: #4a6da7; color: #fff; }
        tr:nth-child(even) { background: #f0f4fa; }
        .meta { color: #777; font-size: 0.9em; }
        .errors { background: #fdd; border: 1px solid #c66; padding: 8px 12px; }
    </style>
</head>
<body>
    <h1>GPU and LXC Container Monitoring</h1>
    <p class="meta">Generated {{.GeneratedAt.Format "2006-01-02 15:04:05"}} &middot; data age {{printf "%.1f" .StalenessSeconds}}s</p>
{{- if .Snapshot.ActiveErrors}}
    <div class="errors">
        <strong>Active errors:</strong>
        <ul>
{{- range .Snapshot.ActiveErrors}}
            <li>{{.}}</li>
{{- end}}
        </ul>
    </div>
{{- end}}

    <h2>GPU Summary</h2>
    <table>
        <tr>
            <th>GPU Index</th>
            <th>GPU Name</th>
            <th>GPU Usage (%)</th>
            <th>Memory Used / Total</th>
            <th>Power Usage</th>
            <th>Temperature</th>
            <th>Throughput (TX / RX)</th>
            <th>Clock Speeds (Gfx / Mem / SM)</th>
        </tr>
{{- range .Snapshot.Devices}}
        <tr>
            <td>{{.Index}}</td>
            <td>{{.Name}}</td>
            <td>{{pct .UtilizationPercent}}</td>
            <td>{{mib .MemoryUsedBytes}} / {{mib .MemoryTotalBytes}} ({{pct .MemoryPercent}})</td>
            <td>{{watts .PowerUsageWatts}} / {{watts .PowerLimitWatts}}</td>
            <td>{{.TemperatureCelsius}}&deg;C</td>
            <td>{{kbps .PCIeTxBytesPerSec}} / {{kbps .PCIeRxBytesPerSec}}</td>
            <td>{{.GraphicsClockMHz}} / {{.MemoryClockMHz}} / {{.SMClockMHz}} MHz</td>
        </tr>
{{- end}}
    </table>

    <h2>Containers</h2>
    <table>
        <tr>
            <th>Container ID</th>
            <th>Container Name</th>
            <th>GPU Index</th>
            <th>GPU %</th>
            <th>Processes</th>
            <th>GPU Memory Used</th>
        </tr>
{{- range .Snapshot.Containers}}
        <tr>
            <td>{{.ID}}</td>
            <td>{{.Name}}</td>
            <td>{{indices .GPUIndices}}</td>
            <td>{{pct .GPUUtilizationPercent}}</td>
            <td>{{len .Processes}}</td>
            <td>{{mib .GPUMemoryBytes}}</td>
        </tr>
{{- end}}
{{- with .Unattributed}}
        <tr>
            <td>{{.ID}}</td>
            <td>{{.Name}}</td>
            <td>{{indices .GPUIndices}}</td>
            <td>{{pct .GPUUtilizationPercent}}</td>
            <td>{{len .Processes}}</td>
            <td>{{mib .GPUMemoryBytes}}</td>
        </tr>
{{- end}}
    </table>

{{- if .Snapshot.MultiGPUContainers}}
    <h2>Containers Using Multiple GPUs</h2>
    <table>
        <tr>
            <th>Container ID</th>
            <th>Container Name</th>
            <th>GPU Indices</th>
        </tr>
{{- range .Snapshot.MultiGPUContainers}}
        <tr>
            <td>{{.ID}}</td>
            <td>{{.Name}}</td>
            <td>{{indices .GPUIndices}}</td>
        </tr>
{{- end}}
    </table>
{{- end}}

    <h2>Process Details</h2>
    <table>
        <tr>
            <th>Container ID</th>
            <th>Container Name</th>
            <th>PID</th>
            <th>Command</th>
            <th>GPU Index</th>
            <th>GPU Usage</th>
            <th>CPU %</th>
            <th>GPU Memory</th>
            <th>Host Memory</th>
            <th>Running Time</th>
        </tr>
{{- range $agg := .AllAggregates}}
{{- range $agg.Processes}}
        <tr>
            <td>{{$agg.ID}}</td>
            <td>{{$agg.Name}}</td>
            <td>{{.PID}}</td>
            <td>{{.Command}}</td>
            <td>{{.GPUIndex}}</td>
            <td>{{pct .GPUUtilizationPercent}}</td>
            <td>{{pct .CPUPercent}}</td>
            <td>{{mib .GPUMemoryBytes}}</td>
            <td>{{mib .HostMemoryBytes}}</td>
            <td>{{uptime .UptimeSeconds}}</td>
        </tr>
{{- end}}
{{- end}}
    </table>
</body>
</html>
`))

var startingTmpl = template.Must(template.New("starting").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>GPU and LXC Container Monitoring</title>
    <meta http-equiv="refresh" content="2">
</head>
<body>
    <h1>GPU and LXC Container Monitoring</h1>
    <p>Waiting for the first telemetry cycle to complete...</p>
</body>
</html>
`))

// AllAggregates lists the container aggregates followed by the
// unattributed bucket, for the process details table.
func (d dashboardData) AllAggregates() []*model.ContainerAggregate {
	out := make([]*model.ContainerAggregate, 0, len(d.Snapshot.Containers)+1)
	for i := range d.Snapshot.Containers {
		out = append(out, &d.Snapshot.Containers[i])
	}
	if d.Unattributed != nil {
		out = append(out, d.Unattributed)
	}
	return out
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	snap := s.snapshots.Current()
	if snap == nil {
		_ = startingTmpl.Execute(w, nil)
		return
	}

	now := time.Now()
	data := dashboardData{
		Snapshot:         snap,
		GeneratedAt:      now,
		StalenessSeconds: s.snapshots.Staleness(now).Seconds(),
		Unattributed:     snap.Unattributed,
	}
	if err := dashboardTmpl.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
