package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics_NoRegistrationPanic(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.Registry == nil {
		t.Fatal("Registry is nil")
	}
}

func TestNewMetrics_CustomRegistry(t *testing.T) {
	m := NewMetrics()

	// Counters with labels only appear after first use.
	m.RefreshTotal.WithLabelValues("success").Inc()
	m.ProcessesTotal.WithLabelValues("attributed").Inc()
	m.NameLookupTotal.WithLabelValues("pve_config").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("no metric families gathered")
	}

	// Gather from the default registry — our metrics should NOT be there.
	defaultFamilies, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("DefaultGatherer.Gather failed: %v", err)
	}

	customNames := make(map[string]bool)
	for _, f := range families {
		customNames[f.GetName()] = true
	}
	for _, f := range defaultFamilies {
		if customNames[f.GetName()] {
			t.Errorf("metric %q found in default registry — should only be in custom registry", f.GetName())
		}
	}
}

func TestNewMetrics_AllNamesHavePrefix(t *testing.T) {
	m := NewMetrics()
	m.RefreshTotal.WithLabelValues("success").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	for _, f := range families {
		if !strings.HasPrefix(f.GetName(), "gml_agent_") {
			t.Errorf("metric %q missing gml_agent_ prefix", f.GetName())
		}
	}
}

func TestMetrics_RefreshCounterIncrements(t *testing.T) {
	m := NewMetrics()
	m.RefreshTotal.WithLabelValues("success").Inc()
	m.RefreshTotal.WithLabelValues("success").Inc()
	m.RefreshTotal.WithLabelValues("telemetry_error").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	var refreshFamily *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "gml_agent_refresh_total" {
			refreshFamily = f
		}
	}
	if refreshFamily == nil {
		t.Fatal("gml_agent_refresh_total not gathered")
	}

	total := 0.0
	for _, metric := range refreshFamily.GetMetric() {
		total += metric.GetCounter().GetValue()
	}
	if total != 3 {
		t.Errorf("refresh_total sum = %v, want 3", total)
	}
}
