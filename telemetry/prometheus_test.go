package telemetry

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/rocketbitz/fidomain/fi"
)

func TestPrometheusMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewPrometheusMetrics(PrometheusMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("NewPrometheusMetrics: %v", err)
	}

	base := map[string]string{
		fi.LabelProvider: "sockets",
		fi.LabelFabric:   "sockets",
		fi.LabelDomain:   "sockets0",
	}
	avAttrs := map[string]string{
		fi.LabelProvider:  "sockets",
		fi.LabelFabric:    "sockets",
		fi.LabelDomain:    "sockets0",
		fi.LabelAVType:    "map",
		fi.LabelOperation: "fi_av_insert",
	}
	metrics.AVInserted(3, avAttrs)
	metrics.AVInsertFailed(1, errors.New("boom"), avAttrs)
	metrics.AVInsertFailed(0, nil, avAttrs)
	metrics.AVRemoved(2, avAttrs)
	metrics.MemoryRegistered(4096, base)
	metrics.MemoryRegistered(1024, base)
	metrics.MemoryRegistrationFailed(errors.New("fail"), base)
	metrics.MemoryDeregistered(base)
	metrics.KeyImported(base)
	metrics.KeyUnmapped(base)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	cases := map[string]float64{
		"libfabric_av_inserted_total":            3,
		"libfabric_av_insert_failed_total":       1,
		"libfabric_av_removed_total":             2,
		"libfabric_mr_registered_total":          2,
		"libfabric_mr_registered_bytes_total":    5120,
		"libfabric_mr_registration_failed_total": 1,
		"libfabric_mr_deregistered_total":        1,
		"libfabric_mr_keys_imported_total":       1,
		"libfabric_mr_keys_unmapped_total":       1,
	}
	for name, want := range cases {
		if got := findCounterValue(mfs, name); got != want {
			t.Fatalf("unexpected counter %s: got %v want %v", name, got, want)
		}
	}

	if got := findLabel(mfs, "libfabric_av_inserted_total", fi.LabelAVType); got != "map" {
		t.Fatalf("expected av_type label map, got %q", got)
	}
}

func TestPrometheusMetricsReuseRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusMetrics(PrometheusMetricsOptions{Registerer: reg, Namespace: "fab"})
	if err != nil {
		t.Fatalf("first NewPrometheusMetrics: %v", err)
	}
	second, err := NewPrometheusMetrics(PrometheusMetricsOptions{Registerer: reg, Namespace: "fab"})
	if err != nil {
		t.Fatalf("second NewPrometheusMetrics: %v", err)
	}

	attrs := map[string]string{fi.LabelProvider: "sockets"}
	first.KeyImported(attrs)
	second.KeyImported(attrs)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got := findCounterValue(mfs, "fab_libfabric_mr_keys_imported_total"); got != 2 {
		t.Fatalf("expected shared counter to reach 2, got %v", got)
	}
}

func findCounterValue(mfs []*dto.MetricFamily, name string) float64 {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		var sum float64
		for _, m := range mf.Metric {
			sum += m.GetCounter().GetValue()
		}
		return sum
	}
	return 0
}

func findLabel(mfs []*dto.MetricFamily, name, label string) string {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			for _, pair := range m.GetLabel() {
				if pair.GetName() == label {
					return pair.GetValue()
				}
			}
		}
	}
	return ""
}
