package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rocketbitz/fidomain/fi"
)

// DefaultInstrumentationName names the meter and tracer when the caller does
// not supply one.
const DefaultInstrumentationName = "github.com/rocketbitz/fidomain"

// OTelMetricsOptions configures NewOTelMetrics.
type OTelMetricsOptions struct {
	MeterProvider          metric.MeterProvider
	Meter                  metric.Meter
	InstrumentationName    string
	InstrumentationVersion string
}

var _ fi.MetricHook = (*OTelMetrics)(nil)

// OTelMetrics implements fi.MetricHook using OpenTelemetry counters.
type OTelMetrics struct {
	meter          metric.Meter
	avInserted     metric.Int64Counter
	avInsertFailed metric.Int64Counter
	avRemoved      metric.Int64Counter
	mrRegistered   metric.Int64Counter
	mrBytes        metric.Int64Counter
	mrFailed       metric.Int64Counter
	mrDeregistered metric.Int64Counter
	keyImported    metric.Int64Counter
	keyUnmapped    metric.Int64Counter
}

// NewOTelMetrics constructs a MetricHook that emits OpenTelemetry counter measurements.
func NewOTelMetrics(opts OTelMetricsOptions) (*OTelMetrics, error) {
	meter := opts.Meter
	if meter == nil {
		provider := opts.MeterProvider
		if provider == nil {
			provider = otel.GetMeterProvider()
		}
		name := opts.InstrumentationName
		if name == "" {
			name = DefaultInstrumentationName
		}
		meter = provider.Meter(name, metric.WithInstrumentationVersion(opts.InstrumentationVersion))
	}

	o := &OTelMetrics{meter: meter}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		unit string
	}{
		{&o.avInserted, "libfabric.av.inserted", "{address}"},
		{&o.avInsertFailed, "libfabric.av.insert_failed", "{address}"},
		{&o.avRemoved, "libfabric.av.removed", "{address}"},
		{&o.mrRegistered, "libfabric.mr.registered", "{region}"},
		{&o.mrBytes, "libfabric.mr.registered_bytes", "By"},
		{&o.mrFailed, "libfabric.mr.registration_failed", "{region}"},
		{&o.mrDeregistered, "libfabric.mr.deregistered", "{region}"},
		{&o.keyImported, "libfabric.mr.keys_imported", "{key}"},
		{&o.keyUnmapped, "libfabric.mr.keys_unmapped", "{key}"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return o, nil
}

// AVInserted records addresses that received a fabric address.
func (o *OTelMetrics) AVInserted(count int, attrs map[string]string) {
	if count <= 0 {
		return
	}
	o.avInserted.Add(context.Background(), int64(count), metric.WithAttributes(otelAttrs(attrs)...))
}

// AVInsertFailed records addresses that were reported as FI_ADDR_NOTAVAIL.
func (o *OTelMetrics) AVInsertFailed(count int, _ error, attrs map[string]string) {
	if count <= 0 {
		return
	}
	o.avInsertFailed.Add(context.Background(), int64(count), metric.WithAttributes(otelAttrs(attrs)...))
}

// AVRemoved records addresses removed from an address vector.
func (o *OTelMetrics) AVRemoved(count int, attrs map[string]string) {
	if count <= 0 {
		return
	}
	o.avRemoved.Add(context.Background(), int64(count), metric.WithAttributes(otelAttrs(attrs)...))
}

// MemoryRegistered records a registration and its length.
func (o *OTelMetrics) MemoryRegistered(bytes uint64, attrs map[string]string) {
	opt := metric.WithAttributes(otelAttrs(attrs)...)
	o.mrRegistered.Add(context.Background(), 1, opt)
	o.mrBytes.Add(context.Background(), int64(bytes), opt)
}

func (o *OTelMetrics) MemoryRegistrationFailed(_ error, attrs map[string]string) {
	o.mrFailed.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

func (o *OTelMetrics) MemoryDeregistered(attrs map[string]string) {
	o.mrDeregistered.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

func (o *OTelMetrics) KeyImported(attrs map[string]string) {
	o.keyImported.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

func (o *OTelMetrics) KeyUnmapped(attrs map[string]string) {
	o.keyUnmapped.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

func otelAttrs(attrs map[string]string) []attribute.KeyValue {
	kvs := []attribute.KeyValue{
		attribute.String(fi.LabelProvider, attrs[fi.LabelProvider]),
		attribute.String(fi.LabelDomain, attrs[fi.LabelDomain]),
	}
	for _, key := range []string{fi.LabelFabric, fi.LabelAVType, fi.LabelOperation, fi.LabelStatus} {
		if v := attrs[key]; v != "" {
			kvs = append(kvs, attribute.String(key, v))
		}
	}
	return kvs
}
