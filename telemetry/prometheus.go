// Package telemetry provides Prometheus and OpenTelemetry implementations of
// the fi observability hooks.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rocketbitz/fidomain/fi"
)

// PrometheusMetricsOptions configures NewPrometheusMetrics.
type PrometheusMetricsOptions struct {
	Registerer  prometheus.Registerer
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
}

var _ fi.MetricHook = (*PrometheusMetrics)(nil)

// PrometheusMetrics implements fi.MetricHook using Prometheus counters.
type PrometheusMetrics struct {
	avInserted     *prometheus.CounterVec
	avInsertFailed *prometheus.CounterVec
	avRemoved      *prometheus.CounterVec
	mrRegistered   *prometheus.CounterVec
	mrBytes        *prometheus.CounterVec
	mrFailed       *prometheus.CounterVec
	mrDeregistered *prometheus.CounterVec
	keyImported    *prometheus.CounterVec
	keyUnmapped    *prometheus.CounterVec
}

var (
	avLabelKeys     = []string{fi.LabelProvider, fi.LabelFabric, fi.LabelDomain, fi.LabelAVType, fi.LabelOperation}
	mrLabelKeys     = []string{fi.LabelProvider, fi.LabelFabric, fi.LabelDomain, fi.LabelOperation}
	domainLabelKeys = []string{fi.LabelProvider, fi.LabelFabric, fi.LabelDomain}
)

// NewPrometheusMetrics constructs a MetricHook backed by Prometheus counters.
// Collectors already present in the registerer are reused.
func NewPrometheusMetrics(opts PrometheusMetricsOptions) (*PrometheusMetrics, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string, keys []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Subsystem:   opts.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: opts.ConstLabels,
		}, keys)
	}

	p := &PrometheusMetrics{
		avInserted:     counter("libfabric_av_inserted_total", "Number of addresses inserted into address vectors", avLabelKeys),
		avInsertFailed: counter("libfabric_av_insert_failed_total", "Number of addresses that failed to insert", avLabelKeys),
		avRemoved:      counter("libfabric_av_removed_total", "Number of addresses removed from address vectors", avLabelKeys),
		mrRegistered:   counter("libfabric_mr_registered_total", "Number of memory regions registered", mrLabelKeys),
		mrBytes:        counter("libfabric_mr_registered_bytes_total", "Bytes of memory registered", mrLabelKeys),
		mrFailed:       counter("libfabric_mr_registration_failed_total", "Number of failed memory registrations", mrLabelKeys),
		mrDeregistered: counter("libfabric_mr_deregistered_total", "Number of memory regions closed", domainLabelKeys),
		keyImported:    counter("libfabric_mr_keys_imported_total", "Number of raw keys mapped into a domain", domainLabelKeys),
		keyUnmapped:    counter("libfabric_mr_keys_unmapped_total", "Number of mapped keys released", domainLabelKeys),
	}

	for _, vec := range []**prometheus.CounterVec{
		&p.avInserted, &p.avInsertFailed, &p.avRemoved,
		&p.mrRegistered, &p.mrBytes, &p.mrFailed, &p.mrDeregistered,
		&p.keyImported, &p.keyUnmapped,
	} {
		registered, err := registerCounterVec(reg, *vec)
		if err != nil {
			return nil, err
		}
		*vec = registered
	}
	return p, nil
}

func (p *PrometheusMetrics) AVInserted(count int, attrs map[string]string) {
	if count <= 0 {
		return
	}
	p.avInserted.With(labels(attrs, avLabelKeys...)).Add(float64(count))
}

func (p *PrometheusMetrics) AVInsertFailed(count int, _ error, attrs map[string]string) {
	if count <= 0 {
		return
	}
	p.avInsertFailed.With(labels(attrs, avLabelKeys...)).Add(float64(count))
}

func (p *PrometheusMetrics) AVRemoved(count int, attrs map[string]string) {
	if count <= 0 {
		return
	}
	p.avRemoved.With(labels(attrs, avLabelKeys...)).Add(float64(count))
}

func (p *PrometheusMetrics) MemoryRegistered(bytes uint64, attrs map[string]string) {
	labs := labels(attrs, mrLabelKeys...)
	p.mrRegistered.With(labs).Inc()
	p.mrBytes.With(labs).Add(float64(bytes))
}

func (p *PrometheusMetrics) MemoryRegistrationFailed(_ error, attrs map[string]string) {
	p.mrFailed.With(labels(attrs, mrLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) MemoryDeregistered(attrs map[string]string) {
	p.mrDeregistered.With(labels(attrs, domainLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) KeyImported(attrs map[string]string) {
	p.keyImported.With(labels(attrs, domainLabelKeys...)).Inc()
}

func (p *PrometheusMetrics) KeyUnmapped(attrs map[string]string) {
	p.keyUnmapped.With(labels(attrs, domainLabelKeys...)).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return vec, nil
}

func labels(attrs map[string]string, keys ...string) prometheus.Labels {
	labs := make(prometheus.Labels, len(keys))
	for _, key := range keys {
		labs[key] = attrs[key]
	}
	return labs
}
