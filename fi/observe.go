package fi

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Logger provides printf-style debug logging hooks.
type Logger interface {
	Debugf(format string, args ...any)
}

// StructuredLogger emits key/value pairs for structured logging backends.
// *zap.SugaredLogger satisfies it.
type StructuredLogger interface {
	Debugw(msg string, keyvals ...any)
}

// TraceAttribute represents a tracing attribute attached to spans or events.
type TraceAttribute struct {
	Key   string
	Value any
}

// Tracer starts spans around domain operations.
type Tracer interface {
	StartSpan(name string, attrs ...TraceAttribute) Span
}

// Span records operation lifecycle, events, and errors for tracing systems.
type Span interface {
	End(err error)
	AddEvent(name string, attrs ...TraceAttribute)
	RecordError(err error)
}

// MetricHook captures domain telemetry events.
type MetricHook interface {
	AVInserted(count int, attrs map[string]string)
	AVInsertFailed(count int, err error, attrs map[string]string)
	AVRemoved(count int, attrs map[string]string)
	MemoryRegistered(bytes uint64, attrs map[string]string)
	MemoryRegistrationFailed(err error, attrs map[string]string)
	MemoryDeregistered(attrs map[string]string)
	KeyImported(attrs map[string]string)
	KeyUnmapped(attrs map[string]string)
}

// Metric label keys populated by the domain.
const (
	LabelProvider  = "provider"
	LabelFabric    = "fabric"
	LabelDomain    = "domain"
	LabelOperation = "operation"
	LabelAVType    = "av_type"
	LabelStatus    = "status"
)

// DomainOption configures observability and identity for an opened domain.
type DomainOption func(*domainConfig)

type domainConfig struct {
	logger           Logger
	structuredLogger StructuredLogger
	tracer           Tracer
	metrics          MetricHook
	context          any
}

// WithLogger installs a printf-style logger.
func WithLogger(l Logger) DomainOption {
	return func(cfg *domainConfig) {
		cfg.logger = l
	}
}

// WithStructuredLogger installs a key/value logger, preferred over WithLogger.
func WithStructuredLogger(l StructuredLogger) DomainOption {
	return func(cfg *domainConfig) {
		cfg.structuredLogger = l
	}
}

// WithTracer installs a span factory.
func WithTracer(t Tracer) DomainOption {
	return func(cfg *domainConfig) {
		cfg.tracer = t
	}
}

// WithMetrics installs a metric hook.
func WithMetrics(m MetricHook) DomainOption {
	return func(cfg *domainConfig) {
		cfg.metrics = m
	}
}

// WithDomainContext attaches caller data to the domain resource.
func WithDomainContext(v any) DomainOption {
	return func(cfg *domainConfig) {
		cfg.context = v
	}
}

type logField struct {
	key   string
	value any
}

func logKV(key string, value any) logField {
	return logField{key: key, value: value}
}

// observer fans domain activity out to the configured hooks.
type observer struct {
	logger           Logger
	structuredLogger StructuredLogger
	tracer           Tracer
	metrics          MetricHook
	base             map[string]string
}

func newObserver(cfg domainConfig, info Info) *observer {
	o := &observer{
		logger:           cfg.logger,
		structuredLogger: cfg.structuredLogger,
		tracer:           cfg.tracer,
		metrics:          cfg.metrics,
		base: map[string]string{
			LabelProvider: info.Provider,
			LabelFabric:   info.Fabric,
			LabelDomain:   info.Domain,
		},
	}
	if o.logger == nil && o.structuredLogger == nil {
		o.structuredLogger = zap.NewNop().Sugar()
	}
	return o
}

func (o *observer) attrs(fields ...logField) map[string]string {
	attrs := make(map[string]string, len(o.base)+len(fields))
	for k, v := range o.base {
		attrs[k] = v
	}
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		attrs[field.key] = fmt.Sprint(field.value)
	}
	return attrs
}

func (o *observer) log(event string, fields ...logField) {
	if o == nil {
		return
	}
	if o.structuredLogger != nil {
		kv := make([]any, 0, len(fields)*2+4)
		kv = append(kv, "event", event, LabelProvider, o.base[LabelProvider])
		for _, field := range fields {
			if field.key == "" {
				continue
			}
			kv = append(kv, field.key, field.value)
		}
		o.structuredLogger.Debugw("libfabric domain", kv...)
		return
	}
	if o.logger == nil {
		return
	}
	var b strings.Builder
	b.WriteString(event)
	for _, field := range fields {
		if field.key == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(field.key)
		b.WriteString("=")
		b.WriteString(fmt.Sprint(field.value))
	}
	o.logger.Debugf("domain %s", b.String())
}

func (o *observer) span(name string, attrs ...TraceAttribute) Span {
	if o == nil || o.tracer == nil {
		return noopSpan{}
	}
	span := o.tracer.StartSpan(name, attrs...)
	if span == nil {
		return noopSpan{}
	}
	return span
}

type noopSpan struct{}

func (noopSpan) End(error)                          {}
func (noopSpan) AddEvent(string, ...TraceAttribute) {}
func (noopSpan) RecordError(error)                  {}

func (o *observer) avInserted(count int, fields ...logField) {
	if o == nil || o.metrics == nil || count == 0 {
		return
	}
	o.metrics.AVInserted(count, o.attrs(fields...))
}

func (o *observer) avInsertFailed(count int, err error, fields ...logField) {
	if o == nil || o.metrics == nil || count == 0 {
		return
	}
	o.metrics.AVInsertFailed(count, err, o.attrs(fields...))
}

func (o *observer) avRemoved(count int, fields ...logField) {
	if o == nil || o.metrics == nil || count == 0 {
		return
	}
	o.metrics.AVRemoved(count, o.attrs(fields...))
}

func (o *observer) memoryRegistered(bytes uint64, fields ...logField) {
	if o == nil || o.metrics == nil {
		return
	}
	o.metrics.MemoryRegistered(bytes, o.attrs(fields...))
}

func (o *observer) memoryRegistrationFailed(err error, fields ...logField) {
	if o == nil || o.metrics == nil {
		return
	}
	o.metrics.MemoryRegistrationFailed(err, o.attrs(fields...))
}

func (o *observer) memoryDeregistered(fields ...logField) {
	if o == nil || o.metrics == nil {
		return
	}
	o.metrics.MemoryDeregistered(o.attrs(fields...))
}

func (o *observer) keyImported(fields ...logField) {
	if o == nil || o.metrics == nil {
		return
	}
	o.metrics.KeyImported(o.attrs(fields...))
}

func (o *observer) keyUnmapped(fields ...logField) {
	if o == nil || o.metrics == nil {
		return
	}
	o.metrics.KeyUnmapped(o.attrs(fields...))
}
