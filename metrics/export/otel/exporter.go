package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mapvision/authority"
	"github.com/mapvision/authority/metrics/export/internaldefs"
)

// Constructor errors.
var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// BoundKey is the attribute carrying a bucket's upper bound.
const BoundKey = attribute.Key("le")

type metricsSource interface {
	MetricsSnapshot() authority.MetricsSnapshot
	AuditDropped() uint64
}

// Option tunes the exporter.
type Option func(*options)

type options struct {
	attrs []attribute.KeyValue
}

// WithAttributes adds constant attributes, such as an instance name, to
// every observation.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(o *options) {
		o.attrs = append(o.attrs, attrs...)
	}
}

type counterBinding struct {
	id  authority.MetricID
	ins metric.Int64ObservableCounter
}

// histogramBinding publishes one gauge per histogram whose series are the
// cumulative buckets, told apart by BoundKey, plus a total count.
type histogramBinding struct {
	id      authority.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
	bounds  [8]metric.MeasurementOption
}

// OTelExporter publishes the engine counters and the session-verify latency
// buckets through observable instruments read on every collection.
type OTelExporter struct {
	source       metricsSource
	common       metric.MeasurementOption
	counters     []counterBinding
	histograms   []histogramBinding
	auditDropped metric.Int64ObservableCounter
	registration metric.Registration
}

// NewOTelExporter registers the instruments on meter and reads engine on
// every collection.
func NewOTelExporter(meter metric.Meter, engine *authority.Engine, opts ...Option) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine, opts...)
}

// NewOTelExporterFromSource is NewOTelExporter over any snapshot source.
func NewOTelExporterFromSource(meter metric.Meter, source metricsSource, opts ...Option) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	e := &OTelExporter{
		source: source,
		common: metric.WithAttributeSet(attribute.NewSet(o.attrs...)),
	}
	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, counterBinding{id: def.ID, ins: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		b := histogramBinding{id: def.ID}
		var err error
		if b.buckets, err = meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."),
			metric.WithUnit("{call}"),
		); err != nil {
			return nil, fmt.Errorf("create histogram %s: %w", def.Name, err)
		}
		if b.count, err = meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription(def.Help+" Total samples."),
			metric.WithUnit("{call}"),
		); err != nil {
			return nil, fmt.Errorf("create histogram count %s: %w", def.Name, err)
		}
		for i, le := range internaldefs.HistogramBounds {
			attrs := append([]attribute.KeyValue{BoundKey.String(le)}, o.attrs...)
			b.bounds[i] = metric.WithAttributeSet(attribute.NewSet(attrs...))
		}
		e.histograms = append(e.histograms, b)
		observables = append(observables, b.buckets, b.count)
	}

	dropped, err := meter.Int64ObservableCounter("authority_audit_dropped_total",
		metric.WithDescription("Audit events dropped because the dispatcher buffer was full."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	e.auditDropped = dropped
	observables = append(observables, dropped)

	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.ins, int64(snap.Counters[c.id]), e.common)
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[h.id]))
		for i, v := range cumulative {
			o.ObserveInt64(h.buckets, int64(v), h.bounds[i])
		}
		o.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]), e.common)
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()), e.common)
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
