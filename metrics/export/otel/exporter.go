package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrEthical07/credguard"
	"github.com/MrEthical07/credguard/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Attribute keys attached to every observation.
const (
	EventKey   = attribute.Key("credguard.event")
	BoundKey   = attribute.Key("le")
	OutcomeKey = attribute.Key("credguard.outcome")
)

// Source is what the exporter reads. *credguard.Engine satisfies it.
type Source interface {
	MetricsSnapshot() credguard.MetricsSnapshot
	AuditDropped() uint64
	AuditInlined() uint64
}

// FamilyInstrumentName is the counter carrying every event of family.
func FamilyInstrumentName(family internaldefs.Family) string {
	return internaldefs.Namespace + "." + string(family) + ".events"
}

type familyPoint struct {
	id   credguard.MetricID
	attr metric.ObserveOption
}

type familyCounter struct {
	instrument metric.Int64ObservableCounter
	points     []familyPoint
}

type latencyGauge struct {
	id      credguard.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
	bounds  [internaldefs.BucketCount]metric.ObserveOption
}

type Exporter struct {
	source       Source
	registration metric.Registration
	families     []familyCounter
	latencies    []latencyGauge
	audit        metric.Int64ObservableCounter
	dropped      metric.ObserveOption
	inlined      metric.ObserveOption
}

// NewExporter registers one counter per event family plus the latency and
// audit instruments on meter. Call Close to unregister the callback.
func NewExporter(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &Exporter{
		source:  source,
		dropped: metric.WithAttributeSet(attribute.NewSet(OutcomeKey.String("dropped"))),
		inlined: metric.WithAttributeSet(attribute.NewSet(OutcomeKey.String("inlined"))),
	}
	var observables []metric.Observable

	byFamily := make(map[internaldefs.Family][]familyPoint, len(internaldefs.Families))
	for _, def := range internaldefs.CounterDefs {
		byFamily[def.Family] = append(byFamily[def.Family], familyPoint{
			id:   def.ID,
			attr: metric.WithAttributeSet(attribute.NewSet(EventKey.String(def.ID.String()))),
		})
	}
	for _, family := range internaldefs.Families {
		name := FamilyInstrumentName(family)
		ins, err := meter.Int64ObservableCounter(name,
			metric.WithDescription("credguard "+string(family)+" events by "+string(EventKey)+"."),
			metric.WithUnit("{event}"),
		)
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", name, err)
		}
		exporter.families = append(exporter.families, familyCounter{instrument: ins, points: byFamily[family]})
		observables = append(observables, ins)
	}

	bounds := internaldefs.UpperBounds()
	for _, def := range internaldefs.HistogramDefs {
		g := latencyGauge{id: def.ID}
		for i := range g.bounds {
			le := "+Inf"
			if i < len(bounds) {
				le = fmt.Sprint(bounds[i])
			}
			g.bounds[i] = metric.WithAttributeSet(attribute.NewSet(BoundKey.String(le)))
		}

		var err error
		g.buckets, err = meter.Int64ObservableGauge(def.Name+".bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."),
			metric.WithUnit("{sample}"),
		)
		if err != nil {
			return nil, fmt.Errorf("create histogram bucket gauge %s: %w", def.Name, err)
		}
		g.count, err = meter.Int64ObservableGauge(def.Name+".count",
			metric.WithDescription(def.Help+" Total samples."),
			metric.WithUnit("{sample}"),
		)
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s: %w", def.Name, err)
		}
		exporter.latencies = append(exporter.latencies, g)
		observables = append(observables, g.buckets, g.count)
	}

	audit, err := meter.Int64ObservableCounter(internaldefs.Namespace+".audit.events",
		metric.WithDescription("Audit events that bypassed the dispatcher queue, by "+string(OutcomeKey)+"."),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit counter: %w", err)
	}
	exporter.audit = audit
	observables = append(observables, audit)

	registration, err := meter.RegisterCallback(exporter.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

func (e *Exporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, f := range e.families {
		for _, p := range f.points {
			observer.ObserveInt64(f.instrument, int64(snapshot.Counters[p.id]), p.attr)
		}
	}
	for _, g := range e.latencies {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[g.id]))
		for i, v := range cumulative {
			observer.ObserveInt64(g.buckets, int64(v), g.bounds[i])
		}
		observer.ObserveInt64(g.count, int64(cumulative[len(cumulative)-1]))
	}
	observer.ObserveInt64(e.audit, int64(e.source.AuditDropped()), e.dropped)
	observer.ObserveInt64(e.audit, int64(e.source.AuditInlined()), e.inlined)
	return nil
}

func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
