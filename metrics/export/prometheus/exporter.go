package prometheus

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/mapvision/authority"
	"github.com/mapvision/authority/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() authority.MetricsSnapshot
	AuditDropped() uint64
}

// Option configures a PrometheusExporter.
type Option func(*PrometheusExporter)

// WithLabels adds constant labels to every sample. Arguments are name, value
// pairs; a trailing name without a value is ignored.
func WithLabels(pairs ...string) Option {
	return func(p *PrometheusExporter) {
		for i := 0; i+1 < len(pairs); i += 2 {
			p.labels = append(p.labels, label{name: pairs[i], value: pairs[i+1]})
		}
		sort.SliceStable(p.labels, func(a, b int) bool { return p.labels[a].name < p.labels[b].name })
	}
}

// PrometheusExporter renders engine metrics in the Prometheus text
// exposition format.
type PrometheusExporter struct {
	source metricsSource
	labels []label
}

// NewPrometheusExporter reads from engine on every scrape.
func NewPrometheusExporter(engine *authority.Engine, opts ...Option) *PrometheusExporter {
	return NewPrometheusExporterFromSource(engine, opts...)
}

// NewPrometheusExporterFromSource reads from any snapshot source.
func NewPrometheusExporterFromSource(source metricsSource, opts ...Option) *PrometheusExporter {
	p := &PrometheusExporter{source: source}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handler serves Render over HTTP.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(p.Render()))
	})
}

type label struct {
	name  string
	value string
}

type sample struct {
	suffix string
	le     string
	value  uint64
}

// family is one HELP/TYPE block and its samples.
type family struct {
	name    string
	help    string
	kind    string
	samples []sample
}

// Render formats the current snapshot. It returns "" while metrics are off
// and nothing was dropped.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	dropped := p.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(8192)
	for _, f := range families(snapshot, dropped) {
		p.writeFamily(&b, f)
	}
	return b.String()
}

func families(snapshot authority.MetricsSnapshot, dropped uint64) []family {
	out := make([]family, 0, len(internaldefs.CounterDefs)+len(internaldefs.HistogramDefs)+1)
	for _, def := range internaldefs.CounterDefs {
		out = append(out, family{
			name: def.Name, help: def.Help, kind: "counter",
			samples: []sample{{value: snapshot.Counters[def.ID]}},
		})
	}

	for _, def := range internaldefs.HistogramDefs {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID]))
		f := family{name: def.Name, help: def.Help, kind: "histogram"}
		for i, le := range internaldefs.HistogramBounds {
			f.samples = append(f.samples, sample{suffix: "_bucket", le: le, value: cumulative[i]})
		}
		// snapshots carry no sum
		f.samples = append(f.samples,
			sample{suffix: "_count", value: cumulative[len(cumulative)-1]},
			sample{suffix: "_sum"},
		)
		out = append(out, f)
	}

	return append(out, family{
		name: "authority_audit_dropped_total", kind: "counter",
		help:    "Audit events dropped because the dispatcher buffer was full.",
		samples: []sample{{value: dropped}},
	})
}

func (p *PrometheusExporter) writeFamily(b *strings.Builder, f family) {
	b.WriteString("# HELP " + f.name + " " + escapeHelp(f.help) + "\n")
	b.WriteString("# TYPE " + f.name + " " + f.kind + "\n")
	for _, s := range f.samples {
		b.WriteString(f.name)
		b.WriteString(s.suffix)
		p.writeLabels(b, s.le)
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(s.value, 10))
		b.WriteByte('\n')
	}
}

func (p *PrometheusExporter) writeLabels(b *strings.Builder, le string) {
	if len(p.labels) == 0 && le == "" {
		return
	}
	b.WriteByte('{')
	for i, l := range p.labels {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.name + `="` + escapeLabel(l.value) + `"`)
	}
	if le != "" {
		if len(p.labels) > 0 {
			b.WriteByte(',')
		}
		b.WriteString(`le="` + le + `"`)
	}
	b.WriteByte('}')
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	return strings.ReplaceAll(help, "\n", "\\n")
}

func escapeLabel(v string) string {
	v = escapeHelp(v)
	return strings.ReplaceAll(v, `"`, `\"`)
}
