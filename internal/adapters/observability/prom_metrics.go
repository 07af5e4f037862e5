package observability

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sargonas/meshcord/internal/domain"
	"github.com/sargonas/meshcord/internal/ports"
)

// PromObs implements the observability port with slog for logs and a
// private Prometheus registry for metrics. The core series are registered
// up front; per-link series (state gauges carry the link tag in the metric
// name) register themselves on first use.
type PromObs struct {
	logger *slog.Logger
	reg    *prometheus.Registry

	mu       sync.Mutex
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewPromObs(logger *slog.Logger) *PromObs {
	if logger == nil {
		logger = slog.Default()
	}

	reg := prometheus.NewRegistry()
	p := &PromObs{
		logger:   logger,
		reg:      reg,
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
		histos:   make(map[string]prometheus.Observer),
	}

	counters := map[string]string{
		"meshcord_packets_received_total":   "Packets handed to the pipeline by all links.",
		"meshcord_messages_forwarded_total": "Messages delivered to the forwarder.",
		"meshcord_messages_duplicate_total": "Packets dropped as already-seen fingerprints.",
		"meshcord_messages_filtered_total":  "Packets dropped by kind filters.",
		"meshcord_deadletter_total":         "Deliveries abandoned after retry exhaustion.",
		"meshcord_records_pruned_total":     "Dedup records removed by the retention sweep.",
		"meshcord_queue_dropped_total":      "Deliveries lost to queue backpressure policies.",
		"meshcord_registry_updates_total":   "Node identity upserts applied to the registry.",
	}
	for name, help := range counters {
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
		reg.MustRegister(c)
		p.counters[name] = c
	}

	queueLen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "meshcord_queue_length",
		Help: "Deliveries buffered in the in-memory queue.",
	})
	reg.MustRegister(queueLen)
	p.gauges["meshcord_queue_length"] = queueLen

	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "meshcord_delivery_latency_seconds",
		Help:    "Time from enqueue to forwarder acknowledgement.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	reg.MustRegister(latency)
	p.histos["meshcord_delivery_latency_seconds"] = latency

	return p
}

// Registry exposes the private registry for the metrics listener.
func (p *PromObs) Registry() *prometheus.Registry { return p.reg }

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.logger.Info(msg, fieldArgs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(fieldArgs(fields), "error", err)...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(fieldArgs(fields), "error", err, "severity", "critical")...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	p.counter(name).Add(v)
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	p.mu.Lock()
	h, ok := p.histos[name]
	p.mu.Unlock()
	if ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	p.gauge(name).Set(v)
}

func (p *PromObs) RecordDLQ(d *domain.Delivery, err error) {
	p.IncCounter("meshcord_deadletter_total", 1)
	p.logger.Error("delivery dead-lettered",
		"fingerprint", string(d.Fingerprint),
		"link", d.LinkTag,
		"kind", d.Kind,
		"error", err,
	)
}

func (p *PromObs) counter(name string) prometheus.Counter {
	name = metricName(name)
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "Registered on first use."})
	p.reg.MustRegister(c)
	p.counters[name] = c
	return c
}

func (p *PromObs) gauge(name string) prometheus.Gauge {
	name = metricName(name)
	p.mu.Lock()
	defer p.mu.Unlock()
	if g, ok := p.gauges[name]; ok {
		return g
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: "Registered on first use."})
	p.reg.MustRegister(g)
	p.gauges[name] = g
	return g
}

// metricName squeezes arbitrary link tags into the Prometheus charset.
func metricName(s string) string {
	out := []byte(s)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == ':':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

func fieldArgs(fields []ports.Field) []any {
	args := make([]any, 0, len(fields)*2+4)
	for _, f := range fields {
		args = append(args, f.Key, f.Value)
	}
	return args
}

var _ ports.Observability = (*PromObs)(nil)
