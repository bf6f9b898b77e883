// Package prompush pushes export metrics to a Prometheus Pushgateway.
//
// An export is a short batch job, so nothing is scraped: collectors live in a
// private registry and the whole registry is pushed once when the run ends.
// The job becomes the Pushgateway grouping key, so the "job" label of each
// measurement is dropped; all other labels come from metrics.Descriptors.
package prompush

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"gdbexport/internal/metrics"
)

// stepBuckets spans sub-second locate steps up to multi-minute reads of
// large resolution groups.
var stepBuckets = prometheus.ExponentialBuckets(0.05, 4, 8)

// Config configures the backend.
type Config struct {
	GatewayURL string
	Job        string

	// Grouping adds grouping labels besides job, e.g. {"instance": host}.
	Grouping map[string]string
}

// Backend is a metrics.Backend over a Pushgateway.
type Backend struct {
	cfg        Config
	reg        *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	labels     map[string][]string
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend registers one collector per metrics.Descriptor.
func NewBackend(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.GatewayURL) == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if cfg.Job == "" {
		cfg.Job = "gdbexport"
	}
	b := &Backend{
		cfg:        cfg,
		reg:        prometheus.NewRegistry(),
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
		labels:     map[string][]string{},
	}
	for _, d := range metrics.Descriptors {
		var c prometheus.Collector
		if d.Timing {
			h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: d.Name, Help: d.Help, Buckets: stepBuckets}, d.Labels)
			b.histograms[d.Name] = h
			c = h
		} else {
			cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: d.Name, Help: d.Help}, d.Labels)
			b.counters[d.Name] = cv
			c = cv
		}
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", d.Name, err)
		}
		b.labels[d.Name] = d.Labels
	}
	return b, nil
}

// values orders labels as the collector of name declares them. A missing
// label becomes "".
func (b *Backend) values(name string, l metrics.Labels) []string {
	keys := b.labels[name]
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = l[k]
	}
	return out
}

// Add increments a counter. Unknown names are ignored.
func (b *Backend) Add(name string, delta float64, l metrics.Labels) {
	cv, ok := b.counters[name]
	if !ok || delta < 0 {
		return
	}
	cv.WithLabelValues(b.values(name, l)...).Add(delta)
}

// Observe records a duration. Unknown names are ignored.
func (b *Backend) Observe(name string, seconds float64, l metrics.Labels) {
	h, ok := b.histograms[name]
	if !ok {
		return
	}
	h.WithLabelValues(b.values(name, l)...).Observe(seconds)
}

// Flush replaces the job's group on the gateway with the registry content.
func (b *Backend) Flush() error {
	p := push.New(b.cfg.GatewayURL, b.cfg.Job).Gatherer(b.reg)
	for k, v := range b.cfg.Grouping {
		p = p.Grouping(k, v)
	}
	if err := p.Push(); err != nil {
		return fmt.Errorf("prompush: push to %s: %w", b.cfg.GatewayURL, err)
	}
	return nil
}
