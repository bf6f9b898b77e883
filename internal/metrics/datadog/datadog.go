// Package datadog sends export metrics to a DogStatsD agent. Labels become
// "key:value" tags, counters become counts and step durations become
// distributions, so percentiles are computed server-side across runs.
package datadog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/DataDog/datadog-go/v5/statsd"

	"gdbexport/internal/metrics"
)

// Config holds the agent address and what is added to every metric.
type Config struct {
	// Addr is "host:port" or "unix:///path/to/dsd.socket".
	Addr string

	// Namespace prefixes every metric name, e.g. "gdbexport.".
	Namespace string

	// Tags are sent with every metric, e.g. "env:prod".
	Tags []string
}

// client is the part of *statsd.Client the backend uses.
type client interface {
	Count(name string, value int64, tags []string, rate float64) error
	Distribution(name string, value float64, tags []string, rate float64) error
	Close() error
}

// Backend is a metrics.Backend over DogStatsD.
type Backend struct {
	client client
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend creates the statsd client. The agent is not contacted; UDP
// sends are fire-and-forget.
func NewBackend(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("datadog: agent address is required")
	}
	opts := []statsd.Option{statsd.WithoutTelemetry()}
	if cfg.Namespace != "" {
		opts = append(opts, statsd.WithNamespace(cfg.Namespace))
	}
	if len(cfg.Tags) > 0 {
		opts = append(opts, statsd.WithTags(cfg.Tags))
	}
	c, err := statsd.New(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("datadog: create client for %s: %w", cfg.Addr, err)
	}
	return &Backend{client: c}, nil
}

// Add sends a count. Record and file counts are whole numbers.
func (b *Backend) Add(name string, delta float64, l metrics.Labels) {
	_ = b.client.Count(name, int64(delta), tags(l), 1)
}

// Observe sends a distribution sample.
func (b *Backend) Observe(name string, seconds float64, l metrics.Labels) {
	_ = b.client.Distribution(name, seconds, tags(l), 1)
}

// Flush closes the client, which flushes buffered metrics. The backend is
// unusable afterwards; the exporters flush once per process.
func (b *Backend) Flush() error {
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("datadog: flush: %w", err)
	}
	return nil
}

// tags renders labels as sorted "key:value" tags, skipping empty values.
func tags(l metrics.Labels) []string {
	if len(l) == 0 {
		return nil
	}
	out := make([]string, 0, len(l))
	for k, v := range l {
		if v == "" {
			continue
		}
		out = append(out, k+":"+v)
	}
	sort.Strings(out)
	return out
}
