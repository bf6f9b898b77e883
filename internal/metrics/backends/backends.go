// Package backends installs the metrics backend selected on the command line.
package backends

import (
	"log"
	"os"
	"strings"

	"gdbexport/internal/metrics"
	"gdbexport/internal/metrics/datadog"
	"gdbexport/internal/metrics/prompush"
)

// Options selects and configures a backend. Empty fields fall back to the
// METRICS_BACKEND, PUSHGATEWAY_URL and DD_DOGSTATSD_ADDR environment
// variables, then to local defaults.
type Options struct {
	Backend        string // pushgateway, datadog, none
	Job            string
	PushgatewayURL string
	DogStatsDAddr  string
	Verbose        bool
}

const (
	defaultPushgatewayURL = "http://localhost:9091"
	defaultDogStatsDAddr  = "127.0.0.1:8125"
)

// Install sets the global metrics backend and returns the function that
// flushes it at the end of the run. Init failures are logged and leave the
// nop backend in place; the returned func is never nil.
func Install(o Options) func() {
	name := firstNonEmpty(o.Backend, os.Getenv("METRICS_BACKEND"))
	job := firstNonEmpty(o.Job, "gdbexport")

	var (
		b   metrics.Backend
		err error
	)
	switch strings.ToLower(name) {
	case "pushgateway":
		url := firstNonEmpty(o.PushgatewayURL, os.Getenv("PUSHGATEWAY_URL"), defaultPushgatewayURL)
		cfg := prompush.Config{GatewayURL: url, Job: job}
		if host, herr := os.Hostname(); herr == nil && host != "" {
			cfg.Grouping = map[string]string{"instance": host}
		}
		b, err = prompush.NewBackend(cfg)
		if err == nil {
			log.Printf("metrics: url=%v, backend=%v, job_name=%v", url, name, job)
		}
	case "datadog":
		addr := firstNonEmpty(o.DogStatsDAddr, os.Getenv("DD_DOGSTATSD_ADDR"), defaultDogStatsDAddr)
		b, err = datadog.NewBackend(datadog.Config{
			Addr:      addr,
			Namespace: "gdbexport.",
		})
		if err == nil {
			log.Printf("metrics: addr=%v, backend=%v, job_name=%v", addr, name, job)
		}
	case "", "none":
		if o.Verbose {
			log.Printf("metrics: disabled (backend=%q)", name)
		}
		return func() {}
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", name)
		return func() {}
	}
	if err != nil {
		log.Printf("metrics: failed to init %s backend: %v; using nop", name, err)
		return func() {}
	}

	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
