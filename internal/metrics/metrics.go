// Package metrics records what an export run did, per resolution group.
//
// The exporters talk to a Recorder bound to their job name. A Recorder turns
// each measurement into a named metric with labels and hands it to the
// installed Backend; the default backend drops everything, so recording is
// always safe. Concrete systems (Pushgateway, DogStatsD) live in subpackages.
//
// Every metric carries a "resolution" label: "res5", "res7", ... for work done
// on one group, "all" for run-level steps (open, locate, manifest, publish).
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Metric names.
const (
	StepTotal    = "export_step_total"
	StepSeconds  = "export_step_duration_seconds"
	RecordsTotal = "export_records_total"
	TablesTotal  = "export_tables_total"
	FilesTotal   = "export_files_written_total"
	BatchesTotal = "export_sink_batches_total"
)

// AllResolutions marks a run-level measurement.
const AllResolutions = -1

// Labels are string key/value pairs attached to a measurement. The "job"
// label is always present; backends that group by job may drop it.
type Labels map[string]string

// Descriptor describes one metric the exporters emit.
type Descriptor struct {
	Name   string
	Help   string
	Labels []string // excluding "job"
	Timing bool     // observed in seconds rather than counted
}

// Descriptors lists every metric a Recorder can emit. Backends that need a
// schema up front build their collectors from it.
var Descriptors = []Descriptor{
	{Name: StepTotal, Help: "Export steps executed, by step, outcome and resolution.", Labels: []string{"step", "status", "resolution"}},
	{Name: StepSeconds, Help: "Export step duration in seconds, by step and outcome.", Labels: []string{"step", "status"}, Timing: true},
	{Name: RecordsTotal, Help: "Records per resolution and kind (read, dropped_empty_h3, exported, loaded).", Labels: []string{"kind", "resolution"}},
	{Name: TablesTotal, Help: "Source tables per resolution and outcome (read, missing).", Labels: []string{"outcome", "resolution"}},
	{Name: FilesTotal, Help: "Output files written per resolution.", Labels: []string{"resolution"}},
	{Name: BatchesTotal, Help: "Batches bulk-loaded into the sink per resolution.", Labels: []string{"resolution"}},
}

// Backend receives measurements.
type Backend interface {
	Add(name string, delta float64, labels Labels)
	Observe(name string, seconds float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) Add(string, float64, Labels)     {}
func (nopBackend) Observe(string, float64, Labels) {}
func (nopBackend) Flush() error                    { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. Nil keeps the current backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush flushes the installed backend.
func Flush() error { return current().Flush() }

// ResolutionLabel renders res for the "resolution" label.
func ResolutionLabel(res int) string {
	if res < 0 {
		return "all"
	}
	return "res" + strconv.Itoa(res)
}

// Recorder stamps measurements with a job name.
type Recorder struct {
	job string
}

// For returns the Recorder of job.
func For(job string) Recorder { return Recorder{job: job} }

// Job returns the job name.
func (r Recorder) Job() string { return r.job }

func (r Recorder) labels(res int, kv ...string) Labels {
	l := Labels{"job": r.job, "resolution": ResolutionLabel(res)}
	for i := 0; i+1 < len(kv); i += 2 {
		l[kv[i]] = kv[i+1]
	}
	return l
}

// Step records one execution of step for res with its outcome and duration.
func (r Recorder) Step(step string, res int, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	b := current()
	b.Add(StepTotal, 1, r.labels(res, "step", step, "status", status))
	b.Observe(StepSeconds, d.Seconds(), Labels{"job": r.job, "step": step, "status": status})
}

// Records counts n records of kind for res. Non-positive n is ignored.
func (r Recorder) Records(res int, kind string, n int64) {
	if n <= 0 {
		return
	}
	current().Add(RecordsTotal, float64(n), r.labels(res, "kind", kind))
}

// Tables counts n source tables of res with outcome "read" or "missing".
func (r Recorder) Tables(res int, outcome string, n int) {
	if n <= 0 {
		return
	}
	current().Add(TablesTotal, float64(n), r.labels(res, "outcome", outcome))
}

// Files counts n output files written for res.
func (r Recorder) Files(res int, n int) {
	if n <= 0 {
		return
	}
	current().Add(FilesTotal, float64(n), r.labels(res))
}

// Batches counts n sink batches loaded for res.
func (r Recorder) Batches(res int, n int64) {
	if n <= 0 {
		return
	}
	current().Add(BatchesTotal, float64(n), r.labels(res))
}
