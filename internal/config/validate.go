// Package config provides configuration models and helpers for export runs.
//
// This file adds a lightweight linter/validator for Export values. It
// performs static checks and returns a list of issues (errors and warnings)
// that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding that is surfaced but does not block.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is a dotted path into the config (e.g. "tables.groups[1].pattern").
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var (
	knownBackends    = map[string]struct{}{"": {}, "auto": {}, "gpkg": {}, "postgis": {}, "layerdir": {}}
	knownSinks       = map[string]struct{}{"sqlite": {}, "postgres": {}, "mssql": {}, "mysql": {}}
	knownCompression = map[string]struct{}{"": {}, "none": {}, "gzip": {}, "zstd": {}}
)

// ValidateExport performs static validation of an Export. It does not mutate
// the value.
func ValidateExport(e Export) []Issue {
	var issues []Issue

	if strings.TrimSpace(e.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "job",
			Message:  "job is empty; metrics will be labeled with a generic job name",
		})
	}
	if strings.TrimSpace(e.Source.Path) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.path",
			Message:  "source.path must not be empty (set it in the config file or GDB_PATH)",
		})
	}
	if _, ok := knownBackends[e.Backend.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "backend.kind",
			Message:  fmt.Sprintf("unknown backend kind %q; use auto, gpkg, postgis or layerdir", e.Backend.Kind),
		})
	}
	issues = append(issues, validateTables(e.Tables)...)
	issues = append(issues, validateOutput(e.Output)...)
	issues = append(issues, validateSink(e.Sink)...)
	issues = append(issues, validatePublish(e.Publish)...)
	return issues
}

func validateTables(t Tables) []Issue {
	var issues []Issue

	if len(t.Groups) == 0 {
		if strings.TrimSpace(t.Pattern) == "" {
			return append(issues, Issue{
				Severity: SeverityError,
				Path:     "tables",
				Message:  "either tables.pattern or tables.groups must be set",
			})
		}
		re, err := regexp.Compile(t.Pattern)
		if err != nil {
			return append(issues, Issue{
				Severity: SeverityError,
				Path:     "tables.pattern",
				Message:  fmt.Sprintf("invalid regular expression: %v", err),
			})
		}
		if re.NumSubexp() < 2 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "tables.pattern",
				Message:  "pattern needs two capture groups (resolution, part)",
			})
		}
		return issues
	}

	seen := map[int]struct{}{}
	for i, g := range t.Groups {
		p := fmt.Sprintf("tables.groups[%d]", i)
		if g.Resolution < 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     p + ".resolution",
				Message:  "resolution must not be negative",
			})
		}
		if _, dup := seen[g.Resolution]; dup {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     p + ".resolution",
				Message:  fmt.Sprintf("resolution %d listed twice; groups must not mix", g.Resolution),
			})
		}
		seen[g.Resolution] = struct{}{}
		if strings.TrimSpace(g.Pattern) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     p + ".pattern",
				Message:  "pattern must not be empty",
			})
			continue
		}
		if _, err := path.Match(g.Pattern, ""); err != nil {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     p + ".pattern",
				Message:  fmt.Sprintf("invalid glob: %v", err),
			})
		}
	}
	return issues
}

func validateOutput(o Output) []Issue {
	var issues []Issue
	if strings.TrimSpace(o.Dir) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "output.dir",
			Message:  "output.dir must not be empty",
		})
	}
	if _, ok := knownCompression[o.Compression]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "output.compression",
			Message:  fmt.Sprintf("unknown compression %q; use none, gzip or zstd", o.Compression),
		})
	}
	for i, r := range o.Resolutions {
		if r < 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("output.resolutions[%d]", i),
				Message:  "resolution must not be negative",
			})
		}
	}
	return issues
}

func validateSink(s Sink) []Issue {
	if !s.Enabled() {
		return nil
	}
	var issues []Issue
	if _, ok := knownSinks[s.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "sink.kind",
			Message:  fmt.Sprintf("unknown sink kind %q; ensure a matching backend is registered", s.Kind),
		})
	}
	if strings.TrimSpace(s.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "sink.dsn",
			Message:  "sink.dsn must not be empty when sink.kind is set",
		})
	}
	if strings.TrimSpace(s.Table) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "sink.table",
			Message:  "sink.table must not be empty when sink.kind is set",
		})
	}
	if s.BatchSize <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "sink.batch_size",
			Message:  fmt.Sprintf("batch_size=%d; a default of 5000 is used", s.BatchSize),
		})
	}
	return issues
}

func validatePublish(p Publish) []Issue {
	if !p.Enabled() {
		return nil
	}
	var issues []Issue
	if strings.TrimSpace(p.Region) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "publish.region",
			Message:  "publish.region is empty; the AWS default chain decides (use \"auto\" for R2)",
		})
	}
	if p.UsePathStyle && strings.TrimSpace(p.Endpoint) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "publish.use_path_style",
			Message:  "path-style addressing is usually only needed with a custom endpoint",
		})
	}
	if (p.AccessKeyID == "") != (p.SecretAccessKey == "") {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "publish.access_key_id",
			Message:  "access_key_id and secret_access_key must be set together",
		})
	}
	return issues
}
