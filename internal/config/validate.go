package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single validation finding. Path is the JSON path of the field.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks c for values that would make a run fail or misbehave.
// It does not dial any external system.
func Validate(c Config) []Issue {
	var out []Issue
	errf := func(path, format string, a ...any) {
		out = append(out, Issue{SeverityError, path, fmt.Sprintf(format, a...)})
	}
	warnf := func(path, format string, a ...any) {
		out = append(out, Issue{SeverityWarning, path, fmt.Sprintf(format, a...)})
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errf("timezone", "unknown time zone %q", c.Timezone)
	}
	if s := strings.TrimSpace(c.Schedule); s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			errf("schedule", "invalid cron expression: %v", err)
		}
	}

	switch u, err := url.Parse(c.Upstream.URL); {
	case strings.TrimSpace(c.Upstream.URL) == "":
		errf("upstream.url", "required")
	case err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "":
		errf("upstream.url", "must be an absolute http(s) URL")
	}
	if c.Upstream.Token == "" {
		warnf("upstream.token", "empty; set FUELSYNC_API_TOKEN")
	}
	if c.Upstream.MaxAttempts < 1 {
		errf("upstream.max_attempts", "must be >= 1")
	}
	if c.Upstream.RetryDelay < 0 {
		errf("upstream.retry_delay", "must not be negative")
	}
	if c.Upstream.Timeout <= 0 {
		errf("upstream.timeout", "must be positive")
	}

	switch c.Warehouse.Kind {
	case "postgres", "sqlite", "mssql":
	case "":
		errf("warehouse.kind", "required (postgres|sqlite|mssql)")
	default:
		errf("warehouse.kind", "unknown kind %q (postgres|sqlite|mssql)", c.Warehouse.Kind)
	}
	if strings.TrimSpace(c.Warehouse.DSN) == "" {
		errf("warehouse.dsn", "required")
	}
	if c.Warehouse.Kind == "sqlite" && c.Warehouse.Schema != "" {
		errf("warehouse.schema", "sqlite does not support schemas")
	}
	switch c.Warehouse.Sequence {
	case "counter":
	case "max_scan":
		warnf("warehouse.sequence", "max_scan reuses keys freed by re-runs")
	default:
		errf("warehouse.sequence", "unknown sequence %q (counter|max_scan)", c.Warehouse.Sequence)
	}

	switch c.Backup.Kind {
	case "none":
		warnf("backup.kind", "backups disabled")
	case "fs":
		if c.Backup.Dir == "" {
			errf("backup.dir", "required for kind fs")
		}
	case "gcs":
		if c.Backup.Bucket == "" {
			errf("backup.bucket", "required for kind gcs")
		}
	default:
		errf("backup.kind", "unknown kind %q (none|fs|gcs)", c.Backup.Kind)
	}
	if c.Backup.Retention < Duration(24*time.Hour) {
		errf("backup.retention", "must be at least 24h")
	}

	switch c.Lease.Kind {
	case "none":
		if c.Schedule != "" {
			warnf("lease.kind", "scheduled runs without a lease may overlap across replicas")
		}
	case "redis":
		if c.Lease.Addr == "" {
			errf("lease.addr", "required for kind redis")
		}
	default:
		errf("lease.kind", "unknown kind %q (none|redis)", c.Lease.Kind)
	}
	if c.Lease.TTL <= 0 {
		errf("lease.ttl", "must be positive")
	}

	switch c.Metrics.Backend {
	case "none", "noop", "datadog", "dd":
	default:
		errf("metrics.backend", "unknown backend %q (none|datadog)", c.Metrics.Backend)
	}

	switch c.Events.Kind {
	case "none":
	case "kafka":
		if len(c.Events.Brokers) == 0 {
			errf("events.brokers", "required for kind kafka")
		}
		if c.Events.Topic == "" {
			errf("events.topic", "required for kind kafka")
		}
	default:
		errf("events.kind", "unknown kind %q (none|kafka)", c.Events.Kind)
	}

	return out
}
