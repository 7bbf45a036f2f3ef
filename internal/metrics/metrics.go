// Package metrics is the backend-agnostic metrics facade used by the sync job.
//
// Core packages only call the Record* helpers; the entrypoint decides which
// Backend (none, datadog) receives them via SetBackend.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Metric names. Backends switch on these; unknown names are ignored.
const (
	StepTotal           = "fuelsync_step_total"
	StepDurationSeconds = "fuelsync_step_duration_seconds"
	RowsTotal           = "fuelsync_rows_total"

	HTTPRequestsTotal           = "fuelsync_http_requests_total"
	HTTPErrorsTotal             = "fuelsync_http_errors_total"
	HTTPRequestDurationSeconds  = "fuelsync_http_request_duration_seconds"
	HTTPResponseDurationSeconds = "fuelsync_http_response_duration_seconds"
	HTTPDownloadBytes           = "fuelsync_http_download_bytes"
)

// Labels are metric dimensions (e.g. step=synchronize, status=ok).
type Labels map[string]string

// Backend receives metric observations.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. nil restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush asks the current backend to submit anything it buffered.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one pipeline step and observes its duration.
func RecordStep(job, step, status string, d time.Duration) {
	l := Labels{"job": job, "step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRows counts rows by table and action (inserted, updated, unchanged, deleted).
func RecordRows(job, table, action string, n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(n), Labels{"job": job, "table": table, "action": action})
}

// RecordHTTP records one upstream HTTP attempt.
//
// status 0 means no response was received (transport error).
func RecordHTTP(job string, status int, err error, reqDur, respDur time.Duration, bytes int64) {
	st := "error"
	if status > 0 {
		st = strconv.Itoa(status)
	}
	l := Labels{"job": job, "status": st}

	b := current()
	b.IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || status >= 400 || status == 0 {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	b.ObserveHistogram(HTTPRequestDurationSeconds, reqDur.Seconds(), l)
	if respDur > 0 {
		b.ObserveHistogram(HTTPResponseDurationSeconds, respDur.Seconds(), l)
	}
	if bytes > 0 {
		b.ObserveHistogram(HTTPDownloadBytes, float64(bytes), l)
	}
}
