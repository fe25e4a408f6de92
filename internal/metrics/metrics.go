// Shoal is a Redfish aggregator service.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package metrics exposes the process-wide Prometheus registry and the
// counters/histograms for feed fetches, upserts, run durations, dispatcher
// queue depth, and garbage collection.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	fetchRequests    *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	fetchRetries     *prometheus.CounterVec
	upsertOutcomes   *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	gcRowsDeleted    *prometheus.CounterVec
	dispatcherQueue  prometheus.Gauge
	dispatcherActive prometheus.Gauge
)

// Outcomes used as the "outcome" label on upsert_outcomes_total.
const (
	OutcomeAdded     = "added"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all metrics collectors. Primarily used by
// tests to ensure clean state between table-driven cases.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

// Handler returns an HTTP handler that exposes metrics in Prometheus format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveFetch records a completed feed fetch attempt. code should be the
// HTTP status code; use a negative value for transport-level errors.
func ObserveFetch(source string, code int, duration time.Duration) {
	labelSource := sanitizeLabel(source, "unknown")
	status := "error"
	if code >= 0 {
		status = strconv.Itoa(code)
	}

	mu.RLock()
	defer mu.RUnlock()
	if fetchRequests != nil {
		fetchRequests.WithLabelValues(labelSource, status).Inc()
	}
	if fetchDuration != nil {
		fetchDuration.WithLabelValues(labelSource).Observe(durationSeconds(duration))
	}
}

// IncFetchRetry increments the retry counter for a given feed source.
func IncFetchRetry(source string) {
	label := sanitizeLabel(source, "unknown")
	mu.RLock()
	defer mu.RUnlock()
	if fetchRetries != nil {
		fetchRetries.WithLabelValues(label).Inc()
	}
}

// IncUpsertOutcome increments the upsert outcome counter.
func IncUpsertOutcome(outcome string) {
	label := sanitizeLabel(outcome, "unknown")
	mu.RLock()
	defer mu.RUnlock()
	if upsertOutcomes != nil {
		upsertOutcomes.WithLabelValues(label).Inc()
	}
}

// ObserveRunDuration records a terminal run's wall-clock duration.
func ObserveRunDuration(status string, duration time.Duration) {
	label := sanitizeLabel(status, "unknown")
	mu.RLock()
	defer mu.RUnlock()
	if runDuration != nil {
		runDuration.WithLabelValues(label).Observe(durationSeconds(duration))
	}
}

// IncGCRowsDeleted adds n to the rows-deleted counter for the given table.
func IncGCRowsDeleted(table string, n int) {
	if n <= 0 {
		return
	}
	label := sanitizeLabel(table, "unknown")
	mu.RLock()
	defer mu.RUnlock()
	if gcRowsDeleted != nil {
		gcRowsDeleted.WithLabelValues(label).Add(float64(n))
	}
}

// SetDispatcherQueueDepth reports the current number of queued dispatch rows.
func SetDispatcherQueueDepth(n int) {
	mu.RLock()
	defer mu.RUnlock()
	if dispatcherQueue != nil {
		dispatcherQueue.Set(float64(n))
	}
}

// SetDispatcherActive reports the current number of in-flight tenant runs.
func SetDispatcherActive(n int) {
	mu.RLock()
	defer mu.RUnlock()
	if dispatcherActive != nil {
		dispatcherActive.Set(float64(n))
	}
}

func resetLocked() {
	registry := prometheus.NewRegistry()

	reqTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobfeed",
		Subsystem: "ingest",
		Name:      "fetch_requests_total",
		Help:      "Total feed fetch attempts grouped by source and outcome/status code.",
	}, []string{"source", "code"})

	reqDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jobfeed",
		Subsystem: "ingest",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of feed fetch requests by source.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 90},
	}, []string{"source"})

	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobfeed",
		Subsystem: "ingest",
		Name:      "fetch_retries_total",
		Help:      "Total number of feed fetch retries by source.",
	}, []string{"source"})

	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobfeed",
		Subsystem: "ingest",
		Name:      "upsert_outcomes_total",
		Help:      "Total upsert outcomes (added/updated/unchanged/error).",
	}, []string{"outcome"})

	runHist := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jobfeed",
		Subsystem: "ingest",
		Name:      "run_duration_seconds",
		Help:      "Duration of tenant fetch runs by terminal status.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"status"})

	gcDeleted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jobfeed",
		Subsystem: "gc",
		Name:      "rows_deleted_total",
		Help:      "Total rows deleted by the garbage collector, grouped by table.",
	}, []string{"table"})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jobfeed",
		Subsystem: "dispatcher",
		Name:      "queue_depth",
		Help:      "Current number of queued dispatch rows.",
	})

	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jobfeed",
		Subsystem: "dispatcher",
		Name:      "active_runs",
		Help:      "Current number of in-flight tenant runs.",
	})

	registry.MustRegister(reqTotal, reqDuration, retries, outcomes, runHist, gcDeleted, queueDepth, active)

	reg = registry
	fetchRequests = reqTotal
	fetchDuration = reqDuration
	fetchRetries = retries
	upsertOutcomes = outcomes
	runDuration = runHist
	gcRowsDeleted = gcDeleted
	dispatcherQueue = queueDepth
	dispatcherActive = active
}

func sanitizeLabel(v string, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	var b strings.Builder
	for _, r := range v {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ':' || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func durationSeconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}
