// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter, gauge, and histogram the pipeline exposes
// (spec.md §8 testable properties rely on several of these). Metrics is safe
// for concurrent use; each stage runner holds a shared *Metrics instance.
type Metrics struct {
	reg *prometheus.Registry

	URLsDiscoveredTotal   prometheus.Counter
	URLsValidatedTotal     prometheus.Counter
	URLsEnrichedTotal      *prometheus.CounterVec // labeled by outcome: ok|error
	FetchErrorsTotal       *prometheus.CounterVec // labeled by class
	RetryAttemptsTotal     prometheus.Counter

	ValidationLatency prometheus.Histogram
	EnrichmentLatency prometheus.Histogram

	QueueDepth          prometheus.Gauge
	ActiveWorkers       prometheus.Gauge
	AdmissionLimit      prometheus.Gauge
	DomainChurnRate     *prometheus.GaugeVec // labeled by domain
	LinkGraphNodes      prometheus.Gauge
	LinkGraphEdges      prometheus.Gauge
	CheckpointWritesOK  prometheus.Counter
	CheckpointWritesErr prometheus.Counter
}

// NewMetrics constructs and registers every metric against a fresh registry
// (never the global default), so multiple pipeline runs inside one process
// — as the test suite does — never collide on duplicate registration.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		URLsDiscoveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawlpipe_urls_discovered_total",
			Help: "Total URLs written to the discovery record log.",
		}),
		URLsValidatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawlpipe_urls_validated_total",
			Help: "Total URLs written to the validation record log.",
		}),
		URLsEnrichedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawlpipe_urls_enriched_total",
			Help: "Total URLs written to the enrichment record log, by outcome.",
		}, []string{"outcome"}),
		FetchErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawlpipe_fetch_errors_total",
			Help: "Total fetch failures, by error class.",
		}, []string{"class"}),
		RetryAttemptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawlpipe_retry_attempts_total",
			Help: "Total retry attempts issued by the validation and enrichment runners.",
		}),
		ValidationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawlpipe_validation_latency_seconds",
			Help:    "HEAD/GET round-trip latency observed by the validation runner.",
			Buckets: prometheus.DefBuckets,
		}),
		EnrichmentLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "crawlpipe_enrichment_latency_seconds",
			Help:    "fetch+parse+analyze latency observed by the enrichment runner.",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawlpipe_queue_depth",
			Help: "Current depth of the in-flight work queue for the active stage.",
		}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawlpipe_active_workers",
			Help: "Number of worker goroutines currently holding an admission slot.",
		}),
		AdmissionLimit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawlpipe_admission_limit",
			Help: "Current AIMD-controlled concurrency limit.",
		}),
		DomainChurnRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawlpipe_domain_churn_rate",
			Help: "content_changed_count / validation_count, per domain.",
		}, []string{"domain"}),
		LinkGraphNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawlpipe_link_graph_nodes",
			Help: "Number of nodes currently in the link graph store.",
		}),
		LinkGraphEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawlpipe_link_graph_edges",
			Help: "Number of edges currently in the link graph store.",
		}),
		CheckpointWritesOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawlpipe_checkpoint_writes_total",
			Help: "Total successful checkpoint writes.",
		}),
		CheckpointWritesErr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawlpipe_checkpoint_write_errors_total",
			Help: "Total failed checkpoint write attempts.",
		}),
	}
	reg.MustRegister(
		m.URLsDiscoveredTotal, m.URLsValidatedTotal, m.URLsEnrichedTotal,
		m.FetchErrorsTotal, m.RetryAttemptsTotal, m.ValidationLatency,
		m.EnrichmentLatency, m.QueueDepth, m.ActiveWorkers, m.AdmissionLimit,
		m.DomainChurnRate, m.LinkGraphNodes, m.LinkGraphEdges,
		m.CheckpointWritesOK, m.CheckpointWritesErr,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ServeBackground starts a tiny HTTP server exposing /metrics on addr, the
// same "dedicated metrics endpoint" shape the teacher's churn telemetry
// offers via Config.MetricsAddr. It returns immediately; ListenAndServe
// errors are swallowed since a dead metrics endpoint must never take the
// pipeline down with it.
func (m *Metrics) ServeBackground(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
