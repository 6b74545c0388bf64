// Copyright (C) 2025 the AnomView authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability holds the viewer's Prometheus metrics and the OTLP
// trace exporter setup.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the pre-defined metrics for the viewer service. All
// metrics use the "anomview" namespace.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- Ingest Metrics ---

	// IngestBatchesTotal counts accepted ingest batches by outcome.
	IngestBatchesTotal *prometheus.CounterVec

	// IngestRowsTotal counts rows written by the pipeline.
	IngestRowsTotal prometheus.Counter

	// IngestDuration records per-batch pipeline duration in seconds.
	IngestDuration prometheus.Histogram

	// IngestDroppedTotal counts batches rejected by a full worker queue.
	IngestDroppedTotal prometheus.Counter

	// --- Broadcast Metrics ---

	// BroadcastsTotal counts published events by event name.
	BroadcastsTotal *prometheus.CounterVec

	// Subscribers tracks currently connected websocket subscribers.
	Subscribers prometheus.Gauge

	// --- Resolver Metrics ---

	// ResolverLookupsTotal counts step resolutions by serving tier.
	ResolverLookupsTotal *prometheus.CounterVec
}

// NewMetrics registers all viewer metrics with the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry to
// avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IngestBatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anomview",
			Name:      "ingest_batches_total",
			Help:      "Ingest batches by outcome.",
		}, []string{"outcome"}),
		IngestRowsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "anomview",
			Name:      "ingest_rows_total",
			Help:      "Rows written by the ingest pipeline.",
		}),
		IngestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "anomview",
			Name:      "ingest_duration_seconds",
			Help:      "Per-batch pipeline duration.",
			Buckets:   prometheus.DefBuckets,
		}),
		IngestDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "anomview",
			Name:      "ingest_dropped_total",
			Help:      "Batches dropped by a full worker queue.",
		}),
		BroadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anomview",
			Name:      "broadcasts_total",
			Help:      "Published push events by event name.",
		}, []string{"event"}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "anomview",
			Name:      "subscribers",
			Help:      "Connected websocket subscribers.",
		}),
		ResolverLookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anomview",
			Name:      "resolver_lookups_total",
			Help:      "Step resolutions by serving tier.",
		}, []string{"tier"}),
	}
}
