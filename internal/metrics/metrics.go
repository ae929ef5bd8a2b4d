// Copyright 2025 Tom Barlow
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

// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracehub_writes_total",
			Help: "Total trace fragment writes by result",
		},
		[]string{"result"},
	)

	writeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracehub_write_duration_seconds",
			Help:    "Duration of read-merge-write cycles including the index update",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	spansIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracehub_spans_ingested_total",
			Help: "Total spans accepted by ingest source",
		},
		[]string{"source"},
	)

	indexEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracehub_index_entries",
			Help: "Number of traces in the search index",
		},
	)

	broadcastSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracehub_broadcast_subscribers",
			Help: "Number of live subscriber connections",
		},
	)

	broadcastEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracehub_broadcast_events_total",
			Help: "Total span events delivered to subscribers",
		},
	)

	broadcastDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracehub_broadcast_dropped_total",
			Help: "Total subscribers removed by reason",
		},
		[]string{"reason"},
	)
)

// RecordWrite records the outcome and duration of a store write.
// result should be one of: ok, invalid, error
func RecordWrite(result string, d time.Duration) {
	writesTotal.WithLabelValues(result).Inc()
	writeDuration.Observe(d.Seconds())
}

// RecordSpans counts spans accepted from source (native, otlp_http, otlp_grpc).
func RecordSpans(source string, n int) {
	spansIngested.WithLabelValues(source).Add(float64(n))
}

// SetIndexEntries sets the index size gauge.
func SetIndexEntries(n int) {
	indexEntries.Set(float64(n))
}

// SubscriberAdded increments the live subscriber gauge.
func SubscriberAdded() {
	broadcastSubscribers.Inc()
}

// SubscriberRemoved decrements the live subscriber gauge and counts the
// reason (closed, write_error, stalled, client_closed, shutdown).
func SubscriberRemoved(reason string) {
	broadcastSubscribers.Dec()
	broadcastDropped.WithLabelValues(reason).Inc()
}

// EventDelivered counts one frame written to one subscriber.
func EventDelivered() {
	broadcastEvents.Inc()
}
