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

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordWrite(t *testing.T) {
	tests := []struct {
		name   string
		result string
	}{
		{name: "ok write", result: "ok"},
		{name: "invalid write", result: "invalid"},
		{name: "failed write", result: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labels := prometheus.Labels{"result": tt.result}
			initial := testutil.ToFloat64(writesTotal.With(labels))

			RecordWrite(tt.result, 3*time.Millisecond)

			if got := testutil.ToFloat64(writesTotal.With(labels)); got != initial+1 {
				t.Errorf("expected count to increment by 1, got initial=%f, new=%f", initial, got)
			}
		})
	}
}

func TestRecordSpans(t *testing.T) {
	initial := testutil.ToFloat64(spansIngested.WithLabelValues("otlp_http"))
	RecordSpans("otlp_http", 5)
	if got := testutil.ToFloat64(spansIngested.WithLabelValues("otlp_http")); got != initial+5 {
		t.Errorf("expected count to increment by 5, got initial=%f, new=%f", initial, got)
	}
}

func TestSubscriberGauge(t *testing.T) {
	initial := testutil.ToFloat64(broadcastSubscribers)
	dropped := testutil.ToFloat64(broadcastDropped.WithLabelValues("stalled"))

	SubscriberAdded()
	SubscriberAdded()
	SubscriberRemoved("stalled")

	if got := testutil.ToFloat64(broadcastSubscribers); got != initial+1 {
		t.Errorf("expected gauge %f, got %f", initial+1, got)
	}
	if got := testutil.ToFloat64(broadcastDropped.WithLabelValues("stalled")); got != dropped+1 {
		t.Errorf("expected dropped count %f, got %f", dropped+1, got)
	}
}

func TestSetIndexEntries(t *testing.T) {
	SetIndexEntries(42)
	if got := testutil.ToFloat64(indexEntries); got != 42 {
		t.Errorf("expected 42, got %f", got)
	}
}
