/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package metrics exposes Prometheus metrics for shmpc participants.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the per-process participant metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Items       *prometheus.CounterVec
	Errors      *prometheus.CounterVec
	WaitSeconds *prometheus.HistogramVec
}

// New registers the participant metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Items: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shmpc_items_total",
				Help: "Items produced or consumed by this process",
			},
			[]string{"role"},
		),
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shmpc_errors_total",
				Help: "Failed queue operations by this process",
			},
			[]string{"role"},
		),
		WaitSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shmpc_wait_seconds",
				Help:    "Time spent blocked acquiring a primitive",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"op", "phase"},
		),
	}
}

// ItemDone counts one item moved by role.
func (m *Metrics) ItemDone(role string) {
	if m == nil {
		return
	}
	m.Items.WithLabelValues(role).Inc()
}

// Failed counts one failed operation by role.
func (m *Metrics) Failed(role string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(role).Inc()
}

// ObserveWait records how long an acquisition blocked.
func (m *Metrics) ObserveWait(op, phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.WaitSeconds.WithLabelValues(op, phase).Observe(d.Seconds())
}
