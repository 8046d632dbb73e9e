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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shmpc/shmpc/internal/queue"
)

// SnapshotSource provides buffer state without blocking. *queue.Queue
// implements it.
type SnapshotSource interface {
	Peek() (queue.Snapshot, error)
}

// QueueCollector exports the shared buffer state at scrape time. It reads
// without the buffer mutex, so a scrape never waits on participants.
type QueueCollector struct {
	src SnapshotSource

	capacity *prometheus.Desc
	count    *prometheus.Desc
	inserted *prometheus.Desc
	removed  *prometheus.Desc
	value    *prometheus.Desc
	waiters  *prometheus.Desc
	held     *prometheus.Desc
}

// NewQueueCollector returns a collector for the buffer behind src.
func NewQueueCollector(src SnapshotSource) *QueueCollector {
	return &QueueCollector{
		src:      src,
		capacity: prometheus.NewDesc("shmpc_buffer_capacity", "Number of slots in the buffer", nil, nil),
		count:    prometheus.NewDesc("shmpc_buffer_items", "Items currently stored in the buffer", nil, nil),
		inserted: prometheus.NewDesc("shmpc_buffer_inserted_total", "Items inserted since the buffer was created", nil, nil),
		removed:  prometheus.NewDesc("shmpc_buffer_removed_total", "Items removed since the buffer was created", nil, nil),
		value:    prometheus.NewDesc("shmpc_semaphore_value", "Current value of a counting primitive", []string{"primitive"}, nil),
		waiters:  prometheus.NewDesc("shmpc_semaphore_waiters", "Acquirers blocked on a primitive", []string{"primitive"}, nil),
		held:     prometheus.NewDesc("shmpc_mutex_held", "1 if the buffer mutex is held", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.capacity
	ch <- c.count
	ch <- c.inserted
	ch <- c.removed
	ch <- c.value
	ch <- c.waiters
	ch <- c.held
}

// Collect implements prometheus.Collector.
func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	s, err := c.src.Peek()
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.count, err)
		return
	}

	held := 0.0
	if s.MutexHeld {
		held = 1
	}
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(s.Capacity))
	ch <- prometheus.MustNewConstMetric(c.count, prometheus.GaugeValue, float64(s.Count))
	ch <- prometheus.MustNewConstMetric(c.inserted, prometheus.CounterValue, float64(s.Inserted))
	ch <- prometheus.MustNewConstMetric(c.removed, prometheus.CounterValue, float64(s.Removed))
	ch <- prometheus.MustNewConstMetric(c.value, prometheus.GaugeValue, float64(s.Empty), "empty")
	ch <- prometheus.MustNewConstMetric(c.value, prometheus.GaugeValue, float64(s.Filled), "filled")
	ch <- prometheus.MustNewConstMetric(c.waiters, prometheus.GaugeValue, float64(s.MutexWaiters), "mutex")
	ch <- prometheus.MustNewConstMetric(c.waiters, prometheus.GaugeValue, float64(s.EmptyWaiters), "empty")
	ch <- prometheus.MustNewConstMetric(c.waiters, prometheus.GaugeValue, float64(s.FilledWaiters), "filled")
	ch <- prometheus.MustNewConstMetric(c.held, prometheus.GaugeValue, held)
}
