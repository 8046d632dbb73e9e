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

package role

import (
	"bytes"
	"context"
	"errors"
	"math"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/shmpc/shmpc/internal/logging"
	"github.com/shmpc/shmpc/internal/metrics"
	"github.com/shmpc/shmpc/internal/queue"
)

// chanQueue is an in-process stand-in for the shared queue.
type chanQueue struct {
	ch  chan queue.Item
	err error
}

func newChanQueue(capacity int) *chanQueue {
	return &chanQueue{ch: make(chan queue.Item, capacity)}
}

func (q *chanQueue) Put(ctx context.Context, it queue.Item) error {
	if q.err != nil {
		return q.err
	}
	select {
	case q.ch <- it:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *chanQueue) Get(ctx context.Context) (queue.Item, error) {
	if q.err != nil {
		return queue.Item{}, q.err
	}
	select {
	case it := <-q.ch:
		return it, nil
	case <-ctx.Done():
		return queue.Item{}, ctx.Err()
	}
}

func TestProducerRejectsWideID(t *testing.T) {
	q := newChanQueue(1)
	var out bytes.Buffer
	wide := int64(math.MaxInt32) + 2
	n, err := (&Producer{ID: int(wide), Items: 1, Queue: q, Out: &out}).Run(context.Background())
	require.ErrorIs(t, err, ErrInvalidProducerID)
	assert.Zero(t, n)
	assert.Empty(t, out.String())
	assert.Empty(t, q.ch)
}

func TestValueFor(t *testing.T) {
	assert.Equal(t, int64(1000), ValueFor(1, 0))
	assert.Equal(t, int64(2004), ValueFor(2, 4))
}

func TestProducerProgressLines(t *testing.T) {
	q := newChanQueue(10)
	var out bytes.Buffer
	m := metrics.New(prometheus.NewRegistry())

	p := &Producer{ID: 3, Items: 2, Queue: q, Out: &out, Metrics: m}
	n, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, strings.Join([]string{
		"Producer 3: Starting to produce 2 items",
		"Producer 3: Produced value 3000",
		"Producer 3: Produced value 3001",
		"Producer 3: Finished producing 2 items",
		"",
	}, "\n"), out.String())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Items.WithLabelValues("producer")))

	assert.Equal(t, queue.Item{Value: 3000, ProducerID: 3}, <-q.ch)
}

func TestConsumerProgressLines(t *testing.T) {
	q := newChanQueue(10)
	q.ch <- queue.Item{Value: 1000, ProducerID: 1}
	q.ch <- queue.Item{Value: 2000, ProducerID: 2}

	var (
		out  bytes.Buffer
		seen []queue.Item
	)
	c := &Consumer{ID: 7, Items: 2, Queue: q, Out: &out, OnItem: func(it queue.Item) { seen = append(seen, it) }}
	n, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, strings.Join([]string{
		"Consumer 7: Starting to consume 2 items",
		"Consumer 7: Consumed value 1000 from Producer 1",
		"Consumer 7: Consumed value 2000 from Producer 2",
		"Consumer 7: Finished consuming 2 items",
		"",
	}, "\n"), out.String())
	assert.Len(t, seen, 2)
}

func TestConsumerCancelled(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	q := newChanQueue(1)
	q.ch <- queue.Item{Value: 5}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{ID: 1, Items: 3, Queue: q, Logger: logging.Wrap(zap.New(core)), OnItem: func(queue.Item) { cancel() }}

	n, err := c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, logs.FilterMessage("interrupted").Len())
}

func TestProducerFailure(t *testing.T) {
	q := newChanQueue(1)
	q.err = errors.New("semaphore broken")
	m := metrics.New(prometheus.NewRegistry())

	p := &Producer{ID: 1, Items: 3, Queue: q, Metrics: m}
	n, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, q.err)
	assert.Contains(t, err.Error(), "producer after 0 items")
	assert.Equal(t, 0, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("producer")))
}

func TestProducerPacedCancel(t *testing.T) {
	q := newChanQueue(10)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// One item per hour: the burst covers the first pause, the second
	// outlives ctx.
	p := &Producer{ID: 1, Items: 3, Queue: q, Pacer: NewPacer(1.0/3600, 0, 1)}
	n, err := p.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, n)
}

func TestRolesOverSharedQueue(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("shared queue tests only run on linux")
	}
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ptr := NewTracer(KindProducer, nil, nil)
	pq, err := queue.Open(queue.Options{Dir: dir, Mode: queue.ModeCreate, Capacity: 2, Tracer: ptr})
	require.NoError(t, err)
	defer pq.Close()
	cq, err := queue.Open(queue.Options{Dir: dir, Mode: queue.ModeAttach})
	require.NoError(t, err)
	defer cq.Close()

	var got []queue.Item
	var g errgroup.Group
	g.Go(func() error {
		_, err := (&Producer{ID: 4, Items: 5, Queue: pq, Pacer: NewPacer(0, time.Millisecond, 4)}).Run(ctx)
		return err
	})
	g.Go(func() error {
		_, err := (&Consumer{ID: 1, Items: 5, Queue: cq, OnItem: func(it queue.Item) { got = append(got, it) }}).Run(ctx)
		return err
	})
	require.NoError(t, g.Wait())

	require.Len(t, got, 5)
	for i, it := range got {
		assert.Equal(t, ValueFor(4, i), it.Value)
	}
	assert.Equal(t, StateDone, ptr.State())
}
