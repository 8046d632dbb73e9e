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
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shmpc/shmpc/internal/logging"
	"github.com/shmpc/shmpc/internal/metrics"
	"github.com/shmpc/shmpc/internal/queue"
)

func TestStateLabels(t *testing.T) {
	assert.Equal(t, "RESERVING_SLOT", StateReserving.Label(KindProducer))
	assert.Equal(t, "RESERVING_ITEM", StateReserving.Label(KindConsumer))
	assert.Equal(t, "MUTATING", StateMutating.Label(KindConsumer))
	assert.Equal(t, "producer", KindProducer.String())
	assert.Equal(t, "Consumer", KindConsumer.Title())
}

func TestTracerFollowsPhases(t *testing.T) {
	tr := NewTracer(KindProducer, nil, nil)
	assert.Equal(t, StateIdle, tr.State())

	for phase, want := range map[queue.Phase]State{
		queue.PhaseReserve: StateReserving,
		queue.PhaseLock:    StateLocking,
		queue.PhaseMutate:  StateMutating,
		queue.PhaseUnlock:  StateUnlocking,
		queue.PhaseSignal:  StateSignaling,
		queue.PhaseDone:    StateDone,
	} {
		tr.Enter(queue.OpPut, phase)
		assert.Equal(t, want, tr.State(), phase.String())
	}
}

func TestTracerWaited(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := metrics.New(prometheus.NewRegistry())
	tr := NewTracer(KindConsumer, logging.Wrap(zap.New(core)), m)

	tr.Waited(queue.OpGet, queue.PhaseReserve, 2*time.Millisecond)

	entries := logs.FilterMessage("acquired").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "RESERVING_ITEM", entries[0].ContextMap()["state"])
	assert.Equal(t, 1, testutil.CollectAndCount(m.WaitSeconds))
}

func TestPacer(t *testing.T) {
	var nilPacer *Pacer
	require.NoError(t, nilPacer.Wait(context.Background()))

	// No limit and no jitter returns at once.
	p := NewPacer(0, 0, 1)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), time.Second)

	// Jitter stays below its bound.
	p = NewPacer(0, 10*time.Millisecond, 2)
	for i := 0; i < 100; i++ {
		d := p.jitter()
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 10*time.Millisecond)
	}
}

func TestPacerCancelledDuringPause(t *testing.T) {
	p := NewPacer(0, time.Hour, 3)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := p.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
