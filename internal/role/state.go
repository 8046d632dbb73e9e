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
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shmpc/shmpc/internal/logging"
	"github.com/shmpc/shmpc/internal/metrics"
	"github.com/shmpc/shmpc/internal/queue"
)

// Kind is the role a participant plays.
type Kind int

const (
	KindProducer Kind = iota
	KindConsumer
)

func (k Kind) String() string {
	switch k {
	case KindProducer:
		return "producer"
	case KindConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// Title returns the capitalized role name used in progress lines.
func (k Kind) Title() string {
	switch k {
	case KindProducer:
		return "Producer"
	case KindConsumer:
		return "Consumer"
	default:
		return "Participant"
	}
}

// State is a participant's position in the per-item cycle:
//
//	RESERVING -> LOCKING -> MUTATING -> UNLOCKING -> SIGNALING -> (loop or DONE)
type State int32

const (
	StateIdle State = iota
	StateReserving
	StateLocking
	StateMutating
	StateUnlocking
	StateSignaling
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateReserving:
		return "RESERVING"
	case StateLocking:
		return "LOCKING"
	case StateMutating:
		return "MUTATING"
	case StateUnlocking:
		return "UNLOCKING"
	case StateSignaling:
		return "SIGNALING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Label names the state for a role; the reservation state says what is
// being reserved.
func (s State) Label(k Kind) string {
	if s != StateReserving {
		return s.String()
	}
	if k == KindConsumer {
		return "RESERVING_ITEM"
	}
	return "RESERVING_SLOT"
}

func stateFor(p queue.Phase) State {
	switch p {
	case queue.PhaseReserve:
		return StateReserving
	case queue.PhaseLock:
		return StateLocking
	case queue.PhaseMutate:
		return StateMutating
	case queue.PhaseUnlock:
		return StateUnlocking
	case queue.PhaseSignal:
		return StateSignaling
	case queue.PhaseDone:
		return StateDone
	default:
		return StateIdle
	}
}

// Tracer implements queue.Tracer for one participant. It tracks the current
// State and reports acquisition waits to the log and metrics.
type Tracer struct {
	kind    Kind
	state   atomic.Int32
	logger  *logging.Logger
	metrics *metrics.Metrics
}

var _ queue.Tracer = (*Tracer)(nil)

// NewTracer returns a Tracer for a participant of the given kind. logger and
// m may be nil.
func NewTracer(kind Kind, logger *logging.Logger, m *metrics.Metrics) *Tracer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Tracer{kind: kind, logger: logger, metrics: m}
}

// Enter records the state. It runs inside the critical section and only
// stores an integer.
func (t *Tracer) Enter(_ queue.Op, p queue.Phase) {
	t.state.Store(int32(stateFor(p)))
}

// Waited records a blocking acquisition.
func (t *Tracer) Waited(op queue.Op, p queue.Phase, d time.Duration) {
	t.metrics.ObserveWait(op.String(), p.String(), d)
	if ce := t.logger.Check(zap.DebugLevel, "acquired"); ce != nil {
		ce.Write(
			zap.String("state", stateFor(p).Label(t.kind)),
			zap.Duration("waited", d),
		)
	}
}

// State returns the current state.
func (t *Tracer) State() State {
	return State(t.state.Load())
}
