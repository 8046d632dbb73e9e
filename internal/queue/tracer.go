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

package queue

import "time"

// Op identifies a queue operation.
type Op int

const (
	OpPut Op = iota
	OpGet
)

func (o Op) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpGet:
		return "get"
	default:
		return "unknown"
	}
}

// Phase is a step of the reserve, lock, mutate, unlock, signal sequence.
type Phase int

const (
	PhaseReserve Phase = iota
	PhaseLock
	PhaseMutate
	PhaseUnlock
	PhaseSignal
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseReserve:
		return "reserve"
	case PhaseLock:
		return "lock"
	case PhaseMutate:
		return "mutate"
	case PhaseUnlock:
		return "unlock"
	case PhaseSignal:
		return "signal"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Tracer observes the progress of Put and Get.
//
// Enter is called on every phase transition, including PhaseMutate and
// PhaseUnlock while the buffer mutex is held, so it must not block or do
// I/O. Waited reports how long the reserve and lock acquisitions blocked;
// it is always called after the mutex has been released.
type Tracer interface {
	Enter(op Op, phase Phase)
	Waited(op Op, phase Phase, d time.Duration)
}

type nopTracer struct{}

func (nopTracer) Enter(Op, Phase)                 {}
func (nopTracer) Waited(Op, Phase, time.Duration) {}
