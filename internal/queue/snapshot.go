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

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Snapshot is the state of a buffer and its primitives for diagnostics.
type Snapshot struct {
	Names      Names
	Instance   uuid.UUID
	CreatorPID uint32
	CreatedAt  time.Time

	Capacity uint32
	Head     uint32
	Tail     uint32
	Count    uint32
	Inserted uint64 // total inserts since creation
	Removed  uint64 // total removals since creation

	Empty  uint32 // value of the empty semaphore
	Filled uint32 // value of the filled semaphore

	// MutexHeld reports whether another participant held the mutex when
	// the state was read. Always false for a consistent snapshot.
	MutexHeld     bool
	MutexWaiters  uint32
	EmptyWaiters  uint32
	FilledWaiters uint32

	// Consistent is true when the ring was read under the mutex.
	Consistent bool
}

// Conserved reports whether the counters balance: empty+filled == capacity
// and filled == count. This only holds when no participant is between its
// reservation and its signal.
func (s Snapshot) Conserved() bool {
	return s.Empty+s.Filled == s.Capacity && s.Filled == s.Count
}

// Snapshot reads the buffer state under the mutex.
func (q *Queue) Snapshot(ctx context.Context) (Snapshot, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return Snapshot{}, ErrClosed
	}

	if err := q.mutex.Acquire(ctx); err != nil {
		return Snapshot{}, err
	}
	s := q.read()
	s.Consistent = true
	if err := q.mutex.Release(); err != nil {
		return s, err
	}
	return s, nil
}

// Peek reads the buffer state without taking the mutex. The result may be
// torn, but Peek never blocks, which makes it usable when a participant
// died holding the mutex.
func (q *Queue) Peek() (Snapshot, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return Snapshot{}, ErrClosed
	}

	s := q.read()
	s.MutexHeld = q.mutex.Value() == 0
	return s, nil
}

func (q *Queue) read() Snapshot {
	return Snapshot{
		Names:         q.names,
		Instance:      q.instance,
		CreatorPID:    q.creatorPID,
		CreatedAt:     q.createdAt,
		Capacity:      q.ring.capacity(),
		Head:          q.ring.head(),
		Tail:          q.ring.tail(),
		Count:         q.ring.count(),
		Inserted:      q.ring.inserted(),
		Removed:       q.ring.removed(),
		Empty:         q.empty.Value(),
		Filled:        q.filled.Value(),
		MutexWaiters:  q.mutex.Waiters(),
		EmptyWaiters:  q.empty.Waiters(),
		FilledWaiters: q.filled.Waiters(),
	}
}

// Diagnose checks a snapshot for states no correct sequence of operations
// can produce, and for a mutex that is held while others wait on it. It
// returns whether the state is suspect along with a readable report.
func Diagnose(s Snapshot) (bool, string) {
	var problems []string

	if s.Count > s.Capacity || s.Head >= s.Capacity || s.Tail >= s.Capacity {
		problems = append(problems, "cursors out of range: the ring header is corrupted.")
	}
	// Reservations are taken before the ring moves and signals given after,
	// so under the mutex these hold even mid-transition. A peek may be torn.
	if s.Consistent {
		if s.Inserted-s.Removed != uint64(s.Count) {
			problems = append(problems, "inserted-removed does not match count: the ring header is corrupted.")
		}
		if s.Filled > s.Count {
			problems = append(problems, "filled exceeds the stored items: a consumer could read an empty slot.")
		}
		if uint64(s.Empty)+uint64(s.Count) > uint64(s.Capacity) {
			problems = append(problems, "empty plus stored items exceeds capacity: a producer could overwrite a slot.")
		}
	}
	if s.MutexHeld && s.MutexWaiters > 0 {
		problems = append(problems, fmt.Sprintf(
			"mutex held with %d waiters: if this persists a participant died inside the critical section; run 'shmpcctl destroy' and restart.",
			s.MutexWaiters))
	}

	var b strings.Builder
	if len(problems) > 0 {
		b.WriteString("SUSPECT BUFFER STATE DETECTED:\n")
	} else {
		b.WriteString("Buffer State:\n")
	}

	used := 0.0
	if s.Capacity > 0 {
		used = float64(s.Count) / float64(s.Capacity) * 100
	}
	fmt.Fprintf(&b, "Buffer %q instance=%s creator=%d: Used=%d/%d (%.1f%%) Head=%d Tail=%d Inserted=%d Removed=%d\n",
		s.Names.Buffer, s.Instance, s.CreatorPID, s.Count, s.Capacity, used, s.Head, s.Tail, s.Inserted, s.Removed)
	fmt.Fprintf(&b, "Mutex %q: Held=%t Waiters=%d\n", s.Names.Mutex, s.MutexHeld, s.MutexWaiters)
	fmt.Fprintf(&b, "Empty %q: Value=%d Waiters=%d\n", s.Names.Empty, s.Empty, s.EmptyWaiters)
	fmt.Fprintf(&b, "Filled %q: Value=%d Waiters=%d\n", s.Names.Filled, s.Filled, s.FilledWaiters)
	fmt.Fprintf(&b, "Conserved=%t Consistent=%t", s.Conserved(), s.Consistent)

	for _, p := range problems {
		b.WriteString("\n")
		b.WriteString(p)
	}
	return len(problems) > 0, b.String()
}
