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

package shm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/google/uuid"
)

// wake wakes waiters on a semaphore's sequence word.
var wake = futexWake

// semStateSize is the payload size of a semaphore segment.
const semStateSize = 48

// semState is the shared state of a semaphore, stored as the payload of its
// segment.
type semState struct {
	max      uint32   // 0x00: upper bound of value, fixed at creation
	value    uint32   // 0x04: current count
	waiters  uint32   // 0x08: processes/goroutines sleeping or about to sleep
	seq      uint32   // 0x0C: wake sequence, the futex word
	owner    [16]byte // 0x10: instance of the object this semaphore guards
	reserved [16]byte // 0x20-0x2F
}

// Semaphore is a named counting semaphore shared between processes.
//
// Acquire decrements the value, sleeping while it is zero; Release increments
// it and wakes one sleeper. A Semaphore with max 1 is a binary semaphore and
// serves as a mutex. Each process holds its own handle; Close releases the
// handle only.
type Semaphore struct {
	seg *Segment
	st  *semState
}

func initSemaphore(initial, max uint32, owner uuid.UUID) InitFunc {
	return func(payload []byte, _ uuid.UUID) error {
		if max == 0 || initial > max {
			return fmt.Errorf("initial value %d out of range [0, %d]", initial, max)
		}
		st := (*semState)(unsafe.Pointer(&payload[0]))
		st.max = max
		st.value = initial
		st.owner = [16]byte(owner)
		return nil
	}
}

func newSemaphore(seg *Segment) (*Semaphore, error) {
	payload := seg.Payload()
	if len(payload) < semStateSize {
		seg.Close()
		return nil, fmt.Errorf("%w: semaphore %q payload is %d bytes", ErrInvalidSegment, seg.Name(), len(payload))
	}
	st := (*semState)(unsafe.Pointer(&payload[0]))
	max := atomic.LoadUint32(&st.max)
	if max == 0 || atomic.LoadUint32(&st.value) > max {
		seg.Close()
		return nil, fmt.Errorf("%w: semaphore %q has value %d and max %d", ErrInvalidSegment, seg.Name(), st.value, max)
	}
	return &Semaphore{seg: seg, st: st}, nil
}

// CreateSemaphore creates a named semaphore with the given initial and
// maximum value. owner identifies the object the semaphore belongs to. It
// fails with an error wrapping fs.ErrExist if the name is taken.
func CreateSemaphore(dir, name string, initial, max uint32, owner uuid.UUID) (*Semaphore, error) {
	seg, err := CreateSegment(dir, KindSemaphore, name, semStateSize, initSemaphore(initial, max, owner))
	if err != nil {
		return nil, err
	}
	return newSemaphore(seg)
}

// OpenSemaphore opens an existing named semaphore. It fails with an error
// wrapping fs.ErrNotExist if the semaphore has not been created.
func OpenSemaphore(dir, name string) (*Semaphore, error) {
	seg, err := OpenSegment(dir, KindSemaphore, name)
	if err != nil {
		return nil, err
	}
	return newSemaphore(seg)
}

// OpenOrCreateSemaphore opens the named semaphore, creating it with the given
// values if it does not exist. Existing state is never reset.
func OpenOrCreateSemaphore(dir, name string, initial, max uint32, owner uuid.UUID) (*Semaphore, bool, error) {
	seg, created, err := OpenOrCreateSegment(dir, KindSemaphore, name, semStateSize, initSemaphore(initial, max, owner))
	if err != nil {
		return nil, false, err
	}
	sem, err := newSemaphore(seg)
	if err != nil {
		return nil, false, err
	}
	return sem, created, nil
}

// RemoveSemaphore unlinks a named semaphore.
func RemoveSemaphore(dir, name string) error {
	return RemoveSegment(dir, KindSemaphore, name)
}

// Name returns the semaphore name.
func (s *Semaphore) Name() string { return s.seg.Name() }

// Owner returns the instance recorded at creation.
func (s *Semaphore) Owner() uuid.UUID { return uuid.UUID(s.st.owner) }

// Max returns the maximum value.
func (s *Semaphore) Max() uint32 { return atomic.LoadUint32(&s.st.max) }

// Value returns the current value. It is a snapshot and may be stale by the
// time the caller looks at it.
func (s *Semaphore) Value() uint32 { return atomic.LoadUint32(&s.st.value) }

// Waiters returns the number of acquirers currently waiting.
func (s *Semaphore) Waiters() uint32 { return atomic.LoadUint32(&s.st.waiters) }

// TryAcquire decrements the semaphore if its value is positive and reports
// whether it did.
func (s *Semaphore) TryAcquire() bool {
	st := s.st
	for {
		v := atomic.LoadUint32(&st.value)
		if v == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(&st.value, v, v-1) {
			return true
		}
	}
}

// Acquire decrements the semaphore, blocking while its value is zero.
//
// It returns ctx.Err() if ctx is done before the semaphore could be
// acquired, in which case the value is unchanged. A failure to wake other
// waiters on the way out is joined to that error.
func (s *Semaphore) Acquire(ctx context.Context) (err error) {
	if s.TryAcquire() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	st := s.st
	atomic.AddUint32(&st.waiters, 1)
	defer atomic.AddUint32(&st.waiters, ^uint32(0))

	// Cancellation bumps the sequence so a sleeper re-checks ctx. Other
	// waiters on the same word see a spurious wakeup and go back to sleep.
	woken := make(chan struct{})
	var cancelWakeErr error
	stop := context.AfterFunc(ctx, func() {
		defer close(woken)
		atomic.AddUint32(&st.seq, 1)
		_, cancelWakeErr = wake(&st.seq, math.MaxInt32)
	})
	// The callback touches the mapping; it must finish before the caller
	// can unmap it.
	defer func() {
		if stop() {
			return
		}
		<-woken
		if err != nil && cancelWakeErr != nil {
			err = errors.Join(err, fmt.Errorf("semaphore %q: cancel wake: %w", s.Name(), cancelWakeErr))
		}
	}()

	for {
		seq := atomic.LoadUint32(&st.seq)
		if s.TryAcquire() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return joinWakeErr(err, s.passWake())
		}
		if err := s.sleep(ctx, seq); err != nil {
			return joinWakeErr(err, s.passWake())
		}
	}
}

// joinWakeErr returns err alone when the wake succeeded, so callers can
// still compare it with ctx.Err().
func joinWakeErr(err, wakeErr error) error {
	if wakeErr == nil {
		return err
	}
	return errors.Join(err, wakeErr)
}

// sleep blocks until the wake sequence moves past seq, the ctx deadline
// passes, or a spurious wakeup occurs.
func (s *Semaphore) sleep(ctx context.Context, seq uint32) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		return futexWait(&s.st.seq, seq)
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return context.DeadlineExceeded
	}
	if err := futexWaitTimeout(&s.st.seq, seq, remaining); err != nil && !errors.Is(err, ErrFutexTimeout) {
		return err
	}
	return nil
}

// passWake hands a wakeup this waiter may have consumed to another waiter
// when it gives up while the semaphore is available.
func (s *Semaphore) passWake() error {
	st := s.st
	if atomic.LoadUint32(&st.value) == 0 || atomic.LoadUint32(&st.waiters) <= 1 {
		return nil
	}
	atomic.AddUint32(&st.seq, 1)
	if _, err := wake(&st.seq, 1); err != nil {
		return fmt.Errorf("semaphore %q: pass wake: %w", s.Name(), err)
	}
	return nil
}

// Release increments the semaphore and wakes one waiter, if any. It fails
// with ErrOverflow if the value is already at its maximum.
func (s *Semaphore) Release() error {
	st := s.st
	max := atomic.LoadUint32(&st.max)
	for {
		v := atomic.LoadUint32(&st.value)
		if v >= max {
			return fmt.Errorf("semaphore %q: %w", s.Name(), ErrOverflow)
		}
		if atomic.CompareAndSwapUint32(&st.value, v, v+1) {
			break
		}
	}

	atomic.AddUint32(&st.seq, 1)
	if atomic.LoadUint32(&st.waiters) > 0 {
		if _, err := wake(&st.seq, 1); err != nil {
			return fmt.Errorf("semaphore %q: %w", s.Name(), err)
		}
	}
	return nil
}

// Close unmaps this process's handle. The semaphore itself stays available
// to other processes until RemoveSemaphore.
func (s *Semaphore) Close() error {
	if s.seg == nil {
		return nil
	}
	err := s.seg.Close()
	s.st = nil
	return err
}
