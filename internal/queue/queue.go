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

// Package queue implements a bounded FIFO buffer shared between processes.
//
// The buffer lives in a named shm segment and is guarded by three named
// semaphores: a mutex protecting the ring cursors, an "empty" counter of free
// slots and a "filled" counter of stored items. Every Put and Get follows
// the same sequence:
//
//	reserve (empty or filled) -> lock mutex -> mutate ring -> unlock -> signal
//
// The ring itself is never exposed; Put and Get are the only way to touch it.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shmpc/shmpc/internal/shm"
)

// Mode selects whether Open may create the shared objects.
type Mode int

const (
	// ModeAttach opens existing objects and fails with ErrNotCreated if they
	// are missing.
	ModeAttach Mode = iota
	// ModeCreate opens the objects, creating any that do not exist yet.
	// Existing state is never reset.
	ModeCreate
)

func (m Mode) String() string {
	switch m {
	case ModeAttach:
		return "attach"
	case ModeCreate:
		return "create"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Names are the rendezvous names of the buffer and its three primitives.
// Independently started processes must agree on all four.
type Names struct {
	Buffer string
	Mutex  string
	Empty  string
	Filled string
}

// DefaultNames are used for any name left empty.
var DefaultNames = Names{
	Buffer: "shmpc_buffer",
	Mutex:  "shmpc_mutex",
	Empty:  "shmpc_empty",
	Filled: "shmpc_full",
}

func (n Names) withDefaults() Names {
	if n.Buffer == "" {
		n.Buffer = DefaultNames.Buffer
	}
	if n.Mutex == "" {
		n.Mutex = DefaultNames.Mutex
	}
	if n.Empty == "" {
		n.Empty = DefaultNames.Empty
	}
	if n.Filled == "" {
		n.Filled = DefaultNames.Filled
	}
	return n
}

// Validate checks that every name is usable and that no two are equal.
func (n Names) Validate() error {
	seen := make(map[string]string, 4)
	for _, f := range []struct{ label, name string }{
		{"buffer", n.Buffer},
		{"mutex", n.Mutex},
		{"empty", n.Empty},
		{"filled", n.Filled},
	} {
		if err := shm.ValidateName(f.name); err != nil {
			return fmt.Errorf("%s name: %w", f.label, err)
		}
		key := strings.TrimPrefix(f.name, "/")
		if other, ok := seen[key]; ok {
			return fmt.Errorf("%s and %s names are both %q", other, f.label, key)
		}
		seen[key] = f.label
	}
	return nil
}

// Options configure Open.
type Options struct {
	// Dir holds the named objects. Empty selects shm.ResolveDir("").
	Dir string
	// Names of the objects. Empty fields take DefaultNames.
	Names Names
	// Capacity is the number of slots. Only used in ModeCreate; 0 selects
	// DefaultCapacity.
	Capacity int
	Mode     Mode
	// Tracer observes Put and Get. Optional.
	Tracer Tracer
}

// Queue is a process-local handle on a shared bounded buffer. It is safe for
// concurrent use by multiple goroutines.
type Queue struct {
	mu     sync.RWMutex
	closed bool

	dir     string
	names   Names
	created bool
	tracer  Tracer

	// Cached at Open so they stay readable after Close.
	capacity   int
	instance   uuid.UUID
	creatorPID uint32
	createdAt  time.Time

	seg    *shm.Segment
	ring   *ring
	mutex  *shm.Semaphore
	empty  *shm.Semaphore
	filled *shm.Semaphore
}

// Open creates or attaches to the shared buffer and its primitives. On
// failure every handle acquired so far is closed.
func Open(opts Options) (*Queue, error) {
	names := opts.Names.withDefaults()
	if err := names.Validate(); err != nil {
		return nil, err
	}
	q := &Queue{
		dir:    shm.ResolveDir(opts.Dir),
		names:  names,
		tracer: opts.Tracer,
	}
	if q.tracer == nil {
		q.tracer = nopTracer{}
	}

	var err error
	switch opts.Mode {
	case ModeCreate:
		err = q.create(opts.Capacity)
	case ModeAttach:
		err = q.attach()
	default:
		err = fmt.Errorf("unknown open mode %v", opts.Mode)
	}
	if err != nil {
		q.closeHandles()
		return nil, err
	}

	hdr := q.seg.Header()
	q.capacity = int(q.ring.capacity())
	q.instance = hdr.Instance()
	q.creatorPID = hdr.CreatorPID()
	q.createdAt = hdr.CreatedAt()
	return q, nil
}

func (q *Queue) create(capacity int) error {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity < 1 || capacity > MaxCapacity {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidCapacity, capacity, MaxCapacity)
	}
	n := uint32(capacity)

	seg, created, err := shm.OpenOrCreateSegment(q.dir, shm.KindBuffer, q.names.Buffer, ringPayloadSize(n),
		func(payload []byte, _ uuid.UUID) error { return initRing(payload, n) })
	if err != nil {
		return fmt.Errorf("failed to open buffer %q: %w", q.names.Buffer, err)
	}
	q.seg, q.created = seg, created
	if q.ring, err = attachRing(seg.Payload()); err != nil {
		return fmt.Errorf("buffer %q: %w", q.names.Buffer, err)
	}
	if got := q.ring.capacity(); got != n {
		return fmt.Errorf("%w: buffer %q has %d slots, requested %d", ErrCapacityMismatch, q.names.Buffer, got, n)
	}

	owner := seg.Instance()
	if q.mutex, err = openOrCreateSemaphore(q.dir, q.names.Mutex, 1, 1, owner); err != nil {
		return err
	}
	if q.empty, err = openOrCreateSemaphore(q.dir, q.names.Empty, n, n, owner); err != nil {
		return err
	}
	if q.filled, err = openOrCreateSemaphore(q.dir, q.names.Filled, 0, n, owner); err != nil {
		return err
	}
	return nil
}

func (q *Queue) attach() error {
	seg, err := shm.OpenSegment(q.dir, shm.KindBuffer, q.names.Buffer)
	if err != nil {
		return openError("buffer", q.names.Buffer, err)
	}
	q.seg = seg
	if q.ring, err = attachRing(seg.Payload()); err != nil {
		return fmt.Errorf("buffer %q: %w", q.names.Buffer, err)
	}

	n := q.ring.capacity()
	owner := seg.Instance()
	if q.mutex, err = openSemaphore(q.dir, q.names.Mutex, 1, owner); err != nil {
		return err
	}
	if q.empty, err = openSemaphore(q.dir, q.names.Empty, n, owner); err != nil {
		return err
	}
	if q.filled, err = openSemaphore(q.dir, q.names.Filled, n, owner); err != nil {
		return err
	}
	return nil
}

func openOrCreateSemaphore(dir, name string, initial, max uint32, owner uuid.UUID) (*shm.Semaphore, error) {
	sem, _, err := shm.OpenOrCreateSemaphore(dir, name, initial, max, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to open semaphore %q: %w", name, err)
	}
	if err := checkSemaphore(sem, max, owner); err != nil {
		sem.Close()
		return nil, err
	}
	return sem, nil
}

func openSemaphore(dir, name string, max uint32, owner uuid.UUID) (*shm.Semaphore, error) {
	sem, err := shm.OpenSemaphore(dir, name)
	if err != nil {
		return nil, openError("semaphore", name, err)
	}
	if err := checkSemaphore(sem, max, owner); err != nil {
		sem.Close()
		return nil, err
	}
	return sem, nil
}

// checkSemaphore rejects primitives created for another buffer instance.
func checkSemaphore(sem *shm.Semaphore, max uint32, owner uuid.UUID) error {
	if got := sem.Owner(); got != owner {
		return fmt.Errorf("%w: semaphore %q belongs to instance %s, buffer is %s", ErrStale, sem.Name(), got, owner)
	}
	if got := sem.Max(); got != max {
		return fmt.Errorf("%w: semaphore %q has max %d, want %d", ErrStale, sem.Name(), got, max)
	}
	return nil
}

func openError(what, name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s %q: %w", ErrNotCreated, what, name, err)
	}
	return fmt.Errorf("failed to open %s %q: %w", what, name, err)
}

// Dir returns the directory holding the named objects.
func (q *Queue) Dir() string { return q.dir }

// Names returns the resolved object names.
func (q *Queue) Names() Names { return q.names }

// Capacity returns the number of slots.
func (q *Queue) Capacity() int { return q.capacity }

// Instance returns the UUID of the buffer instance.
func (q *Queue) Instance() uuid.UUID { return q.instance }

// Created reports whether this handle created the buffer segment.
func (q *Queue) Created() bool { return q.created }

// reserveFunc takes one unit of the reservation semaphore.
type reserveFunc func(ctx context.Context, sem *shm.Semaphore) error

func reserveBlocking(ctx context.Context, sem *shm.Semaphore) error {
	return sem.Acquire(ctx)
}

func reserveNow(_ context.Context, sem *shm.Semaphore) error {
	if sem.TryAcquire() {
		return nil
	}
	return ErrWouldBlock
}

func reserveWithin(d time.Duration) reserveFunc {
	if d <= 0 {
		return reserveNow
	}
	return func(ctx context.Context, sem *shm.Semaphore) error {
		tctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		err := sem.Acquire(tctx)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return ErrWouldBlock
		}
		return err
	}
}

// exchange runs the reserve, lock, mutate, unlock, signal sequence for op.
//
// A reservation is handed back if the lock cannot be taken or mutate fails.
// Once the mutex is held, mutate and the unlock always run.
func (q *Queue) exchange(ctx context.Context, op Op, reserve reserveFunc, mutate func() error) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	own, other := q.empty, q.filled
	if op == OpGet {
		own, other = q.filled, q.empty
	}

	q.tracer.Enter(op, PhaseReserve)
	start := time.Now()
	if err := reserve(ctx, own); err != nil {
		return err
	}
	q.tracer.Waited(op, PhaseReserve, time.Since(start))

	q.tracer.Enter(op, PhaseLock)
	start = time.Now()
	if err := q.mutex.Acquire(ctx); err != nil {
		if rerr := own.Release(); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	lockWait := time.Since(start)

	q.tracer.Enter(op, PhaseMutate)
	merr := mutate()
	q.tracer.Enter(op, PhaseUnlock)
	uerr := q.mutex.Release()
	q.tracer.Waited(op, PhaseLock, lockWait)

	if merr != nil {
		return errors.Join(merr, uerr, own.Release())
	}

	q.tracer.Enter(op, PhaseSignal)
	if err := errors.Join(uerr, other.Release()); err != nil {
		return err
	}
	q.tracer.Enter(op, PhaseDone)
	return nil
}

// Put appends it, blocking while the buffer is full. If ctx is done first,
// Put returns ctx.Err() and the buffer is unchanged.
func (q *Queue) Put(ctx context.Context, it Item) error {
	return q.put(ctx, it, reserveBlocking)
}

// TryPut appends it if a slot is free right now, and returns ErrWouldBlock
// otherwise.
func (q *Queue) TryPut(ctx context.Context, it Item) error {
	return q.put(ctx, it, reserveNow)
}

// PutTimeout is Put with the wait for a free slot bounded by d. It returns
// ErrWouldBlock if no slot became free in time.
func (q *Queue) PutTimeout(ctx context.Context, it Item, d time.Duration) error {
	return q.put(ctx, it, reserveWithin(d))
}

func (q *Queue) put(ctx context.Context, it Item, reserve reserveFunc) error {
	return q.exchange(ctx, OpPut, reserve, func() error {
		return q.ring.insert(it)
	})
}

// Get removes the oldest item, blocking while the buffer is empty. If ctx is
// done first, Get returns ctx.Err() and the buffer is unchanged.
func (q *Queue) Get(ctx context.Context) (Item, error) {
	return q.get(ctx, reserveBlocking)
}

// TryGet removes the oldest item if one is stored right now, and returns
// ErrWouldBlock otherwise.
func (q *Queue) TryGet(ctx context.Context) (Item, error) {
	return q.get(ctx, reserveNow)
}

// GetTimeout is Get with the wait for an item bounded by d. It returns
// ErrWouldBlock if no item arrived in time.
func (q *Queue) GetTimeout(ctx context.Context, d time.Duration) (Item, error) {
	return q.get(ctx, reserveWithin(d))
}

func (q *Queue) get(ctx context.Context, reserve reserveFunc) (Item, error) {
	var it Item
	err := q.exchange(ctx, OpGet, reserve, func() error {
		var err error
		it, err = q.ring.remove()
		return err
	})
	if err != nil {
		return Item{}, err
	}
	return it, nil
}

// Close releases this process's mappings and handles. The named objects stay
// in place for other participants; see Destroy. Close waits for in-flight
// operations, so their contexts should be cancelled first.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	return q.closeHandles()
}

func (q *Queue) closeHandles() error {
	var errs []error
	for _, sem := range []*shm.Semaphore{q.filled, q.empty, q.mutex} {
		if sem != nil {
			errs = append(errs, sem.Close())
		}
	}
	if q.seg != nil {
		errs = append(errs, q.seg.Close())
	}
	q.ring = nil
	return errors.Join(errs...)
}

// Destroy unlinks the buffer and its primitives, along with build files
// left by creators that crashed before publishing them. Objects that do not
// exist are skipped. Processes that still have them mapped keep working on their
// mappings, but nothing new can attach.
func Destroy(dir string, names Names) error {
	names = names.withDefaults()
	if err := names.Validate(); err != nil {
		return err
	}
	dir = shm.ResolveDir(dir)

	var errs []error
	keep := func(err error) {
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	keep(shm.RemoveSegment(dir, shm.KindBuffer, names.Buffer))
	_, err := shm.RemoveSegmentTemps(dir, shm.KindBuffer, names.Buffer)
	keep(err)
	for _, name := range []string{names.Mutex, names.Empty, names.Filled} {
		keep(shm.RemoveSemaphore(dir, name))
		_, err := shm.RemoveSegmentTemps(dir, shm.KindSemaphore, name)
		keep(err)
	}
	return errors.Join(errs...)
}
