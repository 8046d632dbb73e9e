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
	"fmt"
	"sync/atomic"
	"unsafe"
)

const (
	// ringHeaderSize is the size of the ring header at the start of the
	// buffer payload.
	ringHeaderSize = 64

	// slotSize is the encoded size of one Item.
	slotSize = 16

	// DefaultCapacity is the number of slots used when none is configured.
	DefaultCapacity = 10

	// MaxCapacity bounds the number of slots in a buffer.
	MaxCapacity = 1 << 16
)

// Item is the unit exchanged through the buffer. It is copied in and out by
// value.
type Item struct {
	Value      int64
	ProducerID int32
}

// ringHeader is the shared cursor state of the circular buffer.
//
// Memory layout (64 bytes):
//
//	0x00: capacity  (uint32) - number of slots, fixed at creation
//	0x04: slotSize  (uint32) - encoded slot size, for layout validation
//	0x08: head      (uint32) - next write position
//	0x0C: tail      (uint32) - next read position
//	0x10: count     (uint32) - occupied slots
//	0x14: pad       (uint32)
//	0x18: inserted  (uint64) - total inserts since creation
//	0x20: removed   (uint64) - total removals since creation
//	0x28-0x3F: reserved
type ringHeader struct {
	capacity uint32
	slotSize uint32
	head     uint32
	tail     uint32
	count    uint32
	_        uint32
	inserted uint64
	removed  uint64
	reserved [24]byte
}

// slot is the in-memory encoding of an Item.
type slot struct {
	value      int64
	producerID int32
	_          int32
}

// ring is a process-local view of the circular buffer inside a buffer
// segment payload. insert and remove must only be called with the buffer
// mutex held and a matching reservation made.
type ring struct {
	hdr   *ringHeader
	slots []slot
}

// ringPayloadSize returns the payload size needed for capacity slots.
func ringPayloadSize(capacity uint32) uint64 {
	return ringHeaderSize + uint64(capacity)*slotSize
}

// initRing lays out an empty ring in payload. It runs before the segment is
// published, so no other process can observe it half initialized.
func initRing(payload []byte, capacity uint32) error {
	if capacity < 1 || capacity > MaxCapacity {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	if uint64(len(payload)) < ringPayloadSize(capacity) {
		return fmt.Errorf("payload of %d bytes too small for %d slots", len(payload), capacity)
	}
	hdr := (*ringHeader)(unsafe.Pointer(&payload[0]))
	hdr.capacity = capacity
	hdr.slotSize = slotSize
	return nil
}

// attachRing validates and maps the ring stored in payload.
func attachRing(payload []byte) (*ring, error) {
	if len(payload) < ringHeaderSize {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrCorrupted, len(payload))
	}
	hdr := (*ringHeader)(unsafe.Pointer(&payload[0]))
	capacity := atomic.LoadUint32(&hdr.capacity)
	if capacity < 1 || capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: capacity %d", ErrCorrupted, capacity)
	}
	if s := atomic.LoadUint32(&hdr.slotSize); s != slotSize {
		return nil, fmt.Errorf("%w: slot size %d, want %d", ErrCorrupted, s, slotSize)
	}
	if uint64(len(payload)) < ringPayloadSize(capacity) {
		return nil, fmt.Errorf("%w: payload of %d bytes for %d slots", ErrCorrupted, len(payload), capacity)
	}
	r := &ring{
		hdr:   hdr,
		slots: unsafe.Slice((*slot)(unsafe.Pointer(&payload[ringHeaderSize])), capacity),
	}
	if err := r.check(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ring) capacity() uint32 { return atomic.LoadUint32(&r.hdr.capacity) }
func (r *ring) head() uint32     { return atomic.LoadUint32(&r.hdr.head) }
func (r *ring) tail() uint32     { return atomic.LoadUint32(&r.hdr.tail) }
func (r *ring) count() uint32    { return atomic.LoadUint32(&r.hdr.count) }
func (r *ring) inserted() uint64 { return atomic.LoadUint64(&r.hdr.inserted) }
func (r *ring) removed() uint64  { return atomic.LoadUint64(&r.hdr.removed) }

// check verifies the cursor invariants.
func (r *ring) check() error {
	n, head, tail, count := r.capacity(), r.head(), r.tail(), r.count()
	if head >= n || tail >= n || count > n {
		return fmt.Errorf("%w: head=%d tail=%d count=%d capacity=%d", ErrCorrupted, head, tail, count, n)
	}
	return nil
}

// insert writes it at head and advances head.
func (r *ring) insert(it Item) error {
	n, head, count := r.capacity(), r.head(), r.count()
	if count >= n || head >= n {
		return fmt.Errorf("%w: insert with head=%d count=%d capacity=%d", ErrCorrupted, head, count, n)
	}
	r.slots[head] = slot{value: it.Value, producerID: it.ProducerID}
	atomic.StoreUint32(&r.hdr.head, (head+1)%n)
	atomic.StoreUint32(&r.hdr.count, count+1)
	atomic.AddUint64(&r.hdr.inserted, 1)
	return nil
}

// remove reads the item at tail and advances tail.
func (r *ring) remove() (Item, error) {
	n, tail, count := r.capacity(), r.tail(), r.count()
	if count == 0 || tail >= n {
		return Item{}, fmt.Errorf("%w: remove with tail=%d count=%d capacity=%d", ErrCorrupted, tail, count, n)
	}
	s := r.slots[tail]
	r.slots[tail] = slot{}
	atomic.StoreUint32(&r.hdr.tail, (tail+1)%n)
	atomic.StoreUint32(&r.hdr.count, count-1)
	atomic.AddUint64(&r.hdr.removed, 1)
	return Item{Value: s.value, ProducerID: s.producerID}, nil
}
