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

import "errors"

var (
	// ErrNotCreated is returned when attaching to a buffer or primitive that
	// no producer has created yet. It is returned wrapped together with
	// fs.ErrNotExist.
	ErrNotCreated = errors.New("queue not created")

	// ErrStale indicates that a primitive belongs to a different buffer
	// instance than the one attached, typically left over after a partial
	// cleanup.
	ErrStale = errors.New("stale primitive")

	// ErrCapacityMismatch is returned when a creator asks for a capacity
	// different from the one the existing buffer was created with.
	ErrCapacityMismatch = errors.New("capacity mismatch")

	// ErrInvalidCapacity is returned for a capacity outside [1, MaxCapacity].
	ErrInvalidCapacity = errors.New("invalid capacity")

	// ErrCorrupted indicates ring state that violates its invariants.
	ErrCorrupted = errors.New("ring corrupted")

	// ErrWouldBlock is returned by the bounded operations when no slot or
	// item could be reserved in time.
	ErrWouldBlock = errors.New("operation would block")

	// ErrClosed is returned by operations on a closed Queue.
	ErrClosed = errors.New("queue closed")
)
