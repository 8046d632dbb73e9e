/*
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
 */

package shm

import "errors"

var (
	// ErrFutexTimeout is returned by futexWaitTimeout when the wait times out.
	ErrFutexTimeout = errors.New("futex timeout")

	// ErrUnsupported is returned on platforms without futex or mmap support.
	ErrUnsupported = errors.New("shared memory operations not supported on this platform")

	// ErrInvalidSegment indicates a file that is not a segment written by this
	// package, or one whose header is inconsistent with its size.
	ErrInvalidSegment = errors.New("invalid segment")

	// ErrKindMismatch indicates a segment of a different kind than requested,
	// for example opening a semaphore name as a buffer.
	ErrKindMismatch = errors.New("segment kind mismatch")

	// ErrOverflow is returned by Release when the semaphore is already at its
	// maximum value.
	ErrOverflow = errors.New("semaphore overflow")

	// ErrClosed is returned when a closed handle is used.
	ErrClosed = errors.New("handle closed")
)
