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

// Package shm provides named shared memory objects for processes on the same
// host.
//
// A Segment is a memory-mapped file (under /dev/shm when available) with a
// fixed header that identifies its kind, its payload size and the instance
// that created it. Segments are created atomically: the creator initializes a
// private temporary file and links it into place, so a process that opens a
// segment never observes a partially initialized one.
//
// A Semaphore is a counting semaphore stored in its own named segment. Waiters
// sleep on a futex in the shared mapping, so a release in one process wakes a
// waiter in another. Waits are cancellable through a context.
//
// Only Linux is supported. Segments are built for linux alone, matching the
// futex support, so on other platforms creating or opening any object fails
// with ErrUnsupported before a participant reaches its first wait.
package shm
