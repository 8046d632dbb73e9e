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

import (
	"runtime"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// requireLinux skips tests that need futex support.
func requireLinux(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("futex based tests only run on linux")
	}
}

// createTestSemaphore creates a semaphore in a private directory and
// registers cleanup of the handle.
func createTestSemaphore(t *testing.T, initial, max uint32) (*Semaphore, string) {
	t.Helper()
	requireLinux(t)

	dir := t.TempDir()
	sem, err := CreateSemaphore(dir, "test_sem", initial, max, uuid.New())
	require.NoError(t, err)
	t.Cleanup(func() { sem.Close() })
	return sem, dir
}

// openTestSemaphore opens a second, independent mapping of a semaphore.
func openTestSemaphore(t *testing.T, dir string) *Semaphore {
	t.Helper()
	sem, err := OpenSemaphore(dir, "test_sem")
	require.NoError(t, err)
	t.Cleanup(func() { sem.Close() })
	return sem
}
