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

package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shmpc/shmpc/internal/queue"
	"github.com/shmpc/shmpc/internal/shm"
)

// ctlEnv points shmpcctl at a fresh directory.
func ctlEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SHMPC_DIR", dir)
	t.Setenv("SHMPC_MAX_JITTER", "0s")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func runCtl(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := CtlMain(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCtlUsage(t *testing.T) {
	ctlEnv(t)

	code, _, stderr := runCtl()
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: shmpcctl")

	code, stdout, _ := runCtl("help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "inspect")

	code, _, stderr = runCtl("frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, `unknown command "frobnicate"`)
}

func TestCtlInspect(t *testing.T) {
	requireLinux(t)
	dir := ctlEnv(t)

	q, err := queue.Open(queue.Options{Dir: dir, Mode: queue.ModeCreate})
	require.NoError(t, err)
	defer q.Close()
	ctx := testContext(t)
	require.NoError(t, q.Put(ctx, queue.Item{Value: 1000, ProducerID: 1}))
	require.NoError(t, q.Put(ctx, queue.Item{Value: 1001, ProducerID: 1}))

	code, stdout, stderr := runCtl("inspect")
	assert.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Directory: "+dir)
	assert.Contains(t, stdout, "Buffer State:")
	assert.Contains(t, stdout, "Used=2/10")
}

func TestCtlInspectMissing(t *testing.T) {
	requireLinux(t)
	ctlEnv(t)

	code, _, stderr := runCtl("inspect")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Error:")
	assert.Contains(t, stderr, "missing: shmpc_buffer, shmpc_mutex, shmpc_empty, shmpc_full")
}

func TestCtlInspectMissingPrimitive(t *testing.T) {
	requireLinux(t)
	dir := ctlEnv(t)

	q, err := queue.Open(queue.Options{Dir: dir, Mode: queue.ModeCreate})
	require.NoError(t, err)
	require.NoError(t, q.Close())
	require.NoError(t, shm.RemoveSemaphore(dir, "shmpc_empty"))

	code, _, stderr := runCtl("inspect")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "(missing: shmpc_empty)")
}

func TestInspectFallsBackToPeek(t *testing.T) {
	requireLinux(t)
	dir := t.TempDir()

	owner, err := queue.Open(queue.Options{Dir: dir, Mode: queue.ModeCreate, Capacity: 4})
	require.NoError(t, err)
	defer owner.Close()
	q, err := queue.Open(queue.Options{Dir: dir, Mode: queue.ModeAttach})
	require.NoError(t, err)
	defer q.Close()

	// A producer parked inside the critical section keeps the mutex.
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = holdMutex(owner, held, release)
	}()
	<-held
	defer close(release)

	snap, err := Inspect(testContext(t), q, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, snap.Consistent)
	assert.True(t, snap.MutexHeld)
	assert.Equal(t, uint32(4), snap.Capacity)
}

// holdMutex runs a Put on its own handle to q's buffer and parks inside the
// critical section until release is closed.
func holdMutex(q *queue.Queue, held chan<- struct{}, release <-chan struct{}) error {
	tr := &parkingTracer{held: held, release: release}
	pq, err := queue.Open(queue.Options{Dir: q.Dir(), Mode: queue.ModeAttach, Tracer: tr})
	if err != nil {
		close(held)
		return err
	}
	defer pq.Close()
	return pq.Put(context.Background(), queue.Item{Value: 1, ProducerID: 1})
}

type parkingTracer struct {
	held    chan<- struct{}
	release <-chan struct{}
}

func (p *parkingTracer) Enter(_ queue.Op, phase queue.Phase) {
	if phase == queue.PhaseMutate {
		close(p.held)
		<-p.release
	}
}

func (p *parkingTracer) Waited(queue.Op, queue.Phase, time.Duration) {}

func TestCtlDestroy(t *testing.T) {
	requireLinux(t)
	dir := ctlEnv(t)

	q, err := queue.Open(queue.Options{Dir: dir, Mode: queue.ModeCreate})
	require.NoError(t, err)
	require.NoError(t, q.Close())
	// Build files of creators that crashed before publishing.
	for _, name := range []string{".shm.shmpc_buffer.tmp-123", ".sem.shmpc_full.tmp-456"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}

	code, stdout, stderr := runCtl("destroy")
	assert.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Destroyed shmpc_buffer, shmpc_mutex, shmpc_empty, shmpc_full")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = queue.Open(queue.Options{Dir: dir, Mode: queue.ModeAttach})
	assert.ErrorIs(t, err, queue.ErrNotCreated)

	// Destroying again is not an error.
	code, _, _ = runCtl("destroy")
	assert.Equal(t, 0, code)
}

func TestCtlDemo(t *testing.T) {
	requireLinux(t)
	dir := ctlEnv(t)

	code, stdout, stderr := runCtl("demo", "-producers", "2", "-consumers", "2", "-items", "3")
	require.Equal(t, 0, code, stderr)

	assert.Equal(t, 6, strings.Count(stdout, "Consumed value"))
	assert.Equal(t, 3, strings.Count(stdout, "from Producer 1"))
	assert.Equal(t, 3, strings.Count(stdout, "from Producer 2"))
	assert.Contains(t, stdout, "Producer 1: Finished producing 3 items")
	assert.Contains(t, stdout, "Producer 2: Finished producing 3 items")
	assert.Contains(t, stdout, "Consumer 1: Finished consuming 3 items")
	assert.Contains(t, stdout, "Consumer 2: Finished consuming 3 items")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "demo objects are destroyed")
}

func TestCtlDemoKeep(t *testing.T) {
	requireLinux(t)
	dir := ctlEnv(t)

	code, _, stderr := runCtl("demo", "-producers", "1", "-consumers", "1", "-items", "2", "-keep")
	require.Equal(t, 0, code, stderr)

	q, err := queue.Open(queue.Options{Dir: dir, Mode: queue.ModeAttach})
	require.NoError(t, err)
	defer q.Close()
	s, err := q.Snapshot(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.Inserted)
	assert.Equal(t, uint64(2), s.Removed)
	assert.True(t, s.Conserved())
}

func TestDemoValidation(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	err := Demo(ctx, cfg, DemoOptions{Producers: 0, Consumers: 1, Items: 1}, nil, &bytes.Buffer{})
	assert.Error(t, err)

	err = Demo(ctx, cfg, DemoOptions{Producers: 1, Consumers: 3, Items: 2}, nil, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 consumers cannot share 2 items")
}
