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
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shmpc/shmpc/internal/config"
	"github.com/shmpc/shmpc/internal/logging"
	"github.com/shmpc/shmpc/internal/queue"
	"github.com/shmpc/shmpc/internal/role"
	"github.com/shmpc/shmpc/internal/shm"
)

const ctlUsage = `Usage: shmpcctl <command> [flags]

Commands:
  inspect   print the buffer state and check its invariants
  destroy   unlink the buffer and its primitives
  demo      run producers and consumers in one process

Objects are selected with the SHMPC_* environment variables.`

// ErrSuspect is returned by Inspect when the buffer state looks wrong.
var ErrSuspect = errors.New("suspect buffer state")

// CtlMain runs shmpcctl and returns its exit code.
func CtlMain(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, ctlUsage)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: invalid configuration: %v\n", err)
		return 1
	}

	ctx, stop := WithSignals(context.Background())
	defer stop()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "inspect":
		err = ctlInspect(ctx, cfg, rest, stdout, stderr)
	case "destroy":
		err = ctlDestroy(cfg, rest, stdout, stderr)
	case "demo":
		err = ctlDemo(ctx, cfg, rest, stdout, stderr)
	case "help", "-h", "-help", "--help":
		fmt.Fprintln(stdout, ctlUsage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s\n", cmd, ctlUsage)
		return 1
	}

	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return ExitCode(err)
}

func ctlInspect(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	timeout := fs.Duration("timeout", time.Second, "how long to wait for the buffer mutex before reading without it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q, err := queue.Open(cfg.QueueOptions(queue.ModeAttach))
	if err != nil {
		if errors.Is(err, queue.ErrNotCreated) {
			missing := missingObjects(shm.ResolveDir(cfg.Shm.Dir), cfg.Names())
			return fmt.Errorf("%w (missing: %s)", err, strings.Join(missing, ", "))
		}
		return err
	}
	defer q.Close()

	snap, err := Inspect(ctx, q, *timeout)
	if err != nil {
		return err
	}
	suspect, report := queue.Diagnose(snap)
	fmt.Fprintf(stdout, "Directory: %s\nCreated: %s\n%s\n", q.Dir(), snap.CreatedAt.Format(time.RFC3339), report)
	if suspect {
		return ErrSuspect
	}
	return nil
}

// missingObjects lists the configured objects that do not exist in dir.
func missingObjects(dir string, names queue.Names) []string {
	var missing []string
	if !shm.SegmentExists(dir, shm.KindBuffer, names.Buffer) {
		missing = append(missing, names.Buffer)
	}
	for _, name := range []string{names.Mutex, names.Empty, names.Filled} {
		if !shm.SegmentExists(dir, shm.KindSemaphore, name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// Inspect takes a consistent snapshot of q, falling back to an unlocked
// read if the mutex cannot be taken within timeout.
func Inspect(ctx context.Context, q *queue.Queue, timeout time.Duration) (queue.Snapshot, error) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snap, err := q.Snapshot(sctx)
	if err == nil {
		return snap, nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return q.Peek()
	}
	return queue.Snapshot{}, err
}

func ctlDestroy(cfg *config.Config, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("destroy", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	names := cfg.Names()
	if err := queue.Destroy(cfg.Shm.Dir, names); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Destroyed %s, %s, %s, %s\n", names.Buffer, names.Mutex, names.Empty, names.Filled)
	return nil
}

// DemoOptions configure Demo.
type DemoOptions struct {
	Producers int
	Consumers int
	Items     int // per producer
	Keep      bool
}

func ctlDemo(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts DemoOptions
	fs.IntVar(&opts.Producers, "producers", 2, "number of producers")
	fs.IntVar(&opts.Consumers, "consumers", 1, "number of consumers")
	fs.IntVar(&opts.Items, "items", 3, "items per producer")
	fs.BoolVar(&opts.Keep, "keep", false, "leave the shared objects in place afterwards")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	return Demo(ctx, cfg, opts, logger, stdout)
}

// Demo runs producers and consumers in one process, each with its own
// mapping of the buffer. The consumers split the produced items between
// them. Unless opts.Keep is set the objects are destroyed at the end.
func Demo(ctx context.Context, cfg *config.Config, opts DemoOptions, logger *logging.Logger, stdout io.Writer) error {
	if opts.Producers < 1 || opts.Consumers < 1 || opts.Items < 1 {
		return fmt.Errorf("producers, consumers and items must be positive")
	}
	total := opts.Producers * opts.Items
	if opts.Consumers > total {
		return fmt.Errorf("%d consumers cannot share %d items", opts.Consumers, total)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	// Participants share the process; a single endpoint cannot serve them all.
	local := *cfg
	local.Metrics.Addr = ""
	cfg = &local

	// The owner handle creates the objects before any consumer attaches.
	owner, err := queue.Open(cfg.QueueOptions(queue.ModeCreate))
	if err != nil {
		return err
	}
	defer func() {
		owner.Close()
		if opts.Keep {
			return
		}
		if err := queue.Destroy(cfg.Shm.Dir, cfg.Names()); err != nil {
			logger.Warn("failed to destroy demo objects", zap.Error(err))
		}
	}()

	out := &syncWriter{w: stdout}
	g, gctx := errgroup.WithContext(ctx)
	for p := 1; p <= opts.Producers; p++ {
		g.Go(func() error {
			return Run(gctx, role.KindProducer, Args{ID: p, Items: opts.Items}, cfg, logger, out)
		})
	}
	share := total / opts.Consumers
	for c := 1; c <= opts.Consumers; c++ {
		n := share
		if c == opts.Consumers {
			n = total - share*(opts.Consumers-1)
		}
		g.Go(func() error {
			return Run(gctx, role.KindConsumer, Args{ID: c, Items: n}, cfg, logger, out)
		})
	}
	return g.Wait()
}

// syncWriter serializes writes from concurrent participants.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
