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
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/shmpc/shmpc/internal/config"
	"github.com/shmpc/shmpc/internal/logging"
	"github.com/shmpc/shmpc/internal/metrics"
	"github.com/shmpc/shmpc/internal/queue"
	"github.com/shmpc/shmpc/internal/role"
)

// metricsShutdownTimeout bounds the graceful stop of the metrics endpoint.
const metricsShutdownTimeout = 2 * time.Second

// Main runs a producer or consumer process and returns its exit code.
// Progress lines go to stdout; usage, errors and logs go to stderr.
func Main(kind role.Kind, prog string, args []string, stdout, stderr io.Writer) int {
	a, err := ParseArgs(kind, prog, args)
	if err != nil {
		fmt.Fprintln(stderr, err)
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

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := WithSignals(context.Background())
	defer stop()

	err = Run(ctx, kind, a, cfg, logger, stdout)
	if sig, ok := Interrupted(ctx); ok {
		fmt.Fprintf(stdout, "\n%s: Caught signal %d, cleaning up...\n", kind.Title(), sig.Number())
		logger.Participant(kind.String(), a.ID).Info("caught signal", zap.Stringer("signal", sig.Signal))
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return ExitCode(err)
}

// Run opens the configured queue in the mode matching kind and runs the
// participant until it has moved a.Items items or ctx is done. All local
// handles are released before it returns; the shared objects are left in
// place.
func Run(ctx context.Context, kind role.Kind, a Args, cfg *config.Config, logger *logging.Logger, stdout io.Writer) error {
	if logger == nil {
		logger = logging.NewNop()
	}
	plog := logger.Participant(kind.String(), a.ID)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	mode := queue.ModeAttach
	if kind == role.KindProducer {
		mode = queue.ModeCreate
	}
	opts := cfg.QueueOptions(mode)
	tracer := role.NewTracer(kind, plog, m)
	opts.Tracer = tracer

	q, err := queue.Open(opts)
	if err != nil {
		if kind == role.KindConsumer && errors.Is(err, queue.ErrNotCreated) {
			return fmt.Errorf("%w (make sure producer has been started)", err)
		}
		return err
	}
	defer func() {
		if err := q.Close(); err != nil {
			plog.Error("failed to detach", zap.Error(err))
			return
		}
		plog.Info("detached")
	}()

	plog.Info("attached",
		zap.String("buffer", q.Names().Buffer),
		zap.Stringer("instance", q.Instance()),
		zap.Bool("created", q.Created()),
		zap.Int("capacity", q.Capacity()),
		zap.String("dir", q.Dir()),
	)

	if cfg.Metrics.Addr != "" {
		reg.MustRegister(metrics.NewQueueCollector(q))
		srv := metrics.NewServer(cfg.Metrics.Addr, reg, plog.Logger)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				plog.Warn("metrics shutdown", zap.Error(err))
			}
		}()
	}

	pacer := role.NewPacer(cfg.Pacing.Rate, cfg.Pacing.MaxJitter, uint64(time.Now().UnixNano())+uint64(a.ID))
	switch kind {
	case role.KindProducer:
		_, err = (&role.Producer{
			ID: a.ID, Items: a.Items, Queue: q, Out: stdout,
			Pacer: pacer, Logger: logger, Metrics: m,
		}).Run(ctx)
	case role.KindConsumer:
		_, err = (&role.Consumer{
			ID: a.ID, Items: a.Items, Queue: q, Out: stdout,
			Pacer: pacer, Logger: logger, Metrics: m,
		}).Run(ctx)
	default:
		err = fmt.Errorf("unknown role %v", kind)
	}
	if err != nil {
		plog.Info("run ended early", zap.String("state", tracer.State().Label(kind)))
	}
	return err
}
