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

// Package role implements the producer and consumer run loops on top of a
// shared queue.
package role

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"go.uber.org/zap"

	"github.com/shmpc/shmpc/internal/logging"
	"github.com/shmpc/shmpc/internal/metrics"
	"github.com/shmpc/shmpc/internal/queue"
)

// Putter is the producer side of a queue.
type Putter interface {
	Put(ctx context.Context, it queue.Item) error
}

// Getter is the consumer side of a queue.
type Getter interface {
	Get(ctx context.Context) (queue.Item, error)
}

// ErrInvalidProducerID is returned by Producer.Run for an id that does not
// fit the int32 provenance field of an Item.
var ErrInvalidProducerID = errors.New("producer id out of range")

// ValueFor returns the value a producer emits for its i-th item.
func ValueFor(producerID, i int) int64 {
	return int64(producerID)*1000 + int64(i)
}

// Producer puts Items values into a queue, writing a progress line to Out
// after each one.
type Producer struct {
	ID      int
	Items   int
	Queue   Putter
	Out     io.Writer
	Pacer   *Pacer
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Run produces all items. It returns the number produced and the first
// error; on cancellation the error is ctx.Err().
func (p *Producer) Run(ctx context.Context) (int, error) {
	if p.ID <= 0 || p.ID > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidProducerID, p.ID, math.MaxInt32)
	}
	logger := participantLogger(p.Logger, KindProducer, p.ID)
	out := writerOrDiscard(p.Out)

	fmt.Fprintf(out, "Producer %d: Starting to produce %d items\n", p.ID, p.Items)
	logger.Info("starting", zap.Int("items", p.Items))

	for i := 0; i < p.Items; i++ {
		it := queue.Item{Value: ValueFor(p.ID, i), ProducerID: int32(p.ID)}
		if err := p.Queue.Put(ctx, it); err != nil {
			return i, stopped(logger, p.Metrics, KindProducer, i, err)
		}
		p.Metrics.ItemDone(KindProducer.String())
		fmt.Fprintf(out, "Producer %d: Produced value %d\n", p.ID, it.Value)

		if i < p.Items-1 {
			if err := p.Pacer.Wait(ctx); err != nil {
				return i + 1, stopped(logger, p.Metrics, KindProducer, i+1, err)
			}
		}
	}

	fmt.Fprintf(out, "Producer %d: Finished producing %d items\n", p.ID, p.Items)
	logger.Info("finished", zap.Int("items", p.Items))
	return p.Items, nil
}

// Consumer gets Items values from a queue, writing a progress line to Out
// after each one.
type Consumer struct {
	ID      int
	Items   int
	Queue   Getter
	Out     io.Writer
	Pacer   *Pacer
	Logger  *logging.Logger
	Metrics *metrics.Metrics
	// OnItem, if set, is called with every item after its progress line.
	OnItem func(queue.Item)
}

// Run consumes all items. It returns the number consumed and the first
// error; on cancellation the error is ctx.Err().
func (c *Consumer) Run(ctx context.Context) (int, error) {
	logger := participantLogger(c.Logger, KindConsumer, c.ID)
	out := writerOrDiscard(c.Out)

	fmt.Fprintf(out, "Consumer %d: Starting to consume %d items\n", c.ID, c.Items)
	logger.Info("starting", zap.Int("items", c.Items))

	for i := 0; i < c.Items; i++ {
		it, err := c.Queue.Get(ctx)
		if err != nil {
			return i, stopped(logger, c.Metrics, KindConsumer, i, err)
		}
		c.Metrics.ItemDone(KindConsumer.String())
		fmt.Fprintf(out, "Consumer %d: Consumed value %d from Producer %d\n", c.ID, it.Value, it.ProducerID)
		if c.OnItem != nil {
			c.OnItem(it)
		}

		if i < c.Items-1 {
			if err := c.Pacer.Wait(ctx); err != nil {
				return i + 1, stopped(logger, c.Metrics, KindConsumer, i+1, err)
			}
		}
	}

	fmt.Fprintf(out, "Consumer %d: Finished consuming %d items\n", c.ID, c.Items)
	logger.Info("finished", zap.Int("items", c.Items))
	return c.Items, nil
}

func participantLogger(l *logging.Logger, kind Kind, id int) *logging.Logger {
	if l == nil {
		l = logging.NewNop()
	}
	return l.Participant(kind.String(), id)
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

// stopped logs why a run ended early. Cancellation is an orderly stop and is
// not counted as a failure.
func stopped(logger *logging.Logger, m *metrics.Metrics, kind Kind, done int, err error) error {
	if errors.Is(err, context.Canceled) {
		logger.Info("interrupted", zap.Int("done", done))
		return err
	}
	m.Failed(kind.String())
	logger.Error("stopped", zap.Int("done", done), zap.Error(err))
	return fmt.Errorf("%s after %d items: %w", kind, done, err)
}
