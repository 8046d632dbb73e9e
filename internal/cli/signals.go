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
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SignalError is the cancellation cause of a context cancelled by a signal.
type SignalError struct {
	Signal os.Signal
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("caught signal %d (%v)", e.Number(), e.Signal)
}

// Number returns the signal number, or -1 if it has none.
func (e *SignalError) Number() int {
	if s, ok := e.Signal.(syscall.Signal); ok {
		return int(s)
	}
	return -1
}

// WithSignals returns a context cancelled when one of sigs arrives, with a
// *SignalError as its cause. Without sigs, SIGINT and SIGTERM are used. The
// returned stop function releases the signal handler.
func WithSignals(parent context.Context, sigs ...os.Signal) (context.Context, func()) {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	ctx, cancel := context.WithCancelCause(parent)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			cancel(&SignalError{Signal: sig})
		case <-done:
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
			cancel(context.Canceled)
		})
	}
}

// Interrupted returns the signal that cancelled ctx, if any.
func Interrupted(ctx context.Context) (*SignalError, bool) {
	if ctx.Err() == nil {
		return nil, false
	}
	var sigErr *SignalError
	if errors.As(context.Cause(ctx), &sigErr) {
		return sigErr, true
	}
	return nil, false
}
