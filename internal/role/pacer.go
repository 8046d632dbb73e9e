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

package role

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces a participant's items: an optional rate limit followed by a
// random pause in [0, maxJitter). A nil *Pacer never waits.
type Pacer struct {
	limiter   *rate.Limiter
	maxJitter time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPacer returns a Pacer. perSecond <= 0 disables the rate limit and
// maxJitter <= 0 disables the pause.
func NewPacer(perSecond float64, maxJitter time.Duration, seed uint64) *Pacer {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Pacer{
		limiter:   rate.NewLimiter(limit, 1),
		maxJitter: maxJitter,
		rng:       rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

// Wait blocks for the next pause, or until ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}

	d := p.jitter()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Pacer) jitter() time.Duration {
	if p.maxJitter <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.rng.Int64N(int64(p.maxJitter)))
}
