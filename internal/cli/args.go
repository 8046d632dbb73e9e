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

// Package cli holds the entry points of the producer, consumer and shmpcctl
// binaries.
package cli

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/shmpc/shmpc/internal/role"
)

// Args are the positional arguments of a participant.
type Args struct {
	ID    int
	Items int
}

// UsageError reports invalid arguments. It is detected before any shared
// object is touched.
type UsageError struct {
	Prog string
	Kind role.Kind
	Err  error
}

func (e *UsageError) Error() string {
	if e.Err == nil {
		return e.Usage()
	}
	return fmt.Sprintf("Error: %v\n%s", e.Err, e.Usage())
}

func (e *UsageError) Unwrap() error { return e.Err }

// Usage returns the usage line.
func (e *UsageError) Usage() string {
	return fmt.Sprintf("Usage: %s <%s_id> <num_items>", e.Prog, e.Kind)
}

// ParseArgs parses "<id> <num_items>". Both must be positive integers that
// fit in 32 bits; the id is stored with every item as an int32.
func ParseArgs(kind role.Kind, prog string, args []string) (Args, error) {
	if len(args) != 2 {
		return Args{}, &UsageError{Prog: prog, Kind: kind}
	}
	id, idErr := strconv.ParseInt(args[0], 10, 32)
	items, itemsErr := strconv.ParseInt(args[1], 10, 32)
	if idErr != nil || itemsErr != nil || id <= 0 || items <= 0 {
		return Args{}, &UsageError{
			Prog: prog,
			Kind: kind,
			Err:  fmt.Errorf("%s_id and num_items must be positive integers no larger than %d", kind, math.MaxInt32),
		}
	}
	return Args{ID: int(id), Items: int(items)}, nil
}

// ExitCode maps the outcome of a run to the process exit status: 0 for
// success or an interruption, 1 for everything else.
func ExitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	var sigErr *SignalError
	if errors.As(err, &sigErr) {
		return 0
	}
	return 1
}
