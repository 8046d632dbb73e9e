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

// Package config loads shmpc settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/shmpc/shmpc/internal/queue"
)

// Config holds all settings shared by the producer, consumer and shmpcctl.
type Config struct {
	Shm     ShmConfig
	Pacing  PacingConfig
	Logging LogConfig
	Metrics MetricsConfig
}

// ShmConfig names the shared objects. Every participant of one buffer must
// use the same values.
type ShmConfig struct {
	Dir      string `envconfig:"SHMPC_DIR"`
	Buffer   string `envconfig:"SHMPC_BUFFER" default:"shmpc_buffer"`
	Mutex    string `envconfig:"SHMPC_MUTEX" default:"shmpc_mutex"`
	Empty    string `envconfig:"SHMPC_EMPTY" default:"shmpc_empty"`
	Filled   string `envconfig:"SHMPC_FULL" default:"shmpc_full"`
	Capacity int    `envconfig:"SHMPC_CAPACITY" default:"10"`
}

// PacingConfig controls the pause a participant takes after each item.
type PacingConfig struct {
	MaxJitter time.Duration `envconfig:"SHMPC_MAX_JITTER" default:"100ms"`
	Rate      float64       `envconfig:"SHMPC_RATE" default:"0"` // items per second, 0 is unlimited
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// MetricsConfig holds the metrics endpoint configuration.
type MetricsConfig struct {
	Addr string `envconfig:"SHMPC_METRICS_ADDR"` // empty disables the endpoint
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Shm: ShmConfig{
			Buffer:   queue.DefaultNames.Buffer,
			Mutex:    queue.DefaultNames.Mutex,
			Empty:    queue.DefaultNames.Empty,
			Filled:   queue.DefaultNames.Filled,
			Capacity: queue.DefaultCapacity,
		},
		Pacing: PacingConfig{
			MaxJitter: 100 * time.Millisecond,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}

// Names returns the object names as used by queue.Open.
func (c *Config) Names() queue.Names {
	return queue.Names{
		Buffer: c.Shm.Buffer,
		Mutex:  c.Shm.Mutex,
		Empty:  c.Shm.Empty,
		Filled: c.Shm.Filled,
	}
}

// QueueOptions returns the options for opening the configured buffer.
func (c *Config) QueueOptions(mode queue.Mode) queue.Options {
	return queue.Options{
		Dir:      c.Shm.Dir,
		Names:    c.Names(),
		Capacity: c.Shm.Capacity,
		Mode:     mode,
	}
}

// Validate checks the configuration before any shared object is touched.
func (c *Config) Validate() error {
	var errs []error
	if c.Shm.Capacity < 1 || c.Shm.Capacity > queue.MaxCapacity {
		errs = append(errs, fmt.Errorf("SHMPC_CAPACITY must be in [1, %d], got %d", queue.MaxCapacity, c.Shm.Capacity))
	}
	if err := c.Names().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Pacing.MaxJitter < 0 {
		errs = append(errs, fmt.Errorf("SHMPC_MAX_JITTER must not be negative, got %v", c.Pacing.MaxJitter))
	}
	if c.Pacing.Rate < 0 {
		errs = append(errs, fmt.Errorf("SHMPC_RATE must not be negative, got %v", c.Pacing.Rate))
	}
	return errors.Join(errs...)
}
