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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shmpc/shmpc/internal/queue"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "", cfg.Shm.Dir)
	assert.Equal(t, queue.DefaultNames, cfg.Names())
	assert.Equal(t, 10, cfg.Shm.Capacity)
	assert.Equal(t, 100*time.Millisecond, cfg.Pacing.MaxJitter)
	assert.Zero(t, cfg.Pacing.Rate)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"SHMPC_DIR":          "/tmp/shmpc",
		"SHMPC_BUFFER":       "buf",
		"SHMPC_MUTEX":        "m",
		"SHMPC_EMPTY":        "e",
		"SHMPC_FULL":         "f",
		"SHMPC_CAPACITY":     "4",
		"SHMPC_MAX_JITTER":   "5ms",
		"SHMPC_RATE":         "2.5",
		"LOG_LEVEL":          "debug",
		"LOG_DEV":            "true",
		"SHMPC_METRICS_ADDR": "127.0.0.1:9464",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/shmpc", cfg.Shm.Dir)
	assert.Equal(t, queue.Names{Buffer: "buf", Mutex: "m", Empty: "e", Filled: "f"}, cfg.Names())
	assert.Equal(t, 4, cfg.Shm.Capacity)
	assert.Equal(t, 5*time.Millisecond, cfg.Pacing.MaxJitter)
	assert.Equal(t, 2.5, cfg.Pacing.Rate)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Addr)

	opts := cfg.QueueOptions(queue.ModeCreate)
	assert.Equal(t, "/tmp/shmpc", opts.Dir)
	assert.Equal(t, 4, opts.Capacity)
	assert.Equal(t, queue.ModeCreate, opts.Mode)
}

func TestLoadInvalidValue(t *testing.T) {
	t.Setenv("SHMPC_CAPACITY", "ten")

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capacity", func(c *Config) { c.Shm.Capacity = 0 }},
		{"huge capacity", func(c *Config) { c.Shm.Capacity = queue.MaxCapacity + 1 }},
		{"empty name", func(c *Config) { c.Shm.Mutex = "" }},
		{"slash in name", func(c *Config) { c.Shm.Buffer = "a/b" }},
		{"duplicate names", func(c *Config) { c.Shm.Empty = c.Shm.Filled }},
		{"negative jitter", func(c *Config) { c.Pacing.MaxJitter = -time.Millisecond }},
		{"negative rate", func(c *Config) { c.Pacing.Rate = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
