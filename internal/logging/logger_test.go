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

package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
}

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		l, err := New(Config{Level: level})
		require.NoError(t, err, level)
		want, _ := parseLevel(level)
		assert.True(t, l.Core().Enabled(want), level)
	}
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")

	l, err := New(Config{Level: "info", OutputPaths: []string{path}})
	require.NoError(t, err)
	l.Info("attached", zap.String("buffer", "shmpc_buffer"))
	l.Debug("hidden")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"attached"`)
	assert.Contains(t, string(data), `"buffer":"shmpc_buffer"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestDefaultsAndNop(t *testing.T) {
	assert.Equal(t, []string{"stderr"}, DefaultConfig().OutputPaths)
	l, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.NotNil(t, l)
	NewNop().Info("discarded")
}

func TestParticipantFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := Wrap(zap.New(core)).Participant("producer", 3)

	l.Info("started")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "producer", fields["role"])
	assert.Equal(t, int64(3), fields["participant"])
}

func TestEncodingFormat(t *testing.T) {
	assert.Equal(t, "console", encodingFormat(true))
	assert.Equal(t, "json", encodingFormat(false))
	assert.Equal(t, "M", encoderConfig(true).MessageKey)
	assert.Equal(t, "message", encoderConfig(false).MessageKey)
}
