// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "failed to parse JSON: %s", buf.String())
	return entry
}

func TestSetup_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("botcmd", "1.0.0", Options{Format: "json", Writer: &buf})

	logger.Info("test message")

	entry := decode(t, &buf)
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "botcmd", entry["service"])
	assert.Equal(t, "1.0.0", entry["version"])
	assert.Contains(t, entry, "time")
	assert.Contains(t, entry, "level")
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("botcmd", "1.0.0", Options{Format: "text", Writer: &buf})

	logger.Info("test message")

	assert.Contains(t, buf.String(), "test message")
	assert.Contains(t, buf.String(), "service=botcmd")
}

func TestSetup_DefaultFormatIsJSON(t *testing.T) {
	var buf bytes.Buffer
	Setup("botcmd", "1.0.0", Options{Writer: &buf}).Info("test message")
	decode(t, &buf)
}

func TestSetup_Verbose(t *testing.T) {
	var buf bytes.Buffer
	Setup("botcmd", "1.0.0", Options{Writer: &buf}).Debug("hidden")
	assert.Empty(t, buf.String())

	Setup("botcmd", "1.0.0", Options{Writer: &buf, Verbose: true}).Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestHandler_TraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("botcmd", "1.0.0", Options{Writer: &buf})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	logger.InfoContext(ctx, "traced message")

	entry := decode(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestHandler_DispatchID(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("botcmd", "1.0.0", Options{Writer: &buf})

	id := ulid.Make()
	ctx := ContextWithDispatchID(context.Background(), id)
	got, ok := DispatchIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, id, got)

	logger.With("component", "test").InfoContext(ctx, "dispatched")

	entry := decode(t, &buf)
	assert.Equal(t, id.String(), entry["dispatch_id"])
	assert.Equal(t, "test", entry["component"])
}

func TestHandler_NoContext(t *testing.T) {
	var buf bytes.Buffer
	Setup("botcmd", "1.0.0", Options{Writer: &buf}).Info("plain")

	entry := decode(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "dispatch_id")

	_, ok := DispatchIDFromContext(context.Background())
	assert.False(t, ok)
}

func TestSetDefault(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	logger := SetDefault("botcmd", "2.0.0", Options{})
	assert.Same(t, logger, slog.Default())
}
