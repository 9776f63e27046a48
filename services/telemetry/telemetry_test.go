// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "warn", "json")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "v", line["k"])

	_, err = NewLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = NewLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestLoggerWithTrace(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	var buf bytes.Buffer
	base, err := NewLogger(&buf, "info", "json")
	require.NoError(t, err)

	LoggerWithTrace(ctx, base).Info("traced")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, span.SpanContext().TraceID().String(), line["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), line["span_id"])
}

func TestLoggerWithTrace_NoSpan(t *testing.T) {
	var buf bytes.Buffer
	base, err := NewLogger(&buf, "info", "json")
	require.NoError(t, err)

	LoggerWithTrace(context.Background(), base).Info("plain")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestInitTracing(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{Exporter: ExporterNone})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	var buf bytes.Buffer
	shutdown, err = InitTracing(context.Background(), TracingConfig{
		ServiceName: "crm-test",
		Exporter:    ExporterStdout,
		Writer:      &buf,
	})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, err = InitTracing(context.Background(), TracingConfig{Exporter: "zipkin"})
	assert.Error(t, err)
}
