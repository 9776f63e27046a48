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
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names accepted by InitTracing.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// TracingConfig selects where spans go.
type TracingConfig struct {
	ServiceName string
	Exporter    string
	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string
	Insecure bool
	// SampleRatio in [0,1]. Zero means always sample.
	SampleRatio float64
	// Writer receives spans for the stdout exporter. Defaults to io.Discard.
	Writer io.Writer
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// InitTracing installs a global tracer provider and the W3C propagator.
//
// Description:
//
//	With ExporterNone the global no-op provider is left in place and only
//	the propagator is installed, so spans cost nothing but trace context
//	still flows through HTTP headers.
//
// Outputs:
//   - ShutdownFunc: Always non-nil; safe to call for ExporterNone.
//   - error: Non-nil if the exporter could not be created.
func InitTracing(ctx context.Context, cfg TracingConfig) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	noop := func(context.Context) error { return nil }

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Exporter {
	case "", ExporterNone:
		return noop, nil
	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = io.Discard
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w))
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	default:
		return noop, fmt.Errorf("telemetry: unknown trace exporter %q", cfg.Exporter)
	}
	if err != nil {
		return noop, fmt.Errorf("telemetry: creating %s exporter: %w", cfg.Exporter, err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
