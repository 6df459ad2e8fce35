// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package telemetry wires OpenTelemetry tracing and the prometheus metric
// vectors exposed at /metrics, following the bootstrap.go InitTracer/
// CloseTracer pattern and the Namespace/Subsystem metric convention from
// jobs/pkg/jobs/metrics.go.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/AMD-AGI/primus-ocr-core/internal/logging/log"
)

var tracerProvider *sdktrace.TracerProvider

// InitTracer configures the global OTel tracer provider to export spans via
// OTLP/gRPC to endpoint. If endpoint is empty, tracing is left disabled and
// Tracer() returns a no-op tracer.
func InitTracer(ctx context.Context, serviceName, endpoint string) error {
	if endpoint == "" {
		log.Info("otlp endpoint not configured, tracing disabled")
		return nil
	}

	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return err
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tracerProvider = tp
	return nil
}

// CloseTracer flushes and shuts down the tracer provider installed by
// InitTracer. Safe to call even when tracing was never enabled.
func CloseTracer(ctx context.Context) error {
	if tracerProvider == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return tracerProvider.Shutdown(shutdownCtx)
}

// Tracer returns the named tracer for starting spans; a no-op tracer if
// InitTracer was never called or failed.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
