// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package metrics records detector activity as OpenTelemetry instruments.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	serviceName    = "step_computer"
	serviceVersion = "1.0.0"
)

// Recorder holds the detector instruments. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	steps    metric.Int64Counter
	readings metric.Int64Counter
	errors   metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewRecorder creates the instruments on meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	steps, err := meter.Int64Counter(
		"steps_detected_total",
		metric.WithDescription("Completed steps"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating steps counter: %w", err)
	}

	readings, err := meter.Int64Counter(
		"readings_processed_total",
		metric.WithDescription("Readings run through the detector"),
		metric.WithUnit("{reading}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating readings counter: %w", err)
	}

	errs, err := meter.Int64Counter(
		"detection_errors_total",
		metric.WithDescription("Readings the classifier failed on"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating errors counter: %w", err)
	}

	latency, err := meter.Float64Histogram(
		"classify_latency_seconds",
		metric.WithDescription("Classifier call latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating latency histogram: %w", err)
	}

	return &Recorder{steps: steps, readings: readings, errors: errs, latency: latency}, nil
}

// Reading records one processed reading for the given transport.
func (r *Recorder) Reading(ctx context.Context, transport string, took time.Duration, completed bool) {
	if r == nil {
		return
	}
	opt := metric.WithAttributes(attribute.String("transport", transport))
	r.readings.Add(ctx, 1, opt)
	r.latency.Record(ctx, took.Seconds(), opt)
	if completed {
		r.steps.Add(ctx, 1, opt)
	}
}

// Error records a failed classification.
func (r *Recorder) Error(ctx context.Context, transport string) {
	if r == nil {
		return
	}
	r.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", transport)))
}

// SetupOTLP installs a global meter provider exporting over OTLP/gRPC and
// returns a recorder bound to it plus the provider shutdown func.
func SetupOTLP(ctx context.Context, endpoint string, useInsecure bool) (*Recorder, func(context.Context) error, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(endpoint),
	}
	if useInsecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	rec, err := NewRecorder(provider.Meter(serviceName))
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, nil, err
	}
	return rec, provider.Shutdown, nil
}
