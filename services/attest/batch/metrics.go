// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package batch

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aleutian.attest.batch")
	meter  = otel.Meter("aleutian.attest.batch")
)

var (
	locateLatency metric.Float64Histogram
	locateCalls   metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		locateLatency, err = meter.Float64Histogram(
			"attest_batch_duration_seconds",
			metric.WithDescription("Duration of batch runs including bisection"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		locateCalls, err = meter.Int64Histogram(
			"attest_batch_calls",
			metric.WithDescription("Invocations of the wrapped operation per batch"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordLocateMetrics(ctx context.Context, duration time.Duration, calls int, faulted bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("faulted", faulted))
	locateLatency.Record(ctx, duration.Seconds(), attrs)
	locateCalls.Record(ctx, int64(calls), attrs)
}

func startLocateSpan(ctx context.Context, items int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "batch.RunOrLocateError",
		trace.WithAttributes(attribute.Int("batch.items", items)),
	)
}

func setLocateSpanResult(span trace.Span, calls, responsible int) {
	span.SetAttributes(
		attribute.Int("batch.calls", calls),
		attribute.Int("batch.responsible", responsible),
	)
}
