// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aleutian.attest.workspace")
	meter  = otel.Meter("aleutian.attest.workspace")
)

var (
	buildLatency   metric.Float64Histogram
	buildTotal     metric.Int64Counter
	lockWait       metric.Float64Histogram
	processesTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"attest_workspace_build_duration_seconds",
			metric.WithDescription("Duration of cargo invocations including lock wait"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"attest_workspace_builds_total",
			metric.WithDescription("Cargo invocations by subcommand and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		lockWait, err = meter.Float64Histogram(
			"attest_workspace_lock_wait_seconds",
			metric.WithDescription("Time spent acquiring the workspace lock"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		processesTotal, err = meter.Int64Counter(
			"attest_workspace_processes_total",
			metric.WithDescription("Child processes started"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordBuild(ctx context.Context, sub string, duration time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("subcommand", sub),
		attribute.Bool("success", err == nil),
	)
	buildLatency.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)
}

func recordLockWait(ctx context.Context, waited time.Duration) {
	if initMetrics() != nil {
		return
	}
	lockWait.Record(ctx, waited.Seconds())
}

func recordProcessStart(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	processesTotal.Add(ctx, 1)
}

func startBuildSpan(ctx context.Context, sub, crate string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "workspace.Cargo."+sub,
		trace.WithAttributes(attribute.String("workspace.crate", crate)),
	)
}

func setBuildSpanResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
