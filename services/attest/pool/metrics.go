// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pool

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
	tracer = otel.Tracer("aleutian.attest.pool")
	meter  = otel.Meter("aleutian.attest.pool")
)

var (
	transitionLatency metric.Float64Histogram
	transitionTotal   metric.Int64Counter
	trialTotal        metric.Int64Counter
	shortfallTotal    metric.Int64Counter
	evalLatency       metric.Float64Histogram
	evalDropped       metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		transitionLatency, err = meter.Float64Histogram(
			"attest_pool_transition_duration_seconds",
			metric.WithDescription("Duration of pool phase transitions"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		transitionTotal, err = meter.Int64Counter(
			"attest_pool_transitions_total",
			metric.WithDescription("Pool phase transitions by target phase and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		trialTotal, err = meter.Int64Counter(
			"attest_pool_trials_total",
			metric.WithDescription("Value instantiation trials by precondition result"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		shortfallTotal, err = meter.Int64Counter(
			"attest_pool_shortfalls_total",
			metric.WithDescription("Contracts that yielded fewer instances than requested"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		evalLatency, err = meter.Float64Histogram(
			"attest_pool_eval_duration_seconds",
			metric.WithDescription("Duration of eval node computation"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		evalDropped, err = meter.Int64Counter(
			"attest_pool_eval_dropped_total",
			metric.WithDescription("Instances dropped because an eval term panicked"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordTransition(ctx context.Context, phase Phase, duration time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("phase", string(phase)),
		attribute.Bool("success", err == nil),
	)
	transitionLatency.Record(ctx, duration.Seconds(), attrs)
	transitionTotal.Add(ctx, 1, attrs)
}

func recordTrial(ctx context.Context, accepted bool) {
	if initMetrics() != nil {
		return
	}
	trialTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("accepted", accepted)))
}

func recordShortfall(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	shortfallTotal.Add(ctx, 1)
}

func recordEvalNodes(ctx context.Context, duration time.Duration, terms, dropped int, err error) {
	if initMetrics() != nil {
		return
	}
	evalLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.Bool("success", err == nil),
		attribute.Int("terms", terms),
	))
	if dropped > 0 {
		evalDropped.Add(ctx, int64(dropped))
	}
}

func startTransitionSpan(ctx context.Context, phase Phase, contracts int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "pool.Transition",
		trace.WithAttributes(
			attribute.String("pool.phase", string(phase)),
			attribute.Int("pool.contracts", contracts),
		),
	)
}

func setTransitionSpanResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

func startEvalSpan(ctx context.Context, contracts int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "pool.InstantiatedPool.ComputeEvalNodes",
		trace.WithAttributes(attribute.Int("pool.contracts", contracts)),
	)
}

func setEvalSpanResult(span trace.Span, terms, dropped int, err error) {
	span.SetAttributes(
		attribute.Int("pool.terms", terms),
		attribute.Int("pool.dropped", dropped),
	)
	setTransitionSpanResult(span, err)
}
