// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

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
	tracer = otel.Tracer("aleutian.attest.oracle")
	meter  = otel.Meter("aleutian.attest.oracle")
)

var (
	requestLatency  metric.Float64Histogram
	requestTotal    metric.Int64Counter
	verdictTotal    metric.Int64Counter
	evaluateLatency metric.Float64Histogram
	termsTotal      metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		requestLatency, err = meter.Float64Histogram(
			"attest_oracle_request_duration_seconds",
			metric.WithDescription("Round trip time of oracle server requests"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		requestTotal, err = meter.Int64Counter(
			"attest_oracle_requests_total",
			metric.WithDescription("Oracle server requests by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		verdictTotal, err = meter.Int64Counter(
			"attest_oracle_verdicts_total",
			metric.WithDescription("Precondition verdicts by kind"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		evaluateLatency, err = meter.Float64Histogram(
			"attest_oracle_evaluate_duration_seconds",
			metric.WithDescription("Duration of batch evaluations including compilation"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		termsTotal, err = meter.Int64Counter(
			"attest_oracle_terms_total",
			metric.WithDescription("Terms submitted for evaluation"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordRequest(ctx context.Context, duration time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", err == nil))
	requestLatency.Record(ctx, duration.Seconds(), attrs)
	requestTotal.Add(ctx, 1, attrs)
}

func recordVerdict(ctx context.Context, v Verdict, err error) {
	if initMetrics() != nil {
		return
	}
	kind := "false"
	switch {
	case err != nil:
		kind = "error"
	case v.Caught:
		kind = "caught"
	case v.Holds:
		kind = "true"
	}
	verdictTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", kind)))
}

func recordEvaluate(ctx context.Context, duration time.Duration, terms int, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", err == nil))
	evaluateLatency.Record(ctx, duration.Seconds(), attrs)
	termsTotal.Add(ctx, int64(terms), attrs)
}

func startEvaluateSpan(ctx context.Context, terms int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "oracle.Evaluator.Evaluate",
		trace.WithAttributes(attribute.Int("oracle.terms", terms)),
	)
}

func setEvaluateSpanResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
