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
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	cfg := DefaultConfig()

	if cfg.ServiceName != "aleutian-attest" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	if cfg.TraceExporter != ExporterNone || cfg.MetricExporter != ExporterNone {
		t.Errorf("exporters = %q/%q, want none/none", cfg.TraceExporter, cfg.MetricExporter)
	}
}

func TestDefaultConfig_Env(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	t.Setenv("OTEL_METRICS_EXPORTER", "prometheus")
	cfg := DefaultConfig()
	if cfg.TraceExporter != "stdout" || cfg.MetricExporter != "prometheus" {
		t.Errorf("exporters = %q/%q", cfg.TraceExporter, cfg.MetricExporter)
	}
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, DefaultConfig())
	if !errors.Is(err, ErrNilContext) {
		t.Errorf("Init(nil) error = %v, want ErrNilContext", err)
	}
}

func TestInit_None(t *testing.T) {
	cfg := Config{TraceExporter: ExporterNone, MetricExporter: ExporterNone}
	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}

func TestInit_StdoutTrace(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{ServiceName: "attest-test", TraceExporter: ExporterStdout, MetricExporter: ExporterNone, Writer: &buf}
	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "pool.InstantiateTypes")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}
	if !strings.Contains(buf.String(), "pool.InstantiateTypes") {
		t.Errorf("span not exported: %s", buf.String())
	}
}

func TestInit_Prometheus(t *testing.T) {
	cfg := Config{TraceExporter: ExporterNone, MetricExporter: ExporterPrometheus}
	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer shutdown(context.Background())

	counter, err := otel.Meter("aleutian.attest.test").Int64Counter("attest_test_trials_total")
	if err != nil {
		t.Fatal(err)
	}
	counter.Add(context.Background(), 3)

	h := MetricsHandler()
	if h == nil {
		t.Fatal("MetricsHandler() is nil with the prometheus exporter")
	}
	srv := httptest.NewServer(h)
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "attest_test_trials_total") {
		t.Errorf("metric missing from scrape:\n%s", body)
	}

	// A second Init must not collide with the first registry.
	shutdown2, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	_ = shutdown2(context.Background())
}

func TestInit_UnknownExporter(t *testing.T) {
	for _, cfg := range []Config{
		{TraceExporter: "jaeger-thrift", MetricExporter: ExporterNone},
		{TraceExporter: ExporterNone, MetricExporter: "statsd"},
	} {
		_, err := Init(context.Background(), cfg)
		if !errors.Is(err, ErrUnknownExporter) {
			t.Errorf("Init(%+v) error = %v, want ErrUnknownExporter", cfg, err)
		}
	}
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	LoggerWithTrace(context.Background(), logger).Info("no span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("trace_id without a span: %s", buf.String())
	}
	buf.Reset()

	traceID := trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)
	LoggerWithTrace(ctx, logger).Info("with span")
	if !strings.Contains(buf.String(), traceID.String()) {
		t.Errorf("trace_id missing: %s", buf.String())
	}

	if LoggerWithTrace(ctx, nil) == nil {
		t.Error("nil logger should fall back to slog.Default()")
	}
}
