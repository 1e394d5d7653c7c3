// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAttest/pkg/logging"
	"github.com/AleutianAI/AleutianAttest/services/attest/config"
	"github.com/AleutianAI/AleutianAttest/services/attest/driver"
	"github.com/AleutianAI/AleutianAttest/services/attest/loader"
	"github.com/AleutianAI/AleutianAttest/services/attest/telemetry"
)

var version = "dev"

// options are the flags shared by every command.
type options struct {
	configPath  string
	logLevel    string
	metricsAddr string
	trialFactor int
	strict      bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "attest",
		Short: "Turn contracts into executable assertions",
		Long: `attest instantiates contracts over random inputs that satisfy their
preconditions, evaluates the marked sub-expressions of each instance, and
writes the resulting assertions as one Rust program.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides the config file)")

	generateCmd := &cobra.Command{
		Use:   "generate <contracts.toml> <output.rs>",
		Short: "Generate assertions for a contracts file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), cmd.ErrOrStderr(), cmd.OutOrStdout(), opts, args[0], args[1])
		},
	}
	generateCmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run, e.g. :9464")
	generateCmd.Flags().IntVar(&opts.trialFactor, "trial-factor", 0, "trials per wanted instance (overrides the config file)")
	generateCmd.Flags().BoolVar(&opts.strict, "strict", false, "fail contracts that yield fewer instances than requested")

	validateCmd := &cobra.Command{
		Use:   "validate <contracts.toml>",
		Short: "Parse and validate a contracts file without building anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), cmd.ErrOrStderr(), cmd.OutOrStdout(), opts, args[0])
		},
	}

	rootCmd.AddCommand(generateCmd, validateCmd)
	return rootCmd
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(opts *options) (*config.Config, error) {
	var overrides []config.Option
	if opts.logLevel != "" {
		overrides = append(overrides, config.WithLogLevel(opts.logLevel))
	}
	if opts.trialFactor > 0 {
		overrides = append(overrides, config.WithTrialFactor(opts.trialFactor))
	}
	if opts.strict {
		overrides = append(overrides, config.WithStrictInstanceCount(true))
	}
	if opts.metricsAddr != "" {
		overrides = append(overrides, config.WithMetricExporter(telemetry.ExporterPrometheus))
	}
	return config.Load(opts.configPath, overrides...)
}

func newLogger(cfg *config.Config, stderr io.Writer, runID string) (*logging.Logger, error) {
	lc, err := cfg.LoggingConfig(runID)
	if err != nil {
		return nil, err
	}
	lc.Writer = stderr
	return logging.New(lc), nil
}

func runValidate(ctx context.Context, stderr, stdout io.Writer, opts *options, path string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, stderr, "")
	if err != nil {
		return err
	}
	defer logger.Close()

	contracts, err := loader.New(nil, logger.Slog()).LoadFile(ctx, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %d contracts OK\n", path, len(contracts))
	return nil
}

func runGenerate(ctx context.Context, stderr, stdout io.Writer, opts *options, contractsPath, output string) (err error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	runID := uuid.NewString()
	logger, err := newLogger(cfg, stderr, runID)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Slog()

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := shutdown(sctx); serr != nil {
			log.Warn("telemetry shutdown failed", slog.String("error", serr.Error()))
		}
	}()

	if opts.metricsAddr != "" {
		stop, err := serveMetrics(opts.metricsAddr, log)
		if err != nil {
			return err
		}
		defer stop()
	}

	contracts, err := loader.New(nil, log).LoadFile(ctx, contractsPath)
	if err != nil {
		return err
	}

	d, err := driver.Open(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := d.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	report, err := d.Run(ctx, contracts, output)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %d assertions from %d contracts (%d pools) to %s\n",
		report.Assertions, report.Contracts, report.Pools, report.Output)
	return nil
}

// serveMetrics serves telemetry.MetricsHandler on addr until stop is
// called.
func serveMetrics(addr string, logger *slog.Logger) (stop func(), err error) {
	h := telemetry.MetricsHandler()
	if h == nil {
		return nil, errors.New("metrics requested but the prometheus exporter is not active")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
