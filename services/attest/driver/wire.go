// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package driver

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianAttest/services/attest/config"
	"github.com/AleutianAI/AleutianAttest/services/attest/generate"
	"github.com/AleutianAI/AleutianAttest/services/attest/oracle"
	"github.com/AleutianAI/AleutianAttest/services/attest/pool"
	"github.com/AleutianAI/AleutianAttest/services/attest/resolve"
	"github.com/AleutianAI/AleutianAttest/services/attest/workspace"
)

// Open builds a Driver over a cargo workspace as configured by cfg.
//
// Description:
//
//	Types are resolved by compiling stubs, through the resolution cache
//	unless it is disabled. Preconditions and eval terms run as cargo
//	programs in the same workspace. Values come from a clock-seeded
//	generator. No coverage collaborator is installed.
//
// Outputs:
//
//	*Driver - Call Close to release the cache.
//	error - Non-nil if the workspace or cache cannot be opened.
func Open(cfg *config.Config, logger *slog.Logger) (*Driver, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	cargo, err := workspace.NewCargo(workspace.NewConfig(cfg.WorkspaceOptions()...), logger)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}

	var resolver resolve.Resolver = resolve.NewCompiler(cargo, logger)
	d := New(Stages{
		Values:    generate.NewRandom(),
		Evaluator: oracle.NewEvaluator(cargo, logger),
	}, logger, cfg.PoolOptions()...)

	if cc, ok := cfg.ResolveCacheConfig(); ok {
		cache, err := resolve.OpenCache(cc, resolver, logger)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, cache.Close)
		resolver = cache
	}
	d.stages.Toolchain = pool.Toolchain{
		Resolver:      resolver,
		Preconditions: pool.OracleBuilder{Runner: cargo, Logger: logger},
	}
	return d, nil
}
