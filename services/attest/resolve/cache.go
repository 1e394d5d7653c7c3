// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianAttest/services/attest/ast"
	"github.com/AleutianAI/AleutianAttest/services/attest/contract"
)

const keyPrefix = "resolve/v1/"

// CacheConfig configures the resolution cache.
type CacheConfig struct {
	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the cache for the life of the process only.
	InMemory bool

	// SyncWrites fsyncs every write.
	// Default: false, a lost entry is only recomputed.
	SyncWrites bool
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Cache is a Resolver that remembers results of an inner Resolver in
// BadgerDB, keyed by a hash of the query and the dependency set.
//
// # Description
//
// Only misses reach the inner resolver, still as one batch. Failed
// batches are not cached.
//
// # Thread Safety
//
// Safe for concurrent use.
type Cache struct {
	db     *badger.DB
	inner  Resolver
	logger *slog.Logger
}

// OpenCache opens the cache database and wraps inner.
//
// Outputs:
//
//	*Cache - Call Close when done.
//	error - Non-nil if the database cannot be opened.
func OpenCache(cfg CacheConfig, inner Resolver, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("cache path is required for a persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open resolve cache: %w", err)
	}
	return &Cache{db: db, inner: inner, logger: logger}, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

type cacheKey struct {
	Type         string                `json:"type"`
	Generics     string                `json:"generics"`
	Where        string                `json:"where"`
	Imports      []string              `json:"imports"`
	Dependencies contract.Dependencies `json:"dependencies"`
}

// key hashes everything that can change the answer to q.
func key(q Query, deps contract.Dependencies) ([]byte, error) {
	data, err := json.Marshal(cacheKey{
		Type:         ast.Render(q.Type),
		Generics:     ast.Render(q.Generics),
		Where:        ast.Render(q.Where),
		Imports:      q.Imports,
		Dependencies: deps,
	})
	if err != nil {
		return nil, fmt.Errorf("encode cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return []byte(keyPrefix + hex.EncodeToString(sum[:])), nil
}

// Resolve implements Resolver.
func (c *Cache) Resolve(ctx context.Context, queries []Query, deps contract.Dependencies) ([]Resolved, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys := make([][]byte, len(queries))
	out := make([]Resolved, len(queries))
	found := make([]bool, len(queries))
	for i, q := range queries {
		k, err := key(q, deps)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}

	err := c.db.View(func(txn *badger.Txn) error {
		for i, k := range keys {
			item, err := txn.Get(k)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &out[i])
			}); err != nil {
				return err
			}
			found[i] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read resolve cache: %w", err)
	}

	var missIdx []int
	var misses []Query
	for i, ok := range found {
		if !ok {
			missIdx = append(missIdx, i)
			misses = append(misses, queries[i])
		}
	}
	c.logger.Debug("resolve cache lookup",
		slog.Int("queries", len(queries)),
		slog.Int("misses", len(misses)),
	)
	if len(misses) == 0 {
		return out, nil
	}

	fresh, err := c.inner.Resolve(ctx, misses, deps)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(misses) {
		return nil, fmt.Errorf("inner resolver returned %d results for %d queries", len(fresh), len(misses))
	}

	for j, i := range missIdx {
		out[i] = fresh[j]
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		for j, i := range missIdx {
			val, err := json.Marshal(fresh[j])
			if err != nil {
				return err
			}
			if err := txn.Set(keys[i], val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("write resolve cache failed", slog.String("error", err.Error()))
	}
	return out, nil
}
