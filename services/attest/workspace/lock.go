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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LockFileName is the file locked inside the workspace root.
const LockFileName = ".attest.lock"

// Coordinator owns the workspace lock.
//
// # Description
//
// Mutations of the workspace require a Handle. A Handle holds an
// in-process semaphore, so goroutines take turns, and an exclusive
// flock(2) on the lock file, so concurrent attest processes sharing a
// root take turns too.
//
// # Thread Safety
//
// Safe for concurrent use.
type Coordinator struct {
	root   string
	poll   time.Duration
	sem    chan struct{}
	logger *slog.Logger
}

// NewCoordinator returns a Coordinator for cfg.Root, creating it.
func NewCoordinator(cfg *Config, logger *slog.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Coordinator{
		root:   cfg.Root,
		poll:   cfg.LockPollInterval,
		sem:    make(chan struct{}, 1),
		logger: logger,
	}, nil
}

// Root returns the workspace directory.
func (c *Coordinator) Root() string {
	return c.root
}

// Acquire blocks until the workspace is exclusively held or ctx ends.
//
// Outputs:
//
//	*Handle - Must be released with Release.
//	error - ctx.Err() or a failure to open or lock the lock file.
func (c *Coordinator) Acquire(ctx context.Context) (*Handle, error) {
	start := time.Now()
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	f, err := os.OpenFile(filepath.Join(c.root, LockFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		<-c.sem
		return nil, fmt.Errorf("open workspace lock: %w", err)
	}

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		ok, err := tryLock(f)
		if err != nil {
			f.Close()
			<-c.sem
			return nil, fmt.Errorf("lock workspace: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			f.Close()
			<-c.sem
			return nil, ctx.Err()
		}
	}

	waited := time.Since(start)
	recordLockWait(ctx, waited)
	c.logger.Debug("workspace acquired",
		slog.String("root", c.root),
		slog.Duration("waited", waited),
	)
	return &Handle{coord: c, file: f}, nil
}

// Handle is exclusive ownership of the workspace.
//
// Thread Safety: Not safe for concurrent use.
type Handle struct {
	coord    *Coordinator
	file     *os.File
	once     sync.Once
	released bool
}

// Root returns the workspace directory.
func (h *Handle) Root() string {
	return h.coord.root
}

// Release gives up the workspace. Safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.released = true
		if err := unlock(h.file); err != nil {
			h.coord.logger.Warn("workspace unlock failed", slog.String("error", err.Error()))
		}
		h.file.Close()
		<-h.coord.sem
	})
}

// resolve maps rel to an absolute path inside the workspace.
func (h *Handle) resolve(rel string) (string, error) {
	if h.released {
		return "", ErrReleased
	}
	p := filepath.Join(h.coord.root, rel)
	if p != h.coord.root && !strings.HasPrefix(p, h.coord.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, rel)
	}
	return p, nil
}

// WriteFile writes data to rel, creating parent directories.
func (h *Handle) WriteFile(rel string, data []byte) error {
	p, err := h.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(rel), err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// RemoveAll removes rel and everything below it.
func (h *Handle) RemoveAll(rel string) error {
	p, err := h.resolve(rel)
	if err != nil {
		return err
	}
	if p == h.coord.root {
		return fmt.Errorf("%w: refusing to remove the root", ErrOutsideWorkspace)
	}
	return os.RemoveAll(p)
}
