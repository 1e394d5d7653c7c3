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
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// DefaultMaxStderr bounds captured stderr when StartProcess is given no
// limit.
const DefaultMaxStderr = 256 * 1024

// =============================================================================
// PROCESS
// =============================================================================

// Process is a running child with line-oriented pipes.
//
// # Description
//
// The child outlives the context passed to StartProcess. Callers end it
// with Wait, which closes stdin and reaps it, or Kill. Stderr is captured
// up to a limit and readable at any time.
//
// # Thread Safety
//
// WriteLine and ReadLine are not safe for concurrent use with
// themselves. Kill and Stderr are safe to call from any goroutine.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *syncBuffer

	closeOnce sync.Once
	closeErr  error
	waitOnce  sync.Once
	waitErr   error
}

// StartProcess starts name in dir.
//
// Inputs:
//
//	ctx - Checked before starting; does not bound the child's lifetime.
//	maxStderr - Captured stderr limit in bytes. Zero means DefaultMaxStderr.
func StartProcess(ctx context.Context, dir string, maxStderr int, name string, args ...string) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxStderr <= 0 {
		maxStderr = DefaultMaxStderr
	}

	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	stderr := &syncBuffer{}
	stderr.lw = limitedWriter{w: &stderr.buf, limit: maxStderr}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	recordProcessStart(ctx)

	return &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		stderr: stderr,
	}, nil
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// WriteLine writes line and a newline to stdin.
func (p *Process) WriteLine(line string) error {
	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

// ReadLine reads one line from stdout without its terminator.
//
// Outputs:
//
//	error - ErrProcessExited when stdout closed before a full line.
func (p *Process) ReadLine() (string, error) {
	line, err := p.stdout.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", ErrProcessExited
		}
		return "", fmt.Errorf("read stdout: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadAll reads stdout until the child closes it.
func (p *Process) ReadAll() ([]byte, error) {
	out, err := io.ReadAll(p.stdout)
	if err != nil {
		return out, fmt.Errorf("read stdout: %w", err)
	}
	return out, nil
}

// CloseStdin signals end of input to the child.
func (p *Process) CloseStdin() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.stdin.Close()
	})
	return p.closeErr
}

// Wait closes stdin and waits for the child to exit.
func (p *Process) Wait() error {
	_ = p.CloseStdin()
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// Kill terminates the child. It does not reap it; call Wait after.
func (p *Process) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Stderr returns the captured stderr so far.
func (p *Process) Stderr() string {
	return p.stderr.String()
}

// StderrTruncated reports whether stderr exceeded the limit.
func (p *Process) StderrTruncated() bool {
	p.stderr.mu.Lock()
	defer p.stderr.mu.Unlock()
	return p.stderr.lw.truncated
}

// =============================================================================
// OUTPUT CAPTURE
// =============================================================================

// limitedWriter wraps a writer with a size limit.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	n = len(p)
	if lw.written >= lw.limit {
		lw.truncated = true
		return n, nil
	}

	remaining := lw.limit - lw.written
	if len(p) > remaining {
		p = p[:remaining]
		lw.truncated = true
	}

	written, err := lw.w.Write(p)
	lw.written += written
	return n, err
}

// syncBuffer is a limited buffer written by exec's copy goroutine and
// read by callers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	lw  limitedWriter
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lw.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
