// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package batch runs an all-or-nothing operation over many items and,
// when it fails, bisects to the item responsible.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrEmptyBatch is returned when RunOrLocateError is given no items.
var ErrEmptyBatch = errors.New("batch: empty batch")

// FaultError names the items responsible for a failed batch.
//
// Items is a single item whenever the fault could be isolated. Err is the
// failure observed on the smallest failing span.
type FaultError[T any] struct {
	Items []T
	Err   error
}

// Error implements the error interface.
func (e *FaultError[T]) Error() string {
	return fmt.Sprintf("batch failed on %d item(s): %v", len(e.Items), e.Err)
}

// Unwrap returns the underlying failure.
func (e *FaultError[T]) Unwrap() error {
	return e.Err
}

// Func is an operation over a whole batch.
type Func[T, O any] func(ctx context.Context, items []T) (O, error)

// span is a half-open range of the input. err is the span's failure when
// known, either from running it or by inference from its parent; nil
// means the span has not been run.
type span struct {
	lo, hi int
	err    error
}

func (s span) len() int { return s.hi - s.lo }

// RunOrLocateError runs f on items. On failure it returns a *FaultError
// naming the responsible items.
//
// Description:
//
//	The whole list is tried first. A failing span is split in half and
//	the second half is tried. When it fails the search continues there.
//	When it passes, the first half inherits the parent's failure without
//	being run. Both halves of a split are queued, most recent first, and
//	the shortest failing span seen is remembered; a failing span of one
//	item is returned at once.
//
//	With exactly one faulty item among N, f runs at most ceil(log2 N)+1
//	times. Faults spread over many items degrade towards N calls.
//
// Inputs:
//
//	ctx - Checked between calls. Cancellation returns ctx.Err().
//	items - Must be non-empty.
//	f - Must fail on a span iff the span contains a faulty item.
//
// Outputs:
//
//	O - f's output on the whole list.
//	error - ErrEmptyBatch, ctx.Err(), or *FaultError[T].
func RunOrLocateError[T, O any](ctx context.Context, items []T, f Func[T, O]) (O, error) {
	var zero O
	if len(items) == 0 {
		return zero, ErrEmptyBatch
	}

	ctx, span0 := startLocateSpan(ctx, len(items))
	defer span0.End()
	start := time.Now()

	calls := 1
	out, err := f(ctx, items)
	if err == nil {
		recordLocateMetrics(ctx, time.Since(start), calls, false)
		return out, nil
	}

	slog.Debug("batch failed, bisecting",
		slog.Int("items", len(items)),
		slog.String("error", err.Error()),
	)

	best := span{lo: 0, hi: len(items), err: err}
	queue := []span{best}
	for len(queue) > 0 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		cur := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		if cur.err == nil {
			calls++
			if _, cur.err = f(ctx, items[cur.lo:cur.hi]); cur.err == nil {
				continue
			}
		}
		if cur.len() < best.len() {
			best = cur
		}
		if cur.len() == 1 {
			break
		}

		mid := cur.lo + cur.len()/2
		left := span{lo: cur.lo, hi: mid}
		right := span{lo: mid, hi: cur.hi}

		calls++
		if _, right.err = f(ctx, items[right.lo:right.hi]); right.err == nil {
			left.err = cur.err
			queue = append(queue, left)
			continue
		}
		queue = append(queue, left, right)
	}

	recordLocateMetrics(ctx, time.Since(start), calls, true)
	setLocateSpanResult(span0, calls, best.len())

	fault := &FaultError[T]{
		Items: append([]T(nil), items[best.lo:best.hi]...),
		Err:   best.err,
	}
	slog.Info("batch fault located",
		slog.Int("items", len(items)),
		slog.Int("responsible", len(fault.Items)),
		slog.Int("calls", calls),
	)
	return zero, fault
}
