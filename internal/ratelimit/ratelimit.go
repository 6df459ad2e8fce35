// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package ratelimit is the per-backend token-bucket-plus-concurrency-cap
// gate every outbound vision-model call passes through.
// The token-bucket half rides golang.org/x/time/rate, which accumulates
// fractional refill internally and blocks in WaitN until a token is
// available or the context is done; the concurrency half rides
// golang.org/x/sync/semaphore.Weighted.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Global is a process-wide concurrency ceiling shared by every backend's
// Limiter: however generous each backend's own cap is, total in-flight
// calls across all of them never exceed this.
type Global struct {
	sem *semaphore.Weighted
}

// NewGlobal builds a shared ceiling of maxConcurrent in-flight calls.
// maxConcurrent <= 0 disables the ceiling.
func NewGlobal(maxConcurrent int) *Global {
	if maxConcurrent <= 0 {
		return &Global{}
	}
	return &Global{sem: semaphore.NewWeighted(int64(maxConcurrent))}
}

// Limiter gates one backend: a token bucket capping requests/minute plus a
// semaphore capping concurrent in-flight calls, optionally behind a
// process-wide Global ceiling.
type Limiter struct {
	tokens *rate.Limiter
	slots  *semaphore.Weighted
	global *Global
}

// New builds a Limiter refilling at maxRPM/60 tokens per second, capped at
// a burst of maxRPM, gating at most maxConcurrent simultaneous acquires.
func New(maxRPM, maxConcurrent int) *Limiter {
	return NewShared(maxRPM, maxConcurrent, nil)
}

// NewShared is New with a process-wide ceiling: an acquire must win a slot
// from global as well as this backend's own semaphore.
func NewShared(maxRPM, maxConcurrent int, global *Global) *Limiter {
	if maxRPM <= 0 {
		maxRPM = 1
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{
		tokens: rate.NewLimiter(rate.Limit(float64(maxRPM)/60.0), maxRPM),
		slots:  semaphore.NewWeighted(int64(maxConcurrent)),
		global: global,
	}
}

func (l *Limiter) acquireGlobal(ctx context.Context) error {
	if l.global == nil || l.global.sem == nil {
		return nil
	}
	return l.global.sem.Acquire(ctx, 1)
}

func (l *Limiter) tryAcquireGlobal() bool {
	if l.global == nil || l.global.sem == nil {
		return true
	}
	return l.global.sem.TryAcquire(1)
}

func (l *Limiter) releaseGlobal() {
	if l.global != nil && l.global.sem != nil {
		l.global.sem.Release(1)
	}
}

// Acquire blocks until a rate-limit token, a backend concurrency slot and
// (when configured) a global slot are all available, or timeout elapses.
// On success the caller must call the returned release func exactly once;
// the token itself is never returned, only the concurrency slots are.
func (l *Limiter) Acquire(ctx context.Context, timeout time.Duration) (release func(), err error) {
	wctx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := l.acquireGlobal(wctx); err != nil {
		return nil, err
	}
	if err := l.slots.Acquire(wctx, 1); err != nil {
		l.releaseGlobal()
		return nil, err
	}
	if err := l.tokens.WaitN(wctx, 1); err != nil {
		l.slots.Release(1)
		l.releaseGlobal()
		return nil, err
	}
	var released bool
	return func() {
		if released {
			return
		}
		released = true
		l.slots.Release(1)
		l.releaseGlobal()
	}, nil
}

// TryAcquire attempts a non-blocking acquire, returning ok=false
// immediately if the global ceiling, the concurrency slot or a token is
// unavailable.
func (l *Limiter) TryAcquire() (release func(), ok bool) {
	if !l.tryAcquireGlobal() {
		return nil, false
	}
	if !l.slots.TryAcquire(1) {
		l.releaseGlobal()
		return nil, false
	}
	if !l.tokens.AllowN(time.Now(), 1) {
		l.slots.Release(1)
		l.releaseGlobal()
		return nil, false
	}
	var released bool
	return func() {
		if released {
			return
		}
		released = true
		l.slots.Release(1)
		l.releaseGlobal()
	}, true
}
