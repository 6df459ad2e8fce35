// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package ratelimit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease_ConcurrencyCap(t *testing.T) {
	l := New(6000, 2) // generous RPM so only concurrency gates this test
	ctx := context.Background()

	rel1, err := l.Acquire(ctx, time.Second)
	require.NoError(t, err)
	rel2, err := l.Acquire(ctx, time.Second)
	require.NoError(t, err)

	// Third acquire must block until a slot frees; use a short timeout to
	// prove it doesn't succeed instantly.
	_, err = l.Acquire(ctx, 50*time.Millisecond)
	assert.Error(t, err, "third concurrent acquire should have blocked past its deadline")

	rel1()
	rel3, err := l.Acquire(ctx, time.Second)
	require.NoError(t, err, "acquire should succeed after a slot is released")
	rel2()
	rel3()
}

func TestTryAcquire_NonBlocking(t *testing.T) {
	l := New(6000, 1)
	rel, ok := l.TryAcquire()
	require.True(t, ok)
	_, ok = l.TryAcquire()
	assert.False(t, ok, "second try-acquire must fail while the only slot is held")
	rel()
	_, ok = l.TryAcquire()
	assert.True(t, ok)
}

func TestSharedGlobalCeiling_SpansLimiters(t *testing.T) {
	global := NewGlobal(2)
	a := NewShared(6000, 5, global)
	b := NewShared(6000, 5, global)
	ctx := context.Background()

	relA, err := a.Acquire(ctx, time.Second)
	require.NoError(t, err)
	relB, err := b.Acquire(ctx, time.Second)
	require.NoError(t, err)

	// Both backends have per-backend slots left, but the global ceiling of
	// 2 is exhausted.
	_, err = a.Acquire(ctx, 50*time.Millisecond)
	assert.Error(t, err, "global ceiling must gate backend A")
	_, ok := b.TryAcquire()
	assert.False(t, ok, "global ceiling must gate backend B")

	relA()
	rel, ok := b.TryAcquire()
	require.True(t, ok, "releasing one call frees a global slot for either backend")
	rel()
	relB()
}

func TestNewGlobal_ZeroDisablesCeiling(t *testing.T) {
	global := NewGlobal(0)
	l := NewShared(6000, 2, global)
	rel1, err := l.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	rel2, err := l.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	rel1()
	rel2()
}

func TestAcquire_NeverExceedsMaxConcurrent(t *testing.T) {
	const maxConcurrent = 3
	l := New(60000, maxConcurrent)
	var inFlight int32
	var maxSeen int32
	done := make(chan struct{})

	for i := 0; i < 20; i++ {
		go func() {
			rel, err := l.Acquire(context.Background(), time.Second)
			if err != nil {
				done <- struct{}{}
				return
			}
			n := atomic.AddInt32(&inFlight, 1)
			for {
				cur := atomic.LoadInt32(&maxSeen)
				if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			rel()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 20; i++ {
		<-done
	}
	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxSeen)), maxConcurrent)
}
