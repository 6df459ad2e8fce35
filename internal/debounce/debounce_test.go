// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package debounce

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
)

type fakeSink struct {
	mu    sync.Mutex
	calls []domain.Status
}

func (f *fakeSink) UpdateJobStatus(_ context.Context, _ string, status domain.Status, _ float64, _, _ *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, status)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestUpdate_FirstCallFlushesImmediately(t *testing.T) {
	sink := &fakeSink{}
	u := New(sink, time.Hour)
	defer u.Close(context.Background())

	err := u.Update(context.Background(), "job-1", domain.StatusProcessing, 0.1, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sink.count())
}

func TestUpdate_IntermediateProgressCoalesced(t *testing.T) {
	sink := &fakeSink{}
	u := New(sink, time.Hour) // long interval so nothing auto-flushes mid-test
	defer u.Close(context.Background())

	ctx := context.Background()
	require.NoError(t, u.Update(ctx, "job-1", domain.StatusProcessing, 0.1, nil, nil))
	require.NoError(t, u.Update(ctx, "job-1", domain.StatusProcessing, 0.2, nil, nil))
	require.NoError(t, u.Update(ctx, "job-1", domain.StatusProcessing, 0.3, nil, nil))

	assert.Equal(t, 1, sink.count(), "same-status progress updates within the interval must coalesce")
}

func TestUpdate_StatusChangeAlwaysFlushes(t *testing.T) {
	sink := &fakeSink{}
	u := New(sink, time.Hour)
	defer u.Close(context.Background())

	ctx := context.Background()
	require.NoError(t, u.Update(ctx, "job-1", domain.StatusQueued, 0, nil, nil))
	require.NoError(t, u.Update(ctx, "job-1", domain.StatusProcessing, 0.1, nil, nil))
	assert.Equal(t, 2, sink.count(), "a status change must never be dropped")
}

func TestUpdate_TerminalAlwaysFlushesSynchronously(t *testing.T) {
	sink := &fakeSink{}
	u := New(sink, time.Hour)
	defer u.Close(context.Background())

	ctx := context.Background()
	require.NoError(t, u.Update(ctx, "job-1", domain.StatusProcessing, 0.1, nil, nil))
	require.NoError(t, u.Update(ctx, "job-1", domain.StatusDone, 1.0, nil, nil))
	assert.Equal(t, 2, sink.count())
}

func TestUpdate_IntervalElapsedFlushes(t *testing.T) {
	sink := &fakeSink{}
	u := New(sink, 20*time.Millisecond)
	defer u.Close(context.Background())

	ctx := context.Background()
	require.NoError(t, u.Update(ctx, "job-1", domain.StatusProcessing, 0.1, nil, nil))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, u.Update(ctx, "job-1", domain.StatusProcessing, 0.2, nil, nil))
	assert.Equal(t, 2, sink.count())
}

func TestClose_DrainsPendingSnapshot(t *testing.T) {
	sink := &fakeSink{}
	u := New(sink, time.Hour)

	ctx := context.Background()
	require.NoError(t, u.Update(ctx, "job-1", domain.StatusProcessing, 0.1, nil, nil))
	require.NoError(t, u.Update(ctx, "job-1", domain.StatusProcessing, 0.2, nil, nil))
	assert.Equal(t, 1, sink.count())

	u.Close(ctx)
	assert.Equal(t, 2, sink.count(), "Close must flush a pending snapshot even before the interval has elapsed")
}
