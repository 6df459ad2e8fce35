// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package admission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMD-AGI/primus-ocr-core/internal/apierrors"
)

type fakeCounter struct {
	queued     int
	processing int
}

func (f *fakeCounter) CountActive(context.Context) (int, error)     { return f.queued + f.processing, nil }
func (f *fakeCounter) CountQueued(context.Context) (int, error)     { return f.queued, nil }
func (f *fakeCounter) CountProcessing(context.Context) (int, error) { return f.processing, nil }

func TestAdmit_RejectsAtCap(t *testing.T) {
	c := New(&fakeCounter{queued: 1, processing: 1}, 2)
	err := c.Admit(context.Background())
	require.Error(t, err)
	assert.Equal(t, apierrors.QueueFull, apierrors.GetErrorCode(err))
}

func TestAdmit_AllowsBelowCap(t *testing.T) {
	c := New(&fakeCounter{queued: 1}, 2)
	assert.NoError(t, c.Admit(context.Background()))
}

func TestAdmit_ZeroCapDisables(t *testing.T) {
	c := New(&fakeCounter{queued: 10000}, 0)
	assert.NoError(t, c.Admit(context.Background()))
}

func TestDepth(t *testing.T) {
	c := New(&fakeCounter{queued: 3, processing: 2}, 100)
	queued, processing, max, err := c.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, queued)
	assert.Equal(t, 2, processing)
	assert.Equal(t, 100, max)
}
