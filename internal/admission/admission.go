// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package admission is a soft queue-depth
// guard consulted before every job create. Race windows between the count
// and the insert are acceptable — the system self-corrects at worker claim
// time.
package admission

import (
	"context"
	"fmt"

	"github.com/AMD-AGI/primus-ocr-core/internal/apierrors"
	"github.com/AMD-AGI/primus-ocr-core/internal/telemetry"
)

// Counter is the queue-depth source; satisfied by *metadata.Store.
type Counter interface {
	CountActive(ctx context.Context) (int, error)
	CountQueued(ctx context.Context) (int, error)
	CountProcessing(ctx context.Context) (int, error)
}

// Controller rejects creates once queued+processing reaches MaxQueueSize.
// Zero disables the cap.
type Controller struct {
	counter      Counter
	maxQueueSize int
}

func New(counter Counter, maxQueueSize int) *Controller {
	return &Controller{counter: counter, maxQueueSize: maxQueueSize}
}

// Admit returns nil when a new job may be enqueued, or a queue_full error
// when the active count has reached the configured cap.
func (c *Controller) Admit(ctx context.Context) error {
	if c.maxQueueSize <= 0 {
		return nil
	}
	active, err := c.counter.CountActive(ctx)
	if err != nil {
		return apierrors.NewUnavailable("metadata_unavailable: " + err.Error()).WithError(err)
	}
	if active >= c.maxQueueSize {
		return apierrors.NewQueueFull(fmt.Sprintf("queue_full: %d active jobs at cap %d", active, c.maxQueueSize))
	}
	return nil
}

// Depth reports the current queued and processing counts plus the
// configured cap, for the GET /queue endpoint.
func (c *Controller) Depth(ctx context.Context) (queued, processing, max int, err error) {
	queued, err = c.counter.CountQueued(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	processing, err = c.counter.CountProcessing(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	telemetry.QueueDepth.Set(float64(queued))
	return queued, processing, c.maxQueueSize, nil
}
