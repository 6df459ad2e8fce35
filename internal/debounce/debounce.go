// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package debounce wraps the metadata
// store's UpdateJobStatus so that high-frequency progress writes from
// inside Pass 2 collapse into durable snapshots no more often than once
// per debounceInterval, while guaranteeing a status *change* (and always a
// terminal transition) is never silently dropped.
//
// Each job carries a last-flush timestamp and at most one pending
// snapshot; a background ticker sweeps any snapshot older than the
// interval so a job that stops calling Update still gets flushed.
package debounce

import (
	"context"
	"sync"
	"time"

	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
	"github.com/AMD-AGI/primus-ocr-core/internal/logging/log"
	"github.com/AMD-AGI/primus-ocr-core/internal/telemetry"
)

// Sink is the durable write target; satisfied by *metadata.Store.
type Sink interface {
	UpdateJobStatus(ctx context.Context, id string, status domain.Status, progress float64, statusMsg, errMsg *string) error
}

type snapshot struct {
	status    domain.Status
	progress  float64
	statusMsg *string
	errMsg    *string
}

type jobState struct {
	mu         sync.Mutex
	lastFlush  time.Time
	pending    *snapshot
	lastStatus domain.Status
}

// Updater coalesces Update calls per job id.
type Updater struct {
	sink     Sink
	interval time.Duration

	mu   sync.Mutex
	jobs map[string]*jobState

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New builds an Updater flushing to sink no more than once per interval per
// job, with a background ticker at interval/2 sweeping stale pending
// snapshots so a job that stops calling Update still gets flushed promptly.
func New(sink Sink, interval time.Duration) *Updater {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	u := &Updater{
		sink:     sink,
		interval: interval,
		jobs:     make(map[string]*jobState),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go u.tickLoop()
	return u
}

func (u *Updater) stateFor(jobID string) *jobState {
	u.mu.Lock()
	defer u.mu.Unlock()
	js, ok := u.jobs[jobID]
	if !ok {
		js = &jobState{}
		u.jobs[jobID] = js
	}
	return js
}

// Update records a new status/progress/message for jobID. It flushes
// synchronously to the sink if: this is the first write for the job, the
// status differs from the last flushed status, the status is terminal
// (done/error/paused), or the debounce interval has elapsed since the last
// flush. Otherwise it buffers the snapshot for the background ticker (or a
// later Update) to pick up: no update is lost if the status changed;
// intermediate progress values may be dropped.
func (u *Updater) Update(ctx context.Context, jobID string, status domain.Status, progress float64, statusMsg, errMsg *string) error {
	js := u.stateFor(jobID)
	snap := &snapshot{status: status, progress: progress, statusMsg: statusMsg, errMsg: errMsg}

	js.mu.Lock()
	statusChanged := js.lastStatus != status
	terminal := isTerminal(status)
	elapsed := time.Since(js.lastFlush) >= u.interval
	first := js.lastFlush.IsZero()

	if !first && !statusChanged && !terminal && !elapsed {
		js.pending = snap
		js.mu.Unlock()
		telemetryDrop()
		return nil
	}
	js.pending = nil
	js.lastFlush = time.Now()
	js.lastStatus = status
	js.mu.Unlock()

	if err := u.sink.UpdateJobStatus(ctx, jobID, status, progress, statusMsg, errMsg); err != nil {
		return err
	}
	telemetryFlush()
	return nil
}

// Flush forces an immediate write of the last-known snapshot for jobID,
// bypassing debounce. Used by terminal transitions that must be durable
// before a worker returns.
func (u *Updater) Flush(ctx context.Context, jobID string, status domain.Status, progress float64, statusMsg, errMsg *string) error {
	js := u.stateFor(jobID)
	js.mu.Lock()
	js.pending = nil
	js.lastFlush = time.Now()
	js.lastStatus = status
	js.mu.Unlock()
	if err := u.sink.UpdateJobStatus(ctx, jobID, status, progress, statusMsg, errMsg); err != nil {
		return err
	}
	telemetryFlush()
	return nil
}

// Close stops the background ticker and flushes every still-pending
// snapshot so no buffered progress value is lost on shutdown.
func (u *Updater) Close(ctx context.Context) {
	u.stopOnce.Do(func() { close(u.stopCh) })
	<-u.doneCh
	u.drainPending(ctx, true)
}

func (u *Updater) tickLoop() {
	defer close(u.doneCh)
	t := time.NewTicker(u.interval / 2)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			u.drainPending(context.Background(), false)
		case <-u.stopCh:
			return
		}
	}
}

// drainPending flushes pending snapshots older than the interval, or every
// pending snapshot when force is set.
func (u *Updater) drainPending(ctx context.Context, force bool) {
	u.mu.Lock()
	ids := make([]string, 0, len(u.jobs))
	for id := range u.jobs {
		ids = append(ids, id)
	}
	u.mu.Unlock()

	for _, id := range ids {
		js := u.stateFor(id)
		js.mu.Lock()
		if js.pending == nil || (!force && time.Since(js.lastFlush) < u.interval) {
			js.mu.Unlock()
			continue
		}
		snap := js.pending
		js.pending = nil
		js.lastFlush = time.Now()
		js.lastStatus = snap.status
		js.mu.Unlock()

		if err := u.sink.UpdateJobStatus(ctx, id, snap.status, snap.progress, snap.statusMsg, snap.errMsg); err != nil {
			log.Errorf("debounce: background flush for job %s failed: %v", id, err)
			continue
		}
		telemetryFlush()
	}
}

func isTerminal(s domain.Status) bool {
	return s == domain.StatusDone || s == domain.StatusError || s == domain.StatusPaused
}

func telemetryFlush() {
	telemetry.DebounceFlushTotal.Inc()
}

func telemetryDrop() {
	telemetry.DebounceDroppedTotal.Inc()
}
