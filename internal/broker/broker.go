// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package broker is the job-arrival notification channel, implemented
// over Postgres LISTEN/NOTIFY via lib/pq's Listener.
//
// A NOTIFY can be missed across a reconnect, so Receive backstops every
// notification wait with a poll tick; a dropped NOTIFY is self-healed at
// the next tick rather than stalling the worker. Delivery is
// at-least-once — the durable queued row is the source of truth, the
// notification is only a wakeup.
package broker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/AMD-AGI/primus-ocr-core/internal/logging/log"
)

const channel = "ocr_job_queue"

// Broker is the publish/receive handle threaded into the API gateway
// (publisher) and worker runtime (receiver).
type Broker struct {
	dsn      string
	listener *pq.Listener
	notify   chan struct{}
	poll     time.Duration
}

// Open starts listening on the job-queue channel. pollInterval bounds how
// long Receive ever blocks without a NOTIFY, guaranteeing forward progress
// even if a notification is dropped during a reconnect.
func Open(dsn string, pollInterval time.Duration) (*Broker, error) {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	notify := make(chan struct{}, 1)
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warnf("broker: listener event %v: %v", ev, err)
		}
	}
	l := pq.NewListener(dsn, 2*time.Second, time.Minute, reportProblem)
	if err := l.Listen(channel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("listen on %s: %w", channel, err)
	}

	b := &Broker{dsn: dsn, listener: l, notify: notify, poll: pollInterval}
	go b.pump()
	return b, nil
}

// pump drains the pq.Listener's Notify channel into a non-blocking signal
// channel, coalescing bursts of NOTIFYs into a single wakeup.
func (b *Broker) pump() {
	for range b.listener.Notify {
		select {
		case b.notify <- struct{}{}:
		default:
		}
	}
}

// Publish announces job_id arrived. Publish is fire-and-forget from the
// broker's perspective: the durable source of truth is the metadata
// store's queued row, which atomic_claim_next_queued will find even if
// this NOTIFY never reaches a listener.
func (b *Broker) Publish(ctx context.Context, db Execer, jobID string) error {
	_, err := db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, jobID)
	if err != nil {
		return fmt.Errorf("publish job %s: %w", jobID, err)
	}
	return nil
}

// Execer is the minimal subset of *sql.DB / *sqlx.DB Publish needs.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Receive blocks until either a NOTIFY arrives, the poll interval elapses
// (signaling "go re-check the queue yourself"), or ctx is cancelled. The
// returned bool is true only when Receive was woken by an actual NOTIFY;
// callers should fall back to AtomicClaimNextQueued either way since the
// payload here is advisory, not authoritative.
func (b *Broker) Receive(ctx context.Context) (woken bool) {
	t := time.NewTimer(b.poll)
	defer t.Stop()
	select {
	case <-b.notify:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close stops listening and releases the underlying connection.
func (b *Broker) Close() error {
	return b.listener.Close()
}
