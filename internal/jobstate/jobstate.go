// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package jobstate is the Job lifecycle transition table. It holds no
// storage handle of its own — callers pass the current status and get
// back either the next status or an invalid_transition error.
package jobstate

import (
	"fmt"

	"github.com/AMD-AGI/primus-ocr-core/internal/apierrors"
	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
)

// Event is a requested transition trigger.
type Event string

const (
	EventCreateJob   Event = "create_job"
	EventCreateDraft Event = "create_draft"
	EventStartDraft  Event = "start_draft"
	EventClaim       Event = "worker_claim"
	EventSuccess     Event = "success"
	EventFailure     Event = "failure"
	EventPause       Event = "pause"
	EventResume      Event = "resume"
	EventRestart     Event = "restart"
	// EventCancel results in row deletion, not a status; it is modeled
	// here so Next can validate a cancel and Allowed() can report it.
	EventCancel Event = "cancel"
)

// deleted is a sentinel status meaning "the row no longer exists"; it is
// never persisted, only returned internally to signal cascade deletion.
const deleted domain.Status = ""

type transition struct {
	from domain.Status
	on   Event
}

// table enumerates every legal (from, event) -> to pair. Deletion
// transitions map to the deleted sentinel; callers that see it must
// delete the Job row (jobstate never does storage I/O itself).
var table = map[transition]domain.Status{
	{"", EventCreateJob}:                         domain.StatusQueued,
	{"", EventCreateDraft}:                       domain.StatusDraft,
	{domain.StatusDraft, EventStartDraft}:        domain.StatusQueued,
	{domain.StatusQueued, EventClaim}:            domain.StatusProcessing,
	{domain.StatusQueued, EventPause}:            domain.StatusPaused,
	{domain.StatusQueued, EventCancel}:           deleted,
	{domain.StatusProcessing, EventSuccess}:      domain.StatusDone,
	{domain.StatusProcessing, EventFailure}:      domain.StatusError,
	{domain.StatusProcessing, EventPause}:        domain.StatusPaused,
	{domain.StatusProcessing, EventCancel}:       deleted,
	{domain.StatusPaused, EventResume}:           domain.StatusQueued,
	{domain.StatusPaused, EventCancel}:           deleted,
	{domain.StatusDone, EventCancel}:             deleted,
	{domain.StatusError, EventRestart}:           domain.StatusQueued,
	{domain.StatusError, EventCancel}:            deleted,
}

// terminalEvents are the ones the debounced updater must force-flush
// regardless of its interval.
var terminalEvents = map[Event]bool{
	EventSuccess: true,
	EventFailure: true,
	EventPause:   true,
}

// IsTerminalEvent reports whether applying ev always forces a synchronous
// status flush.
func IsTerminalEvent(ev Event) bool { return terminalEvents[ev] }

// Next returns the status domain.Job should move to after ev fires from
// current, or apierrors.BadRequest(invalid_transition) if the move isn't
// permitted. A returned status of "" (and deletion==true) means the Job row must
// be deleted rather than updated.
func Next(current domain.Status, ev Event) (next domain.Status, deletion bool, err error) {
	to, ok := table[transition{current, ev}]
	if !ok {
		return "", false, apierrors.NewBadRequest(
			fmt.Sprintf("invalid_transition: cannot apply %q from status %q", ev, current))
	}
	return to, to == deleted, nil
}

// Allowed lists the events that may legally fire from current, for
// introspection (e.g. job-details responses listing available actions).
func Allowed(current domain.Status) []Event {
	var out []Event
	for t := range table {
		if t.from == current {
			out = append(out, t.on)
		}
	}
	return out
}
