// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package jobstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMD-AGI/primus-ocr-core/internal/apierrors"
	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
)

func TestNext_ValidTransitions(t *testing.T) {
	cases := []struct {
		from     domain.Status
		ev       Event
		wantNext domain.Status
		wantDel  bool
	}{
		{domain.StatusDraft, EventStartDraft, domain.StatusQueued, false},
		{domain.StatusQueued, EventClaim, domain.StatusProcessing, false},
		{domain.StatusProcessing, EventSuccess, domain.StatusDone, false},
		{domain.StatusProcessing, EventFailure, domain.StatusError, false},
		{domain.StatusProcessing, EventPause, domain.StatusPaused, false},
		{domain.StatusPaused, EventResume, domain.StatusQueued, false},
		{domain.StatusError, EventRestart, domain.StatusQueued, false},
		{domain.StatusDone, EventCancel, "", true},
		{domain.StatusPaused, EventCancel, "", true},
	}
	for _, c := range cases {
		next, del, err := Next(c.from, c.ev)
		require.NoError(t, err, "%s -%s->", c.from, c.ev)
		assert.Equal(t, c.wantNext, next)
		assert.Equal(t, c.wantDel, del)
	}
}

func TestNext_InvalidTransitionRejected(t *testing.T) {
	_, _, err := Next(domain.StatusDone, EventSuccess)
	require.Error(t, err)
	assert.Equal(t, apierrors.BadRequest, apierrors.GetErrorCode(err))
}

func TestNext_DoneOnlyAcceptsCancel(t *testing.T) {
	for _, ev := range []Event{EventClaim, EventSuccess, EventFailure, EventPause, EventResume, EventRestart} {
		_, _, err := Next(domain.StatusDone, ev)
		require.Error(t, err, "done must reject %s", ev)
	}
	_, del, err := Next(domain.StatusDone, EventCancel)
	require.NoError(t, err)
	assert.True(t, del)
}

func TestIsTerminalEvent(t *testing.T) {
	assert.True(t, IsTerminalEvent(EventSuccess))
	assert.True(t, IsTerminalEvent(EventFailure))
	assert.True(t, IsTerminalEvent(EventPause))
	assert.False(t, IsTerminalEvent(EventClaim))
}

func TestAllowed_QueuedOffersPauseCancelClaim(t *testing.T) {
	allowed := Allowed(domain.StatusQueued)
	assert.ElementsMatch(t, []Event{EventClaim, EventPause, EventCancel}, allowed)
}
