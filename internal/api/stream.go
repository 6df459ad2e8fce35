// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AMD-AGI/primus-ocr-core/internal/apierrors"
	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
	"github.com/AMD-AGI/primus-ocr-core/internal/logging/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The gateway sits behind the API-key check; origin enforcement is the
	// deployment proxy's concern.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const streamPollInterval = time.Second

// StreamJob handles GET /jobs/{id}/stream: a websocket pushing job
// snapshots until the job reaches a terminal state or the client
// disconnects. Disconnecting has no effect on job
// execution.
func (h *Handler) StreamJob(c *gin.Context) {
	jobID := c.Param("id")
	if _, err := h.meta.GetJob(c.Request.Context(), jobID); err != nil {
		c.AbortWithStatusJSON(apierrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("api: websocket upgrade for job %s failed: %v", jobID, err)
		return
	}
	defer conn.Close()

	// drain client frames so close messages are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	var lastUpdated time.Time
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}

		job, err := h.meta.GetJob(c.Request.Context(), jobID)
		if err != nil {
			// job row deleted mid-stream (cancel): tell the client and stop
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job deleted"),
				time.Now().Add(time.Second))
			return
		}

		if job.UpdatedAt.After(lastUpdated) {
			lastUpdated = job.UpdatedAt
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(job); err != nil {
				return
			}
		}

		if job.Status == domain.StatusDone || job.Status == domain.StatusError {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(job.Status)),
				time.Now().Add(time.Second))
			return
		}
	}
}
