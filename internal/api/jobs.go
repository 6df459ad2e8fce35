// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"path"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AMD-AGI/primus-ocr-core/internal/apierrors"
	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
	"github.com/AMD-AGI/primus-ocr-core/internal/jobstate"
	"github.com/AMD-AGI/primus-ocr-core/internal/telemetry"
)

const (
	pdfObjectName    = "document.pdf"
	blocksObjectName = "blocks.json"
	resultZipName    = "result.zip"

	maxUploadBytes = 256 << 20
)

func artifactPrefix(jobID string) string { return path.Join("ocr_jobs", jobID) }

// CreateJob handles POST /jobs: admission check,
// upload of the pdf and blocks file under the job's artifact prefix,
// durable Job+JobFiles+JobSettings rows in queued status, then a broker
// publish.
func (h *Handler) CreateJob(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		return h.createJob(c, false)
	})
}

// CreateDraft handles POST /jobs/draft: identical to CreateJob but the job
// lands in draft status, is never published, and the uploaded annotation
// replaces the blocks file.
func (h *Handler) CreateDraft(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		return h.createJob(c, true)
	})
}

func (h *Handler) createJob(c *gin.Context, draft bool) (interface{}, error) {
	ctx := c.Request.Context()
	if err := h.admission.Admit(ctx); err != nil {
		return nil, err
	}

	clientID := c.PostForm("client_id")
	documentHash := c.PostForm("document_id")
	documentName := c.PostForm("document_name")
	taskName := c.PostForm("task_name")
	if clientID == "" || documentHash == "" || documentName == "" {
		return nil, apierrors.NewBadRequest("invalid_input: client_id, document_id and document_name are required")
	}
	if taskName == "" {
		taskName = documentName
	}

	pdfBytes, err := readUpload(c, "pdf")
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(pdfBytes, []byte("%PDF")) {
		return nil, apierrors.NewBadRequest("invalid_input: pdf upload is not a PDF document")
	}

	blocksField := "blocks_file"
	if draft {
		blocksField = "annotation_json"
	}
	blocksBytes, err := readUpload(c, blocksField)
	if err != nil {
		return nil, err
	}
	doc, err := parseBlocksPayload(blocksBytes)
	if err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	prefix := artifactPrefix(jobID)

	if err := h.store.UploadBytes(ctx, path.Join(prefix, pdfObjectName), pdfBytes); err != nil {
		return nil, apierrors.NewUnavailable("storage_unavailable: " + err.Error()).WithError(err)
	}
	if err := h.store.UploadBytes(ctx, path.Join(prefix, blocksObjectName), blocksBytes); err != nil {
		return nil, apierrors.NewUnavailable("storage_unavailable: " + err.Error()).WithError(err)
	}

	status := domain.StatusQueued
	if draft {
		status = domain.StatusDraft
	}
	now := time.Now()
	job := &domain.Job{
		ID:             jobID,
		ClientID:       clientID,
		DocumentHash:   documentHash,
		DocumentName:   documentName,
		TaskName:       taskName,
		Status:         status,
		Engine:         c.PostForm("engine"),
		ArtifactPrefix: prefix,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if nodeID := c.PostForm("node_id"); nodeID != "" {
		job.NodeID = &nodeID
	}
	settings := settingsFromForm(c, jobID)

	if err := h.meta.CreateJob(ctx, job, settings); err != nil {
		return nil, apierrors.NewUnavailable("metadata_unavailable: " + err.Error()).WithError(err)
	}

	files := []*domain.JobFile{
		{JobID: jobID, FileType: domain.FileTypePDF, ObjectKey: path.Join(prefix, pdfObjectName), FileName: pdfObjectName, Size: int64(len(pdfBytes))},
		{JobID: jobID, FileType: domain.FileTypeBlocks, ObjectKey: path.Join(prefix, blocksObjectName), FileName: blocksObjectName, Size: int64(len(blocksBytes)), Metadata: map[string]any{"block_count": len(doc.Blocks)}},
	}
	for _, f := range files {
		if err := h.meta.CreateJobFile(ctx, f); err != nil {
			return nil, apierrors.NewUnavailable("metadata_unavailable: " + err.Error()).WithError(err)
		}
	}

	if !draft {
		if err := h.publisher.Publish(ctx, jobID); err != nil {
			return nil, apierrors.NewUnavailable("broker_unavailable: " + err.Error()).WithError(err)
		}
		telemetry.JobsSubmittedTotal.WithLabelValues(clientID).Inc()
	}
	return job, nil
}

// StartDraft handles POST /jobs/{id}/start: draft -> queued with fresh
// model selection, then publish.
func (h *Handler) StartDraft(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		ctx := c.Request.Context()
		job, err := h.meta.GetJob(ctx, c.Param("id"))
		if err != nil {
			return nil, err
		}
		next, _, err := jobstate.Next(job.Status, jobstate.EventStartDraft)
		if err != nil {
			return nil, err
		}
		if engine := c.PostForm("engine"); engine != "" {
			job.Engine = engine
		}
		if err := h.meta.UpsertJobSettings(ctx, settingsFromForm(c, job.ID)); err != nil {
			return nil, apierrors.NewUnavailable("metadata_unavailable: " + err.Error()).WithError(err)
		}
		if err := h.meta.UpdateJobStatus(ctx, job.ID, next, 0, nil, nil); err != nil {
			return nil, err
		}
		if err := h.publisher.Publish(ctx, job.ID); err != nil {
			return nil, apierrors.NewUnavailable("broker_unavailable: " + err.Error()).WithError(err)
		}
		telemetry.JobsSubmittedTotal.WithLabelValues(job.ClientID).Inc()
		job.Status = next
		return job, nil
	})
}

// ListJobs handles GET /jobs?client_id=&document_id=.
func (h *Handler) ListJobs(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		return h.meta.ListJobs(c.Request.Context(), c.Query("client_id"), c.Query("document_id"))
	})
}

// JobsChanges handles GET /jobs/changes?since=<iso8601>, the incremental
// polling contract.
func (h *Handler) JobsChanges(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		sinceStr := c.Query("since")
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			return nil, apierrors.NewBadRequest("invalid_input: since must be RFC3339, got " + sinceStr)
		}
		return h.meta.ListChangedSince(c.Request.Context(), since, 0)
	})
}

// GetJob handles GET /jobs/{id}.
func (h *Handler) GetJob(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		return h.meta.GetJob(c.Request.Context(), c.Param("id"))
	})
}

// JobDetails is the GET /jobs/{id}/details response shape.
type JobDetails struct {
	Job        *domain.Job          `json:"job"`
	Settings   *domain.JobSettings  `json:"settings,omitempty"`
	BlockStats BlockStats           `json:"block_stats"`
	BaseURL    string               `json:"base_url"`
	Artifacts  []ArtifactInfo       `json:"artifacts"`
	Actions    []jobstate.Event     `json:"available_actions"`
}

// BlockStats summarizes the requested blocks of a job.
type BlockStats struct {
	Total   int            `json:"total"`
	ByType  map[string]int `json:"by_type"`
	Grouped int            `json:"grouped"`
}

// ArtifactInfo is one enumerated artifact with a display icon.
type ArtifactInfo struct {
	FileName string          `json:"file_name"`
	FileType domain.FileType `json:"file_type"`
	Key      string          `json:"key"`
	Size     int64           `json:"size"`
	Icon     string          `json:"icon"`
}

var iconByType = map[domain.FileType]string{
	domain.FileTypePDF:        "pdf",
	domain.FileTypeBlocks:     "json",
	domain.FileTypeAnnotation: "json",
	domain.FileTypeResultMD:   "markdown",
	domain.FileTypeResultZip:  "archive",
	domain.FileTypeCrop:       "image",
	domain.FileTypeOCRHTML:    "html",
	domain.FileTypeResultJSON: "json",
}

// GetJobDetails handles GET /jobs/{id}/details: the job, its settings,
// block statistics parsed from the stored blocks file, and the enumerated
// artifact list.
func (h *Handler) GetJobDetails(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		ctx := c.Request.Context()
		job, err := h.meta.GetJob(ctx, c.Param("id"))
		if err != nil {
			return nil, err
		}

		details := JobDetails{
			Job:     job,
			BaseURL: job.ArtifactPrefix,
			Actions: jobstate.Allowed(job.Status),
		}
		if settings, err := h.meta.GetJobSettings(ctx, job.ID); err == nil {
			details.Settings = settings
		}

		files, err := h.meta.ListJobFiles(ctx, job.ID, nil)
		if err != nil {
			return nil, err
		}
		details.Artifacts = make([]ArtifactInfo, 0, len(files))
		for _, f := range files {
			details.Artifacts = append(details.Artifacts, ArtifactInfo{
				FileName: f.FileName, FileType: f.FileType, Key: f.ObjectKey, Size: f.Size,
				Icon: iconByType[f.FileType],
			})
		}

		details.BlockStats = h.blockStats(c, job)
		return details, nil
	})
}

// blockStats parses the stored blocks file; an unreachable object store
// degrades the stats to zeros rather than failing the details call.
func (h *Handler) blockStats(c *gin.Context, job *domain.Job) BlockStats {
	stats := BlockStats{ByType: map[string]int{}}
	key := path.Join(job.ArtifactPrefix, blocksObjectName)
	data, err := h.store.DownloadBytes(c.Request.Context(), key)
	if err != nil {
		return stats
	}
	doc, err := parseBlocksPayload(data)
	if err != nil {
		return stats
	}
	groups := map[string]bool{}
	for _, b := range doc.Blocks {
		stats.Total++
		stats.ByType[string(b.Type)]++
		if b.GroupID != "" {
			groups[b.GroupID] = true
		}
	}
	stats.Grouped = len(groups)
	return stats
}

const manifestDebugObject = "debug/manifest.json"

// GetJobManifest handles GET /jobs/{id}/manifest: a debug view of an
// in-flight job's Pass-1 manifest line counts and per-strip timing,
// published by the worker under the job's artifact prefix as Pass 2
// progresses. Only meaningful while the job is processing.
func (h *Handler) GetJobManifest(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		ctx := c.Request.Context()
		job, err := h.meta.GetJob(ctx, c.Param("id"))
		if err != nil {
			return nil, err
		}
		if job.Status != domain.StatusProcessing {
			return nil, apierrors.NewBadRequest("not_ready: manifest debug view requires a processing job, status is " + string(job.Status))
		}
		data, err := h.store.DownloadBytes(ctx, path.Join(job.ArtifactPrefix, manifestDebugObject))
		if err != nil {
			return nil, apierrors.NewNotFound("manifest snapshot not yet published for job " + job.ID)
		}
		return json.RawMessage(data), nil
	})
}

// GetResultURL handles GET /jobs/{id}/result: a presigned download URL for
// result.zip, only once the job is done.
func (h *Handler) GetResultURL(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		ctx := c.Request.Context()
		job, err := h.meta.GetJob(ctx, c.Param("id"))
		if err != nil {
			return nil, err
		}
		if job.Status != domain.StatusDone {
			return nil, apierrors.NewBadRequest("not_ready: job status is " + string(job.Status))
		}
		key := path.Join(job.ArtifactPrefix, resultZipName)
		exists, err := h.store.Exists(ctx, key)
		if err != nil {
			return nil, apierrors.NewUnavailable("storage_unavailable: " + err.Error()).WithError(err)
		}
		if !exists {
			return nil, apierrors.NewNotFound("result.zip not found for job " + job.ID)
		}
		url, err := h.store.PresignGet(ctx, key, 0)
		if err != nil {
			return nil, apierrors.NewUnavailable("storage_unavailable: " + err.Error()).WithError(err)
		}
		return gin.H{"download_url": url, "file_name": job.TaskName + ".zip"}, nil
	})
}

// PatchJob handles PATCH /jobs/{id}: rename only.
func (h *Handler) PatchJob(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		taskName := c.PostForm("task_name")
		if taskName == "" {
			return nil, apierrors.NewBadRequest("invalid_input: task_name is required")
		}
		if err := h.meta.UpdateTaskName(c.Request.Context(), c.Param("id"), taskName); err != nil {
			return nil, err
		}
		return h.meta.GetJob(c.Request.Context(), c.Param("id"))
	})
}

// PauseJob handles POST /jobs/{id}/pause. Pausing a processing job is
// cooperative: the status flips here and the worker observes it at its
// next checkpoint.
func (h *Handler) PauseJob(c *gin.Context) { h.transition(c, jobstate.EventPause, false) }

// ResumeJob handles POST /jobs/{id}/resume: paused -> queued and republish.
func (h *Handler) ResumeJob(c *gin.Context) { h.transition(c, jobstate.EventResume, true) }

// RestartJob handles POST /jobs/{id}/restart: error -> queued and republish.
func (h *Handler) RestartJob(c *gin.Context) { h.transition(c, jobstate.EventRestart, true) }

func (h *Handler) transition(c *gin.Context, ev jobstate.Event, republish bool) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		ctx := c.Request.Context()
		job, err := h.meta.GetJob(ctx, c.Param("id"))
		if err != nil {
			return nil, err
		}
		next, _, err := jobstate.Next(job.Status, ev)
		if err != nil {
			return nil, err
		}
		progress := job.Progress
		var errMsg *string
		if ev == jobstate.EventRestart {
			// a restarted job runs from scratch; stale error and progress
			// would mislead pollers
			progress = 0
		} else {
			errMsg = job.ErrorMessage
		}
		if err := h.meta.UpdateJobStatus(ctx, job.ID, next, progress, job.StatusMessage, errMsg); err != nil {
			return nil, err
		}
		if republish {
			if err := h.publisher.Publish(ctx, job.ID); err != nil {
				return nil, apierrors.NewUnavailable("broker_unavailable: " + err.Error()).WithError(err)
			}
		}
		job.Status = next
		job.Progress = progress
		return job, nil
	})
}

// DeleteJob handles DELETE /jobs/{id}: cancel per the transition table,
// removing the row (cascading to JobFiles, never NodeFiles) and the
// object-store prefix.
func (h *Handler) DeleteJob(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		ctx := c.Request.Context()
		job, err := h.meta.GetJob(ctx, c.Param("id"))
		if err != nil {
			return nil, err
		}
		if _, _, err := jobstate.Next(job.Status, jobstate.EventCancel); err != nil {
			return nil, err
		}
		if err := h.meta.DeleteJob(ctx, job.ID); err != nil {
			return nil, err
		}
		objects, err := h.store.ListByPrefix(ctx, job.ArtifactPrefix)
		if err == nil && len(objects) > 0 {
			keys := make([]string, 0, len(objects))
			for _, o := range objects {
				keys = append(keys, o.Key)
			}
			if err := h.store.BatchDelete(ctx, keys); err != nil {
				// the rows are gone; orphaned objects are reclaimed by the
				// bucket's lifecycle policy rather than failing the delete
				return gin.H{"deleted": true, "orphaned_objects": len(keys)}, nil
			}
		}
		return gin.H{"deleted": true}, nil
	})
}

// QueueDepth handles GET /queue.
func (h *Handler) QueueDepth(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		queued, processing, max, err := h.admission.Depth(c.Request.Context())
		if err != nil {
			return nil, apierrors.NewUnavailable("metadata_unavailable: " + err.Error()).WithError(err)
		}
		return gin.H{"queued": queued, "processing": processing, "max": max}, nil
	})
}

// Health handles GET /health, the unauthenticated liveness probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(200, gin.H{"ok": true})
}

// ---- helpers ----

func readUpload(c *gin.Context, field string) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, apierrors.NewBadRequest(fmt.Sprintf("invalid_input: missing %s upload", field))
	}
	if fh.Size > maxUploadBytes {
		return nil, apierrors.NewBadRequest(fmt.Sprintf("invalid_input: %s exceeds %d bytes", field, maxUploadBytes))
	}
	return readMultipartFile(fh)
}

func readMultipartFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, apierrors.NewBadRequest("invalid_input: " + err.Error())
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apierrors.NewBadRequest("invalid_input: " + err.Error())
	}
	return data, nil
}

// parseBlocksPayload accepts either the bare block list of blocks.json or
// the versioned document shape of annotation.json.
func parseBlocksPayload(data []byte) (domain.Document, error) {
	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err == nil && len(doc.Blocks) > 0 {
		return doc, nil
	}
	var blocks []domain.Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return domain.Document{}, apierrors.NewBadRequest("invalid_input: blocks payload is neither a block list nor an annotation document")
	}
	return domain.Document{Blocks: blocks}, nil
}

func settingsFromForm(c *gin.Context, jobID string) *domain.JobSettings {
	return &domain.JobSettings{
		JobID:            jobID,
		TextModel:        c.PostForm("text_model"),
		TableModel:       c.PostForm("table_model"),
		ImageModel:       c.PostForm("image_model"),
		StampModel:       c.PostForm("stamp_model"),
		IsCorrectionMode: c.PostForm("is_correction_mode") == "true",
	}
}
