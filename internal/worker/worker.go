// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package worker is the long-running job executor: it claims queued jobs
// and drives render -> recognize -> verify -> publish, honoring
// cooperative pause/cancel at each checkpoint. Periodic housekeeping
// rides robfig/cron with SkipIfStillRunning.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/AMD-AGI/primus-ocr-core/internal/apierrors"
	"github.com/AMD-AGI/primus-ocr-core/internal/artifact"
	"github.com/AMD-AGI/primus-ocr-core/internal/dispatcher"
	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
	"github.com/AMD-AGI/primus-ocr-core/internal/logging/log"
	"github.com/AMD-AGI/primus-ocr-core/internal/pipeline"
	"github.com/AMD-AGI/primus-ocr-core/internal/telemetry"
	"github.com/AMD-AGI/primus-ocr-core/internal/verify"
)

// MetadataStore is the metadata surface the worker consumes; satisfied by
// *metadata.Store.
type MetadataStore interface {
	AtomicClaimNextQueued(ctx context.Context, workerID string, maxConcurrent int) (*domain.Job, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	GetJobSettings(ctx context.Context, jobID string) (*domain.JobSettings, error)
	CountQueued(ctx context.Context) (int, error)
}

// ObjectStore is the object-store surface the worker consumes.
type ObjectStore interface {
	DownloadBytes(ctx context.Context, key string) ([]byte, error)
	UploadBytes(ctx context.Context, key string, data []byte) error
}

// Receiver blocks until a job-arrival notification or a poll tick;
// satisfied by *broker.Broker.
type Receiver interface {
	Receive(ctx context.Context) bool
}

// Updater is the debounced status sink; satisfied by *debounce.Updater.
type Updater interface {
	Update(ctx context.Context, jobID string, status domain.Status, progress float64, statusMsg, errMsg *string) error
	Flush(ctx context.Context, jobID string, status domain.Status, progress float64, statusMsg, errMsg *string) error
}

// BackendSelector resolves a job's engine field to a vision backend.
type BackendSelector func(engine string) (dispatcher.Backend, error)

// Config is the worker's slice of process configuration.
type Config struct {
	WorkerID          string
	MaxConcurrentJobs int
	TaskTimeLimit     time.Duration
	Pipeline          pipeline.Config
	// PauseCheckEvery is the Pass-2 completion stride between pause/cancel
	// checkpoints.
	PauseCheckEvery int
}

// Runtime drives job execution on one worker host.
type Runtime struct {
	cfg      Config
	meta     MetadataStore
	store    ObjectStore
	receiver Receiver
	updater  Updater
	builder  *artifact.Builder
	renderer pipeline.PageRenderer
	backends BackendSelector
}

func New(cfg Config, meta MetadataStore, store ObjectStore, receiver Receiver, updater Updater, builder *artifact.Builder, renderer pipeline.PageRenderer, backends BackendSelector) *Runtime {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 4
	}
	if cfg.TaskTimeLimit <= 0 {
		cfg.TaskTimeLimit = time.Hour
	}
	if cfg.PauseCheckEvery <= 0 {
		cfg.PauseCheckEvery = 5
	}
	return &Runtime{cfg: cfg, meta: meta, store: store, receiver: receiver, updater: updater, builder: builder, renderer: renderer, backends: backends}
}

// Run claims and executes jobs until ctx is cancelled. A successful claim
// restarts the fast path immediately; an empty queue falls back to the
// broker's notification/poll wait.
func (r *Runtime) Run(ctx context.Context) error {
	housekeeping := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := housekeeping.AddFunc("@every 30s", func() { r.sampleQueueDepth(ctx) }); err != nil {
		return fmt.Errorf("schedule queue sampling: %w", err)
	}
	housekeeping.Start()
	defer housekeeping.Stop()

	slots := semaphore.NewWeighted(int64(r.cfg.MaxConcurrentJobs))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := slots.Acquire(ctx, 1); err != nil {
			return err
		}

		job, err := r.meta.AtomicClaimNextQueued(ctx, r.cfg.WorkerID, r.cfg.MaxConcurrentJobs)
		if err != nil {
			slots.Release(1)
			log.Errorf("worker: claim failed: %v", err)
			r.receiver.Receive(ctx)
			continue
		}
		if job == nil {
			slots.Release(1)
			r.receiver.Receive(ctx)
			continue
		}

		go func(job *domain.Job) {
			defer slots.Release(1)
			r.Execute(ctx, job)
		}(job)
	}
}

func (r *Runtime) sampleQueueDepth(ctx context.Context) {
	n, err := r.meta.CountQueued(ctx)
	if err != nil {
		return
	}
	telemetry.QueueDepth.Set(float64(n))
}

var (
	errPaused    = errors.New("job paused")
	errCancelled = errors.New("job cancelled")
)

// Execute runs one claimed job to a terminal state. It is exported so a
// broker message handler (or a test) can drive a single job without the
// claim loop.
func (r *Runtime) Execute(ctx context.Context, job *domain.Job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.TaskTimeLimit)
	defer cancel()

	err := r.process(ctx, job)
	switch {
	case err == nil:
		telemetry.JobsCompletedTotal.WithLabelValues(string(domain.StatusDone)).Inc()
		telemetry.JobDuration.WithLabelValues(string(domain.StatusDone)).Observe(time.Since(start).Seconds())
	case errors.Is(err, errPaused):
		log.Infof("worker: job %s paused at checkpoint", job.ID)
	case errors.Is(err, errCancelled):
		log.Infof("worker: job %s cancelled, workspace discarded", job.ID)
	default:
		msg := err.Error()
		phase := "failed"
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			msg = fmt.Sprintf("timeout: job exceeded %s", r.cfg.TaskTimeLimit)
		}
		if ferr := r.updater.Flush(context.Background(), job.ID, domain.StatusError, job.Progress, &phase, &msg); ferr != nil {
			log.Errorf("worker: failed to persist error state for job %s: %v", job.ID, ferr)
		}
		telemetry.JobsCompletedTotal.WithLabelValues(string(domain.StatusError)).Inc()
		telemetry.JobDuration.WithLabelValues(string(domain.StatusError)).Observe(time.Since(start).Seconds())
		log.Errorf("worker: job %s failed: %v", job.ID, err)
	}
}

func (r *Runtime) process(ctx context.Context, job *domain.Job) error {
	fresh, err := r.meta.GetJob(ctx, job.ID)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return errCancelled
		}
		return err
	}
	if fresh.Status != domain.StatusProcessing {
		log.Warnf("worker: job %s is %s, discarding stale message", job.ID, fresh.Status)
		return errCancelled
	}

	workspace, err := os.MkdirTemp("", "ocrjob-"+job.ID+"-")
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	statusMsg := "downloading input"
	_ = r.updater.Update(ctx, job.ID, domain.StatusProcessing, 0.01, &statusMsg, nil)

	pdfBytes, err := r.store.DownloadBytes(ctx, job.ArtifactPrefix+"/document.pdf")
	if err != nil {
		return fmt.Errorf("download document.pdf: %w", err)
	}
	pdfPath := filepath.Join(workspace, "document.pdf")
	if err := os.WriteFile(pdfPath, pdfBytes, 0o644); err != nil {
		return fmt.Errorf("write document.pdf: %w", err)
	}

	blocksBytes, err := r.store.DownloadBytes(ctx, job.ArtifactPrefix+"/blocks.json")
	if err != nil {
		return fmt.Errorf("download blocks.json: %w", err)
	}
	doc, err := parseDocument(blocksBytes)
	if err != nil {
		return err
	}

	settings, err := r.meta.GetJobSettings(ctx, job.ID)
	if err != nil {
		settings = &domain.JobSettings{JobID: job.ID}
	}
	backend, err := r.backends(job.Engine)
	if err != nil {
		return err
	}
	prompts := pipeline.NewPromptBuilder(job.DocumentName, pipeline.PromptTemplates{})

	// Pass 1
	statusMsg = "rendering pages"
	_ = r.updater.Update(ctx, job.ID, domain.StatusProcessing, 0.02, &statusMsg, nil)
	p1, err := pipeline.Pass1(ctx, workspace, pdfPath, doc, r.cfg.Pipeline, r.renderer)
	if err != nil {
		return fmt.Errorf("pass 1: %w", err)
	}
	if err := r.checkpoint(ctx, job.ID); err != nil {
		return err
	}

	debug, err := newManifestDebug(p1.ManifestPath)
	if err != nil {
		return err
	}
	debug.publish(ctx, r.store, job.ArtifactPrefix)

	// Pass 2, with a pause/cancel checkpoint every PauseCheckEvery
	// completions that cancels the pass's context cooperatively.
	statusMsg = "recognizing blocks"
	p2ctx, p2cancel := context.WithCancel(ctx)
	defer p2cancel()
	var checkpointErr error
	report := func(completed, total int) {
		progress := 0.05 + 0.80*float64(completed)/float64(total)
		msg := fmt.Sprintf("recognizing blocks (%d/%d)", completed, total)
		_ = r.updater.Update(ctx, job.ID, domain.StatusProcessing, progress, &msg, nil)
		if completed%r.cfg.PauseCheckEvery == 0 {
			debug.publish(ctx, r.store, job.ArtifactPrefix)
			if err := r.checkpoint(ctx, job.ID); err != nil {
				checkpointErr = err
				p2cancel()
			}
		}
	}
	results, err := pipeline.Pass2(p2ctx, p1.ManifestPath, doc, r.cfg.Pipeline, prompts, settings, backend, report, debug.record)
	if checkpointErr != nil {
		return checkpointErr
	}
	if err != nil {
		return fmt.Errorf("pass 2: %w", err)
	}
	results = append(results, p1.Degenerate...)
	debug.publish(ctx, r.store, job.ArtifactPrefix)
	if err := r.checkpoint(ctx, job.ID); err != nil {
		return err
	}

	crop := &cropper{pdfPath: pdfPath, dpi: r.cfg.Pipeline.PDFRenderDPI, workDir: workspace, renderer: r.renderer}

	// Verification & retry
	if missing := verify.Missing(doc.Blocks, results); len(missing) > 0 {
		statusMsg = fmt.Sprintf("verifying %d missing blocks", len(missing))
		_ = r.updater.Update(ctx, job.ID, domain.StatusProcessing, 0.87, &statusMsg, nil)
		retried := verify.Retry(ctx, missing, crop, prompts, settings, backend)
		results = mergeResults(results, retried)
	}
	if err := r.checkpoint(ctx, job.ID); err != nil {
		return err
	}

	// Artifact build & publication
	statusMsg = "publishing artifacts"
	_ = r.updater.Update(ctx, job.ID, domain.StatusProcessing, 0.92, &statusMsg, nil)
	cropFiles, err := crop.BuildCropFiles(ctx, doc)
	if err != nil {
		return fmt.Errorf("build crop files: %w", err)
	}
	if _, err := r.builder.Build(ctx, job, doc, results, cropFiles, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("build artifacts: %w", err)
	}

	doneMsg := "done"
	if err := r.updater.Flush(ctx, job.ID, domain.StatusDone, 1.0, &doneMsg, nil); err != nil {
		return fmt.Errorf("flush done state: %w", err)
	}
	return nil
}

// checkpoint refreshes the job row: a vanished row means cancel, a
// paused status means stop cleanly. Pause discards the workspace; resume
// restarts from Pass 1.
func (r *Runtime) checkpoint(ctx context.Context, jobID string) error {
	fresh, err := r.meta.GetJob(ctx, jobID)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return errCancelled
		}
		return err
	}
	switch fresh.Status {
	case domain.StatusPaused:
		return errPaused
	case domain.StatusProcessing:
		return nil
	default:
		// queued again (restart raced us) or terminal: treat as cancelled
		return errCancelled
	}
}

// parseDocument accepts the bare block list of blocks.json or the
// versioned annotation document.
func parseDocument(data []byte) (domain.Document, error) {
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

func mergeResults(results, retried []domain.ResultRecord) []domain.ResultRecord {
	replaced := make(map[string]domain.ResultRecord, len(retried))
	for _, r := range retried {
		replaced[r.BlockID] = r
	}
	out := make([]domain.ResultRecord, 0, len(results)+len(retried))
	for _, r := range results {
		if upd, ok := replaced[r.BlockID]; ok {
			out = append(out, upd)
			delete(replaced, r.BlockID)
			continue
		}
		out = append(out, r)
	}
	for _, r := range retried {
		if _, still := replaced[r.BlockID]; still {
			out = append(out, r)
		}
	}
	return out
}
