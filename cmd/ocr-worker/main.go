// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/AMD-AGI/primus-ocr-core/internal/artifact"
	"github.com/AMD-AGI/primus-ocr-core/internal/broker"
	"github.com/AMD-AGI/primus-ocr-core/internal/config"
	"github.com/AMD-AGI/primus-ocr-core/internal/debounce"
	"github.com/AMD-AGI/primus-ocr-core/internal/dispatcher"
	"github.com/AMD-AGI/primus-ocr-core/internal/logging/log"
	"github.com/AMD-AGI/primus-ocr-core/internal/metadata"
	"github.com/AMD-AGI/primus-ocr-core/internal/objectstore"
	"github.com/AMD-AGI/primus-ocr-core/internal/pipeline"
	"github.com/AMD-AGI/primus-ocr-core/internal/ratelimit"
	"github.com/AMD-AGI/primus-ocr-core/internal/telemetry"
	"github.com/AMD-AGI/primus-ocr-core/internal/worker"
)

const (
	exitConfigError = 1
	exitBootError   = 2
)

func main() {
	configPath := flag.String("config", "", "optional path to a config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(exitConfigError)
	}
	if err := log.Init(false); err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(exitConfigError)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := telemetry.InitTracer(ctx, cfg.ServiceName+"-worker", cfg.OTLPEndpoint); err != nil {
		log.Warnf("failed to init tracer, continuing without tracing: %v", err)
	}
	defer telemetry.CloseTracer(context.Background())

	meta, err := metadata.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Errorf("open metadata store: %v", err)
		os.Exit(exitBootError)
	}
	defer meta.Close()

	store, err := objectstore.Open(ctx, objectstore.Config{
		Endpoint:        cfg.ObjectStoreEndpoint,
		Region:          cfg.ObjectStoreRegion,
		Bucket:          cfg.ObjectStoreBucket,
		AccessKeyID:     cfg.ObjectStoreAccessKey,
		SecretAccessKey: cfg.ObjectStoreSecretKey,
		UsePathStyle:    cfg.ObjectStorePathStyle,
	})
	if err != nil {
		log.Errorf("open object store: %v", err)
		os.Exit(exitBootError)
	}

	b, err := broker.Open(cfg.DatabaseDSN, cfg.PollInterval)
	if err != nil {
		log.Errorf("open broker: %v", err)
		os.Exit(exitBootError)
	}
	defer b.Close()

	updater := debounce.New(meta, cfg.DebounceInterval)
	defer updater.Close(context.Background())

	// One limiter per backend, process-local, all behind one shared ceiling
	// so total in-flight calls never exceed max_global_ocr_requests no
	// matter how the per-backend caps are tuned.
	globalCeiling := ratelimit.NewGlobal(cfg.MaxGlobalOCRRequests)
	limiterA := ratelimit.NewShared(cfg.BackendAMaxRPM, cfg.BackendAMaxConcurrent, globalCeiling)
	limiterB := ratelimit.NewShared(cfg.BackendBMaxRPM, cfg.BackendBMaxConcurrent, globalCeiling)
	backendA := dispatcher.NewBackendA(cfg.BackendAEndpoint, cfg.BackendAAPIKey, limiterA)
	backendB := dispatcher.NewBackendB(cfg.BackendBEndpoint, cfg.BackendBAPIKey, limiterB)

	workerID, _ := os.Hostname()
	if workerID == "" {
		workerID = uuid.NewString()
	}

	rt := worker.New(
		worker.Config{
			WorkerID:          workerID,
			MaxConcurrentJobs: cfg.MaxConcurrentJobs,
			TaskTimeLimit:     cfg.TaskTimeLimit,
			Pipeline: pipeline.Config{
				PDFRenderDPI:     cfg.PDFRenderDPI,
				StripMergeGapPx:  cfg.StripMergeGapPx,
				StripMaxHeightPx: cfg.StripMaxHeightPx,
				OCRThreadsPerJob: cfg.OCRThreadsPerJob,
				FuzzyThreshold:   cfg.FuzzyThreshold,
			},
		},
		meta, store, b, updater,
		artifact.New(store, meta),
		pipeline.PDFToPPMRenderer{},
		func(engine string) (dispatcher.Backend, error) {
			return dispatcher.Select(engine, backendA, backendB)
		},
	)

	log.Infof("ocr-worker %s starting, max %d concurrent jobs", workerID, cfg.MaxConcurrentJobs)
	if err := rt.Run(ctx); err != nil && ctx.Err() == nil {
		log.Errorf("worker runtime: %v", err)
		os.Exit(exitBootError)
	}
}
