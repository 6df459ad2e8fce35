// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AMD-AGI/primus-ocr-core/internal/admission"
	"github.com/AMD-AGI/primus-ocr-core/internal/api"
	"github.com/AMD-AGI/primus-ocr-core/internal/broker"
	"github.com/AMD-AGI/primus-ocr-core/internal/config"
	"github.com/AMD-AGI/primus-ocr-core/internal/logging/log"
	"github.com/AMD-AGI/primus-ocr-core/internal/metadata"
	"github.com/AMD-AGI/primus-ocr-core/internal/objectstore"
	"github.com/AMD-AGI/primus-ocr-core/internal/telemetry"
)

const (
	exitConfigError = 1
	exitBootError   = 2
)

// publisher adapts broker.Broker's NOTIFY publish to the gateway's
// Publisher contract, riding the metadata store's connection pool.
type publisher struct {
	b    *broker.Broker
	meta *metadata.Store
}

func (p *publisher) Publish(ctx context.Context, jobID string) error {
	return p.b.Publish(ctx, p.meta.SQLDB(), jobID)
}

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

	if err := telemetry.InitTracer(ctx, cfg.ServiceName+"-apiserver", cfg.OTLPEndpoint); err != nil {
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

	handler := api.NewHandler(meta, store, &publisher{b: b, meta: meta}, admission.New(meta, cfg.MaxQueueSize))

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	api.InitRouters(engine, handler, cfg.APIKey)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: engine}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("ocr-apiserver listening on %s", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Errorf("http server: %v", err)
		os.Exit(exitBootError)
	}
}
