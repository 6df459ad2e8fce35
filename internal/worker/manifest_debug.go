// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package worker

import (
	"context"
	"encoding/json"
	"path"
	"sync"
	"time"

	"github.com/AMD-AGI/primus-ocr-core/internal/logging/log"
	"github.com/AMD-AGI/primus-ocr-core/internal/pipeline"
)

// manifestDebugObject is where the in-flight snapshot lives under a job's
// artifact prefix; the gateway's manifest debug endpoint reads it from
// there, since the manifest file itself exists only on this worker's disk.
const manifestDebugObject = "debug/manifest.json"

// manifestDebug is the observability snapshot behind GET
// /jobs/{id}/manifest: Pass 1's manifest line counts plus per-strip
// timing collected as Pass 2 completes units. Best-effort — a failed
// publish never fails the job.
type manifestDebug struct {
	mu       sync.Mutex
	snapshot manifestSnapshot
}

type manifestSnapshot struct {
	LineCount      int                   `json:"line_count"`
	StripCount     int                   `json:"strip_count"`
	ImageCropCount int                   `json:"image_crop_count"`
	DegenerateIDs  []string              `json:"degenerate_block_ids,omitempty"`
	Units          []pipeline.UnitTiming `json:"units"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// newManifestDebug summarizes the finished Pass-1 manifest.
func newManifestDebug(manifestPath string) (*manifestDebug, error) {
	entries, err := pipeline.ReadManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	d := &manifestDebug{}
	d.snapshot.LineCount = len(entries)
	d.snapshot.Units = []pipeline.UnitTiming{}
	for _, e := range entries {
		d.snapshot.StripCount += len(e.Strips)
		d.snapshot.ImageCropCount += len(e.ImageCrops)
		d.snapshot.DegenerateIDs = append(d.snapshot.DegenerateIDs, e.Degenerate...)
	}
	return d, nil
}

// record appends one completed unit's timing. Pass 2 serializes calls
// under its result lock.
func (d *manifestDebug) record(ut pipeline.UnitTiming) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshot.Units = append(d.snapshot.Units, ut)
}

// publish uploads the current snapshot under the job's artifact prefix.
func (d *manifestDebug) publish(ctx context.Context, store ObjectStore, artifactPrefix string) {
	d.mu.Lock()
	d.snapshot.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(d.snapshot)
	d.mu.Unlock()
	if err != nil {
		log.Warnf("worker: marshal manifest snapshot: %v", err)
		return
	}
	if err := store.UploadBytes(ctx, path.Join(artifactPrefix, manifestDebugObject), data); err != nil {
		log.Warnf("worker: publish manifest snapshot: %v", err)
	}
}
