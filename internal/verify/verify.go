// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package verify re-issues a single-block OCR call for every block with
// no ResultRecord or a failed one after Pass 2, merging successes back in
// as retried-ok. The verification phase itself is never retried: a second
// failure is final. Individual failures never abort the batch.
package verify

import (
	"context"

	"github.com/AMD-AGI/primus-ocr-core/internal/dispatcher"
	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
	"github.com/AMD-AGI/primus-ocr-core/internal/logging/log"
	"github.com/AMD-AGI/primus-ocr-core/internal/telemetry"
)

// Recropper produces a single-block crop on demand, re-rendering the
// originating page region — Pass 1's raster is long gone by the time
// verification runs, so this goes back to the source PDF page.
type Recropper interface {
	CropBlock(ctx context.Context, blk domain.Block) ([]byte, error)
}

// PromptBuilder composes the single-block prompt for a block, using that
// block's type-specific template.
type PromptBuilder interface {
	SingleBlockPrompt(blk domain.Block) string
}

// ModelSelector resolves which backend model identifier to use for a
// retried block.
type ModelSelector interface {
	ModelFor(t domain.BlockType) string
}

// Missing returns every requested block absent from results or marked
// failed.
func Missing(requested []domain.Block, results []domain.ResultRecord) []domain.Block {
	byID := make(map[string]domain.ResultRecord, len(results))
	for _, r := range results {
		byID[r.BlockID] = r
	}
	var missing []domain.Block
	for _, blk := range requested {
		if r, ok := byID[blk.ID]; !ok || r.Status == domain.ResultFailed {
			missing = append(missing, blk)
		}
	}
	return missing
}

// Retry re-issues single-block OCR for every block in missing, returning a
// ResultRecord per block (retried-ok or failed). It never aborts on an
// individual failure.
func Retry(ctx context.Context, missing []domain.Block, recrop Recropper, prompts PromptBuilder, models ModelSelector, backend dispatcher.Backend) []domain.ResultRecord {
	out := make([]domain.ResultRecord, 0, len(missing))
	for _, blk := range missing {
		rec := retryOne(ctx, blk, recrop, prompts, models, backend)
		out = append(out, rec)
		telemetry.BlocksMissingTotal.WithLabelValues(boolLabel(rec.Status == domain.ResultRetriedOK)).Inc()
	}
	return out
}

func retryOne(ctx context.Context, blk domain.Block, recrop Recropper, prompts PromptBuilder, models ModelSelector, backend dispatcher.Backend) domain.ResultRecord {
	image, err := recrop.CropBlock(ctx, blk)
	if err != nil {
		log.Warnf("verify: re-crop failed for block %s: %v", blk.ID, err)
		return domain.ResultRecord{BlockID: blk.ID, Status: domain.ResultFailed, Reason: err.Error()}
	}

	model := models.ModelFor(blk.Type)
	prompt := prompts.SingleBlockPrompt(blk)
	text, err := backend.Recognize(ctx, image, prompt, false, model)
	if err != nil {
		log.Warnf("verify: retry OCR failed for block %s: %v", blk.ID, err)
		return domain.ResultRecord{BlockID: blk.ID, Status: domain.ResultFailed, Reason: err.Error()}
	}
	return domain.ResultRecord{BlockID: blk.ID, Text: text, Status: domain.ResultRetriedOK}
}

func boolLabel(recovered bool) string {
	if recovered {
		return "true"
	}
	return "false"
}
