// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package pipeline is the two-pass OCR pipeline. Pass 1 rasterizes each PDF
// page once, merges text/table blocks into vertical strips and crops image
// blocks individually, and writes one manifest line per page.
// Pass 2 reads that manifest and dispatches each strip or crop to the
// vision backend under a bounded worker pool, reconciling responses back to
// requested block ids via internal/matcher.
//
// The two passes decouple rendering from recognition: rendering every
// page up front would exhaust RAM on large PDFs, and recognizing while
// rendering would back-pressure the vision endpoint into the renderer.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
	"github.com/AMD-AGI/primus-ocr-core/internal/logging/log"
)

// Config is the subset of process configuration Pass 1/Pass 2 need,
// threaded in explicitly rather than read from a global.
type Config struct {
	PDFRenderDPI     int
	StripMergeGapPx  float64
	StripMaxHeightPx float64
	OCRThreadsPerJob int
	FuzzyThreshold   int
}

// Pass1Result is what Pass 1 hands to Pass 2: the manifest location plus
// every block that was degenerate and therefore already final.
type Pass1Result struct {
	ManifestPath string
	Degenerate   []domain.ResultRecord
}

// Pass1 rasterizes pdfPath page by page (one Raster resident at a time),
// builds that page's strips and image crops into workspaceDir, and appends
// one manifest entry per page. Pages with no requested blocks are skipped
// entirely without rendering.
func Pass1(ctx context.Context, workspaceDir, pdfPath string, doc domain.Document, cfg Config, renderer PageRenderer) (Pass1Result, error) {
	cropsDir := filepath.Join(workspaceDir, "crops")
	if err := os.MkdirAll(cropsDir, 0o755); err != nil {
		return Pass1Result{}, fmt.Errorf("create crops dir: %w", err)
	}

	manifestPath := filepath.Join(workspaceDir, "manifest.jsonl")
	mw, err := createManifest(manifestPath)
	if err != nil {
		return Pass1Result{}, err
	}
	defer mw.Close()

	pageCount, err := renderer.PageCount(ctx, pdfPath)
	if err != nil {
		return Pass1Result{}, fmt.Errorf("determine page count: %w", err)
	}

	var degenerate []domain.ResultRecord
	for pageIdx := 0; pageIdx < pageCount; pageIdx++ {
		if err := ctx.Err(); err != nil {
			return Pass1Result{}, err
		}

		stripEligible, imageBlocks := groupPage(doc.Blocks, pageIdx)
		if len(stripEligible) == 0 && len(imageBlocks) == 0 {
			continue // never render a page nothing was requested from
		}

		raster, err := renderer.RenderPage(ctx, pdfPath, pageIdx, cfg.PDFRenderDPI, workspaceDir)
		if err != nil {
			return Pass1Result{}, fmt.Errorf("render page %d: %w", pageIdx, err)
		}

		entry := domain.ManifestEntry{PageIndex: pageIdx, RasterW: raster.Width, RasterH: raster.Height}

		runs, degenBlocks := planStrips(stripEligible, cfg.StripMergeGapPx, cfg.StripMaxHeightPx)
		for _, blk := range degenBlocks {
			degenerate = append(degenerate, domain.ResultRecord{
				BlockID: blk.ID, Status: domain.ResultFailed,
				Reason: "degenerate crop region",
			})
			entry.Degenerate = append(entry.Degenerate, blk.ID)
		}

		for i, run := range runs {
			data, _, _, err := compositeStrip(raster, run)
			if err != nil {
				log.Warnf("pipeline: pass1 composite strip failed page %d run %d: %v", pageIdx, i, err)
				for _, blk := range run {
					degenerate = append(degenerate, domain.ResultRecord{BlockID: blk.ID, Status: domain.ResultFailed, Reason: err.Error()})
				}
				continue
			}
			stripID := fmt.Sprintf("p%d-s%d", pageIdx, i)
			cropPath := filepath.Join(cropsDir, stripID+".png")
			if err := os.WriteFile(cropPath, data, 0o644); err != nil {
				raster.Close()
				return Pass1Result{}, fmt.Errorf("write strip crop: %w", err)
			}
			ids := make([]string, len(run))
			for j, b := range run {
				ids[j] = b.ID
			}
			entry.Strips = append(entry.Strips, domain.StripRef{StripID: stripID, MemberIDs: ids, CropPath: cropPath})
		}

		for _, blk := range imageBlocks {
			box := blk.BoundingBox()
			if box.Area() <= 0 {
				degenerate = append(degenerate, domain.ResultRecord{BlockID: blk.ID, Status: domain.ResultFailed, Reason: "degenerate crop region"})
				entry.Degenerate = append(entry.Degenerate, blk.ID)
				continue
			}
			data, err := raster.Crop(box)
			if err != nil {
				degenerate = append(degenerate, domain.ResultRecord{BlockID: blk.ID, Status: domain.ResultFailed, Reason: err.Error()})
				entry.Degenerate = append(entry.Degenerate, blk.ID)
				continue
			}
			cropPath := filepath.Join(cropsDir, blk.ID+".png")
			if err := os.WriteFile(cropPath, data, 0o644); err != nil {
				raster.Close()
				return Pass1Result{}, fmt.Errorf("write image crop: %w", err)
			}
			entry.ImageCrops = append(entry.ImageCrops, domain.ImageCrop{BlockID: blk.ID, CropPath: cropPath})
		}

		if err := mw.WriteEntry(entry); err != nil {
			raster.Close()
			return Pass1Result{}, fmt.Errorf("write manifest entry page %d: %w", pageIdx, err)
		}
		if err := raster.Close(); err != nil {
			log.Warnf("pipeline: pass1 failed to remove raster for page %d: %v", pageIdx, err)
		}
	}

	return Pass1Result{ManifestPath: manifestPath, Degenerate: degenerate}, nil
}
