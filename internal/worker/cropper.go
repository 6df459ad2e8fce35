// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/AMD-AGI/primus-ocr-core/internal/artifact"
	"github.com/AMD-AGI/primus-ocr-core/internal/dispatcher"
	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
	"github.com/AMD-AGI/primus-ocr-core/internal/pipeline"
)

// cropper produces per-block crops straight from the source PDF. It
// serves two callers: single-block verification retries (Pass 1's rasters
// are long gone by then) and the publish phase's per-block crop PDFs.
// Pages are rendered one at a time and released, the same memory bound
// Pass 1 honors.
type cropper struct {
	pdfPath  string
	dpi      int
	workDir  string
	renderer pipeline.PageRenderer
}

// CropBlock renders the block's page and returns the block's PNG crop.
func (c *cropper) CropBlock(ctx context.Context, blk domain.Block) ([]byte, error) {
	raster, err := c.renderer.RenderPage(ctx, c.pdfPath, blk.PageIndex, c.dpi, c.workDir)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", blk.PageIndex, err)
	}
	defer raster.Close()
	return raster.Crop(blk.BoundingBox())
}

// BuildCropFiles writes one PNG and one single-page PDF per non-degenerate
// block, rendering each page once, and returns the artifact builder's
// CropFile list.
func (c *cropper) BuildCropFiles(ctx context.Context, doc domain.Document) ([]artifact.CropFile, error) {
	outDir := filepath.Join(c.workDir, "block-crops")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create block crop dir: %w", err)
	}

	byPage := make(map[int][]domain.Block)
	for _, blk := range doc.Blocks {
		if blk.BoundingBox().Area() <= 0 {
			continue
		}
		byPage[blk.PageIndex] = append(byPage[blk.PageIndex], blk)
	}
	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	var out []artifact.CropFile
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raster, err := c.renderer.RenderPage(ctx, c.pdfPath, page, c.dpi, c.workDir)
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", page, err)
		}
		for _, blk := range byPage[page] {
			pngBytes, err := raster.Crop(blk.BoundingBox())
			if err != nil {
				continue
			}
			pdfBytes, err := dispatcher.ImageToSinglePagePDF(pngBytes)
			if err != nil {
				continue
			}
			pngPath := filepath.Join(outDir, blk.ID+".png")
			pdfPath := filepath.Join(outDir, blk.ID+".pdf")
			if err := os.WriteFile(pngPath, pngBytes, 0o644); err != nil {
				raster.Close()
				return nil, fmt.Errorf("write crop png %s: %w", blk.ID, err)
			}
			if err := os.WriteFile(pdfPath, pdfBytes, 0o644); err != nil {
				raster.Close()
				return nil, fmt.Errorf("write crop pdf %s: %w", blk.ID, err)
			}
			out = append(out, artifact.CropFile{BlockID: blk.ID, Path: pngPath, PDFPath: pdfPath})
		}
		raster.Close()
	}
	return out, nil
}
