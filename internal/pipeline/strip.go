// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package pipeline

import (
	"bytes"
	"image"
	"image/draw"
	"image/png"
	"sort"

	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
)

// groupPage splits one page's requested blocks into strip-eligible
// (text/table) and individually-cropped (image) cohorts.
func groupPage(blocks []domain.Block, pageIndex int) (stripEligible, imageBlocks []domain.Block) {
	for _, b := range blocks {
		if b.PageIndex != pageIndex {
			continue
		}
		if b.Type.IsStripEligible() {
			stripEligible = append(stripEligible, b)
		} else {
			imageBlocks = append(imageBlocks, b)
		}
	}
	return stripEligible, imageBlocks
}

// planStrips groups stripEligible blocks (already filtered to one page)
// into ordered runs that merge into a single vertical crop: consecutive by
// top-to-bottom position, merged while the vertical gap to the previous
// block stays within mergeGapPx and the run's combined height stays within
// maxHeightPx. A gap or height overrun starts a new strip. Blocks with a degenerate bounding box are excluded and
// returned separately as failed immediately, never merged or sent to a
// backend.
func planStrips(stripEligible []domain.Block, mergeGapPx, maxHeightPx float64) (strips [][]domain.Block, degenerate []domain.Block) {
	usable := make([]domain.Block, 0, len(stripEligible))
	for _, b := range stripEligible {
		if b.BoundingBox().Area() <= 0 {
			degenerate = append(degenerate, b)
			continue
		}
		usable = append(usable, b)
	}
	sort.Slice(usable, func(i, j int) bool {
		return usable[i].BoundingBox().Y1 < usable[j].BoundingBox().Y1
	})

	var current []domain.Block
	var runTop, runBottom float64
	flush := func() {
		if len(current) > 0 {
			strips = append(strips, current)
			current = nil
		}
	}
	for _, b := range usable {
		box := b.BoundingBox()
		if len(current) == 0 {
			current = []domain.Block{b}
			runTop, runBottom = box.Y1, box.Y2
			continue
		}
		gap := box.Y1 - runBottom
		newHeight := box.Y2 - runTop
		if gap <= mergeGapPx && newHeight <= maxHeightPx {
			current = append(current, b)
			if box.Y2 > runBottom {
				runBottom = box.Y2
			}
			continue
		}
		flush()
		current = []domain.Block{b}
		runTop, runBottom = box.Y1, box.Y2
	}
	flush()
	return strips, degenerate
}

// compositeStrip vertically stacks each member block's crop (taken from
// page) into one PNG-encoded image, top to bottom in run order, and
// returns the composite plus its pixel dimensions.
func compositeStrip(page *Raster, members []domain.Block) (data []byte, width, height int, err error) {
	type crop struct {
		img image.Image
		h   int
	}
	crops := make([]crop, 0, len(members))
	width = 0
	for _, b := range members {
		box := b.BoundingBox()
		rect := image.Rect(int(box.X1), int(box.Y1), int(box.X2), int(box.Y2)).Intersect(page.Img.Bounds())
		if rect.Empty() {
			continue
		}
		sub := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
		draw.Draw(sub, sub.Bounds(), page.Img, rect.Min, draw.Src)
		crops = append(crops, crop{img: sub, h: rect.Dy()})
		if rect.Dx() > width {
			width = rect.Dx()
		}
		height += rect.Dy()
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	y := 0
	for _, c := range crops {
		draw.Draw(dst, image.Rect(0, y, width, y+c.h), c.img, image.Point{}, draw.Src)
		y += c.h
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, 0, 0, err
	}
	return buf.Bytes(), width, height, nil
}
