// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
)

// PageRenderer rasterizes one PDF page at a time, releasing the raster
// after use so Pass 1's peak memory stays bounded to a single page.
//
// The default implementation wraps poppler's pdftoppm/pdfinfo binaries
// via os/exec; the interface keeps the rasterizer swappable for tests and
// alternative toolchains.
type PageRenderer interface {
	// PageCount reports how many pages pdfPath contains.
	PageCount(ctx context.Context, pdfPath string) (int, error)
	// RenderPage rasterizes one page (0-indexed) at dpi into workDir,
	// returning the decoded raster. The caller must not retain it past the
	// current page's processing — Pass 1 never holds two pages in memory
	// at once.
	RenderPage(ctx context.Context, pdfPath string, pageIndex, dpi int, workDir string) (*Raster, error)
}

// Raster is one rendered page, kept only as long as Pass 1 needs it to
// produce that page's crops.
type Raster struct {
	Img    image.Image
	Width  int
	Height int
	path   string // on-disk PNG this raster was decoded from, removed on Close
}

// Close removes the temporary full-page raster file. The per-block/strip
// crops produced from it are independent files and survive this call.
func (r *Raster) Close() error {
	if r.path == "" {
		return nil
	}
	return os.Remove(r.path)
}

// Crop extracts box (clamped to the raster bounds) and PNG-encodes it.
// Degenerate boxes (zero or negative area) return an error the caller
// records as a failed block; they are never sent to a backend.
func (r *Raster) Crop(box domain.PixelCoords) ([]byte, error) {
	if box.Area() <= 0 {
		return nil, fmt.Errorf("degenerate crop region: %+v", box)
	}
	rect := image.Rect(int(box.X1), int(box.Y1), int(box.X2), int(box.Y2)).Intersect(r.Img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("crop region outside page bounds: %+v", box)
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), r.Img, rect.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

// PDFToPPMRenderer is the default PageRenderer, shelling out to poppler's
// pdftoppm/pdfinfo binaries.
type PDFToPPMRenderer struct{}

var pageCountRe = regexp.MustCompile(`(?m)^Pages:\s+(\d+)`)

func (PDFToPPMRenderer) PageCount(ctx context.Context, pdfPath string) (int, error) {
	out, err := exec.CommandContext(ctx, "pdfinfo", pdfPath).Output()
	if err != nil {
		return 0, fmt.Errorf("pdfinfo %s: %w", pdfPath, err)
	}
	m := pageCountRe.FindSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("pdfinfo %s: page count not found in output", pdfPath)
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0, fmt.Errorf("parse page count: %w", err)
	}
	return n, nil
}

func (PDFToPPMRenderer) RenderPage(ctx context.Context, pdfPath string, pageIndex, dpi int, workDir string) (*Raster, error) {
	prefix := filepath.Join(workDir, fmt.Sprintf("page-%d", pageIndex))
	pageNum := strconv.Itoa(pageIndex + 1)
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png", "-r", strconv.Itoa(dpi),
		"-f", pageNum, "-l", pageNum,
		pdfPath, prefix,
	)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w", pageIndex, err)
	}

	pngPath := prefix + "-" + pageNum + ".png"
	if _, err := os.Stat(pngPath); err != nil {
		// poppler omits the page-number suffix when asked for a single page
		// on some builds; fall back to the bare prefix.
		pngPath = prefix + ".png"
	}

	f, err := os.Open(pngPath)
	if err != nil {
		return nil, fmt.Errorf("open rendered page %d: %w", pageIndex, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode rendered page %d: %w", pageIndex, err)
	}

	b := img.Bounds()
	return &Raster{Img: img, Width: b.Dx(), Height: b.Dy(), path: pngPath}, nil
}
