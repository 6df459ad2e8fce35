// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package dispatcher

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/go-pdf/fpdf"
)

// ImageToSinglePagePDF wraps a PNG/JPEG crop in a one-page PDF sized to the
// image's pixel dimensions: the input shape Backend B's submit endpoint
// expects, and the format each per-block crop is published in.
func ImageToSinglePagePDF(imgBytes []byte) ([]byte, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(imgBytes))
	if err != nil {
		return nil, fmt.Errorf("decode crop image config: %w", err)
	}

	// fpdf units in points; treat one pixel as one point so the page
	// matches the raster 1:1, matching the "merged image dimensions"
	// tracked on the Strip.
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		SizeStr:        "",
		Size:           fpdf.SizeType{Wd: float64(cfg.Width), Ht: float64(cfg.Height)},
	})
	pdf.AddPage()

	imageType := "PNG"
	if format == "jpeg" {
		imageType = "JPEG"
	}
	opts := fpdf.ImageOptions{ImageType: imageType}
	pdf.RegisterImageOptionsReader("crop", opts, bytes.NewReader(imgBytes))
	pdf.ImageOptions("crop", 0, 0, float64(cfg.Width), float64(cfg.Height), false, opts, 0, "")

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("build single-page pdf: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write single-page pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// bytesReader adapts a byte slice to an io.Reader for resty's
// SetFileReader, which wants a fresh reader per call.
func bytesReader(b []byte) io.Reader { return bytes.NewReader(b) }
