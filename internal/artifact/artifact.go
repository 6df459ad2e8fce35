// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package artifact assembles a finished job's outputs. Given a completed
// ResultRecord set, the original Document, and the still-on-disk crop
// files, it produces result.md, annotation.json, result.zip and per-block
// crop PDFs, uploads each to the object store under the job's artifact
// prefix, registers each as a JobFile, and — when the job is tied to a
// tree node — idempotently registers the same set as NodeFiles.
//
// result.md embeds table content as HTML via gomarkdown/markdown: a
// recognized table's Markdown/HTML text is normalized into an HTML
// fragment embedded inline in the surrounding Markdown document, valid
// per the CommonMark raw-HTML rule.
package artifact

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
	"github.com/AMD-AGI/primus-ocr-core/internal/logging/log"
)

// AnnotationVersion is the current annotation.json schema version.
const AnnotationVersion = 2

// ObjectStore is the subset of objectstore.Store the builder needs.
type ObjectStore interface {
	UploadBytes(ctx context.Context, key string, data []byte) error
	UploadText(ctx context.Context, key, text string) error
}

// MetadataStore is the subset of metadata.Store the builder needs.
type MetadataStore interface {
	CreateJobFile(ctx context.Context, f *domain.JobFile) error
	RegisterNodeFile(ctx context.Context, nf *domain.NodeFile) error
}

// Builder assembles and publishes a completed job's artifacts.
type Builder struct {
	store ObjectStore
	meta  MetadataStore
}

func New(store ObjectStore, meta MetadataStore) *Builder {
	return &Builder{store: store, meta: meta}
}

// CropFile is one Pass-1 crop still on disk, keyed by the block (or strip
// member) id it covers.
type CropFile struct {
	BlockID string
	Path    string // PNG on disk
	PDFPath string // per-block PDF on disk, produced by the pipeline for crops/{id}.pdf
}

// AnnotationDocument is the version-2 serialized form of annotation.json.
type AnnotationDocument struct {
	Version int                  `json:"version"`
	Pages   []domain.Page        `json:"pages"`
	Blocks  []AnnotationBlock    `json:"blocks"`
}

// AnnotationBlock merges a requested Block with its OCR outcome.
type AnnotationBlock struct {
	ID        string             `json:"id"`
	PageIndex int                `json:"page_index"`
	Type      domain.BlockType   `json:"block_type"`
	Shape     domain.ShapeType   `json:"shape_type"`
	Norm      domain.NormCoords  `json:"coords_norm"`
	Polygon   []domain.Point     `json:"polygon_points,omitempty"`
	Source    string             `json:"source"`
	CreatedAt string             `json:"created_at"`
	OCRText   *string            `json:"ocr_text"`
	OCRStatus domain.ResultStatus `json:"ocr_status"`
}

// Build assembles every artifact and publishes it, returning the JobFiles
// created so the worker can log/observe them.
func (b *Builder) Build(ctx context.Context, job *domain.Job, doc domain.Document, results []domain.ResultRecord, crops []CropFile, createdAt string) ([]domain.JobFile, error) {
	resultByBlock := make(map[string]domain.ResultRecord, len(results))
	for _, r := range results {
		resultByBlock[r.BlockID] = r
	}
	cropByBlock := make(map[string]CropFile, len(crops))
	for _, c := range crops {
		cropByBlock[c.BlockID] = c
	}

	annotation := b.buildAnnotation(doc, resultByBlock, createdAt)
	annotationJSON, err := json.MarshalIndent(annotation, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal annotation.json: %w", err)
	}

	resultMD := b.buildResultMD(doc, annotation, cropByBlock)

	var created []domain.JobFile

	mdFile, err := b.publish(ctx, job, domain.FileTypeResultMD, "result.md", []byte(resultMD), nil)
	if err != nil {
		return created, err
	}
	created = append(created, *mdFile)

	annFile, err := b.publish(ctx, job, domain.FileTypeAnnotation, "annotation.json", annotationJSON, nil)
	if err != nil {
		return created, err
	}
	created = append(created, *annFile)

	zipBytes, err := buildResultZip(resultMD, annotationJSON, crops)
	if err != nil {
		return created, fmt.Errorf("build result.zip: %w", err)
	}
	zipFile, err := b.publish(ctx, job, domain.FileTypeResultZip, "result.zip", zipBytes, nil)
	if err != nil {
		return created, err
	}
	created = append(created, *zipFile)

	for _, c := range crops {
		pdfBytes, err := os.ReadFile(c.PDFPath)
		if err != nil {
			log.Warnf("artifact: skip crop pdf for block %s: %v", c.BlockID, err)
			continue
		}
		meta := map[string]any{"block_id": c.BlockID}
		f, err := b.publish(ctx, job, domain.FileTypeCrop, c.BlockID+".pdf", pdfBytes, meta)
		if err != nil {
			return created, err
		}
		created = append(created, *f)
	}

	if job.NodeID != nil && *job.NodeID != "" {
		for _, f := range created {
			if err := b.registerNodeFileWithRetry(ctx, *job.NodeID, f); err != nil {
				log.Errorf("artifact: node file registration failed permanently for %s: %v", f.ObjectKey, err)
			}
		}
	}

	return created, nil
}

func (b *Builder) publish(ctx context.Context, job *domain.Job, ft domain.FileType, name string, data []byte, meta map[string]any) (*domain.JobFile, error) {
	key := path.Join(job.ArtifactPrefix, name)
	if err := b.store.UploadBytes(ctx, key, data); err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	f := &domain.JobFile{
		JobID:     job.ID,
		FileType:  ft,
		ObjectKey: key,
		FileName:  name,
		Size:      int64(len(data)),
		Metadata:  meta,
	}
	if err := b.meta.CreateJobFile(ctx, f); err != nil {
		return nil, fmt.Errorf("register job file %s: %w", name, err)
	}
	return f, nil
}

// registerNodeFileWithRetry registers one artifact against the job's tree
// node, retrying up to 3 times with bounded backoff —
// cross-service registration can fail independently of the OCR pipeline's
// own success, and the registration itself is already an idempotent upsert.
func (b *Builder) registerNodeFileWithRetry(ctx context.Context, nodeID string, f domain.JobFile) error {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		nf := &domain.NodeFile{
			NodeID:    nodeID,
			ObjectKey: f.ObjectKey,
			FileName:  f.FileName,
			FileType:  f.FileType,
		}
		if err := b.meta.RegisterNodeFile(ctx, nf); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}

func (b *Builder) buildAnnotation(doc domain.Document, resultByBlock map[string]domain.ResultRecord, createdAt string) AnnotationDocument {
	blocks := make([]AnnotationBlock, 0, len(doc.Blocks))
	for _, blk := range doc.Blocks {
		ab := AnnotationBlock{
			ID:        blk.ID,
			PageIndex: blk.PageIndex,
			Type:      blk.Type,
			Shape:     blk.Shape,
			Norm:      blk.Norm,
			Polygon:   blk.Polygon,
			Source:    "ocr",
			CreatedAt: createdAt,
			OCRStatus: domain.ResultMissing,
		}
		if r, ok := resultByBlock[blk.ID]; ok {
			ab.OCRStatus = r.Status
			if r.Status != domain.ResultFailed && r.Text != "" {
				text := r.Text
				ab.OCRText = &text
			}
		}
		blocks = append(blocks, ab)
	}
	return AnnotationDocument{Version: AnnotationVersion, Pages: doc.Pages, Blocks: blocks}
}

// buildResultMD renders the document in page/top-to-bottom reading order
//: text blocks as plain text, tables as an HTML-normalized
// fragment, images as a heading + recognized text + relative crop
// reference.
func (b *Builder) buildResultMD(doc domain.Document, ann AnnotationDocument, cropByBlock map[string]CropFile) string {
	byPage := make(map[int][]AnnotationBlock)
	for _, blk := range ann.Blocks {
		byPage[blk.PageIndex] = append(byPage[blk.PageIndex], blk)
	}
	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	var sb strings.Builder
	for _, p := range pages {
		blocks := byPage[p]
		sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].Norm.Y1 < blocks[j].Norm.Y1 })
		fmt.Fprintf(&sb, "## Page %d\n\n", p+1)
		for _, blk := range blocks {
			switch blk.Type {
			case domain.BlockTypeTable:
				sb.WriteString(renderTableHTML(blk))
			case domain.BlockTypeImage:
				fmt.Fprintf(&sb, "### Image block %s\n\n", blk.ID)
				sb.WriteString(textOrMarker(blk))
				if c, ok := cropByBlock[blk.ID]; ok {
					fmt.Fprintf(&sb, "\n![%s](crops/%s.pdf)\n", blk.ID, c.BlockID)
				}
				sb.WriteString("\n\n")
			default:
				sb.WriteString(textOrMarker(blk))
				sb.WriteString("\n\n")
			}
		}
	}
	return sb.String()
}

func textOrMarker(blk AnnotationBlock) string {
	if blk.OCRText != nil {
		return *blk.OCRText
	}
	return fmt.Sprintf("_[%s: %s]_", blk.ID, blk.OCRStatus)
}

func renderTableHTML(blk AnnotationBlock) string {
	if blk.OCRText == nil {
		return fmt.Sprintf("_[%s: %s]_\n\n", blk.ID, blk.OCRStatus)
	}
	extensions := parser.CommonExtensions | parser.Tables
	p := parser.NewWithExtensions(extensions)
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags})
	html := markdown.ToHTML([]byte(*blk.OCRText), p, renderer)
	return string(html) + "\n\n"
}

// buildResultZip archives result.md, annotation.json and every per-block
// crop PDF under crops/{block_id}.pdf.
func buildResultZip(resultMD string, annotationJSON []byte, crops []CropFile) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	if err := writeZipEntry(zw, "result.md", []byte(resultMD)); err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, "annotation.json", annotationJSON); err != nil {
		return nil, err
	}
	for _, c := range crops {
		data, err := os.ReadFile(c.PDFPath)
		if err != nil {
			log.Warnf("artifact: skip zip crop pdf for block %s: %v", c.BlockID, err)
			continue
		}
		if err := writeZipEntry(zw, path.Join("crops", c.BlockID+".pdf"), data); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create zip entry %s: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}
