// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package artifact

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{objects: make(map[string][]byte)} }

func (f *fakeStore) UploadBytes(_ context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeStore) UploadText(ctx context.Context, key, text string) error {
	return f.UploadBytes(ctx, key, []byte(text))
}

type fakeMeta struct {
	mu        sync.Mutex
	files     []domain.JobFile
	nodeFiles []domain.NodeFile
}

func (m *fakeMeta) CreateJobFile(_ context.Context, f *domain.JobFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = append(m.files, *f)
	return nil
}

func (m *fakeMeta) RegisterNodeFile(_ context.Context, nf *domain.NodeFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodeFiles = append(m.nodeFiles, *nf)
	return nil
}

func writeTempCrop(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4 fake"), 0o644))
	return p
}

func TestBuild_ProducesAllArtifactsAndRegistersNodeFiles(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore()
	meta := &fakeMeta{}
	b := New(store, meta)

	nodeID := "node-1"
	job := &domain.Job{ID: "job-1", ArtifactPrefix: "ocr_jobs/job-1/", NodeID: &nodeID}

	doc := domain.Document{
		Blocks: []domain.Block{
			{ID: "AAAA-BBBB-001", PageIndex: 0, Type: domain.BlockTypeText, Norm: domain.NormCoords{Y1: 0.1}},
			{ID: "AAAA-BBBB-002", PageIndex: 0, Type: domain.BlockTypeImage, Norm: domain.NormCoords{Y1: 0.2}},
		},
	}
	results := []domain.ResultRecord{
		{BlockID: "AAAA-BBBB-001", Text: "hello", Status: domain.ResultOK},
		{BlockID: "AAAA-BBBB-002", Text: "a photo", Status: domain.ResultOK},
	}
	crops := []CropFile{
		{BlockID: "AAAA-BBBB-002", PDFPath: writeTempCrop(t, dir, "002.pdf")},
	}

	files, err := b.Build(context.Background(), job, doc, results, crops, "2026-07-29T00:00:00Z")
	require.NoError(t, err)

	var types []domain.FileType
	for _, f := range files {
		types = append(types, f.FileType)
	}
	assert.Contains(t, types, domain.FileTypeResultMD)
	assert.Contains(t, types, domain.FileTypeAnnotation)
	assert.Contains(t, types, domain.FileTypeResultZip)
	assert.Contains(t, types, domain.FileTypeCrop)

	assert.Len(t, meta.nodeFiles, len(files), "every published artifact must be registered against the tree node")

	var ann AnnotationDocument
	annBytes := store.objects["ocr_jobs/job-1/annotation.json"]
	require.NoError(t, json.Unmarshal(annBytes, &ann))
	assert.Equal(t, AnnotationVersion, ann.Version)
	assert.Len(t, ann.Blocks, 2)
}

func TestBuild_MissingBlockKeepsFailureMarker(t *testing.T) {
	store := newFakeStore()
	meta := &fakeMeta{}
	b := New(store, meta)

	job := &domain.Job{ID: "job-1", ArtifactPrefix: "ocr_jobs/job-1/"}
	doc := domain.Document{Blocks: []domain.Block{{ID: "AAAA-BBBB-001", Type: domain.BlockTypeText}}}

	_, err := b.Build(context.Background(), job, doc, nil, nil, "2026-07-29T00:00:00Z")
	require.NoError(t, err)

	var ann AnnotationDocument
	require.NoError(t, json.Unmarshal(store.objects["ocr_jobs/job-1/annotation.json"], &ann))
	require.Len(t, ann.Blocks, 1)
	assert.Equal(t, domain.ResultMissing, ann.Blocks[0].OCRStatus)
	assert.Nil(t, ann.Blocks[0].OCRText)
}

func TestBuildResultZip_ContainsExpectedEntries(t *testing.T) {
	dir := t.TempDir()
	crops := []CropFile{{BlockID: "AAAA-BBBB-001", PDFPath: writeTempCrop(t, dir, "001.pdf")}}

	data, err := buildResultZip("# md", []byte(`{"version":2}`), crops)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "result.md")
	assert.Contains(t, names, "annotation.json")
	assert.Contains(t, names, "crops/AAAA-BBBB-001.pdf")
}
