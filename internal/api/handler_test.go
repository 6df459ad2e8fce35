// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMD-AGI/primus-ocr-core/internal/admission"
	"github.com/AMD-AGI/primus-ocr-core/internal/apierrors"
	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
	"github.com/AMD-AGI/primus-ocr-core/internal/objectstore"
)

// fakeMeta is an in-memory MetadataStore plus admission.Counter.
type fakeMeta struct {
	mu       sync.Mutex
	jobs     map[string]*domain.Job
	settings map[string]*domain.JobSettings
	files    map[string][]domain.JobFile
	nodes    map[string]*domain.TreeNode
	nodeFiles map[string]domain.NodeFile // keyed node_id+object_key
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{
		jobs:      map[string]*domain.Job{},
		settings:  map[string]*domain.JobSettings{},
		files:     map[string][]domain.JobFile{},
		nodes:     map[string]*domain.TreeNode{},
		nodeFiles: map[string]domain.NodeFile{},
	}
}

func (f *fakeMeta) CreateJob(_ context.Context, job *domain.Job, settings *domain.JobSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.ID] = &cp
	f.settings[job.ID] = settings
	return nil
}

func (f *fakeMeta) GetJob(_ context.Context, id string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, apierrors.NewNotFound("job " + id + " not found")
	}
	cp := *j
	return &cp, nil
}

func (f *fakeMeta) GetJobSettings(_ context.Context, jobID string) (*domain.JobSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.settings[jobID]
	if !ok {
		return nil, apierrors.NewNotFound("settings not found")
	}
	return s, nil
}

func (f *fakeMeta) UpdateJobStatus(_ context.Context, id string, status domain.Status, progress float64, statusMsg, errMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return apierrors.NewNotFound("job " + id + " not found")
	}
	j.Status = status
	j.Progress = progress
	j.StatusMessage = statusMsg
	j.ErrorMessage = errMsg
	j.UpdatedAt = time.Now()
	j.Clamp()
	return nil
}

func (f *fakeMeta) UpdateTaskName(_ context.Context, id, taskName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return apierrors.NewNotFound("job " + id + " not found")
	}
	j.TaskName = taskName
	return nil
}

func (f *fakeMeta) UpsertJobSettings(_ context.Context, settings *domain.JobSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[settings.JobID] = settings
	return nil
}

func (f *fakeMeta) ListJobs(_ context.Context, clientID, documentHash string) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Job
	for _, j := range f.jobs {
		if clientID != "" && j.ClientID != clientID {
			continue
		}
		if documentHash != "" && j.DocumentHash != documentHash {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (f *fakeMeta) ListChangedSince(_ context.Context, since time.Time, _ int) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Job
	for _, j := range f.jobs {
		if j.UpdatedAt.After(since) {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (f *fakeMeta) DeleteJob(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[id]; !ok {
		return apierrors.NewNotFound("job " + id + " not found")
	}
	delete(f.jobs, id)
	delete(f.settings, id)
	delete(f.files, id)
	return nil
}

func (f *fakeMeta) CreateJobFile(_ context.Context, file *domain.JobFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[file.JobID] = append(f.files[file.JobID], *file)
	return nil
}

func (f *fakeMeta) ListJobFiles(_ context.Context, jobID string, fileType *domain.FileType) ([]domain.JobFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.JobFile
	for _, file := range f.files[jobID] {
		if fileType != nil && file.FileType != *fileType {
			continue
		}
		out = append(out, file)
	}
	return out, nil
}

func (f *fakeMeta) RegisterNodeFile(_ context.Context, nf *domain.NodeFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodeFiles[nf.NodeID+"|"+nf.ObjectKey] = *nf
	return nil
}

func (f *fakeMeta) CreateTreeNode(_ context.Context, node *domain.TreeNode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if node.ID == "" {
		node.ID = fmt.Sprintf("node-%d", len(f.nodes)+1)
	}
	f.nodes[node.ID] = node
	return nil
}

func (f *fakeMeta) GetTreeNode(_ context.Context, id string) (*domain.TreeNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[id]
	if !ok {
		return nil, apierrors.NewNotFound("tree node " + id + " not found")
	}
	return n, nil
}

func (f *fakeMeta) ListTreeNodes(_ context.Context, parentID string) ([]domain.TreeNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.TreeNode
	for _, n := range f.nodes {
		if parentID == "" && n.ParentID == nil {
			out = append(out, *n)
		} else if n.ParentID != nil && *n.ParentID == parentID {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (f *fakeMeta) DeleteTreeNode(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[id]; !ok {
		return apierrors.NewNotFound("tree node " + id + " not found")
	}
	delete(f.nodes, id)
	return nil
}

func (f *fakeMeta) ListNodeFiles(_ context.Context, nodeID string) ([]domain.NodeFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.NodeFile
	for _, nf := range f.nodeFiles {
		if nf.NodeID == nodeID {
			out = append(out, nf)
		}
	}
	return out, nil
}

// admission.Counter
func (f *fakeMeta) CountQueued(ctx context.Context) (int, error) {
	return f.countStatus(domain.StatusQueued), nil
}
func (f *fakeMeta) CountProcessing(ctx context.Context) (int, error) {
	return f.countStatus(domain.StatusProcessing), nil
}
func (f *fakeMeta) CountActive(ctx context.Context) (int, error) {
	return f.countStatus(domain.StatusQueued) + f.countStatus(domain.StatusProcessing), nil
}

func (f *fakeMeta) countStatus(s domain.Status) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, j := range f.jobs {
		if j.Status == s {
			n++
		}
	}
	return n
}

// fakeObjectStore keeps objects in a map.
type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore { return &fakeObjectStore{objects: map[string][]byte{}} }

func (f *fakeObjectStore) Upload(_ context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeObjectStore) UploadBytes(ctx context.Context, key string, data []byte) error {
	return f.Upload(ctx, key, bytes.NewReader(data))
}

func (f *fakeObjectStore) UploadText(ctx context.Context, key, text string) error {
	return f.UploadBytes(ctx, key, []byte(text))
}

func (f *fakeObjectStore) DownloadBytes(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (f *fakeObjectStore) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeObjectStore) ListByPrefix(_ context.Context, prefix string) ([]objectstore.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []objectstore.ObjectInfo
	for k, v := range f.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, objectstore.ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (f *fakeObjectStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeObjectStore) BatchDelete(ctx context.Context, keys []string) error {
	for _, k := range keys {
		_ = f.Delete(ctx, k)
	}
	return nil
}

func (f *fakeObjectStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://example.test/presigned/" + key, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []string
}

func (f *fakePublisher) Publish(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, jobID)
	return nil
}

type testEnv struct {
	router    *gin.Engine
	meta      *fakeMeta
	store     *fakeObjectStore
	publisher *fakePublisher
}

func newTestEnv(t *testing.T, maxQueueSize int) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	meta := newFakeMeta()
	store := newFakeObjectStore()
	pub := &fakePublisher{}
	h := NewHandler(meta, store, pub, admission.New(meta, maxQueueSize))
	r := gin.New()
	InitRouters(r, h, "")
	return &testEnv{router: r, meta: meta, store: store, publisher: pub}
}

func createJobRequest(t *testing.T, blocks []domain.Block) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{
		"client_id":     "client-1",
		"document_id":   "hash-abc",
		"document_name": "contract.pdf",
		"task_name":     "contract OCR",
		"engine":        "backend_a",
		"text_model":    "text-m",
		"table_model":   "table-m",
		"image_model":   "image-m",
	} {
		require.NoError(t, mw.WriteField(k, v))
	}
	pdfPart, err := mw.CreateFormFile("pdf", "contract.pdf")
	require.NoError(t, err)
	_, err = pdfPart.Write([]byte("%PDF-1.7 fake"))
	require.NoError(t, err)

	blocksPart, err := mw.CreateFormFile("blocks_file", "blocks.json")
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(blocksPart).Encode(blocks))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/jobs", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func testBlocks() []domain.Block {
	return []domain.Block{
		{ID: "AAAA-BBBB-001", PageIndex: 0, Type: domain.BlockTypeText, Shape: domain.ShapeRectangle,
			Pixel: domain.PixelCoords{X1: 10, Y1: 100, X2: 500, Y2: 160},
			Norm:  domain.NormCoords{X1: 0.01, Y1: 0.1, X2: 0.5, Y2: 0.16}},
		{ID: "AAAA-BBBB-002", PageIndex: 0, Type: domain.BlockTypeText, Shape: domain.ShapeRectangle,
			Pixel: domain.PixelCoords{X1: 10, Y1: 200, X2: 500, Y2: 260},
			Norm:  domain.NormCoords{X1: 0.01, Y1: 0.2, X2: 0.5, Y2: 0.26}},
	}
}

func TestCreateJob_HappyPath(t *testing.T) {
	env := newTestEnv(t, 10)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, createJobRequest(t, testBlocks()))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var job domain.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, domain.StatusQueued, job.Status)
	assert.Equal(t, "ocr_jobs/"+job.ID, job.ArtifactPrefix)

	// pdf and blocks landed under the artifact prefix
	exists, _ := env.store.Exists(context.Background(), job.ArtifactPrefix+"/document.pdf")
	assert.True(t, exists)
	exists, _ = env.store.Exists(context.Background(), job.ArtifactPrefix+"/blocks.json")
	assert.True(t, exists)

	// published exactly once
	assert.Equal(t, []string{job.ID}, env.publisher.published)

	// pdf + blocks JobFiles recorded
	files, _ := env.meta.ListJobFiles(context.Background(), job.ID, nil)
	assert.Len(t, files, 2)
}

func TestCreateJob_RejectsNonPDF(t *testing.T) {
	env := newTestEnv(t, 10)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("client_id", "c")
	_ = mw.WriteField("document_id", "d")
	_ = mw.WriteField("document_name", "n")
	p, _ := mw.CreateFormFile("pdf", "x.pdf")
	_, _ = p.Write([]byte("not a pdf"))
	b, _ := mw.CreateFormFile("blocks_file", "blocks.json")
	_, _ = b.Write([]byte("[]"))
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/jobs", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateJob_Backpressure(t *testing.T) {
	env := newTestEnv(t, 2)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, createJobRequest(t, testBlocks()))
		require.Equal(t, http.StatusOK, w.Code, "job %d should be admitted", i+1)
	}

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, createJobRequest(t, testBlocks()))
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "third create must hit queue_full")
	assert.Contains(t, w.Body.String(), "queue_full")
}

func TestJobTransitions(t *testing.T) {
	env := newTestEnv(t, 10)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, createJobRequest(t, testBlocks()))
	require.Equal(t, http.StatusOK, w.Code)
	var job domain.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))

	// queued -> paused
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/jobs/"+job.ID+"/pause", nil))
	require.Equal(t, http.StatusOK, w.Code)
	got, _ := env.meta.GetJob(context.Background(), job.ID)
	assert.Equal(t, domain.StatusPaused, got.Status)

	// paused -> resume re-queues and republishes
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/jobs/"+job.ID+"/resume", nil))
	require.Equal(t, http.StatusOK, w.Code)
	got, _ = env.meta.GetJob(context.Background(), job.ID)
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Len(t, env.publisher.published, 2)

	// restart from queued is invalid
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/jobs/"+job.ID+"/restart", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_transition")
	got, _ = env.meta.GetJob(context.Background(), job.ID)
	assert.Equal(t, domain.StatusQueued, got.Status, "invalid transition must not mutate state")
}

func TestGetResultURL_NotReadyUntilDone(t *testing.T) {
	env := newTestEnv(t, 10)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, createJobRequest(t, testBlocks()))
	var job domain.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID+"/result", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "not_ready")

	// mark done and publish the artifact
	require.NoError(t, env.meta.UpdateJobStatus(context.Background(), job.ID, domain.StatusDone, 1, nil, nil))
	require.NoError(t, env.store.UploadBytes(context.Background(), job.ArtifactPrefix+"/result.zip", []byte("zip")))

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID+"/result", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "download_url")
}

func TestGetJobManifest_ProcessingOnly(t *testing.T) {
	env := newTestEnv(t, 10)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, createJobRequest(t, testBlocks()))
	var job domain.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))

	// queued: the debug view is not available
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID+"/manifest", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "not_ready")

	// processing but no snapshot published yet
	require.NoError(t, env.meta.UpdateJobStatus(context.Background(), job.ID, domain.StatusProcessing, 0.2, nil, nil))
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID+"/manifest", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// worker published a snapshot: proxied through verbatim
	snapshot := []byte(`{"line_count":2,"strip_count":1,"image_crop_count":1,"units":[{"unit_id":"p0-s0","duration_ms":812}]}`)
	require.NoError(t, env.store.UploadBytes(context.Background(), job.ArtifactPrefix+"/debug/manifest.json", snapshot))
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID+"/manifest", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"line_count":2`)
	assert.Contains(t, w.Body.String(), `"p0-s0"`)
}

func TestDeleteJob_RemovesRowAndObjects(t *testing.T) {
	env := newTestEnv(t, 10)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, createJobRequest(t, testBlocks()))
	var job domain.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/jobs/"+job.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	_, err := env.meta.GetJob(context.Background(), job.ID)
	assert.True(t, apierrors.IsNotFound(err))
	objs, _ := env.store.ListByPrefix(context.Background(), job.ArtifactPrefix)
	assert.Empty(t, objs, "artifact prefix must be emptied on delete")
}

func TestJobsChanges_RequiresValidSince(t *testing.T) {
	env := newTestEnv(t, 10)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/changes?since=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/changes?since="+time.Now().Add(-time.Hour).Format(time.RFC3339), nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestQueueDepth(t *testing.T) {
	env := newTestEnv(t, 100)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, createJobRequest(t, testBlocks()))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/queue", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var depth struct {
		Queued     int `json:"queued"`
		Processing int `json:"processing"`
		Max        int `json:"max"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &depth))
	assert.Equal(t, 1, depth.Queued)
	assert.Equal(t, 100, depth.Max)
}

func TestTreeProxy_RegisterNodeFileIdempotent(t *testing.T) {
	env := newTestEnv(t, 10)

	body, _ := json.Marshal(map[string]any{"name": "projects"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/tree/nodes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var node domain.TreeNode
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &node))

	register := func() {
		payload, _ := json.Marshal(map[string]string{
			"object_key": "ocr_jobs/j1/result.md",
			"file_name":  "result.md",
			"file_type":  "result_md",
		})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/tree/nodes/"+node.ID+"/files", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		env.router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}
	register()
	register()

	files, err := env.meta.ListNodeFiles(context.Background(), node.ID)
	require.NoError(t, err)
	assert.Len(t, files, 1, "repeated registration must upsert, not duplicate")
}

func TestStorageProxy(t *testing.T) {
	env := newTestEnv(t, 10)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/storage/upload/some/key.txt", strings.NewReader("hello"))
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/storage/exists/some/key.txt", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"exists":true`)

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/storage/download/some/key.txt", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "download_url")

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/storage/delete/some/key.txt", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/storage/exists/some/key.txt", nil))
	assert.Contains(t, w.Body.String(), `"exists":false`)
}
