// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package api is the boundary HTTP surface for job creation and
// lifecycle, result download, the storage proxy and the tree proxy: one
// Handler struct holding explicit collaborator handles, a handle(c, fn)
// wrapper mapping typed errors to HTTP statuses, and an InitRouters
// function wiring the gin groups.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AMD-AGI/primus-ocr-core/internal/admission"
	"github.com/AMD-AGI/primus-ocr-core/internal/apierrors"
	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
	"github.com/AMD-AGI/primus-ocr-core/internal/logging/log"
	"github.com/AMD-AGI/primus-ocr-core/internal/objectstore"
)

// MetadataStore is the metadata surface the gateway consumes; satisfied by
// *metadata.Store.
type MetadataStore interface {
	CreateJob(ctx context.Context, job *domain.Job, settings *domain.JobSettings) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	GetJobSettings(ctx context.Context, jobID string) (*domain.JobSettings, error)
	UpdateJobStatus(ctx context.Context, id string, status domain.Status, progress float64, statusMsg, errMsg *string) error
	UpdateTaskName(ctx context.Context, id, taskName string) error
	UpsertJobSettings(ctx context.Context, settings *domain.JobSettings) error
	ListJobs(ctx context.Context, clientID, documentHash string) ([]domain.Job, error)
	ListChangedSince(ctx context.Context, since time.Time, limit int) ([]domain.Job, error)
	DeleteJob(ctx context.Context, id string) error
	CreateJobFile(ctx context.Context, f *domain.JobFile) error
	ListJobFiles(ctx context.Context, jobID string, fileType *domain.FileType) ([]domain.JobFile, error)
	RegisterNodeFile(ctx context.Context, nf *domain.NodeFile) error
	CreateTreeNode(ctx context.Context, node *domain.TreeNode) error
	GetTreeNode(ctx context.Context, id string) (*domain.TreeNode, error)
	ListTreeNodes(ctx context.Context, parentID string) ([]domain.TreeNode, error)
	DeleteTreeNode(ctx context.Context, id string) error
	ListNodeFiles(ctx context.Context, nodeID string) ([]domain.NodeFile, error)
}

// ObjectStore is the object-store surface the gateway consumes; satisfied
// by *objectstore.Store.
type ObjectStore interface {
	Upload(ctx context.Context, key string, reader io.Reader) error
	UploadBytes(ctx context.Context, key string, data []byte) error
	UploadText(ctx context.Context, key, text string) error
	DownloadBytes(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	ListByPrefix(ctx context.Context, prefix string) ([]objectstore.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	BatchDelete(ctx context.Context, keys []string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Publisher announces a queued job to the broker; satisfied by a thin
// adapter over *broker.Broker in cmd/ocr-apiserver.
type Publisher interface {
	Publish(ctx context.Context, jobID string) error
}

// Handler carries the gateway's collaborator handles, constructed once in
// cmd/ocr-apiserver and threaded in explicitly.
type Handler struct {
	meta      MetadataStore
	store     ObjectStore
	publisher Publisher
	admission *admission.Controller
}

func NewHandler(meta MetadataStore, store ObjectStore, publisher Publisher, adm *admission.Controller) *Handler {
	return &Handler{meta: meta, store: store, publisher: publisher, admission: adm}
}

type handleFunc func(*gin.Context) (interface{}, error)

// handle executes fn and renders its result, or maps its error to an
// HTTP status.
func handle(c *gin.Context, fn handleFunc) {
	response, err := fn(c)
	if err != nil {
		status := apierrors.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			log.Errorf("api: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		}
		c.AbortWithStatusJSON(status, gin.H{
			"error": err.Error(),
			"code":  string(apierrors.GetErrorCode(err)),
		})
		return
	}
	if response == nil {
		c.Status(http.StatusOK)
		return
	}
	c.JSON(http.StatusOK, response)
}
