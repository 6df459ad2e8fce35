// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package api

import (
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AMD-AGI/primus-ocr-core/internal/apierrors"
)

// storageKey extracts the object key from a gin wildcard parameter,
// stripping the leading slash gin keeps on *key captures.
func storageKey(c *gin.Context) (string, error) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		return "", apierrors.NewBadRequest("invalid_input: object key is required")
	}
	return key, nil
}

// StorageExists handles GET /api/storage/exists/*key.
func (h *Handler) StorageExists(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		key, err := storageKey(c)
		if err != nil {
			return nil, err
		}
		exists, err := h.store.Exists(c.Request.Context(), key)
		if err != nil {
			return nil, apierrors.NewUnavailable("storage_unavailable: " + err.Error()).WithError(err)
		}
		return gin.H{"key": key, "exists": exists}, nil
	})
}

// StorageUpload handles POST /api/storage/upload/*key, streaming the
// request body straight to the bucket.
func (h *Handler) StorageUpload(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		key, err := storageKey(c)
		if err != nil {
			return nil, err
		}
		body := io.LimitReader(c.Request.Body, maxUploadBytes)
		if err := h.store.Upload(c.Request.Context(), key, body); err != nil {
			return nil, apierrors.NewUnavailable("storage_unavailable: " + err.Error()).WithError(err)
		}
		return gin.H{"key": key}, nil
	})
}

type uploadTextRequest struct {
	Key  string `json:"key" binding:"required"`
	Text string `json:"text"`
}

// StorageUploadText handles POST /api/storage/upload-text.
func (h *Handler) StorageUploadText(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		var req uploadTextRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, apierrors.NewBadRequest("invalid_input: " + err.Error())
		}
		if err := h.store.UploadText(c.Request.Context(), req.Key, req.Text); err != nil {
			return nil, apierrors.NewUnavailable("storage_unavailable: " + err.Error()).WithError(err)
		}
		return gin.H{"key": req.Key}, nil
	})
}

// StorageDownload handles GET /api/storage/download/*key, answering with a
// presigned URL rather than proxying bytes through the gateway.
func (h *Handler) StorageDownload(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		key, err := storageKey(c)
		if err != nil {
			return nil, err
		}
		exists, err := h.store.Exists(c.Request.Context(), key)
		if err != nil {
			return nil, apierrors.NewUnavailable("storage_unavailable: " + err.Error()).WithError(err)
		}
		if !exists {
			return nil, apierrors.NewNotFound("object " + key + " not found")
		}
		url, err := h.store.PresignGet(c.Request.Context(), key, 0)
		if err != nil {
			return nil, apierrors.NewUnavailable("storage_unavailable: " + err.Error()).WithError(err)
		}
		return gin.H{"key": key, "download_url": url}, nil
	})
}

// StorageDelete handles DELETE /api/storage/delete/*key.
func (h *Handler) StorageDelete(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		key, err := storageKey(c)
		if err != nil {
			return nil, err
		}
		if err := h.store.Delete(c.Request.Context(), key); err != nil {
			return nil, apierrors.NewUnavailable("storage_unavailable: " + err.Error()).WithError(err)
		}
		return gin.H{"key": key, "deleted": true}, nil
	})
}

type deleteBatchRequest struct {
	Keys []string `json:"keys" binding:"required"`
}

// StorageDeleteBatch handles POST /api/storage/delete-batch.
func (h *Handler) StorageDeleteBatch(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		var req deleteBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, apierrors.NewBadRequest("invalid_input: " + err.Error())
		}
		if err := h.store.BatchDelete(c.Request.Context(), req.Keys); err != nil {
			return nil, apierrors.NewUnavailable("storage_unavailable: " + err.Error()).WithError(err)
		}
		return gin.H{"deleted": len(req.Keys)}, nil
	})
}

// StorageList handles GET /api/storage/list/*prefix.
func (h *Handler) StorageList(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		prefix := strings.TrimPrefix(c.Param("prefix"), "/")
		objects, err := h.store.ListByPrefix(c.Request.Context(), prefix)
		if err != nil {
			return nil, apierrors.NewUnavailable("storage_unavailable: " + err.Error()).WithError(err)
		}
		return gin.H{"prefix": prefix, "objects": objects}, nil
	})
}
