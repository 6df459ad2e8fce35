// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package api

import (
	"github.com/gin-gonic/gin"

	"github.com/AMD-AGI/primus-ocr-core/internal/apierrors"
	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
)

type createNodeRequest struct {
	Name     string  `json:"name" binding:"required"`
	ParentID *string `json:"parent_id"`
}

// CreateTreeNode handles POST /api/tree/nodes.
func (h *Handler) CreateTreeNode(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		var req createNodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, apierrors.NewBadRequest("invalid_input: " + err.Error())
		}
		node := &domain.TreeNode{Name: req.Name, ParentID: req.ParentID}
		if err := h.meta.CreateTreeNode(c.Request.Context(), node); err != nil {
			return nil, apierrors.NewUnavailable("metadata_unavailable: " + err.Error()).WithError(err)
		}
		return node, nil
	})
}

// ListTreeNodes handles GET /api/tree/nodes?parent_id=.
func (h *Handler) ListTreeNodes(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		return h.meta.ListTreeNodes(c.Request.Context(), c.Query("parent_id"))
	})
}

// GetTreeNode handles GET /api/tree/nodes/:id.
func (h *Handler) GetTreeNode(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		return h.meta.GetTreeNode(c.Request.Context(), c.Param("id"))
	})
}

// DeleteTreeNode handles DELETE /api/tree/nodes/:id.
func (h *Handler) DeleteTreeNode(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		if err := h.meta.DeleteTreeNode(c.Request.Context(), c.Param("id")); err != nil {
			return nil, err
		}
		return gin.H{"deleted": true}, nil
	})
}

// ListNodeFiles handles GET /api/tree/nodes/:id/files.
func (h *Handler) ListNodeFiles(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		return h.meta.ListNodeFiles(c.Request.Context(), c.Param("id"))
	})
}

type registerNodeFileRequest struct {
	ObjectKey string `json:"object_key" binding:"required"`
	FileName  string `json:"file_name" binding:"required"`
	FileType  string `json:"file_type"`
}

// RegisterNodeFile handles POST /api/tree/nodes/:id/files, the idempotent
// node-file registration contract.
func (h *Handler) RegisterNodeFile(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		var req registerNodeFileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, apierrors.NewBadRequest("invalid_input: " + err.Error())
		}
		nodeID := c.Param("id")
		if _, err := h.meta.GetTreeNode(c.Request.Context(), nodeID); err != nil {
			return nil, err
		}
		nf := &domain.NodeFile{
			NodeID:    nodeID,
			ObjectKey: req.ObjectKey,
			FileName:  req.FileName,
			FileType:  domain.FileType(req.FileType),
		}
		if err := h.meta.RegisterNodeFile(c.Request.Context(), nf); err != nil {
			return nil, apierrors.NewUnavailable("metadata_unavailable: " + err.Error()).WithError(err)
		}
		return nf, nil
	})
}
