// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AMD-AGI/primus-ocr-core/internal/auth"
)

// InitRouters wires every gateway route onto e. Only /health stays
// outside the API-key check.
func InitRouters(e *gin.Engine, h *Handler, apiKey string) {
	e.GET("/health", h.Health)

	authed := e.Group("/", auth.Middleware(apiKey))
	{
		authed.GET("/metrics", gin.WrapH(promhttp.Handler()))
		authed.GET("/queue", h.QueueDepth)

		jobs := authed.Group("/jobs")
		{
			jobs.POST("", h.CreateJob)
			jobs.POST("/draft", h.CreateDraft)
			jobs.GET("", h.ListJobs)
			jobs.GET("/changes", h.JobsChanges)
			jobs.GET("/:id", h.GetJob)
			jobs.GET("/:id/details", h.GetJobDetails)
			jobs.GET("/:id/result", h.GetResultURL)
			jobs.GET("/:id/manifest", h.GetJobManifest)
			jobs.GET("/:id/stream", h.StreamJob)
			jobs.POST("/:id/start", h.StartDraft)
			jobs.POST("/:id/pause", h.PauseJob)
			jobs.POST("/:id/resume", h.ResumeJob)
			jobs.POST("/:id/restart", h.RestartJob)
			jobs.PATCH("/:id", h.PatchJob)
			jobs.DELETE("/:id", h.DeleteJob)
		}

		storage := authed.Group("/api/storage")
		{
			storage.GET("/exists/*key", h.StorageExists)
			storage.POST("/upload/*key", h.StorageUpload)
			storage.POST("/upload-text", h.StorageUploadText)
			storage.GET("/download/*key", h.StorageDownload)
			storage.DELETE("/delete/*key", h.StorageDelete)
			storage.POST("/delete-batch", h.StorageDeleteBatch)
			storage.GET("/list/*prefix", h.StorageList)
		}

		tree := authed.Group("/api/tree")
		{
			tree.POST("/nodes", h.CreateTreeNode)
			tree.GET("/nodes", h.ListTreeNodes)
			tree.GET("/nodes/:id", h.GetTreeNode)
			tree.DELETE("/nodes/:id", h.DeleteTreeNode)
			tree.GET("/nodes/:id/files", h.ListNodeFiles)
			tree.POST("/nodes/:id/files", h.RegisterNodeFile)
		}
	}
}
