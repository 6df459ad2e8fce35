// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package domain holds the plain data types shared across the OCR core:
// jobs, their artifacts, the blocks requested for recognition, and the
// records produced once a job finishes.
package domain

import "time"

// Status is a Job's lifecycle state.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
	StatusPaused     Status = "paused"
)

// Job is a unit of OCR work.
type Job struct {
	ID              string     `json:"id" gorm:"primaryKey;type:uuid"`
	ClientID        string     `json:"client_id" gorm:"index"`
	DocumentHash    string     `json:"document_hash" gorm:"index"`
	DocumentName    string     `json:"document_name"`
	TaskName        string     `json:"task_name"`
	Status          Status     `json:"status" gorm:"index"`
	Progress        float64    `json:"progress"`
	Engine          string     `json:"engine"`
	ArtifactPrefix  string     `json:"artifact_prefix"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	StatusMessage   *string    `json:"status_message,omitempty"`
	NodeID          *string    `json:"node_id,omitempty" gorm:"index"`
	WorkerID        *string    `json:"worker_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"index"`
}

// TableName pins the gorm table name regardless of struct name changes.
func (Job) TableName() string { return "jobs" }

// Clamp keeps progress in [0,1] and pins it to 1 exactly when the job is
// done.
func (j *Job) Clamp() {
	if j.Progress < 0 {
		j.Progress = 0
	}
	if j.Progress > 1 {
		j.Progress = 1
	}
	if j.Status == StatusDone {
		j.Progress = 1
	}
}

// FileType enumerates the JobFile kinds.
type FileType string

const (
	FileTypePDF        FileType = "pdf"
	FileTypeBlocks     FileType = "blocks"
	FileTypeAnnotation FileType = "annotation"
	FileTypeResultMD   FileType = "result_md"
	FileTypeResultZip  FileType = "result_zip"
	FileTypeCrop       FileType = "crop"
	FileTypeOCRHTML    FileType = "ocr_html"
	FileTypeResultJSON FileType = "result_json"
)

// JobFile is a typed artifact reference owned by a Job.
type JobFile struct {
	ID       string         `json:"id" gorm:"primaryKey;type:uuid"`
	JobID    string         `json:"job_id" gorm:"index"`
	FileType FileType       `json:"file_type"`
	ObjectKey string        `json:"object_key"`
	FileName string         `json:"file_name"`
	Size     int64          `json:"size"`
	Metadata map[string]any `json:"metadata,omitempty" gorm:"serializer:json"`
}

func (JobFile) TableName() string { return "job_files" }

// JobSettings is the per-job model selection, one row per Job.
type JobSettings struct {
	JobID             string `json:"job_id" gorm:"primaryKey;type:uuid"`
	TextModel         string `json:"text_model"`
	TableModel        string `json:"table_model"`
	ImageModel        string `json:"image_model"`
	StampModel        string `json:"stamp_model"`
	IsCorrectionMode  bool   `json:"is_correction_mode"`
}

func (JobSettings) TableName() string { return "job_settings" }

// ModelFor returns the configured model identifier for a block type,
// falling back to the image model for unrecognized types.
func (s JobSettings) ModelFor(blockType BlockType) string {
	switch blockType {
	case BlockTypeText:
		return s.TextModel
	case BlockTypeTable:
		return s.TableModel
	case BlockTypeImage:
		return s.ImageModel
	default:
		return s.ImageModel
	}
}

// NodeFile registers a job artifact against an external tree node. It has
// no foreign key back to Job: deleting a Job must never cascade into
// NodeFiles.
type NodeFile struct {
	ID        string    `json:"id" gorm:"primaryKey;type:uuid"`
	NodeID    string    `json:"node_id" gorm:"index:idx_node_files_node_key,unique,priority:1"`
	ObjectKey string    `json:"object_key" gorm:"index:idx_node_files_node_key,unique,priority:2"`
	FileName  string    `json:"file_name"`
	FileType  FileType  `json:"file_type"`
	CreatedAt time.Time `json:"created_at"`
}

func (NodeFile) TableName() string { return "node_files" }

// TreeNode is one node of the external hierarchical project tree. The core
// only consumes its id and node_files relation; CRUD here exists
// for the tree-proxy pass-through endpoints.
type TreeNode struct {
	ID        string    `json:"id" gorm:"primaryKey;type:uuid"`
	ParentID  *string   `json:"parent_id,omitempty" gorm:"index"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TreeNode) TableName() string { return "tree_nodes" }
