// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package metadata is the durable job-metadata layer. Jobs, JobFiles and
// JobSettings are managed through gorm. The one query that must be
// race-free under concurrent workers — claiming the next queued job — is
// hand-written with sqlx and squirrel so the SELECT ... FOR UPDATE SKIP
// LOCKED clause stays explicit.
package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/AMD-AGI/primus-ocr-core/internal/apierrors"
	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store is the metadata collaborator handed explicitly to every package
// that needs durable job state; there is no package-level DB global.
type Store struct {
	gdb *gorm.DB
	sdb *sqlx.DB
}

// Open establishes both the gorm and sqlx handles against the same DSN and
// runs migrations.
func Open(dsn string) (*Store, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	sdb, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlx: %w", err)
	}
	s := &Store{gdb: gdb, sdb: sdb}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	return s.gdb.AutoMigrate(&domain.Job{}, &domain.JobFile{}, &domain.JobSettings{}, &domain.NodeFile{}, &domain.TreeNode{})
}

// SQLDB exposes the raw sqlx handle for collaborators that need to share
// the connection pool (the broker's NOTIFY publish rides it).
func (s *Store) SQLDB() *sqlx.DB { return s.sdb }

// Close releases both underlying connection pools.
func (s *Store) Close() error {
	sqlDB, err := s.gdb.DB()
	if err == nil {
		_ = sqlDB.Close()
	}
	return s.sdb.Close()
}

// CreateJob inserts a Job row, in whatever status the caller set, along
// with its settings.
func (s *Store) CreateJob(ctx context.Context, job *domain.Job, settings *domain.JobSettings) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Clamp()
	return s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		settings.JobID = job.ID
		if err := tx.Create(settings).Error; err != nil {
			return fmt.Errorf("create job settings: %w", err)
		}
		return nil
	})
}

// GetJob fetches a Job by id, returning apierrors.NotFound if absent.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	err := s.gdb.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierrors.NewNotFound(fmt.Sprintf("job %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// GetJobSettings fetches the JobSettings row for a job.
func (s *Store) GetJobSettings(ctx context.Context, jobID string) (*domain.JobSettings, error) {
	var js domain.JobSettings
	err := s.gdb.WithContext(ctx).First(&js, "job_id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierrors.NewNotFound(fmt.Sprintf("job settings for %s not found", jobID))
	}
	if err != nil {
		return nil, fmt.Errorf("get job settings: %w", err)
	}
	return &js, nil
}

// UpdateJobStatus persists status, progress, message fields for a job. Used
// by both the debounced progress updater and terminal transitions.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status domain.Status, progress float64, statusMsg, errMsg *string) error {
	job := domain.Job{Status: status, Progress: progress, StatusMessage: statusMsg, ErrorMessage: errMsg}
	job.Clamp()
	res := s.gdb.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id).
		Updates(map[string]any{
			"status":         job.Status,
			"progress":       job.Progress,
			"status_message": job.StatusMessage,
			"error_message":  job.ErrorMessage,
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("update job status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apierrors.NewNotFound(fmt.Sprintf("job %s not found", id))
	}
	return nil
}

// UpdateTaskName renames a job (the PATCH /jobs/{id} rename-only contract).
func (s *Store) UpdateTaskName(ctx context.Context, id, taskName string) error {
	res := s.gdb.WithContext(ctx).Model(&domain.Job{}).Where("id = ?", id).
		Updates(map[string]any{"task_name": taskName, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("update task name: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apierrors.NewNotFound(fmt.Sprintf("job %s not found", id))
	}
	return nil
}

// UpsertJobSettings writes the per-job model selection, replacing any
// existing row (start_draft may re-select models for an existing draft).
func (s *Store) UpsertJobSettings(ctx context.Context, settings *domain.JobSettings) error {
	insertSQL, args, err := psql.Insert("job_settings").
		Columns("job_id", "text_model", "table_model", "image_model", "stamp_model", "is_correction_mode").
		Values(settings.JobID, settings.TextModel, settings.TableModel, settings.ImageModel, settings.StampModel, settings.IsCorrectionMode).
		Suffix("ON CONFLICT (job_id) DO UPDATE SET text_model = EXCLUDED.text_model, table_model = EXCLUDED.table_model, image_model = EXCLUDED.image_model, stamp_model = EXCLUDED.stamp_model, is_correction_mode = EXCLUDED.is_correction_mode").
		ToSql()
	if err != nil {
		return fmt.Errorf("build settings upsert: %w", err)
	}
	if _, err := s.sdb.ExecContext(ctx, insertSQL, args...); err != nil {
		return fmt.Errorf("upsert job settings: %w", err)
	}
	return nil
}

// ListJobs returns job summaries newest first, optionally filtered by
// owning client and/or document fingerprint.
func (s *Store) ListJobs(ctx context.Context, clientID, documentHash string) ([]domain.Job, error) {
	q := s.gdb.WithContext(ctx).Order("created_at DESC")
	if clientID != "" {
		q = q.Where("client_id = ?", clientID)
	}
	if documentHash != "" {
		q = q.Where("document_hash = ?", documentHash)
	}
	var jobs []domain.Job
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// ListChangedSince returns jobs whose updated_at is strictly after since,
// ordered oldest-change-first, for the polling /jobs/changes endpoint.
func (s *Store) ListChangedSince(ctx context.Context, since time.Time, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	q := s.gdb.WithContext(ctx).Where("updated_at > ?", since).Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list changed jobs: %w", err)
	}
	return jobs, nil
}

// DeleteJob removes a job and its files. NodeFiles are never touched here:
// they carry no foreign key back to Job, so deleting a
// job must not cascade into node-registered artifacts.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	return s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&domain.JobFile{}).Error; err != nil {
			return fmt.Errorf("delete job files: %w", err)
		}
		if err := tx.Where("job_id = ?", id).Delete(&domain.JobSettings{}).Error; err != nil {
			return fmt.Errorf("delete job settings: %w", err)
		}
		res := tx.Delete(&domain.Job{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("delete job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apierrors.NewNotFound(fmt.Sprintf("job %s not found", id))
		}
		return nil
	})
}

// CreateJobFile records one artifact reference owned by a job.
func (s *Store) CreateJobFile(ctx context.Context, f *domain.JobFile) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if err := s.gdb.WithContext(ctx).Create(f).Error; err != nil {
		return fmt.Errorf("create job file: %w", err)
	}
	return nil
}

// ListJobFiles returns every artifact recorded for a job, optionally
// filtered to one FileType.
func (s *Store) ListJobFiles(ctx context.Context, jobID string, fileType *domain.FileType) ([]domain.JobFile, error) {
	q := s.gdb.WithContext(ctx).Where("job_id = ?", jobID)
	if fileType != nil {
		q = q.Where("file_type = ?", *fileType)
	}
	var files []domain.JobFile
	if err := q.Find(&files).Error; err != nil {
		return nil, fmt.Errorf("list job files: %w", err)
	}
	return files, nil
}

// AtomicClaimNextQueued claims and returns the oldest queued job,
// atomically transitioning it to processing under this worker's id, or nil
// when the queue is empty or maxConcurrent jobs are already processing. It
// uses squirrel to build the query and sqlx for FOR UPDATE SKIP LOCKED row
// locking, so two workers racing the same poll tick never claim the same
// job.
func (s *Store) AtomicClaimNextQueued(ctx context.Context, workerID string, maxConcurrent int) (*domain.Job, error) {
	tx, err := s.sdb.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if maxConcurrent > 0 {
		countSQL, cargs, err := psql.Select("COUNT(*)").From("jobs").
			Where(sq.Eq{"status": string(domain.StatusProcessing)}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("build claim count: %w", err)
		}
		var processing int
		if err := tx.GetContext(ctx, &processing, countSQL, cargs...); err != nil {
			return nil, fmt.Errorf("count processing jobs: %w", err)
		}
		if processing >= maxConcurrent {
			return nil, nil
		}
	}

	selectSQL, args, err := psql.Select("id").From("jobs").
		Where(sq.Eq{"status": string(domain.StatusQueued)}).
		OrderBy("created_at ASC").
		Limit(1).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build claim select: %w", err)
	}

	var id string
	if err := tx.GetContext(ctx, &id, selectSQL, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select next queued job: %w", err)
	}

	updateSQL, uargs, err := psql.Update("jobs").
		Set("status", string(domain.StatusProcessing)).
		Set("worker_id", workerID).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build claim update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, updateSQL, uargs...); err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	return s.GetJob(ctx, id)
}

// RegisterNodeFile idempotently upserts a NodeFile keyed on (node_id,
// object_key): repeated registration after a retried artifact publish
// must not create duplicate rows.
func (s *Store) RegisterNodeFile(ctx context.Context, nf *domain.NodeFile) error {
	if nf.ID == "" {
		nf.ID = uuid.NewString()
	}
	insertSQL, args, err := psql.Insert("node_files").
		Columns("id", "node_id", "object_key", "file_name", "file_type", "created_at").
		Values(nf.ID, nf.NodeID, nf.ObjectKey, nf.FileName, string(nf.FileType), time.Now()).
		Suffix("ON CONFLICT (node_id, object_key) DO UPDATE SET file_name = EXCLUDED.file_name, file_type = EXCLUDED.file_type").
		ToSql()
	if err != nil {
		return fmt.Errorf("build node file upsert: %w", err)
	}
	if _, err := s.sdb.ExecContext(ctx, insertSQL, args...); err != nil {
		return fmt.Errorf("register node file: %w", err)
	}
	return nil
}

// CountQueued reports how many jobs are currently queued, used by the
// admission check against max_queue_size.
func (s *Store) CountQueued(ctx context.Context) (int, error) {
	return s.countByStatus(ctx, domain.StatusQueued)
}

// CountProcessing reports how many jobs are currently claimed by a worker.
func (s *Store) CountProcessing(ctx context.Context) (int, error) {
	return s.countByStatus(ctx, domain.StatusProcessing)
}

func (s *Store) countByStatus(ctx context.Context, status domain.Status) (int, error) {
	var n int64
	if err := s.gdb.WithContext(ctx).Model(&domain.Job{}).Where("status = ?", string(status)).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", status, err)
	}
	return int(n), nil
}

// CountActive reports queued plus processing jobs in one round trip, the
// quantity the admission controller compares against max_queue_size.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	var n int64
	err := s.gdb.WithContext(ctx).Model(&domain.Job{}).
		Where("status IN ?", []string{string(domain.StatusQueued), string(domain.StatusProcessing)}).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count active: %w", err)
	}
	return int(n), nil
}

// ---- tree proxy pass-through ----

// CreateTreeNode inserts a project-tree node.
func (s *Store) CreateTreeNode(ctx context.Context, node *domain.TreeNode) error {
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	if err := s.gdb.WithContext(ctx).Create(node).Error; err != nil {
		return fmt.Errorf("create tree node: %w", err)
	}
	return nil
}

// GetTreeNode fetches one node by id.
func (s *Store) GetTreeNode(ctx context.Context, id string) (*domain.TreeNode, error) {
	var node domain.TreeNode
	err := s.gdb.WithContext(ctx).First(&node, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierrors.NewNotFound(fmt.Sprintf("tree node %s not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get tree node: %w", err)
	}
	return &node, nil
}

// ListTreeNodes returns the children of parentID, or the roots when
// parentID is empty.
func (s *Store) ListTreeNodes(ctx context.Context, parentID string) ([]domain.TreeNode, error) {
	q := s.gdb.WithContext(ctx).Order("name ASC")
	if parentID == "" {
		q = q.Where("parent_id IS NULL")
	} else {
		q = q.Where("parent_id = ?", parentID)
	}
	var nodes []domain.TreeNode
	if err := q.Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("list tree nodes: %w", err)
	}
	return nodes, nil
}

// DeleteTreeNode removes a node and its node-file registrations. Jobs that
// pointed at the node keep their node_id value; it simply dangles, the
// same one-way ownership that keeps job deletion from cascading into
// node_files.
func (s *Store) DeleteTreeNode(ctx context.Context, id string) error {
	return s.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("node_id = ?", id).Delete(&domain.NodeFile{}).Error; err != nil {
			return fmt.Errorf("delete node files: %w", err)
		}
		res := tx.Delete(&domain.TreeNode{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("delete tree node: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apierrors.NewNotFound(fmt.Sprintf("tree node %s not found", id))
		}
		return nil
	})
}

// ListNodeFiles returns every artifact registered on a tree node.
func (s *Store) ListNodeFiles(ctx context.Context, nodeID string) ([]domain.NodeFile, error) {
	var files []domain.NodeFile
	if err := s.gdb.WithContext(ctx).Where("node_id = ?", nodeID).Order("file_name ASC").Find(&files).Error; err != nil {
		return nil, fmt.Errorf("list node files: %w", err)
	}
	return files, nil
}
