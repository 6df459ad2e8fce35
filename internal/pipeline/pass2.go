// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/AMD-AGI/primus-ocr-core/internal/dispatcher"
	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
	"github.com/AMD-AGI/primus-ocr-core/internal/logging/log"
	"github.com/AMD-AGI/primus-ocr-core/internal/matcher"
)

// ModelSelector resolves the backend model for a block type; satisfied by
// domain.JobSettings.
type ModelSelector interface {
	ModelFor(t domain.BlockType) string
}

// ProgressFunc reports how many of the job's total units (strips plus
// image crops) have completed, for the caller to feed into
// internal/debounce.
type ProgressFunc func(completed, total int)

// UnitTiming describes one dispatched strip or image crop's outcome and
// wall-clock duration, for the in-flight manifest debug endpoint.
type UnitTiming struct {
	UnitID     string   `json:"unit_id"`
	PageIndex  int      `json:"page_index"`
	MemberIDs  []string `json:"member_ids"`
	IsStrip    bool     `json:"is_strip"`
	DurationMS int64    `json:"duration_ms"`
	Failed     bool     `json:"failed"`
}

// TimingFunc receives one UnitTiming per completed unit. Calls are
// serialized by Pass 2's result lock, so implementations need no locking
// of their own.
type TimingFunc func(UnitTiming)

// unit is one dispatchable item: either a strip (batch, several block ids)
// or a single image crop.
type unit struct {
	id        string
	pageIndex int
	memberIDs []string // one entry for an image crop
	cropPath  string
	isStrip   bool
	blockType domain.BlockType // meaningful only for non-strip units
}

// modelBlockType resolves a unit's model-selection type: strips are always
// text/table eligible, so text is the representative type; image crops
// carry their own.
func (u unit) modelBlockType() domain.BlockType {
	if u.isStrip {
		return domain.BlockTypeText
	}
	return u.blockType
}

// Pass2 reads the manifest Pass 1 produced and dispatches every strip and
// image crop to backend under a pool of cfg.OCRThreadsPerJob concurrent
// workers, reconciling strip responses against their member ids via
// internal/matcher. Progress is reported through report and per-unit
// wall-clock timing through timing as units complete; both are optional.
func Pass2(ctx context.Context, manifestPath string, doc domain.Document, cfg Config, prompts PromptBuilder, models ModelSelector, backend dispatcher.Backend, report ProgressFunc, timing TimingFunc) ([]domain.ResultRecord, error) {
	entries, err := readManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	typeByID := make(map[string]domain.BlockType, len(doc.Blocks))
	for _, b := range doc.Blocks {
		typeByID[b.ID] = b.Type
	}

	var units []unit
	for _, e := range entries {
		for _, s := range e.Strips {
			units = append(units, unit{id: s.StripID, pageIndex: e.PageIndex, memberIDs: s.MemberIDs, cropPath: s.CropPath, isStrip: true})
		}
		for _, ic := range e.ImageCrops {
			units = append(units, unit{id: ic.BlockID, pageIndex: e.PageIndex, memberIDs: []string{ic.BlockID}, cropPath: ic.CropPath, blockType: typeByID[ic.BlockID]})
		}
	}

	total := len(units)
	if total == 0 {
		return nil, nil
	}

	threads := cfg.OCRThreadsPerJob
	if threads < 1 {
		threads = 1
	}
	sem := semaphore.NewWeighted(int64(threads))

	var (
		mu       sync.Mutex
		results  []domain.ResultRecord
		done     int
		wg       sync.WaitGroup
		firstErr error
	)

	for _, u := range units {
		if err := sem.Acquire(ctx, 1); err != nil {
			firstErr = err
			break
		}
		wg.Add(1)
		go func(u unit) {
			defer sem.Release(1)
			defer wg.Done()

			unitStart := time.Now()
			recs := processUnit(ctx, u, doc, prompts, models, backend, cfg.FuzzyThreshold)
			failed := false
			for _, rec := range recs {
				if rec.Status == domain.ResultFailed {
					failed = true
					break
				}
			}

			mu.Lock()
			results = append(results, recs...)
			done++
			if timing != nil {
				timing(UnitTiming{
					UnitID:     u.id,
					PageIndex:  u.pageIndex,
					MemberIDs:  u.memberIDs,
					IsStrip:    u.isStrip,
					DurationMS: time.Since(unitStart).Milliseconds(),
					Failed:     failed,
				})
			}
			if report != nil {
				report(done, total)
			}
			mu.Unlock()
		}(u)
	}
	wg.Wait()

	if firstErr != nil {
		return results, firstErr
	}
	return results, nil
}

func processUnit(ctx context.Context, u unit, doc domain.Document, prompts PromptBuilder, models ModelSelector, backend dispatcher.Backend, fuzzyThreshold int) []domain.ResultRecord {
	data, err := os.ReadFile(u.cropPath)
	if err != nil {
		return failAll(u.memberIDs, fmt.Errorf("read crop %s: %w", u.cropPath, err))
	}

	model := models.ModelFor(u.modelBlockType())

	if !u.isStrip {
		blockID := u.memberIDs[0]
		blk := findBlock(doc, blockID)
		prompt := prompts.SingleBlockPrompt(blk)
		text, err := backend.Recognize(ctx, data, prompt, dispatcher.LooksLikeJSONPrompt(prompt), model)
		if err != nil {
			return []domain.ResultRecord{{BlockID: blockID, Status: domain.ResultFailed, Reason: err.Error()}}
		}
		return []domain.ResultRecord{{BlockID: blockID, Text: text, Status: domain.ResultOK}}
	}

	prompt := prompts.BatchPrompt(u.pageIndex, u.memberIDs)
	raw, err := backend.Recognize(ctx, data, prompt, false, model)
	if err != nil {
		return failAll(u.memberIDs, err)
	}

	entries := matcher.ParseBatchResponse(raw)
	assignments, missing := matcher.Match(u.memberIDs, entries, fuzzyThreshold)

	out := make([]domain.ResultRecord, 0, len(u.memberIDs))
	for _, a := range assignments {
		out = append(out, domain.ResultRecord{BlockID: a.RequestedID, Text: a.Entry.Text, Status: domain.ResultOK})
	}
	for _, id := range missing {
		log.Warnf("pipeline: pass2 strip response missing block id %s", id)
		out = append(out, domain.ResultRecord{BlockID: id, Status: domain.ResultFailed, Reason: "not found in batch response"})
	}
	return out
}

func failAll(ids []string, err error) []domain.ResultRecord {
	out := make([]domain.ResultRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.ResultRecord{BlockID: id, Status: domain.ResultFailed, Reason: err.Error()})
	}
	return out
}

func findBlock(doc domain.Document, id string) domain.Block {
	for _, b := range doc.Blocks {
		if b.ID == id {
			return b
		}
	}
	return domain.Block{ID: id}
}
