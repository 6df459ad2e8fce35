// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package pipeline

import (
	"fmt"
	"strings"

	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
)

// PromptTemplates holds one prompt template per block type plus the batch
// (strip) template, each substituted with {{doc_name}}, {{page_index}},
// {{block_id}}, {{hint}} placeholders. A job without an explicit
// template falls back to DefaultTemplates.
type PromptTemplates struct {
	Text  string
	Table string
	Image string
	Batch string
}

// DefaultTemplates are used when a job carries no per-type override.
func DefaultTemplates() PromptTemplates {
	return PromptTemplates{
		Text:  "Transcribe the text in this image exactly as written. Document: {{doc_name}}, page {{page_index}}, block {{block_id}}.{{hint}}",
		Table: "Transcribe this table as an HTML <table>. Preserve every row and column exactly. Document: {{doc_name}}, page {{page_index}}, block {{block_id}}.{{hint}}",
		Image: "Describe the image region. Document: {{doc_name}}, page {{page_index}}, block {{block_id}}.{{hint}}",
		Batch: "This image contains {{count}} stacked regions from document {{doc_name}}, page {{page_index}}, top to bottom, ids in order: {{ids}}. For each, respond with its id followed by its transcribed text.",
	}
}

// PromptBuilder composes Pass 2's recognition prompts and satisfies
// verify.PromptBuilder for single-block retries, so both phases share
// one template substitution implementation.
type PromptBuilder struct {
	DocName   string
	Templates PromptTemplates
}

// NewPromptBuilder returns a PromptBuilder for one document, using t if any
// field is set, otherwise DefaultTemplates.
func NewPromptBuilder(docName string, t PromptTemplates) PromptBuilder {
	if t == (PromptTemplates{}) {
		t = DefaultTemplates()
	}
	return PromptBuilder{DocName: docName, Templates: t}
}

// SingleBlockPrompt builds the prompt for one block, selecting the
// type-specific template.
func (p PromptBuilder) SingleBlockPrompt(blk domain.Block) string {
	tmpl := p.templateFor(blk.Type)
	return p.substitute(tmpl, blk.ID, blk.PageIndex, blk.Hint)
}

// BatchPrompt builds the prompt for a strip of members, in the strip's
// top-to-bottom order, asking the model to return one block of text per id.
func (p PromptBuilder) BatchPrompt(pageIndex int, memberIDs []string) string {
	r := strings.NewReplacer(
		"{{doc_name}}", p.DocName,
		"{{page_index}}", fmt.Sprintf("%d", pageIndex),
		"{{count}}", fmt.Sprintf("%d", len(memberIDs)),
		"{{ids}}", strings.Join(memberIDs, ", "),
	)
	return r.Replace(p.Templates.Batch)
}

func (p PromptBuilder) templateFor(t domain.BlockType) string {
	switch t {
	case domain.BlockTypeText:
		return p.Templates.Text
	case domain.BlockTypeTable:
		return p.Templates.Table
	default:
		return p.Templates.Image
	}
}

func (p PromptBuilder) substitute(tmpl, blockID string, pageIndex int, hint string) string {
	hintSuffix := ""
	if hint != "" {
		hintSuffix = " Hint: " + hint
	}
	r := strings.NewReplacer(
		"{{doc_name}}", p.DocName,
		"{{page_index}}", fmt.Sprintf("%d", pageIndex),
		"{{block_id}}", blockID,
		"{{hint}}", hintSuffix,
	)
	return r.Replace(tmpl)
}
