// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package matcher reconciles block identifiers a vision model echoes back
// against the identifiers a strip actually requested. The model
// may reformat an ArmorID's case, drop separators, or introduce a single
// character typo; this package resolves those back to the original id
// through three widening passes: exact, normalized, fuzzy.
//
// The ids are a fixed 11-character format, so the Levenshtein
// implementation here is small and purpose-built rather than pulled from
// a general-purpose string-similarity dependency.
package matcher

import (
	"strings"
)

// Entry is one identifier the model emitted, paired with the text it
// produced for that id.
type Entry struct {
	ID   string
	Text string
}

// Assignment is one resolved (requested id -> model entry) pairing.
type Assignment struct {
	RequestedID string
	Entry       Entry
	Quality     Quality
}

// Quality ranks how the assignment was made; higher is better, used to
// resolve conflicts when two response entries could claim the same
// requested id.
type Quality int

const (
	QualityFuzzy Quality = iota
	QualityNormalized
	QualityExact
)

// ParseBatchResponse splits a batch strip's raw model reply into one Entry
// per block, per the prompt's "id followed by transcribed text" contract
// (internal/pipeline's BatchPrompt). Blank lines are skipped. The first
// non-blank line is an id; after that, every line that looksLikeNewID
// starts a new entry and every other line is appended to the current
// entry's text, so a one-word text line is read as an id. A reply that
// doesn't follow the contract still yields entries; Match leaves a
// requested id missing when no entry id resolves to it.
func ParseBatchResponse(raw string) []Entry {
	var entries []Entry
	var id string
	var textLines []string
	flush := func() {
		if id != "" {
			entries = append(entries, Entry{ID: id, Text: strings.TrimSpace(strings.Join(textLines, "\n"))})
		}
		id = ""
		textLines = nil
	}
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if id == "" {
			id = trimmed
			continue
		}
		if looksLikeNewID(trimmed) {
			flush()
			id = trimmed
			continue
		}
		textLines = append(textLines, line)
	}
	flush()
	return entries
}

// looksLikeNewID reports whether line is itself a bare id rather than a
// continuation of the previous block's text: short, no internal spaces.
func looksLikeNewID(line string) bool {
	return len(line) <= 32 && !strings.Contains(line, " ")
}

// Match resolves response entries against the requested id set S: exact
// match first, then normalized (uppercase + strip non-alphanumerics),
// then Levenshtein distance <= fuzzyThreshold. Each requested id is
// claimed at most once; when two response entries resolve to the same id,
// the higher-Quality match wins and the losing entry is dropped. Returns
// the assignments plus the requested ids that ended up with no match.
func Match(requested []string, responses []Entry, fuzzyThreshold int) (assignments []Assignment, missing []string) {
	claimed := make(map[string]*Assignment, len(requested))
	normRequested := make(map[string]string, len(requested)) // normalized -> original

	for _, id := range requested {
		normRequested[normalize(id)] = id
	}

	// Exact and normalized matches are settled first so that a fuzzy entry
	// only competes for ids no better match has claimed.
	for _, fuzzyPass := range []bool{false, true} {
		for _, resp := range responses {
			best := bestCandidate(resp, requested, normRequested, claimed, fuzzyThreshold)
			if best == "" {
				continue
			}
			cand := Assignment{RequestedID: best, Entry: resp, Quality: qualityOf(resp.ID, best)}
			if (cand.Quality == QualityFuzzy) != fuzzyPass {
				continue
			}
			if existing, ok := claimed[best]; !ok || cand.Quality > existing.Quality {
				claimed[best] = &cand
			}
		}
	}

	assignments = make([]Assignment, 0, len(claimed))
	for _, a := range claimed {
		assignments = append(assignments, *a)
	}
	for _, id := range requested {
		if _, ok := claimed[id]; !ok {
			missing = append(missing, id)
		}
	}
	return assignments, missing
}

func bestCandidate(resp Entry, requested []string, normRequested map[string]string, claimed map[string]*Assignment, fuzzyThreshold int) string {
	// Exact.
	for _, id := range requested {
		if resp.ID == id {
			return id
		}
	}
	// Normalized.
	if orig, ok := normRequested[normalize(resp.ID)]; ok {
		return orig
	}
	// Fuzzy: nearest unclaimed requested id within threshold, ties broken
	// by first occurrence (requested order is the block order from
	// blocks.json).
	normResp := normalize(resp.ID)
	bestID := ""
	bestDist := fuzzyThreshold + 1
	for _, id := range requested {
		if _, taken := claimed[id]; taken {
			continue
		}
		d := levenshtein(normResp, normalize(id))
		if d <= fuzzyThreshold && d < bestDist {
			bestDist = d
			bestID = id
		}
	}
	return bestID
}

func qualityOf(respID, requestedID string) Quality {
	if respID == requestedID {
		return QualityExact
	}
	if normalize(respID) == normalize(requestedID) {
		return QualityNormalized
	}
	return QualityFuzzy
}

// normalize uppercases and strips every non-alphanumeric character.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - ('a' - 'A'))
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// levenshtein computes classic single-character-edit distance between a
// and b. Inputs here are always ArmorID-length strings, so the O(n*m)
// DP table is never a performance concern.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}
