// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/AMD-AGI/primus-ocr-core/internal/domain"
)

// manifestWriter appends one JSON line per finished page. Append-only
// line-delimited JSON rather than a single JSON array lets Pass 2 start
// consuming a job's early pages before Pass 1 finishes its last one.
type manifestWriter struct {
	f *os.File
	w *bufio.Writer
}

func createManifest(path string) (*manifestWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create manifest %s: %w", path, err)
	}
	return &manifestWriter{f: f, w: bufio.NewWriter(f)}, nil
}

func (m *manifestWriter) WriteEntry(e domain.ManifestEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal manifest entry for page %d: %w", e.PageIndex, err)
	}
	if _, err := m.w.Write(b); err != nil {
		return err
	}
	if err := m.w.WriteByte('\n'); err != nil {
		return err
	}
	return m.w.Flush()
}

func (m *manifestWriter) Close() error {
	if err := m.w.Flush(); err != nil {
		m.f.Close()
		return err
	}
	return m.f.Close()
}

// ReadManifest reads every written entry, in page order. Pass 2 consumes
// it to build its dispatch units; the worker consumes it to publish the
// in-flight manifest debug snapshot.
func ReadManifest(path string) ([]domain.ManifestEntry, error) {
	return readManifest(path)
}

// readManifest reads every written entry, in page order, for Pass 2.
func readManifest(path string) ([]domain.ManifestEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest %s: %w", path, err)
	}
	defer f.Close()

	var entries []domain.ManifestEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e domain.ManifestEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("unmarshal manifest line: %w", err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan manifest %s: %w", path, err)
	}
	return entries, nil
}
