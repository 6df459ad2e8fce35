// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMD-AGI/primus-ocr-core/internal/ratelimit"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestLooksLikeJSONPrompt(t *testing.T) {
	assert.True(t, LooksLikeJSONPrompt("Please respond in JSON format."))
	assert.True(t, LooksLikeJSONPrompt("Return a valid JSON object."))
	assert.False(t, LooksLikeJSONPrompt("Transcribe this text block."))
}

func TestImageToSinglePagePDF_ProducesPDFBytes(t *testing.T) {
	out, err := ImageToSinglePagePDF(testPNG(t))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestBackendA_Recognize_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/recognize", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(backendAResponse{Text: "hello world"})
	}))
	defer srv.Close()

	a := NewBackendA(srv.URL, "test-key", ratelimit.New(6000, 4))
	text, err := a.Recognize(context.Background(), testPNG(t), "transcribe", false, "text-model")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestBackendA_Recognize_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(backendAResponse{Text: "recovered"})
	}))
	defer srv.Close()

	a := NewBackendA(srv.URL, "test-key", ratelimit.New(6000, 4))
	a.client.SetTimeout(5 * time.Second)
	text, err := a.Recognize(context.Background(), testPNG(t), "transcribe", false, "text-model")
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestBackendA_Recognize_TerminalOn4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a := NewBackendA(srv.URL, "test-key", ratelimit.New(6000, 4))
	_, err := a.Recognize(context.Background(), testPNG(t), "transcribe", false, "text-model")
	require.Error(t, err)
}

func TestBackendB_Recognize_PollsUntilComplete(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ocr/submit", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(backendBSubmitResponse{JobID: "job-xyz"})
	})
	mux.HandleFunc("/v1/ocr/job-xyz/status", func(w http.ResponseWriter, r *http.Request) {
		status := "pending"
		if atomic.AddInt32(&polls, 1) >= 2 {
			status = "complete"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(backendBStatusResponse{Status: status})
	})
	mux.HandleFunc("/v1/ocr/job-xyz/result", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(backendBResultResponse{Markdown: "# result"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	b := NewBackendB(srv.URL, "test-key", ratelimit.New(6000, 4))
	b.pollEvery = 5 * time.Millisecond
	text, err := b.Recognize(context.Background(), testPNG(t), "transcribe", false, "table-model")
	require.NoError(t, err)
	assert.Equal(t, "# result", text)
}

func TestSelect_RoutesByEngine(t *testing.T) {
	a := NewBackendA("http://a", "k", ratelimit.New(60, 1))
	b := NewBackendB("http://b", "k", ratelimit.New(60, 1))

	picked, err := Select("backend_a", a, b)
	require.NoError(t, err)
	assert.Equal(t, "backend_a", picked.Name())

	picked, err = Select("backend_b", a, b)
	require.NoError(t, err)
	assert.Equal(t, "backend_b", picked.Name())

	_, err = Select("unknown", a, b)
	require.Error(t, err)
}
