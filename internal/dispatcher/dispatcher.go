// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package dispatcher routes one crop or
// strip to the vision endpoint selected by the job's engine field and
// returns recognized text, gated through internal/ratelimit. Backend A
// answers in one round trip; Backend B is submit/poll/fetch. Both ride a
// shared resty client shape with typed request/response structs.
package dispatcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/AMD-AGI/primus-ocr-core/internal/apierrors"
	"github.com/AMD-AGI/primus-ocr-core/internal/ratelimit"
	"github.com/AMD-AGI/primus-ocr-core/internal/telemetry"
)

// Backend is the capability contract every vision provider satisfies,
// selected by tagged variant rather than by duck typing.
type Backend interface {
	// Name identifies the backend for metrics labels and engine routing.
	Name() string
	// Recognize sends image under prompt and returns the model's raw text
	// response. jsonMode asks the backend to constrain output to JSON,
	// either because the caller detected JSON-indicative prompt phrasing
	// or requested it explicitly.
	Recognize(ctx context.Context, image []byte, prompt string, jsonMode bool, model string) (string, error)
}

// LooksLikeJSONPrompt auto-detects JSON mode from JSON-indicative
// phrasing in the prompt text.
func LooksLikeJSONPrompt(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, phrase := range []string{"respond in json", "json format", "valid json", "json object", "return json"} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// ---- Backend A: API-keyed multipart vision provider ----

// BackendA posts a multipart system+user message payload with a base64
// image to an API-keyed vision endpoint, retrying transient errors with
// exponential backoff.
type BackendA struct {
	client  *resty.Client
	limiter *ratelimit.Limiter
}

// NewBackendA builds a client against endpoint, authorizing with apiKey
// via bearer header.
func NewBackendA(endpoint, apiKey string, limiter *ratelimit.Limiter) *BackendA {
	c := resty.New().
		SetBaseURL(endpoint).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetTimeout(2 * time.Minute)
	return &BackendA{client: c, limiter: limiter}
}

func (b *BackendA) Name() string { return "backend_a" }

type backendARequest struct {
	Model    string `json:"model"`
	System   string `json:"system"`
	Prompt   string `json:"prompt"`
	ImageB64 string `json:"image_base64"`
	JSONMode bool   `json:"json_mode"`
}

type backendAResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

const maxBackendAAttempts = 3

// Recognize implements Backend for the multipart vision provider, retrying
// transient HTTP errors up to maxBackendAAttempts times with 2^k second
// backoff; any 4xx other than 429 is terminal on first try.
func (b *BackendA) Recognize(ctx context.Context, image []byte, prompt string, jsonMode bool, model string) (string, error) {
	release, err := b.limiter.Acquire(ctx, 30*time.Second)
	if err != nil {
		telemetry.OCRRequestsTotal.WithLabelValues(b.Name(), "rate_limited").Inc()
		return "", apierrors.NewUnavailable("backend_rate_limited: " + err.Error())
	}
	defer release()

	start := time.Now()
	req := backendARequest{
		Model:    model,
		System:   "You are an OCR engine. Transcribe the requested regions faithfully.",
		Prompt:   prompt,
		ImageB64: base64.StdEncoding.EncodeToString(image),
		JSONMode: jsonMode || LooksLikeJSONPrompt(prompt),
	}

	var lastErr error
	for attempt := 0; attempt < maxBackendAAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		var out backendAResponse
		resp, err := b.client.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&out).
			Post("/v1/recognize")
		if err != nil {
			lastErr = fmt.Errorf("call backend a: %w", err)
			continue
		}

		switch {
		case resp.StatusCode() == http.StatusOK:
			telemetry.OCRRequestsTotal.WithLabelValues(b.Name(), "ok").Inc()
			telemetry.OCRRequestDuration.WithLabelValues(b.Name()).Observe(time.Since(start).Seconds())
			return out.Text, nil
		case resp.StatusCode() == http.StatusTooManyRequests:
			lastErr = apierrors.NewUnavailable("backend_rate_limited: backend a returned 429")
			continue
		case resp.StatusCode() >= 400 && resp.StatusCode() < 500:
			telemetry.OCRRequestsTotal.WithLabelValues(b.Name(), "bad_response").Inc()
			return "", apierrors.NewBadRequest(fmt.Sprintf("backend_bad_response: status %d: %s", resp.StatusCode(), resp.String()))
		default:
			lastErr = fmt.Errorf("backend a returned status %d: %s", resp.StatusCode(), resp.String())
		}
	}
	telemetry.OCRRequestsTotal.WithLabelValues(b.Name(), "failed").Inc()
	return "", fmt.Errorf("backend a exhausted %d attempts: %w", maxBackendAAttempts, lastErr)
}

// ---- Backend B: segmentation+OCR provider (submit -> poll -> fetch) ----

// BackendB converts the crop to a single-page PDF, submits it, polls the
// status endpoint until complete, then fetches the markdown result.
type BackendB struct {
	client   *resty.Client
	limiter  *ratelimit.Limiter
	pollEvery time.Duration
}

func NewBackendB(endpoint, apiKey string, limiter *ratelimit.Limiter) *BackendB {
	c := resty.New().
		SetBaseURL(endpoint).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetTimeout(5 * time.Minute)
	return &BackendB{client: c, limiter: limiter, pollEvery: 2 * time.Second}
}

func (b *BackendB) Name() string { return "backend_b" }

type backendBSubmitResponse struct {
	JobID string `json:"job_id"`
}

type backendBStatusResponse struct {
	Status string `json:"status"` // pending|complete|failed
}

type backendBResultResponse struct {
	Markdown string `json:"markdown"`
}

func (b *BackendB) Recognize(ctx context.Context, image []byte, prompt string, jsonMode bool, model string) (string, error) {
	release, err := b.limiter.Acquire(ctx, 30*time.Second)
	if err != nil {
		telemetry.OCRRequestsTotal.WithLabelValues(b.Name(), "rate_limited").Inc()
		return "", apierrors.NewUnavailable("backend_rate_limited: " + err.Error())
	}
	defer release()

	start := time.Now()
	pdfBytes, err := ImageToSinglePagePDF(image)
	if err != nil {
		return "", fmt.Errorf("convert crop to pdf: %w", err)
	}

	var submit backendBSubmitResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetFileReader("file", "page.pdf", bytesReader(pdfBytes)).
		SetFormData(map[string]string{"model": model, "prompt": prompt}).
		SetResult(&submit).
		Post("/v1/ocr/submit")
	if err != nil {
		return "", fmt.Errorf("submit backend b job: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		telemetry.OCRRequestsTotal.WithLabelValues(b.Name(), "bad_response").Inc()
		return "", apierrors.NewBadRequest(fmt.Sprintf("backend_bad_response: submit status %d", resp.StatusCode()))
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(b.pollEvery):
		}

		var status backendBStatusResponse
		sresp, err := b.client.R().SetContext(ctx).SetResult(&status).Get("/v1/ocr/" + submit.JobID + "/status")
		if err != nil {
			return "", fmt.Errorf("poll backend b status: %w", err)
		}
		if sresp.StatusCode() != http.StatusOK {
			return "", apierrors.NewBadRequest(fmt.Sprintf("backend_bad_response: status poll %d", sresp.StatusCode()))
		}

		switch status.Status {
		case "complete":
			var result backendBResultResponse
			rresp, err := b.client.R().SetContext(ctx).SetResult(&result).Get("/v1/ocr/" + submit.JobID + "/result")
			if err != nil {
				return "", fmt.Errorf("fetch backend b result: %w", err)
			}
			if rresp.StatusCode() != http.StatusOK {
				return "", apierrors.NewBadRequest(fmt.Sprintf("backend_bad_response: result fetch %d", rresp.StatusCode()))
			}
			telemetry.OCRRequestsTotal.WithLabelValues(b.Name(), "ok").Inc()
			telemetry.OCRRequestDuration.WithLabelValues(b.Name()).Observe(time.Since(start).Seconds())
			return result.Markdown, nil
		case "failed":
			telemetry.OCRRequestsTotal.WithLabelValues(b.Name(), "failed").Inc()
			return "", apierrors.NewBadRequest("backend_bad_response: backend b job failed")
		}
		// still pending; loop
	}
}

// Select picks the backend for a job's engine selector.
func Select(engine string, a *BackendA, b *BackendB) (Backend, error) {
	switch engine {
	case "backend_a", "":
		return a, nil
	case "backend_b":
		return b, nil
	default:
		return nil, apierrors.NewBadRequest("invalid_input: unknown engine " + engine)
	}
}

