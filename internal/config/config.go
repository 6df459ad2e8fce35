// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package config loads the process-wide settings snapshot. It is read
// once at boot in each cmd/* entrypoint and threaded explicitly into
// every collaborator constructor from there — nothing in this core reads
// from a package-level global after Load returns.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration, env-overridable with prefix
// OCRCORE_ (e.g. OCRCORE_MAX_QUEUE_SIZE=200).
type Config struct {
	// HTTPAddr is the API gateway listen address.
	HTTPAddr string `mapstructure:"http_addr"`
	// APIKey, when non-empty, is required via X-API-Key on every route but
	// /health.
	APIKey string `mapstructure:"api_key"`

	DatabaseDSN string `mapstructure:"database_dsn"`

	ObjectStoreBucket    string `mapstructure:"object_store_bucket"`
	ObjectStoreEndpoint  string `mapstructure:"object_store_endpoint"`
	ObjectStoreRegion    string `mapstructure:"object_store_region"`
	ObjectStoreAccessKey string `mapstructure:"object_store_access_key"`
	ObjectStoreSecretKey string `mapstructure:"object_store_secret_key"`
	ObjectStorePathStyle bool   `mapstructure:"object_store_path_style"`

	MaxConcurrentJobs    int           `mapstructure:"max_concurrent_jobs"`
	OCRThreadsPerJob     int           `mapstructure:"ocr_threads_per_job"`
	MaxGlobalOCRRequests int           `mapstructure:"max_global_ocr_requests"`
	PDFRenderDPI         int           `mapstructure:"pdf_render_dpi"`
	MaxQueueSize         int           `mapstructure:"max_queue_size"`
	DebounceInterval     time.Duration `mapstructure:"debounce_interval_s"`
	PollInterval         time.Duration `mapstructure:"poll_interval_s"`
	TaskTimeLimit        time.Duration `mapstructure:"task_time_limit_s"`

	BackendBMaxRPM        int `mapstructure:"backend_b_max_rpm"`
	BackendBMaxConcurrent int `mapstructure:"backend_b_max_concurrent"`
	BackendAMaxRPM        int `mapstructure:"backend_a_max_rpm"`
	BackendAMaxConcurrent int `mapstructure:"backend_a_max_concurrent"`

	StripMergeGapPx    float64 `mapstructure:"strip_merge_gap_px"`
	StripMaxHeightPx   float64 `mapstructure:"strip_max_height_px"`
	FuzzyThreshold     int     `mapstructure:"fuzzy_threshold"`

	BackendAEndpoint string `mapstructure:"backend_a_endpoint"`
	BackendAAPIKey   string `mapstructure:"backend_a_api_key"`
	BackendBEndpoint string `mapstructure:"backend_b_endpoint"`
	BackendBAPIKey   string `mapstructure:"backend_b_api_key"`

	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

// Load populates a Config from environment variables (prefix OCRCORE_),
// optionally overridden by a config file at configPath if non-empty.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OCRCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("api_key", "")
	v.SetDefault("database_dsn", "postgres://localhost:5432/ocr_core?sslmode=disable")
	v.SetDefault("object_store_bucket", "ocr-core")
	v.SetDefault("object_store_region", "us-east-1")
	v.SetDefault("max_concurrent_jobs", 4)
	v.SetDefault("ocr_threads_per_job", 2)
	v.SetDefault("max_global_ocr_requests", 8)
	v.SetDefault("pdf_render_dpi", 300)
	v.SetDefault("max_queue_size", 100)
	v.SetDefault("debounce_interval_s", 3*time.Second)
	v.SetDefault("poll_interval_s", 10*time.Second)
	v.SetDefault("task_time_limit_s", time.Hour)
	v.SetDefault("backend_b_max_rpm", 180)
	v.SetDefault("backend_b_max_concurrent", 5)
	v.SetDefault("backend_a_max_rpm", 600)
	v.SetDefault("backend_a_max_concurrent", 16)
	v.SetDefault("strip_merge_gap_px", 24.0)
	v.SetDefault("strip_max_height_px", 2400.0)
	v.SetDefault("fuzzy_threshold", 2)
	v.SetDefault("service_name", "ocr-core")
	// keys without a real default are still registered so Unmarshal picks
	// up their OCRCORE_ environment variables
	for _, key := range []string{
		"object_store_endpoint", "object_store_access_key", "object_store_secret_key",
		"backend_a_endpoint", "backend_a_api_key", "backend_b_endpoint", "backend_b_api_key",
		"otlp_endpoint",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("object_store_path_style", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
