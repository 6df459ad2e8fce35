// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package log is a thin sugared-logging facade over zap. One
// process-wide logger is installed at boot via Init; every other package
// in this core imports this facade rather than constructing its own zap
// logger.
package log

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
)

var current atomic.Pointer[zap.SugaredLogger]

func init() {
	l, _ := zap.NewProduction()
	current.Store(l.Sugar())
}

// Init installs the process-wide logger. development selects a
// console-encoded, debug-level logger suitable for local runs; otherwise a
// JSON-encoded, info-level logger suitable for production ingestion.
func Init(development bool) error {
	var l *zap.Logger
	var err error
	if development {
		cfg := zap.NewDevelopmentConfig()
		l, err = cfg.Build()
	} else {
		cfg := zap.NewProductionConfig()
		l, err = cfg.Build()
	}
	if err != nil {
		return err
	}
	current.Store(l.Sugar())
	return nil
}

func logger() *zap.SugaredLogger { return current.Load() }

func Debugf(format string, args ...any) { logger().Debugf(format, args...) }
func Infof(format string, args ...any)  { logger().Infof(format, args...) }
func Warnf(format string, args ...any)  { logger().Warnf(format, args...) }
func Errorf(format string, args ...any) { logger().Errorf(format, args...) }

func Debug(args ...any) { logger().Debug(args...) }
func Info(args ...any)  { logger().Info(args...) }
func Warn(args ...any)  { logger().Warn(args...) }
func Error(args ...any) { logger().Error(args...) }

// With returns a logger augmented with structured key/value pairs, for
// call sites that want a scoped logger (e.g. one per job id) instead of
// interpolating ids into every format string.
func With(kv ...any) *zap.SugaredLogger { return logger().With(kv...) }

// Sync flushes buffered log entries; call during graceful shutdown.
func Sync() {
	_ = logger().Sync()
}

// Fatalf logs at error level and exits the process. Reserved for
// unrecoverable boot failures (cmd/* only).
func Fatalf(format string, args ...any) {
	logger().Errorf(format, args...)
	os.Exit(1)
}
