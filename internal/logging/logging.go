// Package logging builds the zap loggers used by the CLI and the daemon.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects where and how verbosely to log.
type Options struct {
	// Verbose enables debug output.
	Verbose bool
	// File, when set, appends JSON lines to this path instead of stderr.
	File string
	// Writer overrides stderr for console output (tests).
	Writer io.Writer
}

// New returns a sugared logger. Console loggers default to warn level so
// one-shot commands stay quiet; file loggers default to info.
func New(opts Options) (*zap.SugaredLogger, func(), error) {
	level := zapcore.WarnLevel
	if opts.File != "" {
		level = zapcore.InfoLevel
	}
	if opts.Verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var (
		sink    zapcore.WriteSyncer
		encoder zapcore.Encoder
		closeFn = func() {}
	)
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		sink = zapcore.AddSync(f)
		encoder = zapcore.NewJSONEncoder(encCfg)
		closeFn = func() { _ = f.Close() }
	} else {
		w := opts.Writer
		if w == nil {
			w = os.Stderr
		}
		sink = zapcore.AddSync(w)
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	logger := zap.New(zapcore.NewCore(encoder, sink, level))
	sugar := logger.Sugar()
	return sugar, func() {
		_ = sugar.Sync()
		closeFn()
	}, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}
