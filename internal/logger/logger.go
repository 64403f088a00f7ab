// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the kernel's structured logging sink. Every
// subsystem logs through here instead of the bare "log" package so that
// severity filtering and format (text vs JSON) are controlled in one place.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/ops-class/os161-sub000/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels, expressed as slog.Level values so TRACE/DEBUG can sit
// below the standard library's INFO/WARN/ERROR.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(16)
)

type loggerFactory struct {
	mu sync.Mutex

	file            *os.File
	sysWriter       io.Writer
	format          string
	level           string
	logRotateConfig config.LogRotateConfig
}

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.MessageKey:
				a.Key = "message"
				a.Value = slog.StringValue(prefix + a.Value.String())
			case slog.LevelKey:
				a.Key = "severity"
				a.Value = slog.StringValue(severityName(a.Value.Any().(slog.Level)))
			case slog.TimeKey:
				if f.format == "json" {
					a.Key = "timestamp"
				} else {
					a.Key = "time"
					a.Value = slog.StringValue(a.Value.Time().Format("02/01/2006 15:04:05.000000"))
				}
			}
			return a
		},
	}

	if f.format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func severityName(l slog.Level) string {
	switch {
	case l < LevelDebug:
		return "TRACE"
	case l < LevelInfo:
		return "DEBUG"
	case l < LevelWarn:
		return "INFO"
	case l < LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func setLoggingLevel(level string, v *slog.LevelVar) {
	switch strings.ToUpper(level) {
	case config.TRACE:
		v.Set(LevelTrace)
	case config.DEBUG:
		v.Set(LevelDebug)
	case config.INFO:
		v.Set(LevelInfo)
	case config.WARNING:
		v.Set(LevelWarn)
	case config.ERROR:
		v.Set(LevelError)
	case config.OFF:
		v.Set(LevelOff)
	default:
		v.Set(LevelInfo)
	}
}

var (
	defaultLoggerFactory = &loggerFactory{
		level:           config.INFO,
		format:          "text",
		logRotateConfig: config.DefaultLogRotateConfig(),
	}
	programLevel  = new(slog.LevelVar)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, programLevel, ""))
)

func init() {
	setLoggingLevel(defaultLoggerFactory.level, programLevel)
}

// InitLogFile points the default logger at a rotating log file instead of
// stderr, using the supplied rotation policy.
func InitLogFile(rotate config.LogRotateConfig, cfg config.Logging) error {
	defaultLoggerFactory.mu.Lock()
	defer defaultLoggerFactory.mu.Unlock()

	defaultLoggerFactory.logRotateConfig = rotate
	defaultLoggerFactory.format = cfg.Format
	defaultLoggerFactory.level = cfg.Severity

	var w io.Writer
	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename: cfg.FilePath,
			MaxSize:  rotate.MaxFileSizeMB,
			MaxBackups: rotate.BackupFileCount,
			Compress: rotate.Compress,
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		defaultLoggerFactory.file = f
		w = lj
	} else {
		defaultLoggerFactory.sysWriter = os.Stderr
		w = os.Stderr
	}

	setLoggingLevel(cfg.Severity, programLevel)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, programLevel, ""))
	return nil
}

// SetLogFormat switches between "text" and "json" output without touching
// the destination or severity threshold.
func SetLogFormat(format string) {
	defaultLoggerFactory.mu.Lock()
	defer defaultLoggerFactory.mu.Unlock()

	if format == "" {
		format = "json"
	}
	defaultLoggerFactory.format = format

	w := io.Writer(os.Stderr)
	if defaultLoggerFactory.file != nil {
		w = defaultLoggerFactory.file
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, programLevel, ""))
}

func Tracef(format string, args ...interface{}) {
	defaultLogger.Log(context.Background(), LevelTrace, sprintf(format, args...))
}
func Debugf(format string, args ...interface{}) { defaultLogger.Debug(sprintf(format, args...)) }
func Infof(format string, args ...interface{})  { defaultLogger.Info(sprintf(format, args...)) }
func Warnf(format string, args ...interface{})  { defaultLogger.Warn(sprintf(format, args...)) }
func Errorf(format string, args ...interface{}) { defaultLogger.Error(sprintf(format, args...)) }

func sprintf(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
