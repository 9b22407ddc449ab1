/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package memlog is the diagnostics sink shared by the memory packages.
//
// Every record carries a stable category and a code so that log pipelines
// can filter memory diagnostics without parsing messages.
package memlog

import (
	"context"
	"fmt"
	"log/slog"
)

// Category is attached to every record emitted through a Logger.
const Category = "memory"

// Code identifies the kind of diagnostic.
type Code string

const (
	OutOfMemory      Code = "out_of_memory"
	SystemCallFail   Code = "system_call_fail"
	MemoryLeak       Code = "memory_leak"
	MemoryCorruption Code = "memory_corruption"
)

// LevelPanic is used for conditions the process does not survive.
const LevelPanic = slog.LevelError + 4

// ReplaceLevel renders LevelPanic as "PANIC".
// It's meant for slog.HandlerOptions.ReplaceAttr.
func ReplaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) != 0 {
		return a
	}
	if lv, ok := a.Value.Any().(slog.Level); ok && lv >= LevelPanic {
		a.Value = slog.StringValue("PANIC")
	}
	return a
}

// Logger wraps a *slog.Logger. The zero value logs to slog.Default().
type Logger struct {
	l *slog.Logger
}

// New returns a Logger writing to l, or to slog.Default() if l is nil.
func New(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return Logger{l: l.With(slog.String("category", Category))}
}

func (l Logger) logger() *slog.Logger {
	if l.l == nil {
		return slog.Default().With(slog.String("category", Category))
	}
	return l.l
}

// Logf formats and emits a record at level.
func (l Logger) Logf(level slog.Level, code Code, format string, args ...interface{}) {
	lg := l.logger()
	ctx := context.Background()
	if !lg.Enabled(ctx, level) {
		return
	}
	lg.Log(ctx, level, fmt.Sprintf(format, args...), slog.String("code", string(code)))
}

func (l Logger) Debugf(code Code, format string, args ...interface{}) {
	l.Logf(slog.LevelDebug, code, format, args...)
}

func (l Logger) Warnf(code Code, format string, args ...interface{}) {
	l.Logf(slog.LevelWarn, code, format, args...)
}

func (l Logger) Errorf(code Code, format string, args ...interface{}) {
	l.Logf(slog.LevelError, code, format, args...)
}

func (l Logger) Panicf(code Code, format string, args ...interface{}) {
	l.Logf(LevelPanic, code, format, args...)
}
