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

package memlog

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogf(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug, ReplaceAttr: ReplaceLevel})
	l := New(slog.New(h))

	l.Errorf(OutOfMemory, "Unable to allocate %d bytes of memory", 42)
	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "category=memory")
	assert.Contains(t, out, "code=out_of_memory")
	assert.Contains(t, out, "Unable to allocate 42 bytes of memory")

	buf.Reset()
	l.Panicf(OutOfMemory, "gone")
	assert.Contains(t, buf.String(), "level=PANIC")

	buf.Reset()
	l.Warnf(MemoryLeak, "leak")
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "code=memory_leak")
}

func TestLevelFiltered(t *testing.T) {
	var buf bytes.Buffer
	l := New(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError})))
	l.Debugf(SystemCallFail, "hidden")
	l.Warnf(SystemCallFail, "hidden")
	assert.Empty(t, buf.String())
}

func TestZeroLogger(t *testing.T) {
	var l Logger
	assert.NotPanics(t, func() { l.Debugf(SystemCallFail, "noop %d", 1) })
}
