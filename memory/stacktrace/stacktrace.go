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

// Package stacktrace captures call stacks cheaply and resolves them later.
package stacktrace

import (
	"fmt"
	"runtime"
	"strings"
)

// Capture fills frames with the program counters of the calling goroutine,
// starting skip frames above the caller of Capture. Entries past the captured
// depth are zeroed. It returns the number of frames captured.
func Capture(frames []uintptr, skip int) int {
	n := runtime.Callers(skip+2, frames)
	clear(frames[n:])
	return n
}

// Resolve formats the frames up to the first zero entry, one per line:
//
//	[0] main.run
//	    /src/main.go:42
func Resolve(frames []uintptr) string {
	return ResolveFunc(frames, nil)
}

// ResolveFunc is Resolve dropping the leading frames whose function skip
// reports true for. Inlined calls count as frames. Numbering starts at the
// first frame kept.
func ResolveFunc(frames []uintptr, skip func(function string) bool) string {
	n := 0
	for n < len(frames) && frames[n] != 0 {
		n++
	}
	if n == 0 {
		return ""
	}
	var sb strings.Builder
	it := runtime.CallersFrames(frames[:n])
	i := 0
	for {
		f, more := it.Next()
		if i > 0 || skip == nil || !skip(f.Function) {
			fmt.Fprintf(&sb, "[%d] %s\n    %s:%d\n", i, f.Function, f.File, f.Line)
			i++
		}
		if !more {
			break
		}
	}
	return sb.String()
}
