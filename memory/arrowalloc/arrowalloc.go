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

// Package arrowalloc lets Apache Arrow buffers be allocated from a
// memory.Runtime, so that they show up in its statistics and leak reports.
package arrowalloc

import (
	arrowmem "github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/cockroachdb/errors"

	"github.com/cloudwego/memsys/memory"
	"github.com/cloudwego/memsys/memory/align"
)

// Alignment of the buffers. Arrow recommends 64 bytes but only relies on
// natural alignment of the values.
const Alignment = align.Max

// Allocator implements the arrow memory.Allocator interface.
// Buffers are zeroed when allocated or grown.
type Allocator struct {
	rt  *memory.Runtime
	ctx uint64
}

var _ arrowmem.Allocator = (*Allocator)(nil)

// New returns an Allocator attributing its buffers to ctx.
func New(rt *memory.Runtime, ctx uint64) *Allocator {
	return &Allocator{rt: rt, ctx: ctx}
}

// Allocate panics if memory is exhausted, as Arrow expects.
func (a *Allocator) Allocate(size int) []byte {
	b := a.rt.Allocate(a.ctx, size, Alignment, memory.ZeroInitialized)
	if b == nil {
		panic(errors.Wrapf(memory.ErrOutOfMemory, "arrowalloc: %d bytes", size))
	}
	return b
}

func (a *Allocator) Reallocate(size int, b []byte) []byte {
	old := len(b)
	nb := a.rt.Reallocate(b, size, Alignment)
	if size > old {
		clear(nb[old:])
	}
	return nb
}

func (a *Allocator) Free(b []byte) {
	a.rt.Deallocate(b)
}
