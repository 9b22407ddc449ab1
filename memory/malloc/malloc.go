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

// Package malloc is the default memory.Backend.
//
// Blocks come from pooled size-classed heap buffers, or from anonymous
// mappings below 4GiB when memory.Address32 is requested on a 64-bit
// platform. Every block is preceded by an align.Header recording the region to
// release, which is how blocks of any alignment can be freed and resized.
// Optionally, blocks are bracketed by guard canaries checked on free and on
// reallocate.
package malloc

import (
	"log/slog"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/cloudwego/memsys/internal/memlog"
	"github.com/cloudwego/memsys/memory"
	"github.com/cloudwego/memsys/memory/align"
	"github.com/cloudwego/memsys/memory/guard"
)

const (
	// MaxSize is the largest block the backend hands out: 1TiB, or 1GiB on
	// 32-bit platforms.
	MaxSize = 1 << (30 + 10*(align.PtrSize/8))

	// lowLimit is the exclusive end of the 32-bit address space.
	lowLimit = 1 << 32
)

// Option configures a Backend.
type Option struct {
	// Guard brackets every block with canaries.
	Guard bool

	// Logger receives diagnostics. slog.Default() is used if nil.
	Logger *slog.Logger

	// Assert is called when a guard canary is damaged.
	// memory.DefaultAssert is used if nil.
	Assert func(error)
}

// DefaultOption returns the default values of Option.
func DefaultOption() *Option {
	return &Option{}
}

// Backend implements memory.Backend.
type Backend struct {
	guard  bool
	log    memlog.Logger
	assert func(error)

	// lowBase is the next candidate address for low mappings,
	// on platforms that can't ask the kernel for one.
	lowBase atomic.Uintptr
}

var _ memory.Backend = (*Backend)(nil)

// New returns a Backend.
func New(o *Option) *Backend {
	if o == nil {
		o = DefaultOption()
	}
	b := &Backend{
		guard:  o.Guard,
		log:    memlog.New(o.Logger),
		assert: o.Assert,
	}
	if b.assert == nil {
		b.assert = memory.DefaultAssert
	}
	b.lowBase.Store(lowRegionStart)
	return b
}

// Initialize implements memory.Backend.
func (b *Backend) Initialize() error {
	return nil
}

// Finalize implements memory.Backend.
func (b *Backend) Finalize() {}

// Allocate implements memory.Backend.
func (b *Backend) Allocate(_ uint64, size, alignment int, hint memory.Hint) []byte {
	p := b.allocateRaw(size, align.For(alignment), hint)
	if p == nil {
		return nil
	}
	blk := unsafe.Slice((*byte)(p), size)
	if hint&memory.ZeroInitialized != 0 {
		clear(blk)
	}
	return blk
}

func (b *Backend) extra() int {
	if b.guard {
		return guard.Overhead
	}
	return 0
}

func (b *Backend) allocateRaw(size, a int, hint memory.Hint) unsafe.Pointer {
	if size < 0 || size > MaxSize {
		b.log.Errorf(memlog.OutOfMemory, "Unable to allocate %d bytes of memory", size)
		return nil
	}
	if hint&memory.Address32 != 0 && align.PtrSize > 4 {
		return b.allocateLow(size, a)
	}
	return b.allocateHeap(size, a)
}

func (b *Backend) allocateHeap(size, a int) unsafe.Pointer {
	total := size + a + align.HeaderSize + b.extra()
	buf := heapAlloc(total)
	raw := unsafe.Pointer(unsafe.SliceData(buf))
	p := unsafe.Add(raw, align.HeaderSize)
	p = unsafe.Add(p, align.Offset(uintptr(p), a))
	align.Encode(p, align.Header{Raw: uintptr(raw), Size: uintptr(cap(buf)), Kind: align.Heap})
	if b.guard {
		p = guard.Init(p, size)
	}
	return p
}

func (b *Backend) allocateLow(size, a int) unsafe.Pointer {
	total := size + a + align.HeaderSize + b.extra()
	raw, err := b.mapLow(total)
	if err != nil {
		b.log.Errorf(memlog.OutOfMemory,
			"Unable to allocate %d bytes of memory in low 32bit address space: %v", size, err)
		return nil
	}
	p := unsafe.Add(raw, align.HeaderSize)
	p = unsafe.Add(p, align.Offset(uintptr(p), a))
	align.Encode(p, align.Header{Raw: uintptr(raw), Size: uintptr(total), Kind: align.Mapped})
	if b.guard {
		p = guard.Init(p, size)
	}
	return p
}

// header verifies the guard of p, if any, and returns the pointer carrying
// the align.Header.
func (b *Backend) header(p unsafe.Pointer) (unsafe.Pointer, align.Header) {
	if b.guard {
		base, err := guard.Verify(p)
		if err != nil {
			b.log.Errorf(memlog.MemoryCorruption, "%v", err)
			b.assert(err)
		}
		p = base
	}
	return p, align.Decode(p)
}

// Deallocate implements memory.Backend.
func (b *Backend) Deallocate(blk []byte) {
	p := unsafe.Pointer(unsafe.SliceData(blk))
	if p == nil {
		return
	}
	b.deallocateVerified(b.header(p))
}

// nativeResize is off where a resized region may come back misaligned.
var nativeResize = runtime.GOARCH != "arm" && runtime.GOARCH != "arm64"

// Reallocate implements memory.Backend.
//
// Unaligned heap blocks without guard are resized in place when their region
// is large enough. Anything else is allocated, copied and freed, as mapped
// regions can't move and alignment or guard offsets would not survive a
// resize. Running out of memory here panics.
func (b *Backend) Reallocate(blk []byte, size, alignment int) []byte {
	oldsize := len(blk)
	p := unsafe.Pointer(unsafe.SliceData(blk))

	var (
		base unsafe.Pointer
		h    align.Header
		out  unsafe.Pointer
	)
	if p != nil {
		base, h = b.header(p)
	}
	if alignment == 0 && p != nil && h.Kind == align.Heap && !b.guard && nativeResize &&
		size >= 0 && size <= MaxSize {
		out = resizeHeap(base, h, size, oldsize)
	} else {
		var hint memory.Hint
		if p != nil && uint64(h.Raw) < lowLimit {
			hint = memory.Address32
		}
		out = b.allocateRaw(size, align.For(alignment), hint)
		if out != nil && p != nil && oldsize > 0 {
			copy(unsafe.Slice((*byte)(out), size), blk)
		}
		b.deallocateVerified(base, h)
	}
	if out == nil {
		err := errors.Wrapf(memory.ErrOutOfMemory, "reallocate %d -> %d bytes @ %p, raw %#x", oldsize, size, p, h.Raw)
		b.log.Panicf(memlog.OutOfMemory, "Unable to reallocate memory: %v", err)
		panic(err)
	}
	return unsafe.Slice((*byte)(out), size)
}

// deallocateVerified releases a block whose guard has already been checked.
func (b *Backend) deallocateVerified(base unsafe.Pointer, h align.Header) {
	if base == nil {
		return
	}
	raw := align.Base(base, h)
	if h.Kind == align.Mapped {
		if err := unmapLow(raw, h.Size); err != nil {
			b.log.Warnf(memlog.SystemCallFail, "Failed to munmap %#x size %d: %v", h.Raw, h.Size, err)
		}
		return
	}
	heapFree(raw, int(h.Size))
}
