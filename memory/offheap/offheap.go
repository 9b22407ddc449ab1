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

// Package offheap is a memory.Backend serving blocks out of memory mapped
// outside the Go heap, through modernc.org/memory.
//
// Blocks are invisible to the garbage collector: they must not hold the only
// reference to Go objects. Finalize releases every block at once.
package offheap

import (
	"log/slog"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"modernc.org/memory"

	"github.com/cloudwego/memsys/internal/memlog"
	mem "github.com/cloudwego/memsys/memory"
	"github.com/cloudwego/memsys/memory/align"
)

// Option configures a Backend.
type Option struct {
	// Logger receives diagnostics. slog.Default() is used if nil.
	Logger *slog.Logger
}

// Backend implements memory.Backend. The zero value is ready to use.
type Backend struct {
	log memlog.Logger

	mu    sync.Mutex
	alloc memory.Allocator
}

var _ mem.Backend = (*Backend)(nil)

// New returns a Backend.
func New(o *Option) *Backend {
	if o == nil {
		o = &Option{}
	}
	return &Backend{log: memlog.New(o.Logger)}
}

// Initialize implements memory.Backend.
func (b *Backend) Initialize() error {
	return nil
}

// Finalize implements memory.Backend. Blocks still live are released too.
func (b *Backend) Finalize() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.alloc.Close(); err != nil {
		b.log.Warnf(memlog.SystemCallFail, "Failed to release off-heap memory: %v", err)
	}
	b.alloc = memory.Allocator{}
}

// Allocate implements memory.Backend. Address32 is not supported and ignored.
func (b *Backend) Allocate(_ uint64, size, alignment int, hint mem.Hint) []byte {
	if size < 0 {
		b.log.Errorf(memlog.OutOfMemory, "Unable to allocate %d bytes of memory", size)
		return nil
	}
	a := align.For(alignment)
	b.mu.Lock()
	raw, err := b.alloc.UnsafeMalloc(size + a + align.HeaderSize)
	b.mu.Unlock()
	if err != nil {
		b.log.Errorf(memlog.OutOfMemory, "Unable to allocate %d bytes of memory: %v", size, err)
		return nil
	}
	p := place(raw, a)
	blk := unsafe.Slice((*byte)(p), size)
	if hint&mem.ZeroInitialized != 0 {
		clear(blk)
	}
	return blk
}

// place puts an a-aligned block after the header in the region at raw.
func place(raw unsafe.Pointer, a int) unsafe.Pointer {
	p := unsafe.Add(raw, align.HeaderSize)
	p = unsafe.Add(p, align.Offset(uintptr(p), a))
	align.Encode(p, align.Header{Raw: uintptr(raw), Kind: align.Heap})
	return p
}

// Reallocate implements memory.Backend. The region is resized by the
// allocator and the block moved within it if its alignment offset changed.
func (b *Backend) Reallocate(blk []byte, size, alignment int) []byte {
	p := unsafe.Pointer(unsafe.SliceData(blk))
	if p == nil {
		if nb := b.Allocate(0, size, alignment, 0); nb != nil {
			return nb
		}
		return b.fatal(0, size, errors.New("allocate"))
	}
	if size < 0 {
		return b.fatal(len(blk), size, errors.Newf("invalid size %d", size))
	}

	h := align.Decode(p)
	raw := align.Base(p, h)
	off := int(uintptr(p) - h.Raw)
	a := align.For(alignment)

	b.mu.Lock()
	nraw, err := b.alloc.UnsafeRealloc(raw, size+a+align.HeaderSize)
	b.mu.Unlock()
	if err != nil {
		return b.fatal(len(blk), size, err)
	}
	np := place(nraw, a)
	n := min(size, len(blk))
	if noff := int(uintptr(np) - uintptr(nraw)); noff != off && n > 0 {
		copy(unsafe.Slice((*byte)(np), n), unsafe.Slice((*byte)(unsafe.Add(nraw, off)), n))
	}
	return unsafe.Slice((*byte)(np), size)
}

func (b *Backend) fatal(oldsize, size int, cause error) []byte {
	err := errors.Mark(errors.Wrapf(cause, "reallocate %d -> %d bytes", oldsize, size), mem.ErrOutOfMemory)
	b.log.Panicf(memlog.OutOfMemory, "Unable to reallocate memory: %v", err)
	panic(err)
}

// Deallocate implements memory.Backend.
func (b *Backend) Deallocate(blk []byte) {
	p := unsafe.Pointer(unsafe.SliceData(blk))
	if p == nil {
		return
	}
	raw := align.Base(p, align.Decode(p))
	b.mu.Lock()
	err := b.alloc.UnsafeFree(raw)
	b.mu.Unlock()
	if err != nil {
		b.log.Warnf(memlog.SystemCallFail, "Failed to free off-heap block %p: %v", p, err)
	}
}
