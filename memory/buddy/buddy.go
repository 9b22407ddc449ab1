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

// Package buddy is a memory.Backend carving blocks out of one preallocated
// arena with a buddy system. It bounds the memory a Runtime can use: once the
// arena is exhausted, Allocate returns nil.
package buddy

import (
	"log/slog"
	"sync"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/cockroachdb/errors"

	"github.com/cloudwego/memsys/internal/memlog"
	"github.com/cloudwego/memsys/memory"
	"github.com/cloudwego/memsys/memory/align"
)

const (
	// magic marks the first word of a block in use, to detect double frees.
	magic uint32 = 0xBADF00D

	// reserved bytes at the start of every block hold magic.
	reserved = 8
)

// Option configures a Backend.
type Option struct {
	// ArenaSize is the total memory of the backend.
	// It must be a multiple of MaxBlock.
	ArenaSize int

	// MinBlock and MaxBlock bound the block sizes. Both are powers of two.
	// A request needs alignment padding and a header on top of its size.
	MinBlock int
	MaxBlock int

	// Logger receives diagnostics. slog.Default() is used if nil.
	Logger *slog.Logger

	// Assert is called on a double free or a pointer outside the arena.
	// memory.DefaultAssert is used if nil.
	Assert func(error)
}

// DefaultOption returns the default values of Option: a 64MB arena of
// blocks from 64B to 1MB.
func DefaultOption() *Option {
	return &Option{
		ArenaSize: 64 << 20,
		MinBlock:  64,
		MaxBlock:  1 << 20,
	}
}

// Backend implements memory.Backend.
type Backend struct {
	opt    Option
	log    memlog.Logger
	assert func(error)

	mu    sync.Mutex
	mem   []byte
	arena *arena
}

var _ memory.Backend = (*Backend)(nil)

// New returns a Backend. Options are checked by Initialize.
func New(o *Option) *Backend {
	if o == nil {
		o = DefaultOption()
	}
	b := &Backend{opt: *o, log: memlog.New(o.Logger), assert: o.Assert}
	if b.assert == nil {
		b.assert = memory.DefaultAssert
	}
	return b
}

// BlockSize returns the smallest block able to hold size bytes aligned to
// alignment, MinBlock aside.
func BlockSize(size, alignment int) int {
	total := reserved + align.HeaderSize + align.For(alignment) + size
	n := 1
	for n < total {
		n <<= 1
	}
	return n
}

func isPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Initialize implements memory.Backend. It allocates the arena.
func (b *Backend) Initialize() error {
	o := b.opt
	switch {
	case !isPow2(o.MinBlock) || !isPow2(o.MaxBlock):
		return errors.Wrapf(memory.ErrInvalidOption, "buddy: block sizes %d and %d must be powers of two", o.MinBlock, o.MaxBlock)
	case o.MinBlock > o.MaxBlock:
		return errors.Wrapf(memory.ErrInvalidOption, "buddy: min block %d > max block %d", o.MinBlock, o.MaxBlock)
	case o.MinBlock <= reserved+align.HeaderSize:
		return errors.Wrapf(memory.ErrInvalidOption, "buddy: min block %d too small", o.MinBlock)
	case o.ArenaSize < o.MaxBlock || o.ArenaSize%o.MaxBlock != 0:
		return errors.Wrapf(memory.ErrInvalidOption, "buddy: arena size %d is not a multiple of %d", o.ArenaSize, o.MaxBlock)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mem = dirtmake.Bytes(o.ArenaSize, o.ArenaSize)
	b.arena = newArena(o.ArenaSize, o.MinBlock, o.MaxBlock)
	return nil
}

// Finalize implements memory.Backend.
func (b *Backend) Finalize() {
	b.mu.Lock()
	b.mem, b.arena = nil, nil
	b.mu.Unlock()
}

// Available returns the number of free bytes of the arena.
func (b *Backend) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.arena == nil {
		return 0
	}
	return b.arena.available()
}

// Allocate implements memory.Backend. Address32 is ignored.
func (b *Backend) Allocate(_ uint64, size, alignment int, hint memory.Hint) []byte {
	p := b.allocate(size, align.For(alignment))
	if p == nil {
		return nil
	}
	blk := unsafe.Slice((*byte)(p), size)
	if hint&memory.ZeroInitialized != 0 {
		clear(blk)
	}
	return blk
}

func (b *Backend) allocate(size, a int) unsafe.Pointer {
	if size < 0 || size > b.opt.MaxBlock {
		b.log.Errorf(memlog.OutOfMemory, "Unable to allocate %d bytes of memory", size)
		return nil
	}
	total := BlockSize(size, a)
	if total > b.opt.MaxBlock {
		b.log.Errorf(memlog.OutOfMemory, "Unable to allocate %d bytes of memory: max block is %d", size, b.opt.MaxBlock)
		return nil
	}

	b.mu.Lock()
	if b.arena == nil {
		b.mu.Unlock()
		return nil
	}
	order := b.arena.order(total)
	off := b.arena.take(order)
	bs := b.arena.blockSize(order)
	base := unsafe.Pointer(unsafe.SliceData(b.mem))
	b.mu.Unlock()
	if off < 0 {
		b.log.Errorf(memlog.OutOfMemory, "Unable to allocate %d bytes of memory: arena exhausted", size)
		return nil
	}

	raw := unsafe.Add(base, off)
	*(*uint32)(raw) = magic
	p := unsafe.Add(raw, reserved+align.HeaderSize)
	p = unsafe.Add(p, align.Offset(uintptr(p), a))
	align.Encode(p, align.Header{Raw: uintptr(raw), Size: uintptr(bs), Kind: align.Heap})
	return p
}

// block returns the offset and order of the block holding p.
// ok is false for blocks not in use. b.mu must be held.
func (b *Backend) block(p unsafe.Pointer) (h align.Header, off, order int, ok bool) {
	if b.arena == nil {
		return h, 0, 0, false
	}
	start := uintptr(unsafe.Pointer(unsafe.SliceData(b.mem)))
	if uintptr(p) < start+uintptr(reserved+align.HeaderSize) || uintptr(p) >= start+uintptr(len(b.mem)) {
		return h, 0, 0, false
	}
	h = align.Decode(p)
	raw := align.Base(p, h)
	off = int(uintptr(raw) - start)
	if off < 0 || off >= len(b.mem) || *(*uint32)(raw) != magic {
		return h, 0, 0, false
	}
	return h, off, b.arena.order(int(h.Size)), true
}

// invalid reports a block that is not in use. The lock must not be held,
// Assert may panic.
func (b *Backend) invalid(p unsafe.Pointer) {
	err := errors.AssertionFailedf("buddy: double free or invalid block %p", p)
	b.log.Errorf(memlog.MemoryCorruption, "%v", err)
	b.assert(err)
}

// Deallocate implements memory.Backend.
func (b *Backend) Deallocate(blk []byte) {
	p := unsafe.Pointer(unsafe.SliceData(blk))
	if p == nil {
		return
	}
	b.mu.Lock()
	h, off, order, ok := b.block(p)
	if ok {
		*(*uint32)(align.Base(p, h)) = 0
		b.arena.put(off, order)
	}
	b.mu.Unlock()
	if !ok {
		b.invalid(p)
	}
}

// Reallocate implements memory.Backend. The block stays in place while it
// fits its buddy block and keeps the requested alignment.
func (b *Backend) Reallocate(blk []byte, size, alignment int) []byte {
	p := unsafe.Pointer(unsafe.SliceData(blk))
	a := align.For(alignment)
	if p != nil && size >= 0 {
		b.mu.Lock()
		h, _, _, ok := b.block(p)
		b.mu.Unlock()
		if !ok {
			b.invalid(p)
			return nil
		}
		if uintptr(p)%uintptr(a) == 0 && int(uintptr(p)-h.Raw)+size <= int(h.Size) {
			return unsafe.Slice((*byte)(p), size)
		}
	}

	np := b.allocate(size, a)
	if np == nil {
		err := errors.Wrapf(memory.ErrOutOfMemory, "reallocate %d -> %d bytes @ %p", len(blk), size, p)
		b.log.Panicf(memlog.OutOfMemory, "Unable to reallocate memory: %v", err)
		panic(err)
	}
	nb := unsafe.Slice((*byte)(np), size)
	copy(nb, blk)
	b.Deallocate(blk)
	return nb
}
