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

package memory

import (
	"sync/atomic"
	"unsafe"
)

const (
	// temporaryReserved bytes at the start of the arena are never handed out,
	// so no transient block shares its address with the arena itself.
	temporaryReserved = 8

	// TemporaryAlign is the alignment of the transient arena, which a backend
	// allocates as one Persistent block.
	TemporaryAlign = 16
)

// linearArena is a lock-free bump allocator over one preallocated region.
//
// Blocks are never freed one by one: when the cursor would run past the end,
// it wraps back to the start and older blocks are silently reused.
// A transient block is only valid until the next wrap.
type linearArena struct {
	storage  []byte
	start    uintptr
	end      uintptr
	size     int
	maxChunk int

	// head is the offset of the next free byte, in [temporaryReserved, size].
	head atomic.Uintptr
}

// TemporaryInfo describes the transient arena.
type TemporaryInfo struct {
	Size     int // total bytes, 0 if disabled
	MaxChunk int // requests of MaxChunk bytes or more (alignment padding included) go to the backend
	Head     int // offset of the next transient block
}

func (a *linearArena) initialize(b Backend, size int) bool {
	a.clear()
	if size <= 0 {
		return true
	}
	storage := b.Allocate(0, size, TemporaryAlign, Persistent)
	if storage == nil {
		return false
	}
	a.storage = storage
	a.start = uintptr(unsafe.Pointer(unsafe.SliceData(storage)))
	a.end = a.start + uintptr(size)
	a.size = size
	a.maxChunk = size / 8
	a.head.Store(temporaryReserved)
	return true
}

func (a *linearArena) finalize(b Backend) {
	storage := a.storage
	a.clear()
	if storage != nil {
		b.Deallocate(storage)
	}
}

func (a *linearArena) clear() {
	a.storage = nil
	a.start, a.end = 0, 0
	a.size, a.maxChunk = 0, 0
	a.head.Store(0)
}

func (a *linearArena) enabled() bool {
	return a.storage != nil
}

func (a *linearArena) contains(p uintptr) bool {
	return a.storage != nil && p >= a.start && p < a.end
}

// allocate reserves chunk bytes. Contention is handled by retrying the CAS,
// with no bound and no backoff.
func (a *linearArena) allocate(chunk int) unsafe.Pointer {
	for {
		old := a.head.Load()
		off := old
		next := old + uintptr(chunk)
		if next > uintptr(a.size) {
			off = temporaryReserved
			next = off + uintptr(chunk)
		}
		if a.head.CompareAndSwap(old, next) {
			return unsafe.Add(unsafe.Pointer(unsafe.SliceData(a.storage)), off)
		}
	}
}

func (a *linearArena) info() TemporaryInfo {
	if !a.enabled() {
		return TemporaryInfo{}
	}
	return TemporaryInfo{
		Size:     a.size,
		MaxChunk: a.maxChunk,
		Head:     int(a.head.Load()),
	}
}
