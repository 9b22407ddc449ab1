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

package malloc

import (
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/bytedance/gopkg/lang/mcache"

	"github.com/cloudwego/memsys/memory/align"
)

const (
	// maxPooled is the largest region recycled through mcache.
	// Larger regions are left to the GC once freed.
	maxPooled = 1 << 25

	// minHeap keeps regions out of the runtime tiny allocator,
	// which doesn't align its objects.
	minHeap = 32
)

// heapAlloc returns a region of at least n bytes. The header records cap of
// the region, which heapFree needs to hand it back to the right pool.
func heapAlloc(n int) []byte {
	if n < minHeap {
		n = minHeap
	}
	if n > maxPooled {
		return dirtmake.Bytes(n, n)
	}
	return mcache.Malloc(n)
}

func heapFree(raw unsafe.Pointer, capacity int) {
	if capacity > maxPooled {
		return
	}
	mcache.Free(unsafe.Slice((*byte)(raw), capacity))
}

// resizeHeap resizes the unaligned, unguarded heap block at p.
// It stays in place while the region can hold size bytes past p.
func resizeHeap(p unsafe.Pointer, h align.Header, size, oldsize int) unsafe.Pointer {
	off := int(uintptr(p) - h.Raw)
	if off+size <= int(h.Size) {
		return p
	}
	buf := heapAlloc(size + align.PtrSize + align.HeaderSize)
	raw := unsafe.Pointer(unsafe.SliceData(buf))
	np := unsafe.Add(raw, align.HeaderSize)
	np = unsafe.Add(np, align.Offset(uintptr(np), align.PtrSize))
	align.Encode(np, align.Header{Raw: uintptr(raw), Size: uintptr(cap(buf)), Kind: align.Heap})
	copy(unsafe.Slice((*byte)(np), size), unsafe.Slice((*byte)(p), min(size, oldsize)))
	heapFree(align.Base(p, h), int(h.Size))
	return np
}
