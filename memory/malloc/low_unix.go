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

//go:build linux || darwin || freebsd || netbsd || openbsd

package malloc

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Low mappings are searched for in [lowRegionStart, lowRegionEnd).
const (
	lowRegionStart = uintptr(0x10000)
	lowRegionEnd   = uintptr(0x80000000)
)

const (
	lowProt  = unix.PROT_READ | unix.PROT_WRITE
	lowFlags = unix.MAP_PRIVATE | unix.MAP_ANON
)

// scanLow maps n bytes inside the low window by hinting addresses in it.
// The kernel may ignore the hint, so a mapping outside the window is released
// and the search restarts once from the bottom of the window.
func (b *Backend) scanLow(n int) (unsafe.Pointer, error) {
	size := uintptr(n)
	for i := 0; i < 2; i++ {
		hint := b.lowBase.Load()
		if hint < lowRegionStart || hint+size > lowRegionEnd {
			hint = lowRegionStart
		}
		p, err := unix.MmapPtr(-1, 0, unsafe.Pointer(hint), size, lowProt, lowFlags)
		if err != nil {
			return nil, errors.Wrapf(err, "mmap %d bytes at %#x", n, hint)
		}
		end := uintptr(p) + size
		if uintptr(p) >= lowRegionStart && end <= lowRegionEnd {
			b.lowBase.Store(pageRound(end))
			return p, nil
		}
		_ = unix.MunmapPtr(p, size)
		b.lowBase.Store(lowRegionStart)
	}
	return nil, errors.Newf("no free range in [%#x, %#x) for %d bytes", lowRegionStart, lowRegionEnd, n)
}

func unmapLow(raw unsafe.Pointer, size uintptr) error {
	return unix.MunmapPtr(raw, size)
}

func pageRound(p uintptr) uintptr {
	page := uintptr(unix.Getpagesize())
	return (p + page - 1) &^ (page - 1)
}
