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

	"golang.org/x/sys/unix"
)

// mapLow asks the kernel for a mapping in the first 2GiB, and falls back to
// scanning the low window when that space is exhausted.
func (b *Backend) mapLow(n int) (unsafe.Pointer, error) {
	size := uintptr(n)
	p, err := unix.MmapPtr(-1, 0, nil, size, lowProt, lowFlags|unix.MAP_32BIT)
	if err == nil {
		if uint64(uintptr(p)+size) <= lowLimit {
			return p, nil
		}
		_ = unix.MunmapPtr(p, size)
	}
	return b.scanLow(n)
}
