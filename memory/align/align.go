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

// Package align computes block alignments and keeps the raw-pointer header
// stored right before every aligned block.
//
// All alignments are powers of two, so a higher alignment is always a
// multiple of a lower one.
package align

import (
	"math/bits"
	"unsafe"
)

// PtrSize is the size of a machine word.
const PtrSize = int(unsafe.Sizeof(uintptr(0)))

// For returns the effective alignment of a request.
//
// 0 (no special alignment) and anything below PtrSize map to PtrSize.
// Other values are rounded up to the next power of two and clamped to Max.
func For(requested int) int {
	if requested <= PtrSize {
		return PtrSize
	}
	a := 1 << bits.Len(uint(requested-1))
	if a > Max {
		return Max
	}
	return a
}

// Pointer returns p advanced to the next multiple of a.
// p is returned unchanged if it's already aligned, or if p or a is zero.
// a must be a power of two.
func Pointer(p uintptr, a int) uintptr {
	if p == 0 || a == 0 {
		return p
	}
	mask := uintptr(a - 1)
	if p&mask != 0 {
		p = (p &^ mask) + uintptr(a)
	}
	return p
}

// Offset returns how many bytes Pointer(p, a) advances p.
func Offset(p uintptr, a int) int {
	return int(Pointer(p, a) - p)
}
