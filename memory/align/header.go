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

package align

import (
	"fmt"
	"unsafe"
)

// HeaderSize is the number of bytes reserved in front of every block:
//
//	[ region size ][ raw pointer | tag ][ block ... ]
//	  p-2*PtrSize    p-PtrSize           p
//
// The low bit of the raw pointer word is the Kind tag. Raw pointers are always
// at least 2-byte aligned so the bit is otherwise unused.
const HeaderSize = 2 * PtrSize

const tagMapped = uintptr(1)

// Kind tells how the backing region of a block must be released.
type Kind uint8

const (
	// Heap regions go back to the heap they came from.
	Heap Kind = iota
	// Mapped regions are unmapped with Header.Size.
	Mapped
)

func (k Kind) String() string {
	if k == Mapped {
		return "mapped"
	}
	return "heap"
}

// Header describes the region backing an aligned block.
type Header struct {
	Raw  uintptr // start of the region
	Size uintptr // length of the region in bytes
	Kind Kind
}

// Encode stores h in the HeaderSize bytes before p.
// The caller must have reserved them.
func Encode(p unsafe.Pointer, h Header) {
	if h.Raw&tagMapped != 0 {
		panic(fmt.Sprintf("align: raw pointer %#x is not even", h.Raw))
	}
	raw := h.Raw
	if h.Kind == Mapped {
		raw |= tagMapped
	}
	*(*uintptr)(unsafe.Add(p, -PtrSize)) = raw
	*(*uintptr)(unsafe.Add(p, -2*PtrSize)) = h.Size
}

// Decode reads the header stored by Encode before p.
func Decode(p unsafe.Pointer) Header {
	raw := *(*uintptr)(unsafe.Add(p, -PtrSize))
	h := Header{
		Raw:  raw &^ tagMapped,
		Size: *(*uintptr)(unsafe.Add(p, -2*PtrSize)),
		Kind: Heap,
	}
	if raw&tagMapped != 0 {
		h.Kind = Mapped
	}
	return h
}

// Base returns the start of the region backing p as a pointer derived from p,
// so it stays valid for the garbage collector.
func Base(p unsafe.Pointer, h Header) unsafe.Pointer {
	return unsafe.Add(p, -int(uintptr(p)-h.Raw))
}
