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

// Package guard brackets memory blocks with canary words to catch writes
// before the start (underwrite) or past the end (overwrite) of a block.
//
// Layout, with M = align.Max:
//
//	base                base+M              base+2M          base+2M+size
//	[ size | padding ]  [ canary x M/4 ]    [ user block ]   [ canary x M/4 ]
//
// The user block keeps the alignment of base as long as that alignment is
// not larger than M.
package guard

import (
	"encoding/binary"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/cloudwego/memsys/memory/align"
)

const (
	// Value is the canary word.
	Value uint32 = 0xDEADBEEF

	// Overhead is the number of extra bytes a guarded block needs.
	Overhead = 3 * align.Max

	words = align.Max / 4
)

var (
	// ErrUnderwrite marks errors for a damaged header canary.
	ErrUnderwrite = errors.New("memory underwrite")
	// ErrOverwrite marks errors for a damaged footer canary.
	ErrOverwrite = errors.New("memory overwrite")
)

// Init writes the guard around a block of size bytes placed at base+2*align.Max
// and returns the user pointer. base must have Overhead+size bytes available.
func Init(base unsafe.Pointer, size int) unsafe.Pointer {
	*(*uintptr)(base) = uintptr(size)
	p := unsafe.Add(base, 2*align.Max)
	fill(unsafe.Add(base, align.Max))
	fill(unsafe.Add(p, size))
	return p
}

// Verify checks both canaries of a block returned by Init and returns its base.
//
// A damaged canary yields an assertion failure marked with ErrUnderwrite or
// ErrOverwrite. The base is returned in any case.
func Verify(p unsafe.Pointer) (unsafe.Pointer, error) {
	base := unsafe.Add(p, -2*align.Max)
	size := int(*(*uintptr)(base))
	var err error
	if i, v, ok := check(unsafe.Add(base, align.Max)); !ok {
		err = errors.CombineErrors(err, errors.Mark(
			errors.AssertionFailedf("memory underwrite: block %p (%d bytes), header word %d is %#x", p, size, i, v),
			ErrUnderwrite))
	}
	if i, v, ok := check(unsafe.Add(p, size)); !ok {
		err = errors.CombineErrors(err, errors.Mark(
			errors.AssertionFailedf("memory overwrite: block %p (%d bytes), footer word %d is %#x", p, size, i, v),
			ErrOverwrite))
	}
	return base, err
}

// Size returns the block size recorded by Init for p.
func Size(p unsafe.Pointer) int {
	return int(*(*uintptr)(unsafe.Add(p, -2*align.Max)))
}

// canaries may sit at any byte offset behind the user block
func fill(p unsafe.Pointer) {
	b := unsafe.Slice((*byte)(p), align.Max)
	for i := 0; i < words; i++ {
		binary.LittleEndian.PutUint32(b[i*4:], Value)
	}
}

func check(p unsafe.Pointer) (int, uint32, bool) {
	b := unsafe.Slice((*byte)(p), align.Max)
	for i := 0; i < words; i++ {
		if v := binary.LittleEndian.Uint32(b[i*4:]); v != Value {
			return i, v, false
		}
	}
	return 0, 0, true
}
