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

package buddy

import (
	"math/bits"
)

// arena tracks free power-of-two blocks by offset. Blocks of order o are
// MinBlock<<o bytes and start at a multiple of their size. Freed blocks are
// merged with their buddy lazily, when a request can't be served otherwise.
type arena struct {
	// free[o] holds the offsets of free blocks of order o
	free          [][]int
	needsCoalesce bool

	size     int
	minBlock int
	minShift int
	maxBlock int
	maxOrder int
}

func newArena(size, minBlock, maxBlock int) *arena {
	minShift := bits.TrailingZeros(uint(minBlock))
	maxOrder := bits.TrailingZeros(uint(maxBlock)) - minShift
	a := &arena{
		free:     make([][]int, maxOrder+1),
		size:     size,
		minBlock: minBlock,
		minShift: minShift,
		maxBlock: maxBlock,
		maxOrder: maxOrder,
	}
	for o := 0; o < maxOrder; o++ {
		a.free[o] = make([]int, 0, min(1<<(maxOrder-o), 64))
	}
	a.free[maxOrder] = make([]int, 0, size/maxBlock)
	a.reset()
	return a
}

func (a *arena) reset() {
	for o := range a.free {
		a.free[o] = a.free[o][:0]
	}
	for off := 0; off < a.size; off += a.maxBlock {
		a.free[a.maxOrder] = append(a.free[a.maxOrder], off)
	}
	a.needsCoalesce = false
}

// order returns the smallest order holding n bytes.
func (a *arena) order(n int) int {
	if n <= a.minBlock {
		return 0
	}
	return bits.Len(uint(n-1)) - a.minShift
}

func (a *arena) blockSize(order int) int {
	return a.minBlock << order
}

// take removes a free block of the given order, splitting a larger one if
// needed. It returns -1 when the arena is exhausted.
func (a *arena) take(order int) int {
	if l := a.free[order]; len(l) > 0 {
		off := l[len(l)-1]
		a.free[order] = l[:len(l)-1]
		return off
	}

	found := -1
	for o := order + 1; o <= a.maxOrder; o++ {
		if len(a.free[o]) > 0 {
			found = o
			break
		}
	}
	if found == -1 {
		if !a.needsCoalesce {
			return -1
		}
		if found = a.coalesceUntil(order); found == -1 {
			a.needsCoalesce = false
			return -1
		}
	}

	l := a.free[found]
	off := l[len(l)-1]
	a.free[found] = l[:len(l)-1]
	// the left half keeps off, right halves go to the lower orders
	for found > order {
		found--
		a.free[found] = append(a.free[found], off+a.blockSize(found))
	}
	return off
}

// put returns the block at off.
func (a *arena) put(off, order int) {
	a.free[order] = append(a.free[order], off)
	if order < a.maxOrder {
		a.needsCoalesce = true
	}
}

// coalesceUntil merges free buddies from the lowest order up, and returns
// the order of a free block of at least target, or -1.
func (a *arena) coalesceUntil(target int) int {
	for o := target; o <= a.maxOrder; o++ {
		if len(a.free[o]) > 0 {
			return o
		}
	}
	for o := 0; o < target; o++ {
		l := a.free[o]
		if len(l) < 2 {
			continue
		}
		// insertion sort, free lists are short and mostly sorted
		for i := 1; i < len(l); i++ {
			for j := i; j > 0 && l[j] < l[j-1]; j-- {
				l[j], l[j-1] = l[j-1], l[j]
			}
		}
		bs := a.blockSize(o)
		n := 0
		for i := 0; i < len(l); {
			if i+1 < len(l) && l[i+1] == l[i]^bs {
				a.free[o+1] = append(a.free[o+1], l[i]&^bs)
				i += 2
				continue
			}
			l[n] = l[i]
			n++
			i++
		}
		a.free[o] = l[:n]
	}
	for o := target; o <= a.maxOrder; o++ {
		if len(a.free[o]) > 0 {
			return o
		}
	}
	return -1
}

// available returns the number of free bytes.
func (a *arena) available() int {
	n := 0
	for o, l := range a.free {
		n += len(l) * a.blockSize(o)
	}
	return n
}
