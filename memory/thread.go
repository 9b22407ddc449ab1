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

import "unsafe"

// Thread is the allocation state owned by one goroutine: a stack of
// attribution contexts consulted by Allocate.
//
// A Thread must not be shared between goroutines. Call Finalize when the
// goroutine is done with it.
type Thread struct {
	rt *Runtime

	// storage is allocated from rt on the first Push
	storage []byte
	stack   []uint64
	depth   int
}

// Thread returns a new goroutine-owned handle on rt.
func (rt *Runtime) Thread() *Thread {
	return &Thread{rt: rt}
}

// Push makes id the current context. Once the stack holds ContextDepth
// contexts, further pushes are dropped.
func (t *Thread) Push(id uint64) {
	if t.stack == nil && !t.init() {
		return
	}
	if t.depth < len(t.stack) {
		t.stack[t.depth] = id
		t.depth++
	}
}

// Pop removes the current context, if any.
func (t *Thread) Pop() {
	if t.depth > 0 {
		t.depth--
	}
}

// Context returns the current context, or 0 if the stack is empty.
func (t *Thread) Context() uint64 {
	if t.depth > 0 {
		return t.stack[t.depth-1]
	}
	return 0
}

// Depth returns the number of contexts on the stack.
func (t *Thread) Depth() int {
	return t.depth
}

// Allocate is Runtime.Allocate with ctx 0 meaning the current context.
func (t *Thread) Allocate(ctx uint64, size, align int, hint Hint) []byte {
	if ctx == 0 {
		ctx = t.Context()
	}
	return t.rt.Allocate(ctx, size, align, hint)
}

// Finalize runs the backend per-thread finalizer, then releases the context
// stack. The Thread can be used again afterwards, starting empty.
func (t *Thread) Finalize() {
	if tf, ok := t.rt.backend.(ThreadFinalizer); ok {
		tf.ThreadFinalize()
	}
	storage := t.storage
	t.storage, t.stack, t.depth = nil, nil, 0
	if storage != nil {
		t.rt.Deallocate(storage)
	}
}

func (t *Thread) init() bool {
	n := t.rt.opt.ContextDepth
	if n <= 0 {
		return false
	}
	b := t.rt.Allocate(0, n*8, 8, Persistent|ZeroInitialized)
	if b == nil {
		return false
	}
	t.storage = b
	t.stack = unsafe.Slice((*uint64)(unsafe.Pointer(unsafe.SliceData(b))), n)
	return true
}
