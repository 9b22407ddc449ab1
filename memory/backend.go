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

// Backend is an allocator the Runtime delegates to.
//
// Blocks are returned as slices with len == cap == size. A block is identified
// by its data pointer, so Deallocate and Reallocate must get the slice
// returned by Allocate or Reallocate, not a reslice that moved its start.
//
// Allocate, Reallocate and Deallocate may be called concurrently.
type Backend interface {
	// Initialize prepares the backend. A non-nil error means it must not be used.
	Initialize() error

	// Finalize releases everything the backend owns. It's called once,
	// after a successful Initialize and after all allocation activity ceased.
	Finalize()

	// Allocate returns a block of size bytes aligned to align,
	// or nil if memory is exhausted.
	Allocate(ctx uint64, size, align int, hint Hint) []byte

	// Reallocate resizes b to size bytes, keeping the first min(size, len(b))
	// bytes. b may be nil. It does not return nil: failing to get memory here
	// is fatal, as b may already be gone.
	Reallocate(b []byte, size, align int) []byte

	// Deallocate releases b. It's a no-op for a nil block.
	Deallocate(b []byte)
}

// ThreadFinalizer is implemented by backends keeping per-thread state.
// ThreadFinalize is called by Thread.Finalize and by Runtime.Finalize.
type ThreadFinalizer interface {
	ThreadFinalize()
}
