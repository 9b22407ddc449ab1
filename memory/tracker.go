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

// Tracker records live allocations for leak diagnostics.
//
// Tracking is best effort: Track and Untrack never fail an allocation and
// are called concurrently from every allocating goroutine.
type Tracker interface {
	// Initialize prepares the tracker. Counters is the statistics block the
	// tracker keeps up to date.
	Initialize(stats *Counters) error

	// Track records a live block at addr.
	Track(addr uintptr, size int, ctx uint64)

	// Untrack forgets the block at addr.
	Untrack(addr uintptr)

	// Abort releases the tracker state without reporting.
	Abort()

	// Finalize reports blocks still tracked and releases the tracker state.
	Finalize()
}

// NoTracker tracks nothing.
type NoTracker struct{}

var _ Tracker = NoTracker{}

func (NoTracker) Initialize(*Counters) error { return nil }
func (NoTracker) Track(uintptr, int, uint64) {}
func (NoTracker) Untrack(uintptr)            {}
func (NoTracker) Abort()                     {}
func (NoTracker) Finalize()                  {}
