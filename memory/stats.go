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

import "sync/atomic"

// Statistics is a snapshot of Counters.
type Statistics struct {
	AllocationsTotal   int64 // allocations ever made
	AllocationsCurrent int64 // allocations still live
	AllocatedTotal     int64 // bytes ever allocated
	AllocatedCurrent   int64 // bytes still live
}

// Counters aggregates allocation counts and bytes. It's never locked.
type Counters struct {
	allocationsTotal   atomic.Int64
	allocationsCurrent atomic.Int64
	allocatedTotal     atomic.Int64
	allocatedCurrent   atomic.Int64
}

// Add accounts one allocation of size bytes.
func (c *Counters) Add(size int) {
	c.allocationsTotal.Add(1)
	c.allocationsCurrent.Add(1)
	c.allocatedTotal.Add(int64(size))
	c.allocatedCurrent.Add(int64(size))
}

// Remove accounts the release of one allocation of size bytes.
func (c *Counters) Remove(size int) {
	c.allocationsCurrent.Add(-1)
	c.allocatedCurrent.Add(-int64(size))
}

// Snapshot copies the counters. Each field is read atomically,
// but concurrent writers may be observed between two fields.
func (c *Counters) Snapshot() Statistics {
	return Statistics{
		AllocationsTotal:   c.allocationsTotal.Load(),
		AllocationsCurrent: c.allocationsCurrent.Load(),
		AllocatedTotal:     c.allocatedTotal.Load(),
		AllocatedCurrent:   c.allocatedCurrent.Load(),
	}
}

func (c *Counters) reset() {
	c.allocationsTotal.Store(0)
	c.allocationsCurrent.Store(0)
	c.allocatedTotal.Store(0)
	c.allocatedCurrent.Store(0)
}
