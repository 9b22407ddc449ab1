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

import "strings"

// Hint is a set of allocation flags.
type Hint uint32

const (
	// ZeroInitialized clears the block before it is returned.
	ZeroInitialized Hint = 1 << iota

	// Persistent marks long-lived data. It always goes to the backend,
	// even if Temporary is set too.
	Persistent

	// Temporary makes small blocks eligible for the transient arena.
	Temporary

	// Address32 asks for a block below 4GiB on 64-bit platforms.
	Address32
)

var hintNames = []string{"zero", "persistent", "temporary", "addr32"}

func (h Hint) String() string {
	if h == 0 {
		return "none"
	}
	var names []string
	for i, name := range hintNames {
		if h&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}
