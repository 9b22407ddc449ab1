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

import "github.com/cockroachdb/errors"

var (
	// ErrOutOfMemory is wrapped by errors about exhausted memory.
	ErrOutOfMemory = errors.New("memory: out of memory")

	// ErrInitialized is returned by Initialize on a running Runtime.
	ErrInitialized = errors.New("memory: runtime already initialized")

	// ErrInvalidOption is wrapped by errors about bad configuration.
	ErrInvalidOption = errors.New("memory: invalid option")
)

// DefaultAssert panics with err. It's the default assertion hook.
func DefaultAssert(err error) {
	panic(err)
}
