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

package memory_test

import (
	"fmt"
	"testing"

	"github.com/cloudwego/memsys/memory"
	"github.com/cloudwego/memsys/memory/malloc"
)

func Example() {
	rt := memory.New(malloc.New(nil), &memory.Option{TemporaryMemory: 1 << 16, ContextDepth: 8})
	if err := rt.Initialize(); err != nil {
		panic(err)
	}
	defer rt.Finalize()

	th := rt.Thread()
	defer th.Finalize()
	th.Push(memory.ContextID("parser"))
	defer th.Pop()

	scratch := th.Allocate(0, 512, 16, memory.Temporary|memory.ZeroInitialized)
	fmt.Println(len(scratch), rt.IsTemporary(scratch))

	b := th.Allocate(0, 64, 0, 0)
	b = rt.Reallocate(b, 128, 0)
	fmt.Println(len(b), rt.IsTemporary(b))
	rt.Deallocate(b)
	rt.Deallocate(scratch)
	// Output:
	// 512 true
	// 128 false
}

func BenchmarkAllocate(b *testing.B) {
	rt := memory.New(malloc.New(nil), memory.DefaultOption())
	if err := rt.Initialize(); err != nil {
		b.Fatal(err)
	}
	defer rt.Finalize()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			rt.Deallocate(rt.Allocate(0, 128, 0, 0))
		}
	})
}

func BenchmarkAllocateTemporary(b *testing.B) {
	rt := memory.New(malloc.New(nil), &memory.Option{TemporaryMemory: 1 << 20})
	if err := rt.Initialize(); err != nil {
		b.Fatal(err)
	}
	defer rt.Finalize()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			rt.Deallocate(rt.Allocate(0, 128, 16, memory.Temporary))
		}
	})
}
