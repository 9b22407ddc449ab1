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

package arrowalloc_test

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	arrowmem "github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/memsys/memory"
	"github.com/cloudwego/memsys/memory/arrowalloc"
	"github.com/cloudwego/memsys/memory/malloc"
	"github.com/cloudwego/memsys/memory/tracker"
)

func newRuntime(t *testing.T) *memory.Runtime {
	t.Helper()
	rt := memory.New(malloc.New(nil), memory.DefaultOption())
	rt.SetTracker(tracker.New(&tracker.Option{MaxTracked: 1024, NoStacks: true}))
	require.NoError(t, rt.Initialize())
	t.Cleanup(rt.Finalize)
	return rt
}

func TestBuilder(t *testing.T) {
	rt := newRuntime(t)
	before := rt.Statistics()
	checked := arrowmem.NewCheckedAllocator(arrowalloc.New(rt, memory.ContextID("arrow")))

	bld := array.NewInt64Builder(checked)
	for i := int64(0); i < 10000; i++ {
		if i%7 == 0 {
			bld.AppendNull()
			continue
		}
		bld.Append(i)
	}
	arr := bld.NewInt64Array()
	bld.Release()

	require.Equal(t, 10000, arr.Len())
	assert.True(t, arr.IsNull(0))
	assert.Equal(t, int64(9999), arr.Value(9999))
	assert.Greater(t, rt.Statistics().AllocationsCurrent, before.AllocationsCurrent)

	arr.Release()
	checked.AssertSize(t, 0)
	assert.Equal(t, before.AllocationsCurrent, rt.Statistics().AllocationsCurrent)
	assert.Equal(t, before.AllocatedCurrent, rt.Statistics().AllocatedCurrent)
}

func TestReallocateZeroesGrowth(t *testing.T) {
	a := arrowalloc.New(newRuntime(t), 0)
	b := a.Allocate(16)
	assert.Equal(t, make([]byte, 16), b)
	for i := range b {
		b[i] = 0xff
	}
	b = a.Reallocate(100, b)
	require.Len(t, b, 100)
	assert.Equal(t, make([]byte, 84), b[16:])
	a.Free(b)
}
