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

package malloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func inLowWindow(t *testing.T, p unsafe.Pointer, size uintptr) {
	t.Helper()
	assert.GreaterOrEqual(t, uintptr(p), lowRegionStart)
	assert.LessOrEqual(t, uintptr(p)+size, lowRegionEnd)
}

func TestScanLow(t *testing.T) {
	size := uintptr(16 * unix.Getpagesize())
	b := New(nil)

	p1, err := b.scanLow(int(size))
	require.NoError(t, err)
	defer unix.MunmapPtr(p1, size)
	inLowWindow(t, p1, size)
	next := b.lowBase.Load()
	assert.Equal(t, pageRound(uintptr(p1)+size), next)

	// the next search starts where the last mapping ended
	p2, err := b.scanLow(int(size))
	require.NoError(t, err)
	defer unix.MunmapPtr(p2, size)
	inLowWindow(t, p2, size)
	assert.GreaterOrEqual(t, uintptr(p2), next)
	assert.Greater(t, b.lowBase.Load(), next)

	*(*uint64)(p1) = 1
	*(*uint64)(p2) = 2
	assert.Equal(t, uint64(1), *(*uint64)(p1))
}

func TestScanLowRestart(t *testing.T) {
	page := uintptr(unix.Getpagesize())
	size := 4 * page

	// occupy the bottom of the window
	blocker, err := unix.MmapPtr(-1, 0, unsafe.Pointer(lowRegionStart), size, lowProt, lowFlags)
	require.NoError(t, err)
	if uintptr(blocker) != lowRegionStart {
		unix.MunmapPtr(blocker, size)
		t.Skipf("%#x is not available for mapping", lowRegionStart)
	}

	// a cursor at the end of the window restarts from its start, which is
	// taken, and the kernel answers above the window twice
	b := New(nil)
	b.lowBase.Store(lowRegionEnd - page)
	p, err := b.scanLow(int(size))
	assert.Error(t, err)
	assert.Nil(t, p)
	assert.Equal(t, lowRegionStart, b.lowBase.Load())

	require.NoError(t, unix.MunmapPtr(blocker, size))

	b.lowBase.Store(lowRegionEnd - page)
	p, err = b.scanLow(int(size))
	require.NoError(t, err)
	defer unix.MunmapPtr(p, size)
	assert.Equal(t, lowRegionStart, uintptr(p))
	assert.Equal(t, lowRegionStart+size, b.lowBase.Load())
}
