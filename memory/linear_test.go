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

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/memsys/memory/align"
)

func TestLinearArenaDisabled(t *testing.T) {
	var a linearArena
	require.True(t, a.initialize(newFakeBackend(), 0))
	assert.False(t, a.enabled())
	assert.False(t, a.contains(1))
	assert.Equal(t, TemporaryInfo{}, a.info())
}

func TestLinearArenaOutOfMemory(t *testing.T) {
	be := newFakeBackend()
	be.fail = true
	var a linearArena
	assert.False(t, a.initialize(be, 1024))
	assert.False(t, a.enabled())
}

func TestLinearArenaWrap(t *testing.T) {
	be := newFakeBackend()
	var a linearArena
	require.True(t, a.initialize(be, 256))
	assert.Equal(t, TemporaryInfo{Size: 256, MaxChunk: 32, Head: temporaryReserved}, a.info())
	assert.Zero(t, a.start%uintptr(align.For(TemporaryAlign)))

	const chunk = 24
	wrapped := false
	prev := uintptr(0)
	for i := 0; i < 40; i++ {
		p := uintptr(a.allocate(chunk))
		assert.True(t, a.contains(p))
		assert.GreaterOrEqual(t, p, a.start+temporaryReserved)
		assert.LessOrEqual(t, p+chunk, a.end)
		if p < prev {
			wrapped = true
			assert.Equal(t, a.start+temporaryReserved, p)
		}
		prev = p
	}
	assert.True(t, wrapped)

	a.finalize(be)
	assert.False(t, a.enabled())
	assert.Zero(t, be.liveCount())
}

func TestLinearArenaConcurrent(t *testing.T) {
	const (
		workers = 8
		perG    = 100
		chunk   = 64
	)
	var a linearArena
	require.True(t, a.initialize(newFakeBackend(), 1<<20))

	var (
		mu   sync.Mutex
		offs []uintptr
		wg   sync.WaitGroup
	)
	for g := 0; g < workers; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uintptr, 0, perG)
			for i := 0; i < perG; i++ {
				local = append(local, uintptr(a.allocate(chunk))-a.start)
			}
			mu.Lock()
			offs = append(offs, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, offs, workers*perG)
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
	assert.Equal(t, uintptr(temporaryReserved), offs[0])
	for i := 1; i < len(offs); i++ {
		assert.GreaterOrEqual(t, offs[i], offs[i-1]+chunk)
	}
	assert.Equal(t, temporaryReserved+workers*perG*chunk, a.info().Head)
}
