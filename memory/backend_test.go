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
	"sync"
	"unsafe"

	"github.com/cloudwego/memsys/memory/align"
)

// fakeBackend hands out GC memory and keeps count of what it did.
type fakeBackend struct {
	mu      sync.Mutex
	live    map[uintptr][]byte
	events  []string
	initErr error
	fail    bool

	threadFinalized int
}

var (
	_ Backend         = (*fakeBackend)(nil)
	_ ThreadFinalizer = (*fakeBackend)(nil)
)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{live: make(map[uintptr][]byte)}
}

func (f *fakeBackend) record(ev string) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeBackend) Initialize() error {
	f.record("initialize")
	return f.initErr
}

func (f *fakeBackend) Finalize() { f.record("finalize") }

func (f *fakeBackend) ThreadFinalize() {
	f.record("thread-finalize")
	f.mu.Lock()
	f.threadFinalized++
	f.mu.Unlock()
}

func (f *fakeBackend) Allocate(_ uint64, size, alignment int, hint Hint) []byte {
	if f.fail || size < 0 {
		return nil
	}
	a := align.For(alignment)
	buf := make([]byte, size+a)
	off := align.Offset(uintptr(unsafe.Pointer(&buf[0])), a)
	b := buf[off : off+size : off+size]
	f.mu.Lock()
	f.live[blockAddr(b)] = b
	f.mu.Unlock()
	return b
}

func (f *fakeBackend) Reallocate(b []byte, size, alignment int) []byte {
	nb := f.Allocate(0, size, alignment, 0)
	if nb == nil {
		panic(ErrOutOfMemory)
	}
	copy(nb, b)
	f.Deallocate(b)
	return nb
}

func (f *fakeBackend) Deallocate(b []byte) {
	if b == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.live[blockAddr(b)]; !ok {
		panic("fakeBackend: unknown block")
	}
	delete(f.live, blockAddr(b))
}

func (f *fakeBackend) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// recordTracker logs the calls it gets and keeps the statistics.
type recordTracker struct {
	mu      sync.Mutex
	stats   *Counters
	calls   []string
	sizes   map[uintptr]int
	ctxs    map[uintptr]uint64
	initErr error
}

var _ Tracker = (*recordTracker)(nil)

func (r *recordTracker) call(name string) {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.mu.Unlock()
}

func (r *recordTracker) Initialize(stats *Counters) error {
	r.call("initialize")
	if r.initErr != nil {
		return r.initErr
	}
	r.mu.Lock()
	r.stats = stats
	r.sizes = make(map[uintptr]int)
	r.ctxs = make(map[uintptr]uint64)
	r.mu.Unlock()
	return nil
}

func (r *recordTracker) Track(addr uintptr, size int, ctx uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizes[addr] = size
	r.ctxs[addr] = ctx
	r.stats.Add(size)
}

func (r *recordTracker) Untrack(addr uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if size, ok := r.sizes[addr]; ok {
		delete(r.sizes, addr)
		r.stats.Remove(size)
	}
}

func (r *recordTracker) Abort()    { r.call("abort") }
func (r *recordTracker) Finalize() { r.call("finalize") }

func (r *recordTracker) history() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}
