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

// Package memory routes allocations to a pluggable Backend, with a lock-free
// transient arena for short-lived blocks, per-goroutine attribution contexts,
// statistics and an optional leak Tracker.
//
// A process owns one Runtime:
//
//	rt := memory.New(malloc.New(nil), memory.DefaultOption())
//	if err := rt.Initialize(); err != nil {
//		// the backend failed to start, do not allocate
//	}
//	defer rt.Finalize()
//
//	b := rt.Allocate(0, 256, 16, memory.ZeroInitialized)
//	b = rt.Reallocate(b, 512, 16)
//	rt.Deallocate(b)
//
// Lifecycle calls (Initialize, Finalize, SetTracker) must not race with
// allocation activity. Everything else is safe for concurrent use.
package memory

import (
	"log/slog"
	"unsafe"

	"github.com/bytedance/gopkg/util/xxhash3"
	"github.com/cockroachdb/errors"

	"github.com/cloudwego/memsys/internal/memlog"
	"github.com/cloudwego/memsys/memory/align"
)

// Option configures a Runtime.
type Option struct {
	// TemporaryMemory is the size in bytes of the transient arena.
	// 0 disables it.
	TemporaryMemory int

	// ContextDepth is the max depth of a Thread context stack.
	// Pushes beyond it are dropped.
	ContextDepth int

	// Logger receives diagnostics. slog.Default() is used if nil.
	Logger *slog.Logger

	// Assert is called on assertion failures. DefaultAssert is used if nil.
	Assert func(error)
}

// DefaultOption returns the default values of Option.
func DefaultOption() *Option {
	return &Option{
		TemporaryMemory: 0,
		ContextDepth:    32,
	}
}

// Runtime is the allocator of a process.
type Runtime struct {
	opt     Option
	log     memlog.Logger
	backend Backend

	tracker Tracker
	// preinit is installed by the next Initialize
	preinit Tracker

	initialized bool
	stats       Counters
	temp        linearArena
}

// New returns a Runtime over backend. It must be initialized before use.
func New(backend Backend, o *Option) *Runtime {
	if o == nil {
		o = DefaultOption()
	}
	rt := &Runtime{
		opt:     *o,
		log:     memlog.New(o.Logger),
		backend: backend,
		tracker: NoTracker{},
	}
	if rt.opt.Assert == nil {
		rt.opt.Assert = DefaultAssert
	}
	return rt
}

// Initialize starts the backend, sets up the transient arena and installs
// a tracker set before initialization.
func (rt *Runtime) Initialize() error {
	if rt.initialized {
		return ErrInitialized
	}
	if rt.opt.TemporaryMemory < 0 || rt.opt.ContextDepth < 0 {
		return errors.Wrapf(ErrInvalidOption, "temporary memory %d, context depth %d",
			rt.opt.TemporaryMemory, rt.opt.ContextDepth)
	}
	rt.stats.reset()
	if err := rt.backend.Initialize(); err != nil {
		return errors.Wrap(err, "memory: backend initialize")
	}
	if !rt.temp.initialize(rt.backend, rt.opt.TemporaryMemory) {
		rt.backend.Finalize()
		return errors.Wrapf(ErrOutOfMemory, "temporary arena of %d bytes", rt.opt.TemporaryMemory)
	}
	rt.initialized = true
	if t := rt.preinit; t != nil {
		rt.preinit = nil
		rt.SetTracker(t)
	}
	return nil
}

// Finalize reports through the tracker, releases the transient arena and
// finalizes the backend. The tracker is kept and installed again by the next
// Initialize.
func (rt *Runtime) Finalize() {
	if !rt.initialized {
		return
	}
	t := rt.tracker
	rt.tracker = NoTracker{}
	if _, none := t.(NoTracker); !none {
		rt.preinit = t
	}
	t.Finalize()

	rt.temp.finalize(rt.backend)
	if tf, ok := rt.backend.(ThreadFinalizer); ok {
		tf.ThreadFinalize()
	}
	rt.backend.Finalize()
	rt.initialized = false
}

// SetTracker replaces the active tracker. The previous one is aborted and
// finalized. Before Initialize, t is kept and installed by Initialize.
// A nil t disables tracking.
func (rt *Runtime) SetTracker(t Tracker) {
	if t == nil {
		t = NoTracker{}
	}
	old := rt.tracker
	if old == t {
		return
	}
	rt.tracker = NoTracker{}
	old.Abort()
	old.Finalize()

	if !rt.initialized {
		rt.preinit = t
		return
	}
	if err := t.Initialize(&rt.stats); err != nil {
		rt.log.Warnf(memlog.MemoryLeak, "Unable to initialize memory tracker: %v", err)
		return
	}
	rt.tracker = t
}

// Allocate returns a block of size bytes aligned to align (0 for the natural
// pointer alignment), or nil if memory is exhausted.
//
// Temporary blocks small enough for the transient arena are carved from it;
// everything else goes to the backend. ctx is the attribution context, see
// Thread for a goroutine-local stack of contexts.
func (rt *Runtime) Allocate(ctx uint64, size, align int, hint Hint) []byte {
	var b []byte
	if hint&(Temporary|Persistent) == Temporary && rt.temp.enabled() && size >= 0 {
		b = rt.allocateTemporary(size, align, hint)
	}
	if b == nil {
		b = rt.backend.Allocate(ctx, size, align, hint)
	}
	if b != nil {
		rt.tracker.Track(blockAddr(b), size, ctx)
	}
	return b
}

func (rt *Runtime) allocateTemporary(size, alignment int, hint Hint) []byte {
	a := align.For(alignment)
	if size+a >= rt.temp.maxChunk {
		return nil
	}
	p := rt.temp.allocate(size + a)
	p = unsafe.Add(p, align.Offset(uintptr(p), a))
	b := unsafe.Slice((*byte)(p), size)
	if hint&ZeroInitialized != 0 {
		clear(b)
	}
	return b
}

// Reallocate resizes b to size bytes, keeping the first min(size, len(b))
// bytes. b must be a block returned by this Runtime, or nil.
//
// Transient blocks cannot be reallocated: it's reported to the assertion
// hook, then served with a new backend block.
func (rt *Runtime) Reallocate(b []byte, size, align int) []byte {
	addr := blockAddr(b)
	if rt.temp.contains(addr) {
		rt.opt.Assert(errors.AssertionFailedf("memory: reallocate of temporary block %#x", addr))
		nb := rt.backend.Allocate(0, size, align, 0)
		if nb == nil {
			return nil
		}
		copy(nb, b)
		rt.tracker.Untrack(addr)
		rt.tracker.Track(blockAddr(nb), size, 0)
		return nb
	}
	rt.tracker.Untrack(addr)
	nb := rt.backend.Reallocate(b, size, align)
	rt.tracker.Track(blockAddr(nb), size, 0)
	return nb
}

// Deallocate releases b. Transient blocks are only untracked.
func (rt *Runtime) Deallocate(b []byte) {
	addr := blockAddr(b)
	if addr == 0 {
		return
	}
	// untracked first, the backend may hand the address out again right away
	rt.tracker.Untrack(addr)
	if !rt.temp.contains(addr) {
		rt.backend.Deallocate(b)
	}
}

// Statistics returns a snapshot of the allocation counters. They are
// maintained by the active tracker.
func (rt *Runtime) Statistics() Statistics {
	return rt.stats.Snapshot()
}

// Temporary describes the transient arena.
func (rt *Runtime) Temporary() TemporaryInfo {
	return rt.temp.info()
}

// IsTemporary reports whether b was carved from the transient arena.
func (rt *Runtime) IsTemporary(b []byte) bool {
	return rt.temp.contains(blockAddr(b))
}

// Backend returns the backend of rt.
func (rt *Runtime) Backend() Backend {
	return rt.backend
}

// ContextID hashes a context name into an attribution identifier.
// It never returns 0, which means "unattributed".
func ContextID(name string) uint64 {
	if h := xxhash3.HashString(name); h != 0 {
		return h
	}
	return 1
}

func blockAddr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
