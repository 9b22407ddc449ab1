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

// Package tracker implements a fixed-size, lock-free memory.Tracker that
// records the call stack of every live block and reports the ones still live
// when it is finalized.
//
// The table holds Option.MaxTracked blocks. Tracking is best effort: when
// every slot is taken, new blocks go unrecorded and only show up in the
// allocation totals.
package tracker

import (
	"log/slog"
	"reflect"
	"strings"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/cloudwego/memsys/internal/memlog"
	"github.com/cloudwego/memsys/memory"
	"github.com/cloudwego/memsys/memory/stacktrace"
)

const traceDepth = 14

// runtimePrefix prefixes the functions of package memory. Blocks allocated
// through a Thread carry its frames on top of the caller's.
var runtimePrefix = reflect.TypeFor[memory.Runtime]().PkgPath() + "."

func runtimeFrame(function string) bool {
	return strings.HasPrefix(function, runtimePrefix)
}

// Option configures a Local tracker.
type Option struct {
	// MaxTracked is the number of slots of the table.
	MaxTracked int

	// NoStacks disables call stack capture.
	NoStacks bool

	// Logger receives leak reports. slog.Default() is used if nil.
	Logger *slog.Logger

	// OnLeak is called for every leaked block found by Finalize,
	// after it is logged.
	OnLeak func(Leak)
}

// DefaultOption returns the default values of Option.
func DefaultOption() *Option {
	return &Option{
		MaxTracked: 32768,
	}
}

// Leak describes a block still tracked.
type Leak struct {
	Addr    uintptr
	Size    int
	Context uint64
	Tag     int    // slot index
	Trace   string // resolved call stack of the allocation
}

type slot struct {
	addr atomic.Uintptr
	// written by the goroutine that claimed addr
	size  int
	ctx   uint64
	trace [traceDepth]uintptr
}

// Local is a memory.Tracker keeping its table in process memory.
type Local struct {
	opt Option
	log memlog.Logger

	initialized bool
	stats       *memory.Counters
	slots       []slot
	next        atomic.Uint32
}

var _ memory.Tracker = (*Local)(nil)

// New returns a Local tracker. Install it with memory.Runtime.SetTracker.
func New(o *Option) *Local {
	if o == nil {
		o = DefaultOption()
	}
	return &Local{
		opt: *o,
		log: memlog.New(o.Logger),
	}
}

func (l *Local) tableSize() int {
	return len(l.slots) * int(unsafe.Sizeof(slot{}))
}

// Initialize implements memory.Tracker. The table counts as one allocation
// in stats.
func (l *Local) Initialize(stats *memory.Counters) error {
	if l.initialized {
		return nil
	}
	if l.opt.MaxTracked <= 0 || l.opt.MaxTracked > 1<<30 {
		return errors.Wrapf(memory.ErrInvalidOption, "tracker: max tracked %d", l.opt.MaxTracked)
	}
	l.stats = stats
	l.slots = make([]slot, l.opt.MaxTracked)
	l.next.Store(0)
	l.stats.Add(l.tableSize())
	l.initialized = true
	return nil
}

// Track implements memory.Tracker.
//
// Slots are claimed round robin from a shared cursor. A slot still holding a
// live block is skipped; after two rounds without a free slot the block is
// only counted.
func (l *Local) Track(addr uintptr, size int, ctx uint64) {
	if addr == 0 || !l.initialized {
		return
	}
	limit := uint32(len(l.slots))
	for loop := 0; loop < 2*len(l.slots); loop++ {
		tag := l.next.Add(1) - 1
		for tag >= limit {
			wrapped := tag % limit
			if l.next.CompareAndSwap(tag+1, wrapped+1) {
				tag = wrapped
			} else {
				tag = l.next.Add(1) - 1
			}
		}
		s := &l.slots[tag]
		if s.addr.CompareAndSwap(0, addr) {
			s.size = size
			s.ctx = ctx
			if l.opt.NoStacks {
				s.trace[0] = 0
			} else {
				// skip Track and the memory.Runtime method calling it
				stacktrace.Capture(s.trace[:], 2)
			}
			break
		}
	}
	l.stats.Add(size)
}

// Untrack implements memory.Tracker.
//
// The table is scanned backwards from the cursor, so recent blocks are found
// first. Unknown addresses are ignored.
func (l *Local) Untrack(addr uintptr) {
	if addr == 0 || !l.initialized {
		return
	}
	limit := uint32(len(l.slots))
	end := l.next.Load() % limit
	i := limit - 1
	if end > 0 {
		i = end - 1
	}
	for {
		s := &l.slots[i]
		if s.addr.Load() == addr {
			size := s.size
			if s.addr.CompareAndSwap(addr, 0) {
				l.stats.Remove(size)
			}
			return
		}
		if i == end {
			return
		}
		if i > 0 {
			i--
		} else {
			i = limit - 1
		}
	}
}

// Live returns the blocks currently tracked. The result is only consistent
// when no allocation is in flight.
func (l *Local) Live() []Leak {
	if !l.initialized {
		return nil
	}
	var out []Leak
	for i := range l.slots {
		s := &l.slots[i]
		addr := s.addr.Load()
		if addr == 0 {
			continue
		}
		out = append(out, Leak{
			Addr:    addr,
			Size:    s.size,
			Context: s.ctx,
			Tag:     i,
			Trace:   stacktrace.ResolveFunc(s.trace[:], runtimeFrame),
		})
	}
	return out
}

// Abort implements memory.Tracker.
func (l *Local) Abort() {
	l.cleanup()
}

// Finalize implements memory.Tracker. Every block still tracked is logged as
// a leak and passed to Option.OnLeak.
func (l *Local) Finalize() {
	for _, leak := range l.Live() {
		l.log.Warnf(memlog.MemoryLeak, "Memory leak: %d bytes @ 0x%x : tag %d : context %#x\n%s",
			leak.Size, leak.Addr, leak.Tag, leak.Context, leak.Trace)
		if l.opt.OnLeak != nil {
			l.opt.OnLeak(leak)
		}
	}
	l.cleanup()
}

func (l *Local) cleanup() {
	if !l.initialized {
		return
	}
	l.initialized = false
	l.stats.Remove(l.tableSize())
	l.slots = nil
	l.stats = nil
}
