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

package main

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/cloudwego/memsys/internal/memlog"
	"github.com/cloudwego/memsys/memory"
	"github.com/cloudwego/memsys/memory/buddy"
	"github.com/cloudwego/memsys/memory/malloc"
	"github.com/cloudwego/memsys/memory/offheap"
	"github.com/cloudwego/memsys/memory/tracker"
)

// globalOptions are the flags shared by every command.
type globalOptions struct {
	backend      string
	arenaSize    int
	maxBlock     int
	guard        bool
	temporary    int
	contextDepth int
	track        bool
	maxTracked   int
	logLevel     string
	jsonOut      bool
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "memctl",
		Short: "Exercise the memory runtime",
		Long: `memctl drives the memory runtime with synthetic workloads. It runs
concurrent allocation stress tests against a backend and reports the leaks
found by the tracker.`,
		SilenceUsage: true,
	}
	f := cmd.PersistentFlags()
	f.StringVar(&g.backend, "backend", "malloc", "Backend to allocate from: malloc, offheap or buddy")
	f.IntVar(&g.arenaSize, "arena-size", buddy.DefaultOption().ArenaSize, "Arena size in bytes of the buddy backend")
	f.IntVar(&g.maxBlock, "max-block", buddy.DefaultOption().MaxBlock,
		"Largest block of the buddy backend, raised to hold the transient arena")
	f.BoolVar(&g.guard, "guard", false, "Bracket blocks with guard canaries (malloc backend)")
	f.IntVar(&g.temporary, "temporary", 1<<20, "Size of the transient arena in bytes, 0 to disable")
	f.IntVar(&g.contextDepth, "context-depth", 32, "Max depth of the per-goroutine context stack")
	f.BoolVar(&g.track, "track", false, "Install the leak tracker")
	f.IntVar(&g.maxTracked, "max-tracked", tracker.DefaultOption().MaxTracked, "Number of blocks the tracker can record")
	f.StringVar(&g.logLevel, "log-level", "warn", "Minimum level of runtime diagnostics: debug, info, warn or error")
	f.BoolVar(&g.jsonOut, "json", false, "Output in JSON format")

	cmd.AddCommand(newStressCmd(g), newLeaksCmd(g))
	return cmd
}

func (g *globalOptions) logger(w io.Writer) (*slog.Logger, error) {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(g.logLevel)); err != nil {
		return nil, errors.Wrapf(err, "invalid --log-level %q", g.logLevel)
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv, ReplaceAttr: memlog.ReplaceLevel})
	return slog.New(h), nil
}

func (g *globalOptions) newBackend(logger *slog.Logger) (memory.Backend, error) {
	if g.backend == "malloc" {
		return malloc.New(&malloc.Option{Guard: g.guard, Logger: logger}), nil
	}
	if g.guard {
		return nil, errors.New("--guard is only supported by the malloc backend")
	}
	switch g.backend {
	case "offheap":
		return offheap.New(&offheap.Option{Logger: logger}), nil
	case "buddy":
		o := buddy.DefaultOption()
		o.ArenaSize = g.arenaSize
		o.MaxBlock = g.maxBlock
		o.Logger = logger
		// the transient arena is a single block
		if g.temporary > 0 && o.MaxBlock > 0 {
			for o.MaxBlock < buddy.BlockSize(g.temporary, memory.TemporaryAlign) {
				o.MaxBlock <<= 1
			}
		}
		return buddy.New(o), nil
	}
	return nil, errors.Newf("unknown backend %q", g.backend)
}

// newRuntime builds and initializes a runtime from the flags, logging to
// errOut. The tracker is nil unless --track is set or onLeak is given.
func (g *globalOptions) newRuntime(errOut io.Writer, onLeak func(tracker.Leak)) (*memory.Runtime, *tracker.Local, error) {
	logger, err := g.logger(errOut)
	if err != nil {
		return nil, nil, err
	}
	be, err := g.newBackend(logger)
	if err != nil {
		return nil, nil, err
	}
	rt := memory.New(be, &memory.Option{
		TemporaryMemory: g.temporary,
		ContextDepth:    g.contextDepth,
		Logger:          logger,
	})
	var tr *tracker.Local
	if g.track || onLeak != nil {
		tr = tracker.New(&tracker.Option{MaxTracked: g.maxTracked, Logger: logger, OnLeak: onLeak})
		rt.SetTracker(tr)
	}
	if err := rt.Initialize(); err != nil {
		return nil, nil, errors.Wrap(err, "initialize runtime")
	}
	return rt, tr, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
