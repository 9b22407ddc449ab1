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
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/cloudwego/memsys/memory"
	"github.com/cloudwego/memsys/memory/tracker"
)

type leaksOptions struct {
	count   int
	size    int
	context string
	traces  bool
}

func newLeaksCmd(g *globalOptions) *cobra.Command {
	o := &leaksOptions{}
	cmd := &cobra.Command{
		Use:   "leaks",
		Short: "Leak blocks on purpose and show the tracker report",
		Long: `The leaks command allocates blocks it never frees, finalizes the runtime
and prints what the tracker reported. The tracker is always installed.

Example:
  memctl leaks --count 3 --size 128
  memctl leaks --traces --guard`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLeaks(cmd, g, o)
		},
	}
	f := cmd.Flags()
	f.IntVar(&o.count, "count", 1, "Number of blocks to leak")
	f.IntVar(&o.size, "size", 64, "Size of the leaked blocks in bytes")
	f.StringVar(&o.context, "context", "memctl", "Attribution context of the leaked blocks")
	f.BoolVar(&o.traces, "traces", false, "Print the allocation stack of every leak")
	return cmd
}

type leakReport struct {
	Count int            `json:"count"`
	Bytes int            `json:"bytes"`
	Leaks []tracker.Leak `json:"leaks"`
}

//go:noinline
func leakBlock(th *memory.Thread, size int) {
	th.Allocate(0, size, 0, 0)
}

func runLeaks(cmd *cobra.Command, g *globalOptions, o *leaksOptions) error {
	if o.count < 0 || o.size < 0 {
		return errors.Newf("invalid leak: %d blocks of %d bytes", o.count, o.size)
	}
	var leaks []tracker.Leak
	rt, _, err := g.newRuntime(cmd.ErrOrStderr(), func(l tracker.Leak) { leaks = append(leaks, l) })
	if err != nil {
		return err
	}

	th := rt.Thread()
	th.Push(memory.ContextID(o.context))
	for i := 0; i < o.count; i++ {
		leakBlock(th, o.size)
	}
	rt.Deallocate(th.Allocate(0, o.size, 0, 0))
	th.Pop()
	th.Finalize()
	rt.Finalize()

	sort.Slice(leaks, func(i, j int) bool { return leaks[i].Tag < leaks[j].Tag })
	r := leakReport{Count: len(leaks), Leaks: leaks}
	for _, l := range leaks {
		r.Bytes += l.Size
	}
	out := cmd.OutOrStdout()
	if g.jsonOut {
		return printJSON(out, r)
	}
	fmt.Fprintf(out, "%d leaked blocks, %d bytes\n", r.Count, r.Bytes)
	for _, l := range leaks {
		fmt.Fprintf(out, "  %d bytes @ 0x%x : tag %d, context 0x%x\n", l.Size, l.Addr, l.Tag, l.Context)
		if o.traces {
			for _, line := range strings.Split(strings.TrimRight(l.Trace, "\n"), "\n") {
				fmt.Fprintf(out, "    %s\n", line)
			}
		}
	}
	return nil
}
