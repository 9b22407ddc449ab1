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
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/cloudwego/memsys/memory"
)

type stressOptions struct {
	goroutines     int
	iterations     int
	maxSize        int
	temporaryRatio float64
	seed           uint64
}

func newStressCmd(g *globalOptions) *cobra.Command {
	o := &stressOptions{}
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a concurrent allocation workload",
		Long: `The stress command runs goroutines allocating, resizing and freeing blocks
of random sizes and alignments, each under its own attribution context, then
prints the runtime statistics. Statistics are kept by the tracker, use --track
to get them.

Example:
  memctl stress --goroutines 16 --iterations 100000
  memctl stress --track --guard --temporary-ratio 0.5
  memctl stress --backend offheap --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(cmd, g, o)
		},
	}
	f := cmd.Flags()
	f.IntVar(&o.goroutines, "goroutines", 8, "Number of allocating goroutines")
	f.IntVar(&o.iterations, "iterations", 10000, "Allocations per goroutine")
	f.IntVar(&o.maxSize, "max-size", 4096, "Largest block size in bytes")
	f.Float64Var(&o.temporaryRatio, "temporary-ratio", 0.25, "Share of allocations hinted as temporary")
	f.Uint64Var(&o.seed, "seed", 1, "Seed of the workload")
	return cmd
}

type stressReport struct {
	Backend         string               `json:"backend"`
	Goroutines      int                  `json:"goroutines"`
	Iterations      int                  `json:"iterations"`
	Elapsed         time.Duration        `json:"elapsed_ns"`
	TemporaryBlocks int64                `json:"temporary_blocks"`
	Temporary       memory.TemporaryInfo `json:"temporary"`
	Statistics      memory.Statistics    `json:"statistics"`
}

func runStress(cmd *cobra.Command, g *globalOptions, o *stressOptions) error {
	if o.goroutines <= 0 || o.iterations < 0 || o.maxSize <= 0 {
		return errors.Newf("invalid workload: %d goroutines, %d iterations, max size %d",
			o.goroutines, o.iterations, o.maxSize)
	}
	rt, _, err := g.newRuntime(cmd.ErrOrStderr(), nil)
	if err != nil {
		return err
	}
	defer rt.Finalize()

	var (
		wg    sync.WaitGroup
		temps atomic.Int64
	)
	start := time.Now()
	for w := 0; w < o.goroutines; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			temps.Add(stressWorker(rt, w, o))
		}(w)
	}
	wg.Wait()

	r := stressReport{
		Backend:         g.backend,
		Goroutines:      o.goroutines,
		Iterations:      o.iterations,
		Elapsed:         time.Since(start),
		TemporaryBlocks: temps.Load(),
		Temporary:       rt.Temporary(),
		Statistics:      rt.Statistics(),
	}
	out := cmd.OutOrStdout()
	if g.jsonOut {
		return printJSON(out, r)
	}
	s := r.Statistics
	fmt.Fprintf(out, "backend:     %s\n", r.Backend)
	fmt.Fprintf(out, "workload:    %d goroutines x %d iterations in %v\n", r.Goroutines, r.Iterations, r.Elapsed)
	fmt.Fprintf(out, "allocations: %d total, %d live\n", s.AllocationsTotal, s.AllocationsCurrent)
	fmt.Fprintf(out, "bytes:       %d total, %d live\n", s.AllocatedTotal, s.AllocatedCurrent)
	if r.Temporary.Size > 0 {
		fmt.Fprintf(out, "temporary:   %d blocks from a %d byte arena, max chunk %d\n",
			r.TemporaryBlocks, r.Temporary.Size, r.Temporary.MaxChunk)
	}
	return nil
}

// stressWorker runs one goroutine of the workload and returns the number of
// blocks served by the transient arena.
func stressWorker(rt *memory.Runtime, id int, o *stressOptions) int64 {
	th := rt.Thread()
	defer th.Finalize()
	th.Push(memory.ContextID(fmt.Sprintf("worker-%d", id)))
	defer th.Pop()

	rng := rand.New(rand.NewPCG(o.seed, uint64(id)))
	live := make([][]byte, 0, 64)
	var temps int64
	for i := 0; i < o.iterations; i++ {
		var hint memory.Hint
		if rng.Float64() < o.temporaryRatio {
			hint |= memory.Temporary
		}
		if i%4 == 0 {
			hint |= memory.ZeroInitialized
		}
		b := th.Allocate(0, 1+rng.IntN(o.maxSize), 1<<rng.IntN(5), hint)
		if b == nil {
			continue
		}
		b[0] = byte(i)
		if rt.IsTemporary(b) {
			temps++
			rt.Deallocate(b)
			continue
		}
		live = append(live, b)
		if len(live) < cap(live) {
			continue
		}
		for j, blk := range live {
			if j%2 == 0 {
				blk = rt.Reallocate(blk, 2*len(blk), 0)
			}
			rt.Deallocate(blk)
		}
		live = live[:0]
	}
	for _, b := range live {
		rt.Deallocate(b)
	}
	return temps
}
