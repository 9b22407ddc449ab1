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
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/memsys/memory"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestStress(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "malloc", args: []string{"stress", "--track", "--goroutines", "4", "--iterations", "500"}},
		{name: "guard", args: []string{"stress", "--track", "--guard", "--goroutines", "2", "--iterations", "300"}},
		{name: "offheap", args: []string{"stress", "--track", "--backend", "offheap", "--iterations", "300"}},
		{name: "buddy", args: []string{"stress", "--track", "--backend", "buddy", "--arena-size", "16777216", "--iterations", "300"}},
		{name: "buddy defaults", args: []string{"stress", "--track", "--backend", "buddy", "--iterations", "300"}},
		{name: "buddy max block raised", args: []string{"stress", "--track", "--backend", "buddy", "--max-block", "65536", "--iterations", "300"}},
		{name: "no arena", args: []string{"stress", "--track", "--temporary", "0", "--iterations", "300"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut, err := run(t, tt.args...)
			require.NoError(t, err, errOut)
			assert.Contains(t, out, "allocations:")
			// the tracker table is the only live allocation
			assert.Contains(t, out, "total, 1 live")
			assert.NotContains(t, errOut, "Memory leak")
		})
	}
}

func TestStressJSON(t *testing.T) {
	out, _, err := run(t, "stress", "--track", "--json", "--goroutines", "2", "--iterations", "1000",
		"--temporary-ratio", "1")
	require.NoError(t, err)

	var r stressReport
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, "malloc", r.Backend)
	assert.Positive(t, r.TemporaryBlocks)
	assert.Equal(t, 1<<20, r.Temporary.Size)
	assert.Equal(t, int64(1), r.Statistics.AllocationsCurrent)
	assert.Positive(t, r.Statistics.AllocationsTotal)
}

func TestLeaks(t *testing.T) {
	out, errOut, err := run(t, "leaks", "--count", "3", "--size", "100", "--context", "unit", "--traces")
	require.NoError(t, err)
	assert.Contains(t, out, "3 leaked blocks, 300 bytes")
	assert.Contains(t, out, fmt.Sprintf("context 0x%x", memory.ContextID("unit")))
	assert.Regexp(t, `\[0\] \S+\.leakBlock\n`, out)
	assert.NotContains(t, out, "(*Thread).Allocate")
	assert.Equal(t, 3, bytes.Count([]byte(errOut), []byte("Memory leak: 100 bytes")))
}

func TestLeaksJSON(t *testing.T) {
	out, _, err := run(t, "leaks", "--json", "--count", "2", "--log-level", "error")
	require.NoError(t, err)
	var r leakReport
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, 2, r.Count)
	assert.Equal(t, 128, r.Bytes)
	require.Len(t, r.Leaks, 2)
	assert.Less(t, r.Leaks[0].Tag, r.Leaks[1].Tag)
}

func TestInvalidFlags(t *testing.T) {
	_, _, err := run(t, "stress", "--backend", "nope")
	assert.ErrorContains(t, err, "unknown backend")
	_, _, err = run(t, "stress", "--backend", "offheap", "--guard")
	assert.ErrorContains(t, err, "--guard")
	_, _, err = run(t, "leaks", "--log-level", "loud")
	assert.ErrorContains(t, err, "--log-level")
	_, _, err = run(t, "stress", "--goroutines", "0")
	assert.ErrorContains(t, err, "invalid workload")
	_, _, err = run(t, "stress", "--backend", "buddy", "--max-block", "1000")
	assert.ErrorContains(t, err, "invalid option")
	_, _, err = run(t, "stress", "--backend", "buddy", "--arena-size", "1048576", "--temporary", "1048576")
	assert.ErrorContains(t, err, "invalid option")
	_, _, err = run(t, "stress", "--temporary", "-1")
	assert.ErrorContains(t, err, "invalid option")
}
