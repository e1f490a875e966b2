// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stage

import (
	"sort"

	"github.com/lucid-q/signalengine/signal"
)

// MergeMode selects the voter's reduction function.
type MergeMode int

const (
	MergeMedian MergeMode = iota
	MergeAverage
	MergeMin
	MergeMax
)

// Merge is a redundant-input voter/merger.
type Merge struct {
	Enabled   bool
	Inputs    []uint32 // num_inputs <= 4
	Output    uint32
	Mode      MergeMode
	Tolerance int32 // 0 disables the consistency check
}

// RunMerge executes every enabled Merge record against tbl. It never alters
// the input signals; only the output is written.
func RunMerge(tbl *signal.Table, cfgs []Merge, nowUS uint64) {
	for _, c := range cfgs {
		if !c.Enabled || len(c.Inputs) == 0 {
			continue
		}
		if _, ok := tbl.Get(c.Output); !ok {
			continue
		}
		vals := make([]int32, 0, len(c.Inputs))
		valid := true
		for _, id := range c.Inputs {
			s, ok := tbl.Get(id)
			if !ok {
				valid = false
				break
			}
			vals = append(vals, s.Value)
		}
		if !valid {
			continue
		}

		sorted := append([]int32(nil), vals...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		min, max := sorted[0], sorted[len(sorted)-1]

		var out int32
		switch c.Mode {
		case MergeMedian:
			// Even count: lower middle.
			out = sorted[(len(sorted)-1)/2]
		case MergeAverage:
			var sum int64
			for _, v := range vals {
				sum += int64(v)
			}
			out = int32(sum / int64(len(vals)))
		case MergeMin:
			out = min
		case MergeMax:
			out = max
		}

		status := signal.OK
		if c.Tolerance > 0 && max-min > c.Tolerance {
			status = signal.INCONSISTENT
		}
		tbl.Write(c.Output, out, status, nowUS)
	}
}
