// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package stage implements the driver stages: pure functions over the
// signal table, invoked once per engine tick in a fixed order.
package stage

import "github.com/lucid-q/signalengine/signal"

// Remap applies a symmetric deadzone and optional inversion.
type Remap struct {
	Enabled  bool
	Input    uint32
	Output   uint32
	Deadzone int32
	Invert   bool
}

// RunRemap executes every enabled Remap record against tbl.
func RunRemap(tbl *signal.Table, cfgs []Remap, nowUS uint64) {
	for _, c := range cfgs {
		if !c.Enabled {
			continue
		}
		in, ok := tbl.Get(c.Input)
		if !ok {
			continue
		}
		if _, ok := tbl.Get(c.Output); !ok {
			continue
		}
		v := in.Value
		if abs32(v) <= c.Deadzone {
			v = 0
		}
		if c.Invert {
			v = -v
		}
		tbl.Write(c.Output, v, in.Status, nowUS)
	}
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
