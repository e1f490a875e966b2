// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stage

import "github.com/lucid-q/signalengine/signal"

// sixStepTable maps a 3-bit Hall sensor pattern (bit0=A, bit1=B, bit2=C) to
// the commutation step (1-6), 0 for the two impossible/illegal patterns
// (000 and 111) that indicate a disconnected or shorted sensor.
var sixStepTable = [8]int32{0, 1, 3, 2, 5, 6, 4, 0}

// Commutator is the BLDC six-step trapezoidal commutator, built as a table
// lookup: it reads a Hall sensor pattern signal and publishes the active
// commutation step.
type Commutator struct {
	Enabled bool

	HallSignal uint32 // 3-bit Hall pattern packed into Signal.Value
	StepOutput uint32 // published commutation step, 0..6 (0 == fault)
}

// RunCommutator executes every enabled record against tbl.
func RunCommutator(tbl *signal.Table, cfgs []Commutator, nowUS uint64) {
	for _, c := range cfgs {
		if !c.Enabled {
			continue
		}
		hall, ok := tbl.Get(c.HallSignal)
		if !ok {
			continue
		}
		if _, ok := tbl.Get(c.StepOutput); !ok {
			continue
		}
		pattern := hall.Value & 0x7
		step := sixStepTable[pattern]
		status := signal.OK
		if step == 0 {
			status = signal.OUT_OF_RANGE
		}
		tbl.Write(c.StepOutput, step, status, nowUS)
	}
}
