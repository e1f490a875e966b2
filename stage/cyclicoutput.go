// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stage

import "github.com/lucid-q/signalengine/signal"

// OutputKind tags the dispatch sink an OutputEvent targets.
type OutputKind int

const (
	OutputCAN OutputKind = iota
	OutputGPIO
	OutputPWM
	OutputJ1939
	OutputCANopen
)

// OutputEvent is produced by CyclicOutput and consumed by the engine's
// dispatch function.
type OutputEvent struct {
	Kind        OutputKind
	TargetID    uint32
	Value       int32
	TimestampUS uint64
}

// CyclicOutput periodically mirrors a source signal to an output sink.
type CyclicOutput struct {
	Enabled bool

	SourceSignal uint32
	Kind         OutputKind
	TargetID     uint32
	PeriodUS     uint64

	// state
	nextDeadline uint64
	armed        bool
}

// RunCyclicOutput executes every enabled record, appending an OutputEvent to
// out for every record whose deadline has elapsed, and returns the updated
// slice. Disabled records are skipped and never advance their deadline.
func RunCyclicOutput(tbl *signal.Table, cfgs []*CyclicOutput, nowUS uint64, out []OutputEvent) []OutputEvent {
	for _, c := range cfgs {
		if !c.Enabled {
			continue
		}
		if !c.armed {
			c.nextDeadline = nowUS
			c.armed = true
		}
		s, ok := tbl.Get(c.SourceSignal)
		if !ok {
			continue
		}
		if nowUS >= c.nextDeadline {
			out = append(out, OutputEvent{Kind: c.Kind, TargetID: c.TargetID, Value: s.Value, TimestampUS: nowUS})
			c.nextDeadline = nowUS + c.PeriodUS
		}
	}
	return out
}
