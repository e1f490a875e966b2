// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stage

import (
	"math"
	"testing"

	"github.com/lucid-q/signalengine/signal"
)

func TestRemapDeadzoneAndInvert(t *testing.T) {
	tbl := signal.NewTable()
	tbl.Write(0, 5, signal.OK, 1)
	tbl.Write(1, 0, signal.OK, 1)
	RunRemap(tbl, []Remap{{Enabled: true, Input: 0, Output: 1, Deadzone: 10, Invert: true}}, 2)
	s, _ := tbl.Get(1)
	if s.Value != 0 {
		t.Fatalf("within deadzone should output 0, got %d", s.Value)
	}

	tbl.Write(0, 50, signal.OK, 3)
	RunRemap(tbl, []Remap{{Enabled: true, Input: 0, Output: 1, Deadzone: 10, Invert: true}}, 4)
	s, _ = tbl.Get(1)
	if s.Value != -50 {
		t.Fatalf("inverted pass-through = %d, want -50", s.Value)
	}
}

func TestScaleSaturatesBeforeClamp(t *testing.T) {
	tbl := signal.NewTable()
	tbl.Write(0, math.MaxInt32, signal.OK, 1)
	tbl.Write(1, 0, signal.OK, 1)
	RunScale(tbl, []Scale{{Enabled: true, Input: 0, Output: 1, ScaleFactor: 2000, Offset: 0}}, 2)
	s, _ := tbl.Get(1)
	if s.Value != math.MaxInt32 {
		t.Fatalf("overflow should saturate to MaxInt32, got %d", s.Value)
	}
}

func TestScaleClampRejectedAtAdd(t *testing.T) {
	if err := ValidateScale(Scale{HasClampMin: true, ClampMin: 10, HasClampMax: true, ClampMax: 5}); err == nil {
		t.Fatal("inverted clamp range should be rejected")
	}
}

// voter median.
func TestMergeMedianAndTolerance(t *testing.T) {
	tbl := signal.NewTable()
	tbl.Write(0, 100, signal.OK, 1)
	tbl.Write(1, 110, signal.OK, 1)
	tbl.Write(2, 105, signal.OK, 1)
	tbl.Write(3, 0, signal.OK, 1)
	RunMerge(tbl, []Merge{{Enabled: true, Inputs: []uint32{0, 1, 2}, Output: 3, Mode: MergeMedian, Tolerance: 50}}, 2)
	s, _ := tbl.Get(3)
	if s.Value != 105 || s.Status != signal.OK {
		t.Fatalf("median = %d, status=%v; want 105, OK", s.Value, s.Status)
	}

	tbl.Write(1, 200, signal.OK, 3)
	RunMerge(tbl, []Merge{{Enabled: true, Inputs: []uint32{0, 1, 2}, Output: 3, Mode: MergeMedian, Tolerance: 50}}, 4)
	s, _ = tbl.Get(3)
	if s.Status != signal.INCONSISTENT {
		t.Fatalf("status = %v, want INCONSISTENT", s.Status)
	}
}

func TestMergeMedianEvenCountLowerMiddle(t *testing.T) {
	tbl := signal.NewTable()
	tbl.Write(0, 10, signal.OK, 1)
	tbl.Write(1, 20, signal.OK, 1)
	tbl.Write(2, 30, signal.OK, 1)
	tbl.Write(3, 40, signal.OK, 1)
	tbl.Write(4, 0, signal.OK, 1)
	RunMerge(tbl, []Merge{{Enabled: true, Inputs: []uint32{0, 1, 2, 3}, Output: 4, Mode: MergeMedian}}, 2)
	s, _ := tbl.Get(4)
	if s.Value != 20 {
		t.Fatalf("even-count median = %d, want 20 (lower middle)", s.Value)
	}
}

// PID anti-windup.
func TestPIDAntiWindup(t *testing.T) {
	tbl := signal.NewTable()
	tbl.Write(0, 0, signal.OK, 0) // measurement
	tbl.Write(1, 0, signal.OK, 0) // output
	p := &PID{
		Enabled: true, Setpoint: 100000, Measurement: 0, Output: 1,
		KP: 0, KI: 1000, KD: 0,
		SampleTimeUS: 1000, IntegralMin: -1000, IntegralMax: 1000,
		OutputMin: -1000, OutputMax: 1000,
	}
	now := uint64(0)
	RunPID(tbl, []*PID{p}, now) // first tick: capture only
	for i := 0; i < 50; i++ {
		now += 1000
		RunPID(tbl, []*PID{p}, now)
		if p.integral < p.IntegralMin || p.integral > p.IntegralMax {
			t.Fatalf("integral %d out of [%d,%d]", p.integral, p.IntegralMin, p.IntegralMax)
		}
	}
}

func TestPIDDeadbandHoldsIntegral(t *testing.T) {
	tbl := signal.NewTable()
	tbl.Write(0, 99, signal.OK, 0)
	tbl.Write(1, 0, signal.OK, 0)
	p := &PID{
		Enabled: true, Setpoint: 100, Measurement: 0, Output: 1,
		KP: 1000, KI: 1000, KD: 0, Deadband: 5,
		SampleTimeUS: 1000, IntegralMin: -100000, IntegralMax: 100000,
		OutputMin: -100000, OutputMax: 100000,
	}
	RunPID(tbl, []*PID{p}, 0)
	RunPID(tbl, []*PID{p}, 1000)
	if p.integral != 0 {
		t.Fatalf("within-deadband tick should not update integral, got %d", p.integral)
	}
}

func TestVerifiedOutputContinuous(t *testing.T) {
	tbl := signal.NewTable()
	tbl.Write(0, 500, signal.OK, 1) // command
	tbl.Write(1, 500, signal.OK, 1) // feedback
	tbl.Write(2, 0, signal.OK, 1) // status output
	v := &VerifiedOutput{Enabled: true, Command: 0, Feedback: 1, StatusOutput: 2, ContinuousVerify: true, Tolerance: 10}
	RunVerifiedOutput(tbl, []*VerifiedOutput{v}, 2)
	s, _ := tbl.Get(2)
	if s.Status != signal.OK {
		t.Fatalf("matching cmd/fb should be OK, got %v", s.Status)
	}
	tbl.Write(1, 700, signal.OK, 3)
	RunVerifiedOutput(tbl, []*VerifiedOutput{v}, 4)
	s, _ = tbl.Get(2)
	if s.Status != signal.ERROR || s.Value != 700 {
		t.Fatalf("mismatch should report ERROR with feedback value, got %v %d", s.Status, s.Value)
	}
}

// dual-inverted redundant path + GPIO fault output.
func TestDualInvertedRedundantPathAndFaultMonitor(t *testing.T) {
	tbl := signal.NewTable()
	// raw inputs 0,1 -> remap (invert) -> 10,11 -> merge -> 12 -> fault monitor -> 20
	remaps := []Remap{
		{Enabled: true, Input: 0, Output: 10, Invert: true},
		{Enabled: true, Input: 1, Output: 11, Invert: true},
	}
	merges := []Merge{{Enabled: true, Inputs: []uint32{10, 11}, Output: 12, Mode: MergeAverage, Tolerance: 50}}
	fm := &FaultMonitor{Enabled: true, Input: 12, FaultOutput: 20, FaultLevel: 3, CheckStatus: true}

	tbl.Write(10, 0, signal.OK, 0)
	tbl.Write(11, 0, signal.OK, 0)
	tbl.Write(12, 0, signal.OK, 0)
	tbl.Write(20, 0, signal.OK, 0)

	tbl.Ingest([]signal.Event{{SourceID: 0, Value: 500, TimestampUS: 1}, {SourceID: 1, Value: 520, TimestampUS: 1}})
	RunRemap(tbl, remaps, 1)
	RunMerge(tbl, merges, 1)
	RunFaultMonitor(tbl, []*FaultMonitor{fm}, 1)
	s, _ := tbl.Get(20)
	if s.Value != 0 {
		t.Fatalf("consistent inputs should not trip fault, signal 20 = %d", s.Value)
	}

	tbl.Ingest([]signal.Event{{SourceID: 0, Value: 500, TimestampUS: 2}, {SourceID: 1, Value: 700, TimestampUS: 2}})
	RunRemap(tbl, remaps, 2)
	RunMerge(tbl, merges, 2)
	RunFaultMonitor(tbl, []*FaultMonitor{fm}, 2)
	s, _ = tbl.Get(20)
	if s.Value != 3 || !s.Updated {
		t.Fatalf("inconsistent inputs should trip fault level 3 with Updated, got value=%d updated=%v", s.Value, s.Updated)
	}
}

func TestCyclicOutputRespectsPeriod(t *testing.T) {
	tbl := signal.NewTable()
	tbl.Write(0, 42, signal.OK, 0)
	c := &CyclicOutput{Enabled: true, SourceSignal: 0, Kind: OutputCAN, TargetID: 7, PeriodUS: 1000}
	var events []OutputEvent
	events = RunCyclicOutput(tbl, []*CyclicOutput{c}, 0, events)
	if len(events) != 1 {
		t.Fatalf("first call should fire immediately, got %d events", len(events))
	}
	events = RunCyclicOutput(tbl, []*CyclicOutput{c}, 500, events)
	if len(events) != 1 {
		t.Fatalf("before deadline should not fire again, got %d events", len(events))
	}
	events = RunCyclicOutput(tbl, []*CyclicOutput{c}, 1000, events)
	if len(events) != 2 {
		t.Fatalf("at deadline should fire, got %d events", len(events))
	}
}

func TestCommutatorIllegalPatternFaults(t *testing.T) {
	tbl := signal.NewTable()
	tbl.Write(0, 0, signal.OK, 0) // hall = 000, illegal
	tbl.Write(1, 0, signal.OK, 0)
	RunCommutator(tbl, []Commutator{{Enabled: true, HallSignal: 0, StepOutput: 1}}, 1)
	s, _ := tbl.Get(1)
	if s.Status != signal.OUT_OF_RANGE {
		t.Fatalf("illegal hall pattern should report OUT_OF_RANGE, got %v", s.Status)
	}

	tbl.Write(0, 0b001, signal.OK, 1)
	RunCommutator(tbl, []Commutator{{Enabled: true, HallSignal: 0, StepOutput: 1}}, 2)
	s, _ = tbl.Get(1)
	if s.Value != 1 || s.Status != signal.OK {
		t.Fatalf("step for pattern 001 = %d, status=%v; want 1, OK", s.Value, s.Status)
	}
}
