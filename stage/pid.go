// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stage

import "github.com/lucid-q/signalengine/signal"

// PID is a discrete-time PID controller record. Gains are
// milli-units (1000 == x1.0). State fields are mutated in place by RunPID;
// the record is owned by config.Registry like every other stage config.
type PID struct {
	Enabled bool

	Setpoint          int32 // literal setpoint, or read from SetpointSignal if set
	UseSetpointSignal bool
	SetpointSignal    uint32

	Measurement uint32
	Output      uint32

	KP, KI, KD int32 // milli-units

	Deadband int32

	SampleTimeUS             uint32 // 0 == derive dt from wall clock
	IntegralMin, IntegralMax int32
	OutputMin, OutputMax     int32
	ResetOnSetpointChange    bool

	// state
	initialized  bool
	integral     int32
	prevError    int32
	prevSetpoint int32
	lastTickUS   uint64
}

// RunPID executes every enabled PID record against tbl.
func RunPID(tbl *signal.Table, cfgs []*PID, nowUS uint64) {
	for _, c := range cfgs {
		if c.Enabled {
			runOnePID(tbl, c, nowUS)
		}
	}
}

func runOnePID(tbl *signal.Table, c *PID, nowUS uint64) {
	meas, ok := tbl.Get(c.Measurement)
	if !ok {
		return
	}
	if _, ok := tbl.Get(c.Output); !ok {
		return
	}
	setpoint := c.Setpoint
	if c.UseSetpointSignal {
		sp, ok := tbl.Get(c.SetpointSignal)
		if !ok {
			return
		}
		setpoint = sp.Value
	}

	if !c.initialized {
		// First tick after init only captures initial state.
		c.initialized = true
		c.prevError = setpoint - meas.Value
		c.prevSetpoint = setpoint
		c.lastTickUS = nowUS
		return
	}

	var dtUS uint64
	if c.SampleTimeUS == 0 {
		dtUS = nowUS - c.lastTickUS
	} else {
		dtUS = uint64(c.SampleTimeUS)
	}
	c.lastTickUS = nowUS
	if dtUS == 0 {
		return
	}

	if c.ResetOnSetpointChange && setpoint != c.prevSetpoint {
		c.integral = 0
	}
	c.prevSetpoint = setpoint

	err := setpoint - meas.Value
	if abs32(err) <= c.Deadband {
		// Neither the integral nor the output is updated.
		c.prevError = err
		return
	}

	// All math below is integer fixed-point: gains carry an implicit /1000
	// scale, dtUS an implicit /1e6 scale (seconds), so every term is formed
	// as a wide int64 product and divided down once per term; the integral
	// is stored as int32, so its increment is truncated on every tick.
	newIntegral64 := int64(c.integral) + int64(c.KI)*int64(err)*int64(dtUS)/1_000_000_000
	if newIntegral64 < int64(c.IntegralMin) {
		newIntegral64 = int64(c.IntegralMin)
	}
	if newIntegral64 > int64(c.IntegralMax) {
		newIntegral64 = int64(c.IntegralMax)
	}
	c.integral = int32(newIntegral64)

	// deriv is the raw rate of change of err, in err-units per second.
	deriv64 := int64(err-c.prevError) * 1_000_000 / int64(dtUS)
	c.prevError = err

	out64 := int64(c.KP)*int64(err)/1000 + newIntegral64 + int64(c.KD)*deriv64/1000
	out := saturateInt32(out64)
	if out < c.OutputMin {
		out = c.OutputMin
	}
	if out > c.OutputMax {
		out = c.OutputMax
	}
	tbl.Write(c.Output, out, signal.OK, nowUS)
}
