// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stage

import "github.com/lucid-q/signalengine/signal"

// FaultMonitor runs three orthogonal checks against its Input signal, any of
// which can trip FaultLevel into FaultOutput. Limp-home swaps a
// referenced Scale record's factor/clamp via the LimpTarget indirection so
// this package never imports config directly (avoiding an import cycle);
// config.Registry supplies a LimpTarget backed by its own Scale slice.
type FaultMonitor struct {
	Enabled bool

	Input       uint32
	FaultOutput uint32
	FaultLevel  int32

	CheckRange     bool
	Min, Max       int32
	CheckStale     bool
	StaleTimeoutUS uint64
	CheckStatus    bool

	HasLimpAction  bool
	LimpTarget     LimpTarget
	RestoreDelayMS uint32

	// state
	limpActive   bool
	healthySince uint64
	everHealthy  bool
}

// LimpTarget is the indirection onto a Scale config used for limp-home.
// config.Registry implements this directly over one of its own Scale
// entries.
type LimpTarget interface {
	// Trip rewrites the target's live scale_factor/clamp_min/clamp_max to
	// the limp values and marks it active.
	Trip()
	// Restore puts the original values back after RestoreDelayMS of
	// continuous healthy readings.
	Restore()
	// Active reports whether limp values are currently in effect.
	Active() bool
}

// RunFaultMonitor executes the full pass over every enabled record.
func RunFaultMonitor(tbl *signal.Table, cfgs []*FaultMonitor, nowUS uint64) {
	for _, c := range cfgs {
		if c.Enabled {
			runOneFaultMonitor(tbl, c, nowUS)
		}
	}
}

func runOneFaultMonitor(tbl *signal.Table, c *FaultMonitor, nowUS uint64) {
	in, ok := tbl.Get(c.Input)
	if !ok {
		return
	}
	if _, ok := tbl.Get(c.FaultOutput); !ok {
		return
	}

	tripped := false
	if c.CheckRange && (in.Value < c.Min || in.Value > c.Max) {
		tripped = true
	}
	if c.CheckStale && nowUS-in.TimestampUS > c.StaleTimeoutUS {
		tripped = true
	}
	if c.CheckStatus && (in.Status == signal.ERROR || in.Status == signal.INCONSISTENT) {
		tripped = true
	}

	if tripped {
		tbl.Write(c.FaultOutput, c.FaultLevel, signal.OK, nowUS)
		c.everHealthy = false
		if c.HasLimpAction && c.LimpTarget != nil && !c.LimpTarget.Active() {
			c.LimpTarget.Trip()
			c.limpActive = true
		}
		return
	}

	tbl.Write(c.FaultOutput, 0, signal.OK, nowUS)

	if !c.everHealthy {
		c.everHealthy = true
		c.healthySince = nowUS
	}
	if c.limpActive && c.LimpTarget != nil {
		if nowUS-c.healthySince >= uint64(c.RestoreDelayMS)*1000 {
			c.LimpTarget.Restore()
			c.limpActive = false
		}
	}
}
