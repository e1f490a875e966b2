// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stage

import "github.com/lucid-q/signalengine/signal"

// VerifiedOutput monitors a command signal against a verification/feedback
// signal.
type VerifiedOutput struct {
	Enabled bool

	Command      uint32
	Feedback     uint32
	StatusOutput uint32 // signal written with OK/ERROR + the feedback value on mismatch

	ContinuousVerify bool
	Tolerance        int32
	VerifyTimeoutUS  uint64

	// state
	lastCommand  int32
	haveLast     bool
	pendingSince uint64
	pending      bool
}

// RunVerifiedOutput executes every enabled VerifiedOutput record against tbl.
func RunVerifiedOutput(tbl *signal.Table, cfgs []*VerifiedOutput, nowUS uint64) {
	for _, c := range cfgs {
		if c.Enabled {
			runOneVerifiedOutput(tbl, c, nowUS)
		}
	}
}

func runOneVerifiedOutput(tbl *signal.Table, c *VerifiedOutput, nowUS uint64) {
	cmd, ok := tbl.Get(c.Command)
	if !ok {
		return
	}
	fb, ok := tbl.Get(c.Feedback)
	if !ok {
		return
	}
	if _, ok := tbl.Get(c.StatusOutput); !ok {
		return
	}

	if c.ContinuousVerify {
		status := signal.OK
		value := fb.Value
		if abs32(cmd.Value-fb.Value) > c.Tolerance {
			status = signal.ERROR
		}
		tbl.Write(c.StatusOutput, value, status, nowUS)
		return
	}

	// One-shot mode: a command change starts a timer; evaluated exactly once
	// after verify_timeout_us elapses. Until then status stays OK.
	changed := c.haveLast && cmd.Value != c.lastCommand
	if !c.haveLast || changed {
		c.lastCommand = cmd.Value
		c.haveLast = true
		c.pending = true
		c.pendingSince = nowUS
		tbl.Write(c.StatusOutput, fb.Value, signal.OK, nowUS)
		return
	}

	if c.pending && nowUS-c.pendingSince >= c.VerifyTimeoutUS {
		status := signal.OK
		if abs32(cmd.Value-fb.Value) > c.Tolerance {
			status = signal.ERROR
		}
		tbl.Write(c.StatusOutput, fb.Value, status, nowUS)
		c.pending = false
		return
	}

	if !c.pending {
		tbl.Write(c.StatusOutput, fb.Value, signal.OK, nowUS)
	}
}
