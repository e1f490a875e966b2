// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stage

import "github.com/lucid-q/signalengine/signal"

// PatternKind selects the phase-accumulator waveform.
type PatternKind int

const (
	PatternStatic PatternKind = iota
	PatternBlink
	PatternPWM
	PatternCustom
)

// GPIOWriter is the narrow leg of pal.Platform this stage needs, accepted as
// an interface so stage never imports pal directly.
type GPIOWriter interface {
	GPIOSet(pin uint32, level bool) error
	PWMSet(channel uint32, dutyBP uint32, freqHz uint32) error
}

// GpioPattern drives one GPIO pin through a phase-accumulator waveform.
type GpioPattern struct {
	Enabled bool

	Pin      uint32
	Kind     PatternKind
	PeriodUS uint64
	OnTimeUS uint64 // BLINK/PWM high time; PWM derives this from a 0..100% duty call

	PatternBits   uint64
	PatternLength uint8 // CUSTOM bit count

	HasControlSignal bool
	ControlSignal    uint32

	Inverted bool

	t0    uint64
	armed bool
}

// SetDutyPercent configures a PWM pattern's on-time from a 0..100% duty
// cycle call.
func (g *GpioPattern) SetDutyPercent(dutyPct uint32) {
	if dutyPct > 100 {
		dutyPct = 100
	}
	g.OnTimeUS = g.PeriodUS * uint64(dutyPct) / 100
}

// RunGpioPattern executes every enabled record against tbl, driving w.
func RunGpioPattern(tbl *signal.Table, cfgs []*GpioPattern, nowUS uint64, w GPIOWriter) {
	for _, c := range cfgs {
		if c.Enabled {
			runOneGpioPattern(tbl, c, nowUS, w)
		}
	}
}

func runOneGpioPattern(tbl *signal.Table, c *GpioPattern, nowUS uint64, w GPIOWriter) {
	if !c.armed {
		c.t0 = nowUS
		c.armed = true
	}
	if c.PeriodUS == 0 {
		return
	}

	level := false
	switch c.Kind {
	case PatternStatic:
		level = true
	case PatternBlink, PatternPWM:
		phase := (nowUS - c.t0) % c.PeriodUS
		onTime := c.OnTimeUS
		if onTime == 0 && c.Kind == PatternBlink {
			onTime = c.PeriodUS / 2 // 50% default
		}
		level = phase < onTime
	case PatternCustom:
		if c.PatternLength == 0 {
			return
		}
		bitIndex := (nowUS / c.PeriodUS) % uint64(c.PatternLength)
		level = (c.PatternBits>>bitIndex)&1 != 0
	}

	if c.HasControlSignal {
		s, ok := tbl.Get(c.ControlSignal)
		if ok && s.Value == 0 {
			level = false
		}
	}

	if c.Inverted {
		level = !level
	}

	w.GPIOSet(c.Pin, level)
}
