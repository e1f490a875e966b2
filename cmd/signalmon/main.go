// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// signalmon runs a small engine instance and renders its fault/lamp state to
// the terminal as a live, single-line dashboard, refreshed in place.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/lucid-q/signalengine/config"
	"github.com/lucid-q/signalengine/dtc"
	"github.com/lucid-q/signalengine/engine"
	"github.com/lucid-q/signalengine/hwring"
	"github.com/lucid-q/signalengine/monitor"
	"github.com/lucid-q/signalengine/pal"
	"github.com/lucid-q/signalengine/signal"
	"github.com/lucid-q/signalengine/stage"
)

const (
	sigADCRaw = iota
	sigRemapOut
	sigScaleOut
	sigCoolantRaw
	sigFaultOut
)

func buildConfig() (*config.Registry, *config.ScaleLimp) {
	reg := config.New()

	must(reg.AddRemap(stage.Remap{Enabled: true, Input: sigADCRaw, Output: sigRemapOut, Deadzone: 2}))

	scaleIdx := 0
	must(reg.AddScale(stage.Scale{
		Enabled: true, Input: sigRemapOut, Output: sigScaleOut,
		ScaleFactor: 1000, HasClampMin: true, ClampMin: 0, HasClampMax: true, ClampMax: 1000,
	}))

	limp := config.NewScaleLimp(reg, scaleIdx, stage.Scale{
		Enabled: true, Input: sigRemapOut, Output: sigScaleOut,
		ScaleFactor: 200, HasClampMin: true, ClampMin: 0, HasClampMax: true, ClampMax: 100,
	})
	fm := &stage.FaultMonitor{
		Enabled: true, Input: sigCoolantRaw, FaultOutput: sigFaultOut, FaultLevel: 2,
		CheckRange: true, Min: 0, Max: 120,
		HasLimpAction: true, LimpTarget: limp, RestoreDelayMS: 1000,
	}
	must(reg.AddFaultMonitor(fm))

	reg.Finalize()
	return reg, limp
}

func must(err error) {
	if err != nil {
		log.Fatalf("signalmon: config: %v", err)
	}
}

// triangle produces a deterministic ramp, the same generator cmd/signalsim
// uses to avoid pulling in math/rand for a reproducible demo waveform.
func triangle(tick uint64, period uint64, amplitude uint32) uint32 {
	phase := tick % period
	half := period / 2
	if phase > half {
		phase = period - phase
	}
	return uint32(phase) * amplitude / uint32(half)
}

func mainImpl() error {
	hz := flag.Int("hz", 5, "dashboard refresh rate in Hz")
	duration := flag.Duration("duration", 0, "how long to run before exiting; 0 runs forever")
	forceColor := flag.Bool("color", false, "force ANSI color output even when stdout is not a terminal")
	flag.Parse()
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}
	if *hz <= 0 {
		return errors.New("-hz must be positive")
	}

	color := *forceColor || isatty.IsTerminal(os.Stdout.Fd())
	var dash *monitor.Dashboard
	if color {
		dash = monitor.New(colorable.NewColorableStdout(), true)
	} else {
		dash = monitor.New(os.Stdout, false)
	}
	defer dash.Close()

	platform := pal.NewSimPlatform(1)
	tbl := signal.NewTable()
	ring := hwring.New(hwring.DefaultCapacity, platform)
	cfgReg, limp := buildConfig()
	mgr := dtc.New()
	eng := engine.New(tbl, cfgReg, ring, nil, platform)

	periodUS := uint64(1_000_000 / *hz)
	var maxTicks uint64
	if *duration > 0 {
		maxTicks = uint64(duration.Microseconds()) / periodUS
	}

	for tick := uint64(0); maxTicks == 0 || tick < maxTicks; tick++ {
		ring.Push(sigADCRaw, triangle(tick, 400, 900))
		ring.Push(sigCoolantRaw, 60+triangle(tick, 600, 90))

		platform.SetNow(tick * periodUS)
		outputs, _, err := eng.Step(platform.NowUS())
		if err != nil {
			return fmt.Errorf("step %d: %w", tick, err)
		}
		eng.Dispatch(outputs, 0)

		adc, _ := tbl.Get(sigADCRaw)
		scaled, _ := tbl.Get(sigScaleOut)
		coolant, _ := tbl.Get(sigCoolantRaw)
		rows := []monitor.Row{
			{Label: "ADC", Signal: adc},
			{Label: "SCALE", Signal: scaled},
			{Label: "COOLANT", Signal: coolant},
		}
		if err := dash.Render(rows, mgr.MIL(), limp.Active()); err != nil {
			return fmt.Errorf("render: %w", err)
		}

		time.Sleep(time.Duration(periodUS) * time.Microsecond)
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "signalmon: %s.\n", err)
		os.Exit(1)
	}
}
