// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// signalsim runs the signal engine against an in-process fake platform at a
// fixed tick rate, feeding it a deterministic stream of simulated sensor
// samples and printing DM1/DTC transitions as they occur. There is no real
// hardware anywhere in this binary: it exists so the engine can be exercised
// end to end without a board.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/lucid-q/signalengine/config"
	"github.com/lucid-q/signalengine/dtc"
	"github.com/lucid-q/signalengine/engine"
	"github.com/lucid-q/signalengine/hwring"
	"github.com/lucid-q/signalengine/pal"
	"github.com/lucid-q/signalengine/protocol"
	"github.com/lucid-q/signalengine/protocol/canopen"
	"github.com/lucid-q/signalengine/protocol/j1939"
	"github.com/lucid-q/signalengine/signal"
	"github.com/lucid-q/signalengine/stage"
)

// Signal table layout for this simulation. A real integration picks its own;
// this one exists to exercise every stage and protocol driver at least once.
const (
	sigADCRaw = iota
	sigRemapOut
	sigScaleOut
	sigRedundantA
	sigRedundantB
	sigMergedOut
	sigFaultOut
	sigPIDOut
	sigHallPattern
	sigCommutatorStep
	sigRPMRaw
	sigCoolantRaw
)

const (
	canBusCANopen = 0
	canBusJ1939   = 1

	nodeID = 0x10
)

func buildConfig() (*config.Registry, *config.ScaleLimp) {
	reg := config.New()

	must(reg.AddRemap(stage.Remap{Enabled: true, Input: sigADCRaw, Output: sigRemapOut, Deadzone: 4}))

	scaleIdx := 0
	must(reg.AddScale(stage.Scale{
		Enabled: true, Input: sigRemapOut, Output: sigScaleOut,
		ScaleFactor: 1000, HasClampMin: true, ClampMin: 0, HasClampMax: true, ClampMax: 1000,
	}))

	must(reg.AddMerge(stage.Merge{
		Enabled: true, Inputs: []uint32{sigRedundantA, sigRedundantB}, Output: sigMergedOut,
		Mode: stage.MergeMedian, Tolerance: 50,
	}))

	limp := config.NewScaleLimp(reg, scaleIdx, stage.Scale{
		Enabled: true, Input: sigRemapOut, Output: sigScaleOut,
		ScaleFactor: 200, HasClampMin: true, ClampMin: 0, HasClampMax: true, ClampMax: 100,
	})
	fm := &stage.FaultMonitor{
		Enabled: true, Input: sigMergedOut, FaultOutput: sigFaultOut, FaultLevel: 3,
		CheckRange: true, Min: 0, Max: 1000, CheckStatus: true,
		HasLimpAction: true, LimpTarget: limp, RestoreDelayMS: 500,
	}
	must(reg.AddFaultMonitor(fm))

	must(reg.AddPID(&stage.PID{
		Enabled: true, Setpoint: 500, Measurement: sigScaleOut, Output: sigPIDOut,
		KP: 2000, KI: 100, KD: 50,
		OutputMin: -1000, OutputMax: 1000, IntegralMin: -10000, IntegralMax: 10000,
	}))

	must(reg.AddCommutator(stage.Commutator{Enabled: true, HallSignal: sigHallPattern, StepOutput: sigCommutatorStep}))

	must(reg.AddGpioPattern(&stage.GpioPattern{
		Enabled: true, Pin: 1, Kind: stage.PatternBlink, PeriodUS: 1_000_000, OnTimeUS: 500_000,
	}))

	must(reg.AddCyclicOutput(&stage.CyclicOutput{
		Enabled: true, SourceSignal: sigPIDOut, Kind: stage.OutputPWM, TargetID: 0, PeriodUS: 100_000,
	}))

	reg.Finalize()
	return reg, limp
}

func buildProtocolRegistry(mgr *dtc.Manager) (*protocol.Registry, error) {
	j1939Drv := j1939.NewDriver(j1939.Config{
		SourceAddress: 0x20,
		TorqueSignal:  sigScaleOut,
		RPMSignal:     sigRPMRaw,
		CoolantSignal: sigCoolantRaw,
		EnableDM1:     true,
		DM1Priority:   6,
		Encoders: []j1939.EncodeConfig{{
			PGN: j1939.PGNEEC1, Priority: 3, SourceAddress: 0x20, PeriodUS: 100_000,
			Signals: []j1939.SignalMap{
				{SignalID: sigScaleOut, ByteOffset: 2, Width: 1, ScaleFactor: 1000, Offset: -125},
				{SignalID: sigRPMRaw, ByteOffset: 3, Width: 2, Order: j1939.BigEndian, ScaleFactor: 125},
			},
		}},
	}, mgr)

	tpdoCOBID := uint32(3)<<7 | nodeID
	canopenDrv := canopen.NewDriver(canopen.Config{
		NodeID:            nodeID,
		HeartbeatPeriodUS: 1_000_000,
		PDOs: []canopen.PDO{{
			COBID:            tpdoCOBID,
			Mappings:         []canopen.Mapping{{SignalID: sigCommutatorStep, BitLength: 8}},
			Transmit:         true,
			TransmissionType: canopen.TxEvent,
			InhibitTimeUS:    50_000,
			EventTimeUS:      500_000,
		}},
	})

	return protocol.NewRegistry(j1939Drv, canopenDrv)
}

func must(err error) {
	if err != nil {
		log.Fatalf("signalsim: config: %v", err)
	}
}

// triangle produces a deterministic 0..amplitude..0 ramp from a free-running
// tick counter, standing in for a real ADC without pulling in math/rand.
func triangle(tick uint64, period uint64, amplitude uint32) uint32 {
	phase := tick % period
	half := period / 2
	if phase > half {
		phase = period - phase
	}
	return uint32(phase) * amplitude / uint32(half)
}

// sixStepHall cycles the six legal 3-bit Hall sensor patterns.
func sixStepHall(tick uint64) uint32 {
	pattern := [6]uint32{0b001, 0b011, 0b010, 0b110, 0b100, 0b101}
	return pattern[tick%6]
}

func startNMT(reg *protocol.Registry, nowUS uint64) {
	msg := protocol.Message{Address: 0, Data: [protocol.MaxMessageData]byte{0x01, 0x00}, Len: 2, TimestampUS: nowUS}
	var buf [4]signal.Event
	reg.DecodeAll(nowUS, msg, buf[:0])
}

func dispatchProtocolMessages(platform pal.Platform, msgs []protocol.Message) {
	for _, m := range msgs {
		bus := uint32(canBusCANopen)
		if m.Flags&protocol.FlagExtended != 0 {
			bus = canBusJ1939
		}
		extended := m.Flags&protocol.FlagExtended != 0
		if err := platform.CANSend(bus, m.Address, extended, m.Data[:m.Len]); err != nil {
			log.Printf("[signalsim] CANSend bus=%d id=%#x: %v", bus, m.Address, err)
		}
	}
}

func mainImpl() error {
	hz := flag.Int("hz", 100, "engine tick rate in Hz")
	duration := flag.Duration("duration", 5*time.Second, "how long to run before exiting")
	verbose := flag.Bool("v", false, "log every tick's output events, not just DTC/DM1 transitions")
	flag.Parse()
	if flag.NArg() != 0 {
		return errors.New("unexpected argument, try -help")
	}
	if *hz <= 0 {
		return errors.New("-hz must be positive")
	}
	log.SetFlags(log.Lmicroseconds)

	platform := pal.NewSimPlatform(2)
	tbl := signal.NewTable()
	ring := hwring.New(hwring.DefaultCapacity, platform)
	cfgReg, limp := buildConfig()
	mgr := dtc.New()
	protoReg, err := buildProtocolRegistry(mgr)
	if err != nil {
		return fmt.Errorf("protocol registry: %w", err)
	}
	eng := engine.New(tbl, cfgReg, ring, protoReg, platform)

	startNMT(protoReg, platform.NowUS())

	periodUS := uint64(1_000_000 / *hz)
	ticks := uint64(duration.Microseconds()) / periodUS
	lastMIL := dtc.LampOff
	lastLimp := false

	for tick := uint64(0); tick < ticks; tick++ {
		ring.Push(sigADCRaw, triangle(tick, 200, 800))
		ring.Push(sigRedundantA, triangle(tick, 150, 600))
		ring.Push(sigRedundantB, triangle(tick, 150, 600)+5)
		ring.Push(sigHallPattern, sixStepHall(tick))
		ring.Push(sigRPMRaw, 1500+triangle(tick, 300, 400))
		ring.Push(sigCoolantRaw, 85+triangle(tick, 500, 20))

		if tick == 40 {
			// Inject a fault: push sigRedundantB far out of tolerance/range.
			ring.Push(sigRedundantB, 5000)
		}

		platform.SetNow(tick * periodUS)
		outputs, msgs, err := eng.Step(platform.NowUS())
		if err != nil {
			return fmt.Errorf("step %d: %w", tick, err)
		}
		eng.Dispatch(outputs, canBusCANopen)
		dispatchProtocolMessages(platform, msgs)

		if limp.Active() != lastLimp {
			lastLimp = limp.Active()
			log.Printf("[signalsim] t=%dus limp_active=%v", platform.NowUS(), lastLimp)
		}
		if mil := mgr.MIL(); mil != lastMIL {
			lastMIL = mil
			log.Printf("[signalsim] t=%dus MIL lamp=%d active=%v", platform.NowUS(), mil, mgr.Active())
		}
		if *verbose && len(outputs) > 0 {
			log.Printf("[signalsim] t=%dus outputs=%d protocol_msgs=%d", platform.NowUS(), len(outputs), len(msgs))
		}
	}

	log.Printf("[signalsim] ran %d ticks, %d CAN frames sent, %d dropped ring samples", ticks, len(platform.SentCAN()), ring.Drops())
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "signalsim: %s.\n", err)
		os.Exit(1)
	}
}
