// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package engine implements the Engine Step orchestrator: drains the
// hardware ring, runs the driver stages in fixed order, gathers output
// events and protocol-driver cyclic messages.
package engine

import (
	"errors"
	"sync"

	"github.com/lucid-q/signalengine/config"
	"github.com/lucid-q/signalengine/hwring"
	"github.com/lucid-q/signalengine/pal"
	"github.com/lucid-q/signalengine/protocol"
	"github.com/lucid-q/signalengine/signal"
	"github.com/lucid-q/signalengine/stage"
)

// ErrReentrant is returned by Step if called while a previous Step on the
// same Engine has not returned.
var ErrReentrant = errors.New("engine: Step is not re-entrant")

// Engine owns the signal table, config registry, hardware input ring and
// protocol registry for the lifetime of the process.
type Engine struct {
	Table    *signal.Table
	Config   *config.Registry
	Ring     *hwring.Ring
	Protocol *protocol.Registry
	Platform pal.Platform

	stepping sync.Mutex

	drainBuf []hwring.HwSample
	outputs  []stage.OutputEvent
}

// New builds an Engine over the given collaborators. Ring capacity follows
// hwring.DefaultCapacity; drainBuf is sized to drain a full ring in one tick.
func New(tbl *signal.Table, cfg *config.Registry, ring *hwring.Ring, reg *protocol.Registry, platform pal.Platform) *Engine {
	return &Engine{
		Table:    tbl,
		Config:   cfg,
		Ring:     ring,
		Protocol: reg,
		Platform: platform,
		drainBuf: make([]hwring.HwSample, 4096),
	}
}

// Step performs one engine tick:
// 1. drain the hardware ring into ingest events
// 2. apply staleness at now
// 3. run Remap, Scale, VerifiedOutput, PID, Merge, Commutator, GpioPattern
// 4. run FaultMonitor full pass
// 5. run CyclicOutput, appending to the output buffer
// 6. invoke each protocol driver's cyclic transmission at now
//
// It returns the output events and protocol messages produced this tick, for
// the caller to dispatch to pal.Platform sinks.
func (e *Engine) Step(nowUS uint64) (outputs []stage.OutputEvent, msgs []protocol.Message, err error) {
	if !e.stepping.TryLock() {
		return nil, nil, ErrReentrant
	}
	defer e.stepping.Unlock()

	// (1) drain hardware ring into ingest events.
	n := e.Ring.DrainAll(e.drainBuf)
	if n > 0 {
		events := make([]signal.Event, n)
		for i, s := range e.drainBuf[:n] {
			events[i] = signal.Event{SourceID: uint32(s.SourceID), Value: int32(s.Value), Status: signal.OK, TimestampUS: s.Timestamp}
		}
		e.Table.Ingest(events)
	}

	// (2) staleness.
	e.Table.ApplyStaleness(nowUS)

	// (3) Remap -> Scale -> VerifiedOutput -> PID -> Merge -> Commutator -> GpioPattern.
	stage.RunRemap(e.Table, e.Config.Remaps(), nowUS)
	stage.RunScale(e.Table, e.Config.Scales(), nowUS)
	stage.RunVerifiedOutput(e.Table, e.Config.VerifiedOutputs(), nowUS)
	stage.RunPID(e.Table, e.Config.PIDs(), nowUS)
	stage.RunMerge(e.Table, e.Config.Merges(), nowUS)
	stage.RunCommutator(e.Table, e.Config.Commutators(), nowUS)
	if e.Platform != nil {
		stage.RunGpioPattern(e.Table, e.Config.GpioPatterns(), nowUS, e.Platform)
	}

	// (4) FaultMonitor full pass.
	stage.RunFaultMonitor(e.Table, e.Config.FaultMonitors(), nowUS)

	// (5) CyclicOutput.
	e.outputs = stage.RunCyclicOutput(e.Table, e.Config.CyclicOutputs(), nowUS, e.outputs[:0])

	// (6) protocol drivers' cyclic transmission.
	if e.Protocol != nil {
		e.Protocol.UpdateAll(e.Table, nowUS)
		msgs = e.Protocol.GetCyclicAll(nowUS)
	}

	return e.outputs, msgs, nil
}

// Dispatch sends a batch of OutputEvents to their PAL sinks. Kept separate
// from Step so callers can batch/reorder before touching hardware.
func (e *Engine) Dispatch(events []stage.OutputEvent, bus uint32) {
	for _, ev := range events {
		switch ev.Kind {
		case stage.OutputGPIO:
			e.Platform.GPIOSet(ev.TargetID, ev.Value != 0)
		case stage.OutputPWM:
			e.Platform.PWMSet(ev.TargetID, uint32(ev.Value), 0)
		case stage.OutputCAN, stage.OutputJ1939, stage.OutputCANopen:
			// Protocol encoding happens in the protocol driver; CyclicOutput
			// targeting these kinds is for buses with a direct raw-value
			// mapping (no PGN/COB-ID framing), sent as a single-byte frame.
			e.Platform.CANSend(bus, ev.TargetID, ev.Kind != stage.OutputCANopen, []byte{byte(ev.Value)})
		}
	}
}
