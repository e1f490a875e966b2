// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package canopen implements a protocol.Driver for CANopen: 11-bit COB-ID
// routing (NMT, SYNC, RPDO/TPDO, heartbeat, emergency) and a minimal LSS
// node-id configuration state machine.
package canopen

import (
	"github.com/lucid-q/signalengine/errno"
	"github.com/lucid-q/signalengine/protocol"
	"github.com/lucid-q/signalengine/signal"
)

// NMTState is the local network-management state.
type NMTState int

const (
	PreOperational NMTState = iota
	Operational
	Stopped
)

// LSSState is the local Layer Setting Services state.
type LSSState int

const (
	LSSWaiting LSSState = iota
	LSSConfiguration
)

// TxType selects a TPDO's transmission trigger.
type TxType int

const (
	// TxSyncN transmits every Nth SYNC event (N given by PDO.SyncCount).
	TxSyncN TxType = iota
	// TxEvent transmits on its own event timer, never faster than its
	// inhibit timer.
	TxEvent
)

// Mapping is one (signal, width) entry of a PDO's little-endian layout.
type Mapping struct {
	SignalID  uint32
	BitLength int // 8, 16, or 32
}

// PDO is one configured process-data object, receive or transmit.
type PDO struct {
	COBID    uint32
	Mappings []Mapping

	Transmit         bool // false == RPDO (inbound), true == TPDO (outbound)
	TransmissionType TxType
	SyncCount        uint32 // TxSyncN: emit every SyncCount SYNCs
	InhibitTimeUS    uint64 // TxEvent: minimum gap between transmissions
	EventTimeUS      uint64 // TxEvent: maximum gap between transmissions

	syncAtLastTx uint32
	lastTxUS     uint64
	nextEventUS  uint64
	armed        bool
}

// function codes, the top 4 bits of an 11-bit COB-ID (id>>7)&0xF.
const (
	fcNMT         = 0x0
	fcSyncOrEmcy  = 0x1
	fcHeartbeat   = 0xE
)

var rpdoFC = map[uint32]bool{4: true, 6: true, 8: true, 10: true}
var tpdoFC = map[uint32]bool{3: true, 5: true, 7: true, 9: true}

// LSS uses two fixed COB-IDs outside the function-code/node-id scheme.
const (
	lssRequestCOBID = 0x7E5
	cmdSwitchGlobal = 0x04
	cmdConfigureID  = 0x11
)

// Config configures one node's identity, PDO set, and heartbeat period.
type Config struct {
	NodeID            uint8
	HeartbeatPeriodUS uint64
	PDOs              []PDO
}

// Driver is a protocol.Driver for CANopen.
type Driver struct {
	cfg Config

	nmtState    NMTState
	lssState    LSSState
	syncCounter uint32

	emcyPending bool
	emcyCode    uint16
	emcyErrReg  uint8

	lastHeartbeatUS uint64
	heartbeatArmed  bool

	pdos  []*PDO
	cache [signal.N]int32
	have  [signal.N]bool
}

var _ protocol.Driver = (*Driver)(nil)

// NewDriver builds a driver for the given node configuration.
func NewDriver(cfg Config) *Driver {
	d := &Driver{cfg: cfg}
	for i := range cfg.PDOs {
		p := cfg.PDOs[i]
		d.pdos = append(d.pdos, &p)
	}
	return d
}

// Name implements protocol.Driver.
func (d *Driver) Name() string { return "canopen" }

// Init implements protocol.Driver.
func (d *Driver) Init() error {
	for _, p := range d.pdos {
		fc := (p.COBID >> 7) & 0xF
		if p.Transmit && !tpdoFC[fc] {
			return errno.EINVAL
		}
		if !p.Transmit && !rpdoFC[fc] {
			return errno.EINVAL
		}
		for _, m := range p.Mappings {
			if m.BitLength != 8 && m.BitLength != 16 && m.BitLength != 32 {
				return errno.EINVAL
			}
		}
	}
	return nil
}

// RaiseEmergency arms an EMCY frame for the next GetCyclic call.
func (d *Driver) RaiseEmergency(code uint16, errRegister uint8) {
	d.emcyPending = true
	d.emcyCode = code
	d.emcyErrReg = errRegister
}

// NMTState returns the driver's current network-management state.
func (d *Driver) NMTState() NMTState { return d.nmtState }

func nmtCommandState(cmd byte) (NMTState, bool) {
	switch cmd {
	case 0x01:
		return Operational, true
	case 0x02:
		return Stopped, true
	case 0x80, 0x81, 0x82:
		return PreOperational, true
	default:
		return PreOperational, false
	}
}

func heartbeatByte(s NMTState) byte {
	switch s {
	case Operational:
		return 5
	case Stopped:
		return 4
	default:
		return 127
	}
}

func unpackLE(data []byte, offset, bitLength int) int64 {
	switch bitLength {
	case 8:
		return int64(data[offset])
	case 16:
		return int64(data[offset]) | int64(data[offset+1])<<8
	default: // 32
		return int64(data[offset]) | int64(data[offset+1])<<8 | int64(data[offset+2])<<16 | int64(data[offset+3])<<24
	}
}

func packLE(v int64, data []byte, offset, bitLength int) {
	data[offset] = byte(v)
	if bitLength >= 16 {
		data[offset+1] = byte(v >> 8)
	}
	if bitLength == 32 {
		data[offset+2] = byte(v >> 16)
		data[offset+3] = byte(v >> 24)
	}
}

// Decode implements protocol.Driver: NMT/SYNC/RPDO/LSS frames are matched
// by COB-ID. SYNC and LSS never emit events, only advance internal state.
func (d *Driver) Decode(nowUS uint64, msg protocol.Message, out []signal.Event) (int, error) {
	id := msg.Address & 0x7FF
	if id == lssRequestCOBID {
		d.decodeLSS(msg)
		return 0, nil
	}
	fc := (id >> 7) & 0xF
	node := id & 0x7F

	switch {
	case fc == fcNMT && node == 0:
		d.decodeNMT(msg)
		return 0, nil
	case fc == fcSyncOrEmcy && node == 0:
		d.syncCounter++
		return 0, nil
	case rpdoFC[fc]:
		return d.decodeRPDO(nowUS, id, msg, out)
	default:
		return 0, nil
	}
}

func (d *Driver) decodeNMT(msg protocol.Message) {
	if msg.Len < 2 {
		return
	}
	cmd, target := msg.Data[0], msg.Data[1]
	if target != 0 && target != d.cfg.NodeID {
		return
	}
	if s, ok := nmtCommandState(cmd); ok {
		d.nmtState = s
	}
}

func (d *Driver) decodeLSS(msg protocol.Message) {
	if msg.Len < 2 {
		return
	}
	switch msg.Data[0] {
	case cmdSwitchGlobal:
		if msg.Data[1] == 1 {
			d.lssState = LSSConfiguration
		} else {
			d.lssState = LSSWaiting
		}
	case cmdConfigureID:
		if d.lssState != LSSConfiguration {
			return
		}
		v := msg.Data[1]
		if (v >= 1 && v <= 127) || v == 255 {
			d.cfg.NodeID = v
		}
	}
}

func (d *Driver) decodeRPDO(nowUS uint64, id uint32, msg protocol.Message, out []signal.Event) (int, error) {
	n := 0
	for _, p := range d.pdos {
		if p.Transmit || p.COBID != id {
			continue
		}
		offset := 0
		for _, m := range p.Mappings {
			if n >= len(out) {
				return n, nil
			}
			width := m.BitLength / 8
			if offset+width > int(msg.Len) {
				break
			}
			out[n] = signal.Event{
				SourceID:    m.SignalID,
				Value:       int32(unpackLE(msg.Data[:msg.Len], offset, m.BitLength)),
				Status:      signal.OK,
				TimestampUS: nowUS,
			}
			offset += width
			n++
		}
	}
	return n, nil
}

// Encode implements protocol.Driver, building a one-shot TPDO frame for the
// first configured transmit PDO whose mapping set covers every event given.
func (d *Driver) Encode(events []signal.Event) (protocol.Message, error) {
	for _, p := range d.pdos {
		if !p.Transmit || !coversAll(p.Mappings, events) {
			continue
		}
		vals := make(map[uint32]int32, len(events))
		for _, ev := range events {
			vals[ev.SourceID] = ev.Value
		}
		msg := buildPDOMessage(p, vals)
		if len(events) > 0 {
			msg.TimestampUS = events[0].TimestampUS
		}
		return msg, nil
	}
	return protocol.Message{}, errno.ENOENT
}

func coversAll(mappings []Mapping, events []signal.Event) bool {
	if len(events) == 0 {
		return false
	}
	for _, ev := range events {
		found := false
		for _, m := range mappings {
			if m.SignalID == ev.SourceID {
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

func buildPDOMessage(p *PDO, vals map[uint32]int32) protocol.Message {
	var m protocol.Message
	m.Address = p.COBID
	offset := 0
	for _, mp := range p.Mappings {
		v, ok := vals[mp.SignalID]
		width := mp.BitLength / 8
		if ok {
			packLE(int64(v), m.Data[:], offset, mp.BitLength)
		}
		offset += width
	}
	m.Len = uint8(offset)
	return m
}

func (d *Driver) cachedPDOValues(p *PDO) map[uint32]int32 {
	vals := make(map[uint32]int32, len(p.Mappings))
	for _, mp := range p.Mappings {
		if mp.SignalID < signal.N && d.have[mp.SignalID] {
			vals[mp.SignalID] = d.cache[mp.SignalID]
		}
	}
	return vals
}

// GetCyclic implements protocol.Driver: TPDOs due by sync count or event
// timer, the heartbeat (OPERATIONAL only), and a pending emergency frame.
func (d *Driver) GetCyclic(nowUS uint64, out []protocol.Message) (int, error) {
	n := 0
	for _, p := range d.pdos {
		if n >= len(out) {
			return n, nil
		}
		if !p.Transmit {
			continue
		}
		if d.nmtState != Operational {
			continue
		}
		if !p.armed {
			p.lastTxUS = nowUS
			p.nextEventUS = nowUS
			p.syncAtLastTx = d.syncCounter
			p.armed = true
		}
		due := false
		switch p.TransmissionType {
		case TxSyncN:
			cnt := p.SyncCount
			if cnt == 0 {
				cnt = 1
			}
			due = d.syncCounter-p.syncAtLastTx >= cnt
		case TxEvent:
			due = nowUS-p.lastTxUS >= p.InhibitTimeUS && nowUS >= p.nextEventUS
		}
		if !due {
			continue
		}
		msg := buildPDOMessage(p, d.cachedPDOValues(p))
		msg.TimestampUS = nowUS
		out[n] = msg
		p.lastTxUS = nowUS
		p.syncAtLastTx = d.syncCounter
		if p.EventTimeUS > 0 {
			p.nextEventUS = nowUS + p.EventTimeUS
		}
		n++
	}

	if d.nmtState == Operational && d.cfg.HeartbeatPeriodUS > 0 && n < len(out) {
		if !d.heartbeatArmed || nowUS-d.lastHeartbeatUS >= d.cfg.HeartbeatPeriodUS {
			d.heartbeatArmed = true
			var m protocol.Message
			m.Address = fcHeartbeat<<7 | uint32(d.cfg.NodeID)
			m.Data[0] = heartbeatByte(d.nmtState)
			m.Len = 1
			m.TimestampUS = nowUS
			out[n] = m
			n++
			d.lastHeartbeatUS = nowUS
		}
	}

	if d.emcyPending && n < len(out) {
		var m protocol.Message
		m.Address = fcSyncOrEmcy<<7 | uint32(d.cfg.NodeID)
		m.Data = [protocol.MaxMessageData]byte{
			byte(d.emcyCode), byte(d.emcyCode >> 8), d.emcyErrReg, 0, 0, 0, 0, 0,
		}
		m.Len = 8
		m.TimestampUS = nowUS
		out[n] = m
		n++
		d.emcyPending = false
	}

	return n, nil
}

// UpdateSignal implements protocol.Driver, caching the latest value of
// every signal this driver may need for its next TPDO transmission.
func (d *Driver) UpdateSignal(signalID uint32, value int32, nowUS uint64) {
	if signalID >= signal.N {
		return
	}
	d.cache[signalID] = value
	d.have[signalID] = true
}
