// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package canopen

import (
	"testing"

	"github.com/lucid-q/signalengine/protocol"
	"github.com/lucid-q/signalengine/signal"
)

const testNode = 0x05

func newTestDriver(t *testing.T, pdos []PDO) *Driver {
	t.Helper()
	d := NewDriver(Config{NodeID: testNode, HeartbeatPeriodUS: 100_000, PDOs: pdos})
	if err := d.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return d
}

func TestNMTTransitionsOnMatchOrBroadcast(t *testing.T) {
	d := newTestDriver(t, nil)
	msg := protocol.Message{Len: 2, Data: [protocol.MaxMessageData]byte{0x01, testNode}}
	if _, err := d.Decode(0, msg, nil); err != nil {
		t.Fatal(err)
	}
	if d.NMTState() != Operational {
		t.Fatalf("NMTState = %v, want Operational", d.NMTState())
	}

	msg.Data[0], msg.Data[1] = 0x02, 0 // broadcast stop
	if _, err := d.Decode(0, msg, nil); err != nil {
		t.Fatal(err)
	}
	if d.NMTState() != Stopped {
		t.Fatalf("NMTState = %v, want Stopped after broadcast", d.NMTState())
	}
}

func TestNMTIgnoresOtherNode(t *testing.T) {
	d := newTestDriver(t, nil)
	msg := protocol.Message{Len: 2, Data: [protocol.MaxMessageData]byte{0x01, testNode + 1}}
	d.Decode(0, msg, nil)
	if d.NMTState() != PreOperational {
		t.Fatalf("NMTState = %v, want PreOperational (command targeted a different node)", d.NMTState())
	}
}

func TestSyncIncrementsCounter(t *testing.T) {
	d := newTestDriver(t, nil)
	msg := protocol.Message{Address: 0x080, Len: 0}
	for i := 0; i < 3; i++ {
		d.Decode(uint64(i), msg, nil)
	}
	if d.syncCounter != 3 {
		t.Fatalf("syncCounter = %d, want 3", d.syncCounter)
	}
}

func TestDecodeRPDO(t *testing.T) {
	pdo := PDO{
		COBID: 0x200 | testNode,
		Mappings: []Mapping{
			{SignalID: 1, BitLength: 8},
			{SignalID: 2, BitLength: 16},
		},
	}
	d := newTestDriver(t, []PDO{pdo})
	msg := protocol.Message{Address: pdo.COBID, Len: 3, Data: [protocol.MaxMessageData]byte{0x2A, 0x34, 0x12}}
	out := make([]signal.Event, 4)
	n, err := d.Decode(5, msg, out)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
	if out[0].Value != 0x2A {
		t.Errorf("signal 1 = %d, want 0x2A", out[0].Value)
	}
	if out[1].Value != 0x1234 {
		t.Errorf("signal 2 = %#x, want 0x1234", out[1].Value)
	}
}

func TestHeartbeatOnlyWhileOperational(t *testing.T) {
	d := newTestDriver(t, nil)
	out := make([]protocol.Message, 4)
	n, err := d.GetCyclic(0, out)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("n = %d, want 0 while PRE_OPERATIONAL", n)
	}

	d.nmtState = Operational
	n, _ = d.GetCyclic(0, out)
	if n != 1 {
		t.Fatalf("n = %d, want 1 heartbeat frame once OPERATIONAL", n)
	}
	if out[0].Data[0] != heartbeatByte(Operational) {
		t.Errorf("heartbeat byte = %d, want %d", out[0].Data[0], heartbeatByte(Operational))
	}
}

func TestTPDOSyncNFiresOnNthSync(t *testing.T) {
	pdo := PDO{
		COBID:            0x180 | testNode,
		Transmit:         true,
		TransmissionType: TxSyncN,
		SyncCount:        2,
		Mappings:         []Mapping{{SignalID: 7, BitLength: 8}},
	}
	d := newTestDriver(t, []PDO{pdo})
	d.nmtState = Operational
	d.UpdateSignal(7, 42, 0)

	out := make([]protocol.Message, 4)
	d.GetCyclic(0, out) // arms syncAtLastTx/lastTxUS
	sync := protocol.Message{Address: 0x080}
	d.Decode(0, sync, nil)
	n, _ := d.GetCyclic(1, out)
	if n != 0 {
		t.Fatalf("n = %d after 1 SYNC, want 0 (SyncCount=2)", n)
	}
	d.Decode(2, sync, nil)
	n, _ = d.GetCyclic(3, out)
	tpdoFound := false
	for _, m := range out[:n] {
		if m.Address == pdo.COBID {
			tpdoFound = true
			if m.Data[0] != 42 {
				t.Errorf("TPDO payload = %d, want 42", m.Data[0])
			}
		}
	}
	if !tpdoFound {
		t.Fatalf("expected a TPDO frame after the 2nd SYNC, got %+v", out[:n])
	}
}

func TestEmergencyEmitsAndClears(t *testing.T) {
	d := newTestDriver(t, nil)
	d.nmtState = Operational
	d.RaiseEmergency(0x1234, 0x03)

	out := make([]protocol.Message, 4)
	n, _ := d.GetCyclic(0, out)
	var emcy *protocol.Message
	for i := range out[:n] {
		if out[i].Address == fcSyncOrEmcy<<7|uint32(testNode) {
			emcy = &out[i]
		}
	}
	if emcy == nil {
		t.Fatalf("no EMCY frame in %+v", out[:n])
	}
	want := [8]byte{0x34, 0x12, 0x03, 0, 0, 0, 0, 0}
	for i, b := range want {
		if emcy.Data[i] != b {
			t.Errorf("EMCY byte %d = %#x, want %#x", i, emcy.Data[i], b)
		}
	}

	n, _ = d.GetCyclic(1, out)
	for i := range out[:n] {
		if out[i].Address == fcSyncOrEmcy<<7|uint32(testNode) {
			t.Fatalf("EMCY frame re-emitted after it should have cleared")
		}
	}
}

func TestLSSConfigureNodeIDOnlyInConfiguration(t *testing.T) {
	d := newTestDriver(t, nil)
	configure := protocol.Message{Address: lssRequestCOBID, Len: 2, Data: [protocol.MaxMessageData]byte{cmdConfigureID, 9}}
	d.Decode(0, configure, nil)
	if d.cfg.NodeID == 9 {
		t.Fatalf("CONFIGURE_NODE_ID applied outside CONFIGURATION state")
	}

	switchGlobal := protocol.Message{Address: lssRequestCOBID, Len: 2, Data: [protocol.MaxMessageData]byte{cmdSwitchGlobal, 1}}
	d.Decode(0, switchGlobal, nil)
	if d.lssState != LSSConfiguration {
		t.Fatalf("lssState = %v, want LSSConfiguration", d.lssState)
	}

	d.Decode(0, configure, nil)
	if d.cfg.NodeID != 9 {
		t.Fatalf("NodeID = %d, want 9 after CONFIGURE_NODE_ID in CONFIGURATION", d.cfg.NodeID)
	}

	invalid := protocol.Message{Address: lssRequestCOBID, Len: 2, Data: [protocol.MaxMessageData]byte{cmdConfigureID, 200}}
	d.Decode(0, invalid, nil)
	if d.cfg.NodeID != 9 {
		t.Fatalf("out-of-range node id 200 should be ignored, NodeID = %d", d.cfg.NodeID)
	}
}
