// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package isotp

import (
	"bytes"
	"testing"
)

type fakeSender struct {
	sent [][]byte
}

func (f *fakeSender) Send(data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func TestSingleFrameReturnsImmediately(t *testing.T) {
	c := NewChannel(&fakeSender{})
	payload, done, err := c.HandleFrame(0, []byte{0x03, 0xAA, 0xBB, 0xCC})
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("a Single Frame should complete immediately")
	}
	if !bytes.Equal(payload, []byte{0xAA, 0xBB, 0xCC}) {
		t.Fatalf("payload = %x, want AABBCC", payload)
	}
}

// TestFirstFrameReassembly reproduces the literal 20-byte receive scenario:
// FF declares length 20, sends CTS, two CFs complete the payload.
func TestFirstFrameReassembly(t *testing.T) {
	sender := &fakeSender{}
	c := NewChannel(sender)

	ff := []byte{0x10, 0x14, 0x62, 0xF1, 0x90, 0x31, 0x48, 0x47}
	_, done, err := c.HandleFrame(0, ff)
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("a First Frame should not complete the transfer")
	}
	if c.State() != RxReceiving {
		t.Fatalf("state = %v, want RxReceiving", c.State())
	}
	if len(sender.sent) != 1 || sender.sent[0][0]&0x0F != fcClearToSend || sender.sent[0][0]>>4 != frameFlowControl {
		t.Fatalf("expected one Flow Control CTS frame, got %x", sender.sent)
	}

	cf1 := []byte{0x21, 0x42, 0x48, 0x34, 0x31, 0x4A, 0x58, 0x4D}
	_, done, err = c.HandleFrame(1, cf1)
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("after CF1 (13/20 bytes), reassembly should not be complete")
	}

	cf2 := []byte{0x22, 0x4E, 0x31, 0x30, 0x39, 0x31, 0x38, 0x36}
	payload, done, err := c.HandleFrame(2, cf2)
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("after CF2 (20/20 bytes), reassembly should be complete")
	}
	want := []byte("\x62\xF1\x90\x31\x48\x47\x42\x48\x34\x31\x4A\x58\x4D\x4E\x31\x30\x39\x31\x38\x36")
	if !bytes.Equal(payload, want) {
		t.Fatalf("payload = %x, want %x", payload, want)
	}
	if c.State() != Idle {
		t.Fatalf("state = %v, want Idle after reassembly completes", c.State())
	}
}

func TestConsecutiveFrameWrongSNAborts(t *testing.T) {
	c := NewChannel(&fakeSender{})
	c.HandleFrame(0, []byte{0x10, 0x14, 0x62, 0xF1, 0x90, 0x31, 0x48, 0x47})

	_, _, err := c.HandleFrame(1, []byte{0x23, 0, 0, 0, 0, 0, 0, 0}) // SN=3, want 1
	if err == nil {
		t.Fatal("a wrong sequence number should return an error")
	}
	if c.State() != Idle {
		t.Fatalf("state = %v, want Idle after an aborted reassembly", c.State())
	}
}

func TestStartSendShortPayloadSendsSingleFrame(t *testing.T) {
	sender := &fakeSender{}
	c := NewChannel(sender)
	if err := c.StartSend(0, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if c.State() != Idle {
		t.Fatalf("state = %v, want Idle (a short send never enters TxSending)", c.State())
	}
	if len(sender.sent) != 1 || sender.sent[0][0] != 0x03 {
		t.Fatalf("sent = %x, want one SF(len=3) frame", sender.sent)
	}
}

func TestStartSendLongPayloadThenPumpAfterCTS(t *testing.T) {
	sender := &fakeSender{}
	c := NewChannel(sender)
	payload := make([]byte, 15)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := c.StartSend(0, payload); err != nil {
		t.Fatal(err)
	}
	if c.State() != TxSending {
		t.Fatalf("state = %v, want TxSending", c.State())
	}

	done, err := c.PumpSend(0)
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("PumpSend before the peer's Flow Control should not transmit")
	}

	if _, _, err := c.HandleFrame(0, []byte{0x30, 0x00, 0x00}); err != nil { // CTS, BS=0, STmin=0
		t.Fatal(err)
	}
	done, err = c.PumpSend(1)
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("one CF (7 of 9 remaining bytes) should not complete a 15-byte send")
	}
	done, err = c.PumpSend(1)
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("second CF should complete the 15-byte send (6 FF + 7 + 2)")
	}
	if c.State() != Idle {
		t.Fatalf("state = %v, want Idle once the send completes", c.State())
	}
}

func TestDecodeSTmin(t *testing.T) {
	cases := []struct {
		b    byte
		want uint64
	}{
		{0x00, 0}, {0x7F, 127_000}, {0xF1, 100}, {0xF9, 900}, {0xFA, 0},
	}
	for _, c := range cases {
		if got := decodeSTminUS(c.b); got != c.want {
			t.Errorf("decodeSTminUS(%#x) = %d, want %d", c.b, got, c.want)
		}
	}
}
