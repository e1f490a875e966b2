// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package isotp implements ISO 15765-2 segmented transport over CAN: the
// SF/FF/CF/FC state machine, one Channel per conversation.
package isotp

import "github.com/lucid-q/signalengine/errno"

// frame types, the top nibble of byte 0.
const (
	frameSingle       = 0x0
	frameFirst        = 0x1
	frameConsecutive  = 0x2
	frameFlowControl  = 0x3
)

// Flow Control status nibbles.
const (
	fcClearToSend = 0x0
	fcWait        = 0x1
	fcOverflow    = 0x2
)

// MaxMessageBytes bounds a reassembled ISO-TP payload.
const MaxMessageBytes = 4095

// Default timeouts, in microseconds.
const (
	DefaultNBsUS = 1_000_000
	DefaultNCrUS = 1_000_000
)

type ChannelState int

const (
	Idle ChannelState = iota
	TxSending
	RxReceiving
)

// Sender transmits one CAN frame (<= 8 payload bytes) for a Channel.
type Sender interface {
	Send(data []byte) error
}

// Channel is one ISO-TP conversation: single-producer/single-consumer, not
// shared across concurrent callers.
type Channel struct {
	sender Sender

	st ChannelState

	rxBuf        []byte
	rxLen        int
	rxSN         byte
	rxDeadlineUS uint64

	txBuf        []byte
	txOffset     int
	txSN         byte
	txBS         byte
	txSTminUS    uint64
	txBlockCount byte
	txNextUS     uint64
	awaitingFC   bool
	txDeadlineUS uint64

	NBsUS uint64
	NCrUS uint64
}

// NewChannel returns an idle channel with the default N_Bs/N_Cr timeouts.
func NewChannel(sender Sender) *Channel {
	return &Channel{sender: sender, NBsUS: DefaultNBsUS, NCrUS: DefaultNCrUS}
}

// State returns the channel's current state.
func (c *Channel) State() ChannelState { return c.st }

func decodeSTminUS(b byte) uint64 {
	switch {
	case b <= 0x7F:
		return uint64(b) * 1000
	case b >= 0xF1 && b <= 0xF9:
		return uint64(b-0xF0) * 100
	default:
		return 0
	}
}

// StartSend begins transmitting payload. Payloads of 7 bytes or fewer go
// out as one Single Frame with no further state; longer payloads send a
// First Frame and move to TxSending, awaiting the peer's Flow Control
// before PumpSend transmits Consecutive Frames.
func (c *Channel) StartSend(nowUS uint64, payload []byte) error {
	if c.st != Idle {
		return errno.EINVAL
	}
	if len(payload) > MaxMessageBytes {
		return errno.EINVAL
	}
	if len(payload) <= 7 {
		frame := make([]byte, 1+len(payload))
		frame[0] = byte(frameSingle<<4) | byte(len(payload))
		copy(frame[1:], payload)
		return c.sender.Send(frame)
	}

	c.txBuf = payload
	c.txOffset = 6
	c.txSN = 1
	c.st = TxSending
	c.awaitingFC = true
	c.txDeadlineUS = nowUS + c.NBsUS

	ff := make([]byte, 8)
	ff[0] = byte(frameFirst<<4) | byte(len(payload)>>8&0x0F)
	ff[1] = byte(len(payload))
	copy(ff[2:], payload[:6])
	return c.sender.Send(ff)
}

// PumpSend transmits the next Consecutive Frame once STmin has elapsed and
// the channel is not waiting on the peer's next Flow Control grant. Called
// periodically by the owner while State() == TxSending.
func (c *Channel) PumpSend(nowUS uint64) (done bool, err error) {
	if c.st != TxSending {
		return true, nil
	}
	if c.awaitingFC || nowUS < c.txNextUS {
		return false, nil
	}
	remaining := c.txBuf[c.txOffset:]
	n := 7
	if len(remaining) < n {
		n = len(remaining)
	}
	frame := make([]byte, 1+n)
	frame[0] = byte(frameConsecutive<<4) | c.txSN
	copy(frame[1:], remaining[:n])
	if err := c.sender.Send(frame); err != nil {
		c.st = Idle
		return false, err
	}
	c.txOffset += n
	c.txSN = (c.txSN + 1) % 16
	c.txBlockCount++

	if c.txOffset >= len(c.txBuf) {
		c.st = Idle
		return true, nil
	}
	if c.txBS != 0 && c.txBlockCount >= c.txBS {
		c.awaitingFC = true
		c.txBlockCount = 0
		c.txDeadlineUS = nowUS + c.NBsUS
		return false, nil
	}
	c.txNextUS = nowUS + c.txSTminUS
	return false, nil
}

// HandleFrame processes one inbound CAN frame. A Single or fully
// reassembled frame returns its payload with done == true; an in-progress
// reassembly or an outbound-side Flow Control returns done == false.
func (c *Channel) HandleFrame(nowUS uint64, data []byte) (payload []byte, done bool, err error) {
	if len(data) == 0 {
		return nil, false, errno.EINVAL
	}
	switch data[0] >> 4 {
	case frameSingle:
		return c.handleSF(data)
	case frameFirst:
		return c.handleFF(nowUS, data)
	case frameConsecutive:
		return c.handleCF(nowUS, data)
	case frameFlowControl:
		return nil, false, c.handleFC(nowUS, data)
	default:
		return nil, false, errno.EINVAL
	}
}

func (c *Channel) handleSF(data []byte) ([]byte, bool, error) {
	length := int(data[0] & 0x0F)
	if length == 0 || length > len(data)-1 {
		return nil, false, errno.EINVAL
	}
	out := make([]byte, length)
	copy(out, data[1:1+length])
	return out, true, nil
}

func (c *Channel) handleFF(nowUS uint64, data []byte) ([]byte, bool, error) {
	if len(data) < 8 {
		return nil, false, errno.EINVAL
	}
	length := int(data[0]&0x0F)<<8 | int(data[1])
	if length > MaxMessageBytes {
		return nil, false, errno.EINVAL
	}
	c.rxBuf = append(c.rxBuf[:0], data[2:8]...)
	c.rxLen = length
	c.rxSN = 0
	c.st = RxReceiving
	c.rxDeadlineUS = nowUS + c.NCrUS

	fc := []byte{byte(frameFlowControl<<4) | fcClearToSend, 0, 0}
	if err := c.sender.Send(fc); err != nil {
		c.st = Idle
		return nil, false, err
	}
	return nil, false, nil
}

func (c *Channel) handleCF(nowUS uint64, data []byte) ([]byte, bool, error) {
	if c.st != RxReceiving {
		return nil, false, errno.EINVAL
	}
	want := (c.rxSN + 1) % 16
	sn := data[0] & 0x0F
	if sn != want {
		c.st = Idle
		return nil, false, errno.EINVAL
	}
	c.rxSN = sn

	remaining := c.rxLen - len(c.rxBuf)
	n := len(data) - 1
	if n > remaining {
		n = remaining
	}
	c.rxBuf = append(c.rxBuf, data[1:1+n]...)

	if len(c.rxBuf) >= c.rxLen {
		out := c.rxBuf[:c.rxLen]
		c.st = Idle
		return out, true, nil
	}
	c.rxDeadlineUS = nowUS + c.NCrUS
	return nil, false, nil
}

func (c *Channel) handleFC(nowUS uint64, data []byte) error {
	if c.st != TxSending {
		return errno.EINVAL
	}
	if len(data) < 3 {
		return errno.EINVAL
	}
	switch data[0] & 0x0F {
	case fcClearToSend:
		c.txBS = data[1]
		c.txSTminUS = decodeSTminUS(data[2])
		c.txBlockCount = 0
		c.awaitingFC = false
		c.txNextUS = nowUS
		return nil
	case fcWait:
		c.txDeadlineUS = nowUS + c.NBsUS
		return nil
	case fcOverflow:
		c.st = Idle
		return errno.EIO
	default:
		return errno.EINVAL
	}
}

// ApplyTimeouts aborts and frees the channel if N_Bs (awaiting Flow
// Control) or N_Cr (awaiting the next Consecutive Frame) has expired.
func (c *Channel) ApplyTimeouts(nowUS uint64) {
	switch c.st {
	case TxSending:
		if c.awaitingFC && nowUS >= c.txDeadlineUS {
			c.st = Idle
		}
	case RxReceiving:
		if nowUS >= c.rxDeadlineUS {
			c.st = Idle
		}
	}
}
