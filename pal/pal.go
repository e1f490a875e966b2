// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pal is the Platform Abstraction Layer.
//
// It is the only place the engine touches real time, real hardware and real
// blocking I/O. Durations are microseconds or milliseconds as named, and
// every blocking call takes a timeout where 0 means non-blocking and
// MaxTimeout means wait forever.
package pal

import "math"

// MaxTimeout is the "wait forever" sentinel.
const MaxTimeout = math.MaxUint32

// CANFrame is a single CAN bus frame, 11-bit (CANopen) or 29-bit (J1939).
type CANFrame struct {
	ID        uint32
	Extended  bool
	Data      [8]byte
	Len       uint8
	Bus       uint32
	Timestamp uint64
}

// Platform is the capability set the core calls into.
//
// Implementations: PeriphPlatform (real periph.io-backed hardware),
// SimPlatform (in-process fake for tests/cmd/signalsim) and
// hil.Interceptor (decorates any Platform, rerouting to a twin).
type Platform interface {
	// NowUS returns the monotonic platform clock in microseconds.
	NowUS() uint64
	// SleepMS blocks the calling goroutine for the given duration.
	SleepMS(ms uint32)

	// GPIOSet drives a digital output pin high (true) or low (false).
	GPIOSet(pin uint32, level bool) error
	// GPIOGet reads a digital input pin.
	GPIOGet(pin uint32) (bool, error)
	// GPIOToggle flips a digital output pin's current level.
	GPIOToggle(pin uint32) error

	// PWMSet configures a PWM channel. dutyBP is 0..10000 (0.00%..100.00%,
	// duty cycle convention).
	PWMSet(channel uint32, dutyBP uint32, freqHz uint32) error

	// CANSend transmits a frame on the given bus. Arbitration is assumed by
	// the hardware.
	CANSend(bus uint32, id uint32, extended bool, data []byte) error
	// CANRecv blocks up to timeoutMS for the next inbound frame on bus.
	// ok is false on a clean timeout (not an error).
	CANRecv(bus uint32, timeoutMS uint32) (frame CANFrame, ok bool, err error)

	// UARTWrite/UARTRead/SPITransfer/I2CTransfer are synchronous byte-stream
	// calls with CAN-identical timeout semantics.
	UARTWrite(port uint32, data []byte, timeoutMS uint32) (int, error)
	UARTRead(port uint32, buf []byte, timeoutMS uint32) (int, error)
	SPITransfer(bus uint32, tx []byte, rx []byte, timeoutMS uint32) error
	I2CTransfer(bus uint32, addr uint16, w []byte, r []byte, timeoutMS uint32) error
}
