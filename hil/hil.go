// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hil implements the HIL Interceptor: a pal.Platform decorator
// that, once a Twin is attached, reroutes every platform call to it instead
// of the wrapped Platform, so the same binary that runs against real
// hardware can be driven end-to-end by a test harness over a socket. The
// transport itself is a thin framing left intentionally minimal — the wire
// protocol between engine and twin is an external collaborator named by
// interface only, not a contract this package owns.
package hil

import (
	"sync"

	"github.com/lucid-q/signalengine/errno"
	"github.com/lucid-q/signalengine/pal"
)

// Opcodes, one per Platform method.
const (
	OpNowUS opcode = iota
	OpSleepMS
	OpGPIOSet
	OpGPIOGet
	OpGPIOToggle
	OpPWMSet
	OpCANSend
	OpCANRecv
	OpUARTWrite
	OpUARTRead
	OpSPITransfer
	OpI2CTransfer
)

type opcode byte

// Twin is the socket-based peer a test harness implements to stand in for
// real hardware. Call is one synchronous request/response round trip;
// req/resp framing per opcode is defined by the codec functions below.
type Twin interface {
	Call(op opcode, req []byte) (resp []byte, err error)
}

// Interceptor decorates a pal.Platform. With no Twin attached it is a
// transparent pass-through; Attach reroutes every subsequent call to the
// twin until Detach.
type Interceptor struct {
	mu    sync.Mutex
	under pal.Platform
	twin  Twin
}

// NewInterceptor wraps under, initially pass-through.
func NewInterceptor(under pal.Platform) *Interceptor {
	return &Interceptor{under: under}
}

// Attach routes subsequent calls to twin.
func (i *Interceptor) Attach(twin Twin) {
	i.mu.Lock()
	i.twin = twin
	i.mu.Unlock()
}

// Detach reverts to the wrapped Platform.
func (i *Interceptor) Detach() {
	i.Attach(nil)
}

// Active reports whether a Twin is currently attached.
func (i *Interceptor) Active() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.twin != nil
}

func (i *Interceptor) twinOrNil() Twin {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.twin
}

var errnoTable = [...]error{
	errno.EINVAL,
	errno.ENOENT,
	errno.ENOMEM,
	errno.ETIMEDOUT,
	errno.EAGAIN,
	errno.EIO,
	errno.ENODEV,
	errno.ENOTSUP,
}

// EncodeErrno maps a sentinel error to its wire byte; nil -> 0, unrecognized
// non-nil errors fall back to EIO rather than silently becoming success.
func EncodeErrno(err error) byte {
	if err == nil {
		return 0
	}
	for idx, e := range errnoTable {
		if err == e {
			return byte(idx + 1)
		}
	}
	return EncodeErrno(errno.EIO)
}

func DecodeErrno(b byte) error {
	if b == 0 {
		return nil
	}
	idx := int(b) - 1
	if idx < 0 || idx >= len(errnoTable) {
		return errno.EIO
	}
	return errnoTable[idx]
}

func (i *Interceptor) NowUS() uint64 {
	if t := i.twinOrNil(); t != nil {
		resp, err := t.Call(OpNowUS, nil)
		if err != nil || len(resp) < 8 {
			return 0
		}
		return getU64(resp, 0)
	}
	return i.under.NowUS()
}

func (i *Interceptor) SleepMS(ms uint32) {
	if t := i.twinOrNil(); t != nil {
		t.Call(OpSleepMS, putU32(nil, ms))
		return
	}
	i.under.SleepMS(ms)
}

func (i *Interceptor) GPIOSet(pin uint32, level bool) error {
	if t := i.twinOrNil(); t != nil {
		req := putU32(nil, pin)
		req = append(req, boolByte(level))
		resp, err := t.Call(OpGPIOSet, req)
		if err != nil {
			return errno.EIO
		}
		return DecodeErrno(respErr(resp))
	}
	return i.under.GPIOSet(pin, level)
}

func (i *Interceptor) GPIOGet(pin uint32) (bool, error) {
	if t := i.twinOrNil(); t != nil {
		resp, err := t.Call(OpGPIOGet, putU32(nil, pin))
		if err != nil || len(resp) < 2 {
			return false, errno.EIO
		}
		return resp[0] != 0, DecodeErrno(resp[1])
	}
	return i.under.GPIOGet(pin)
}

func (i *Interceptor) GPIOToggle(pin uint32) error {
	if t := i.twinOrNil(); t != nil {
		resp, err := t.Call(OpGPIOToggle, putU32(nil, pin))
		if err != nil {
			return errno.EIO
		}
		return DecodeErrno(respErr(resp))
	}
	return i.under.GPIOToggle(pin)
}

func (i *Interceptor) PWMSet(channel uint32, dutyBP uint32, freqHz uint32) error {
	if t := i.twinOrNil(); t != nil {
		req := putU32(nil, channel)
		req = putU32(req, dutyBP)
		req = putU32(req, freqHz)
		resp, err := t.Call(OpPWMSet, req)
		if err != nil {
			return errno.EIO
		}
		return DecodeErrno(respErr(resp))
	}
	return i.under.PWMSet(channel, dutyBP, freqHz)
}

func (i *Interceptor) CANSend(bus uint32, id uint32, extended bool, data []byte) error {
	if t := i.twinOrNil(); t != nil {
		req := putU32(nil, bus)
		req = putU32(req, id)
		req = append(req, boolByte(extended), byte(len(data)))
		req = append(req, data...)
		resp, err := t.Call(OpCANSend, req)
		if err != nil {
			return errno.EIO
		}
		return DecodeErrno(respErr(resp))
	}
	return i.under.CANSend(bus, id, extended, data)
}

func (i *Interceptor) CANRecv(bus uint32, timeoutMS uint32) (pal.CANFrame, bool, error) {
	if t := i.twinOrNil(); t != nil {
		req := putU32(nil, bus)
		req = putU32(req, timeoutMS)
		resp, err := t.Call(OpCANRecv, req)
		if err != nil || len(resp) < 2 {
			return pal.CANFrame{}, false, errno.EIO
		}
		ok := resp[0] != 0
		ec := DecodeErrno(resp[1])
		if !ok || ec != nil {
			return pal.CANFrame{}, ok, ec
		}
		if len(resp) < 2+22 {
			return pal.CANFrame{}, false, errno.EIO
		}
		body := resp[2:]
		f := pal.CANFrame{
			ID:        getU32(body, 0),
			Extended:  body[4] != 0,
			Len:       body[5],
			Bus:       bus,
			Timestamp: getU64(body, 6),
		}
		copy(f.Data[:], body[14:22])
		return f, true, nil
	}
	return i.under.CANRecv(bus, timeoutMS)
}

func (i *Interceptor) UARTWrite(port uint32, data []byte, timeoutMS uint32) (int, error) {
	if t := i.twinOrNil(); t != nil {
		req := putU32(nil, port)
		req = putU32(req, timeoutMS)
		req = putU32(req, uint32(len(data)))
		req = append(req, data...)
		resp, err := t.Call(OpUARTWrite, req)
		if err != nil || len(resp) < 5 {
			return 0, errno.EIO
		}
		return int(getU32(resp, 0)), DecodeErrno(resp[4])
	}
	return i.under.UARTWrite(port, data, timeoutMS)
}

func (i *Interceptor) UARTRead(port uint32, buf []byte, timeoutMS uint32) (int, error) {
	if t := i.twinOrNil(); t != nil {
		req := putU32(nil, port)
		req = putU32(req, timeoutMS)
		req = putU32(req, uint32(len(buf)))
		resp, err := t.Call(OpUARTRead, req)
		if err != nil || len(resp) < 5 {
			return 0, errno.EIO
		}
		n := int(getU32(resp, 0))
		ec := DecodeErrno(resp[4])
		if n > len(resp)-5 {
			n = len(resp) - 5
		}
		copy(buf, resp[5:5+n])
		return n, ec
	}
	return i.under.UARTRead(port, buf, timeoutMS)
}

func (i *Interceptor) SPITransfer(bus uint32, tx []byte, rx []byte, timeoutMS uint32) error {
	if t := i.twinOrNil(); t != nil {
		req := putU32(nil, bus)
		req = putU32(req, timeoutMS)
		req = putU32(req, uint32(len(tx)))
		req = append(req, tx...)
		resp, err := t.Call(OpSPITransfer, req)
		if err != nil || len(resp) < 1 {
			return errno.EIO
		}
		ec := DecodeErrno(resp[0])
		copy(rx, resp[1:])
		return ec
	}
	return i.under.SPITransfer(bus, tx, rx, timeoutMS)
}

func (i *Interceptor) I2CTransfer(bus uint32, addr uint16, w []byte, r []byte, timeoutMS uint32) error {
	if t := i.twinOrNil(); t != nil {
		req := putU32(nil, bus)
		req = putU32(req, uint32(addr))
		req = putU32(req, timeoutMS)
		req = putU32(req, uint32(len(w)))
		req = append(req, w...)
		resp, err := t.Call(OpI2CTransfer, req)
		if err != nil || len(resp) < 1 {
			return errno.EIO
		}
		ec := DecodeErrno(resp[0])
		copy(r, resp[1:])
		return ec
	}
	return i.under.I2CTransfer(bus, addr, w, r, timeoutMS)
}

var _ pal.Platform = (*Interceptor)(nil)

func respErr(resp []byte) byte {
	if len(resp) == 0 {
		return byte(len(errnoTable))
	}
	return resp[0]
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func putU32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func getU32(b []byte, off int) uint32 {
	return uint32(b[off])<<24 | uint32(b[off+1])<<16 | uint32(b[off+2])<<8 | uint32(b[off+3])
}

func getU64(b []byte, off int) uint64 {
	var v uint64
	for k := 0; k < 8; k++ {
		v = v<<8 | uint64(b[off+k])
	}
	return v
}
