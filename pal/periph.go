// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pal

import (
	"time"

	"github.com/lucid-q/signalengine/errno"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/spi"
)

// CANBus is the capability periph.io has no analogue for: arbitration-free
// send/receive of a CAN frame. Modeled in periph.io's conn.Resource shape
// (String/Halt) so a CANBus can be registered and torn down the same way a
// gpio.PinIO or spi.Conn is.
type CANBus interface {
	String() string
	Halt() error
	Send(id uint32, extended bool, data []byte) error
	// Recv blocks up to timeoutMS; ok is false on timeout.
	Recv(timeoutMS uint32) (frame CANFrame, ok bool, err error)
}

// PWMBus is the second periph.io gap: a duty-cycle/frequency capable output.
type PWMBus interface {
	String() string
	Halt() error
	SetDuty(dutyBP uint32, freqHz uint32) error
}

// PeriphPlatform implements Platform over real periph.io conn.* resources
// for GPIO/SPI/I2C, plus the engine's own CANBus/PWMBus legs for the buses
// periph.io does not model.
type PeriphPlatform struct {
	Clock func() uint64

	GPIOPins map[uint32]gpio.PinIO
	PWMBuses map[uint32]PWMBus
	CANBuses map[uint32]CANBus
	SPIConns map[uint32]spi.Conn
	I2CBuses map[uint32]i2c.Bus
	UARTs    map[uint32]UARTPort
}

// UARTPort is a synchronous byte-stream port with CAN-identical timeout
// semantics; periph.io has no UART abstraction either.
type UARTPort interface {
	Write(data []byte, timeoutMS uint32) (int, error)
	Read(buf []byte, timeoutMS uint32) (int, error)
}

func (p *PeriphPlatform) NowUS() uint64 {
	if p.Clock != nil {
		return p.Clock()
	}
	return uint64(time.Now().UnixNano() / 1000)
}

func (p *PeriphPlatform) SleepMS(ms uint32) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

func (p *PeriphPlatform) GPIOSet(pin uint32, level bool) error {
	io, ok := p.GPIOPins[pin]
	if !ok {
		return errno.ENODEV
	}
	return io.Out(gpio.Level(level))
}

func (p *PeriphPlatform) GPIOGet(pin uint32) (bool, error) {
	io, ok := p.GPIOPins[pin]
	if !ok {
		return false, errno.ENODEV
	}
	return bool(io.Read()), nil
}

func (p *PeriphPlatform) GPIOToggle(pin uint32) error {
	cur, err := p.GPIOGet(pin)
	if err != nil {
		return err
	}
	return p.GPIOSet(pin, !cur)
}

func (p *PeriphPlatform) PWMSet(channel uint32, dutyBP uint32, freqHz uint32) error {
	b, ok := p.PWMBuses[channel]
	if !ok {
		return errno.ENODEV
	}
	return b.SetDuty(dutyBP, freqHz)
}

func (p *PeriphPlatform) CANSend(bus uint32, id uint32, extended bool, data []byte) error {
	b, ok := p.CANBuses[bus]
	if !ok {
		return errno.ENODEV
	}
	return b.Send(id, extended, data)
}

func (p *PeriphPlatform) CANRecv(bus uint32, timeoutMS uint32) (CANFrame, bool, error) {
	b, ok := p.CANBuses[bus]
	if !ok {
		return CANFrame{}, false, errno.ENODEV
	}
	return b.Recv(timeoutMS)
}

func (p *PeriphPlatform) UARTWrite(port uint32, data []byte, timeoutMS uint32) (int, error) {
	u, ok := p.UARTs[port]
	if !ok {
		return 0, errno.ENODEV
	}
	return u.Write(data, timeoutMS)
}

func (p *PeriphPlatform) UARTRead(port uint32, buf []byte, timeoutMS uint32) (int, error) {
	u, ok := p.UARTs[port]
	if !ok {
		return 0, errno.ENODEV
	}
	return u.Read(buf, timeoutMS)
}

func (p *PeriphPlatform) SPITransfer(bus uint32, tx []byte, rx []byte, timeoutMS uint32) error {
	c, ok := p.SPIConns[bus]
	if !ok {
		return errno.ENODEV
	}
	// periph.io's spi.Conn has no timeout parameter; the transfer is expected
	// to be bounded by the underlying driver. timeoutMS is accepted for
	// interface symmetry with the other legs but not separately enforced.
	_ = timeoutMS
	return c.Tx(tx, rx)
}

func (p *PeriphPlatform) I2CTransfer(bus uint32, addr uint16, w []byte, r []byte, timeoutMS uint32) error {
	b, ok := p.I2CBuses[bus]
	if !ok {
		return errno.ENODEV
	}
	_ = timeoutMS
	return b.Tx(addr, w, r)
}

var _ Platform = (*PeriphPlatform)(nil)
