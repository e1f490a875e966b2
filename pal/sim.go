// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pal

import (
	"sync"
	"time"

	"github.com/lucid-q/signalengine/errno"
)

// SimPlatform is an in-process fake Platform for tests and cmd/signalsim:
// every call is satisfied from plain in-memory state instead of a real bus,
// with an injectable clock for deterministic tests.
type SimPlatform struct {
	mu sync.Mutex

	// NowFn overrides the clock; defaults to a free-running counter advanced
	// by SleepMS so simulated time moves forward deterministically.
	NowFn func() uint64
	now   uint64

	gpio map[uint32]bool
	pwm  map[uint32]pwmState
	can  map[uint32]chan CANFrame

	sentCAN []CANFrame
}

type pwmState struct {
	dutyBP uint32
	freqHz uint32
}

// NewSimPlatform returns a ready-to-use fake with n CAN buses pre-created.
func NewSimPlatform(buses int) *SimPlatform {
	p := &SimPlatform{
		gpio: make(map[uint32]bool),
		pwm:  make(map[uint32]pwmState),
		can:  make(map[uint32]chan CANFrame),
	}
	for i := 0; i < buses; i++ {
		p.can[uint32(i)] = make(chan CANFrame, 256)
	}
	return p
}

// InjectCAN queues a frame as if it had arrived from the wire, for decode tests.
func (p *SimPlatform) InjectCAN(bus uint32, f CANFrame) {
	p.mu.Lock()
	ch, ok := p.can[bus]
	if !ok {
		ch = make(chan CANFrame, 256)
		p.can[bus] = ch
	}
	p.mu.Unlock()
	ch <- f
}

// SentCAN returns every frame transmitted via CANSend, in order.
func (p *SimPlatform) SentCAN() []CANFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CANFrame, len(p.sentCAN))
	copy(out, p.sentCAN)
	return out
}

func (p *SimPlatform) NowUS() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NowFn != nil {
		return p.NowFn()
	}
	return p.now
}

// SetNow pins the clock, for step-by-step test scenarios.
func (p *SimPlatform) SetNow(us uint64) {
	p.mu.Lock()
	p.now = us
	p.mu.Unlock()
}

func (p *SimPlatform) SleepMS(ms uint32) {
	p.mu.Lock()
	p.now += uint64(ms) * 1000
	p.mu.Unlock()
	time.Sleep(time.Microsecond) // yield, keep tests fast
}

func (p *SimPlatform) GPIOSet(pin uint32, level bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gpio[pin] = level
	return nil
}

func (p *SimPlatform) GPIOGet(pin uint32) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gpio[pin], nil
}

func (p *SimPlatform) GPIOToggle(pin uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gpio[pin] = !p.gpio[pin]
	return nil
}

func (p *SimPlatform) PWMSet(channel uint32, dutyBP uint32, freqHz uint32) error {
	if dutyBP > 10000 {
		return errno.EINVAL
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pwm[channel] = pwmState{dutyBP: dutyBP, freqHz: freqHz}
	return nil
}

// PWMState exposes the last-set duty for assertions.
func (p *SimPlatform) PWMState(channel uint32) (dutyBP uint32, freqHz uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.pwm[channel]
	return s.dutyBP, s.freqHz
}

func (p *SimPlatform) CANSend(bus uint32, id uint32, extended bool, data []byte) error {
	if len(data) > 8 {
		return errno.EINVAL
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f := CANFrame{ID: id, Extended: extended, Len: uint8(len(data)), Bus: bus, Timestamp: p.now}
	copy(f.Data[:], data)
	p.sentCAN = append(p.sentCAN, f)
	return nil
}

func (p *SimPlatform) CANRecv(bus uint32, timeoutMS uint32) (CANFrame, bool, error) {
	p.mu.Lock()
	ch, ok := p.can[bus]
	p.mu.Unlock()
	if !ok {
		return CANFrame{}, false, errno.ENODEV
	}
	if timeoutMS == 0 {
		select {
		case f := <-ch:
			return f, true, nil
		default:
			return CANFrame{}, false, nil
		}
	}
	t := time.NewTimer(time.Duration(timeoutMS) * time.Millisecond)
	defer t.Stop()
	select {
	case f := <-ch:
		return f, true, nil
	case <-t.C:
		return CANFrame{}, false, nil
	}
}

func (p *SimPlatform) UARTWrite(port uint32, data []byte, timeoutMS uint32) (int, error) {
	return len(data), nil
}

func (p *SimPlatform) UARTRead(port uint32, buf []byte, timeoutMS uint32) (int, error) {
	return 0, nil
}

func (p *SimPlatform) SPITransfer(bus uint32, tx []byte, rx []byte, timeoutMS uint32) error {
	return nil
}

func (p *SimPlatform) I2CTransfer(bus uint32, addr uint16, w []byte, r []byte, timeoutMS uint32) error {
	return nil
}

var _ Platform = (*SimPlatform)(nil)
