// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package protocol defines the unified protocol driver interface and a
// small registry that fans decoded frames and cyclic transmissions out to
// a fixed set of them.
package protocol

import "github.com/lucid-q/signalengine/signal"

// MaxMessageData is the maximum payload of a protocol message.
const MaxMessageData = 64

// Flags on a Message.
type Flags uint8

const (
	// FlagExtended marks a 29-bit J1939 address vs. an 11-bit CANopen one.
	FlagExtended Flags = 1 << iota
)

// Message is the generic protocol frame.
type Message struct {
	Address     uint32
	Data        [MaxMessageData]byte
	Len         uint8
	TimestampUS uint64
	Flags       Flags
}

// Driver is the capability set every protocol driver exposes: decode an
// inbound frame into signal events, encode configured cyclic frames from
// cached signal values, and accept out-of-band signal updates. Each driver
// holds its own context; none share global state.
type Driver interface {
	// Name identifies the driver for logging/registration, in the same
	// spirit as periph.Driver.String.
	Name() string
	// Init prepares the driver's internal decode/encode maps.
	Init() error
	// Decode matches msg against the driver's maps, writing up to len(out)
	// events into out and returning the count.
	// Unmapped frames decode to zero events, never an error.
	Decode(nowUS uint64, msg Message, out []signal.Event) (n int, err error)
	// Encode produces the wire Message for one configured encode mapping,
	// indexed the same way GetCyclic enumerates them.
	Encode(events []signal.Event) (Message, error)
	// GetCyclic returns every message whose period has elapsed since its
	// last transmission, writing up to len(out) of them into out and
	// advancing last_tx_time for each.
	GetCyclic(nowUS uint64, out []Message) (n int, err error)
	// UpdateSignal refreshes the driver's own cache of a signal's value,
	// used by encoders that need the latest value outside of ingest.
	UpdateSignal(signalID uint32, value int32, nowUS uint64)
}

// Registry inits and fans frames out to a fixed set of drivers.
type Registry struct {
	drivers []Driver
}

// NewRegistry inits every driver and returns a ready registry. The first
// Init error aborts registration.
func NewRegistry(drivers ...Driver) (*Registry, error) {
	for _, d := range drivers {
		if err := d.Init(); err != nil {
			return nil, err
		}
	}
	return &Registry{drivers: drivers}, nil
}

// Drivers returns the registered drivers in registration order.
func (r *Registry) Drivers() []Driver {
	return r.drivers
}

// DecodeAll routes an inbound message through every registered driver,
// appending decoded events to out and returning the updated slice. A frame
// is expected to match at most one driver's address space in practice, but
// every driver is offered the chance so the registry stays protocol-agnostic.
func (r *Registry) DecodeAll(nowUS uint64, msg Message, out []signal.Event) []signal.Event {
	buf := make([]signal.Event, 16)
	for _, d := range r.drivers {
		n, err := d.Decode(nowUS, msg, buf)
		if err != nil || n == 0 {
			continue
		}
		out = append(out, buf[:n]...)
	}
	return out
}

// UpdateAll pushes every table signal's current value into every driver's
// own cache via UpdateSignal, keeping cyclic-encode state in sync without
// drivers touching signal.Table directly.
func (r *Registry) UpdateAll(tbl *signal.Table, nowUS uint64) {
	for id := uint32(0); id < signal.N; id++ {
		s, ok := tbl.Get(id)
		if !ok {
			continue
		}
		for _, d := range r.drivers {
			d.UpdateSignal(id, s.Value, nowUS)
		}
	}
}

// GetCyclicAll collects every driver's due cyclic messages.
func (r *Registry) GetCyclicAll(nowUS uint64) []Message {
	var out []Message
	buf := make([]Message, 16)
	for _, d := range r.drivers {
		n, err := d.GetCyclic(nowUS, buf)
		if err != nil {
			continue
		}
		out = append(out, buf[:n]...)
	}
	return out
}
