// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package dtc implements the DTC Manager: J1939 DTC
// lifecycle, lamp priority aggregation, and rate-limited DM1/DM2 formatting.
package dtc

import (
	"sync"

	"github.com/lucid-q/signalengine/errno"
)

// MaxDTCs is the fixed capacity of the entry table.
const MaxDTCs = 32

// Lamp is a J1939 lamp severity.
type Lamp int

const (
	LampOff Lamp = iota
	LampOn
	LampSlowFlash
	LampFastFlash
)

// lampPriority orders lamps for MIL aggregation: RED(fast-flash) > AMBER
// flash(slow-flash) > AMBER(on) > OFF.
var lampPriority = map[Lamp]int{LampOff: 0, LampOn: 1, LampSlowFlash: 2, LampFastFlash: 3}

// State is an entry's lifecycle state.
type State int

const (
	Active State = iota
	Stored
)

// Entry is one DTC record.
type Entry struct {
	SPN             uint32
	FMI             uint8
	Lamp            Lamp
	OccurrenceCount uint8
	FirstTimeUS     uint64
	LastTimeUS      uint64
	State           State
}

// Manager owns the fixed DTC table.
type Manager struct {
	mu        sync.Mutex
	entries   []Entry // len <= MaxDTCs
	lastDM1US uint64
	haveDM1   bool
}

// New returns an empty manager.
func New() *Manager {
	return &Manager{}
}

// SetActive increments occurrence on a matching existing ACTIVE entry, or
// creates one. Returns errno.ENOMEM when the table is full.
func (m *Manager) SetActive(spn uint32, fmi uint8, lamp Lamp, nowUS uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		e := &m.entries[i]
		if e.SPN == spn && e.FMI == fmi && e.State == Active {
			if e.OccurrenceCount < 255 {
				e.OccurrenceCount++
			}
			e.LastTimeUS = nowUS
			e.Lamp = lamp
			return nil
		}
	}
	if len(m.entries) >= MaxDTCs {
		return errno.ENOMEM
	}
	m.entries = append(m.entries, Entry{
		SPN: spn, FMI: fmi, Lamp: lamp, OccurrenceCount: 1,
		FirstTimeUS: nowUS, LastTimeUS: nowUS, State: Active,
	})
	return nil
}

// Clear moves a matching entry to STORED.
func (m *Manager) Clear(spn uint32, fmi uint8, nowUS uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		e := &m.entries[i]
		if e.SPN == spn && e.FMI == fmi && e.State == Active {
			e.State = Stored
			e.LastTimeUS = nowUS
		}
	}
}

// ClearAll drops every entry.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}

// MIL returns the maximum lamp severity of all ACTIVE entries, LampOff if
// there are no active entries.
func (m *Manager) MIL() Lamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	best := LampOff
	for _, e := range m.entries {
		if e.State == Active && lampPriority[e.Lamp] > lampPriority[best] {
			best = e.Lamp
		}
	}
	return best
}

// Active returns a snapshot of every ACTIVE entry.
func (m *Manager) Active() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.State == Active {
			out = append(out, e)
		}
	}
	return out
}

// Stored returns a snapshot of every STORED entry.
func (m *Manager) Stored() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.State == Stored {
			out = append(out, e)
		}
	}
	return out
}
