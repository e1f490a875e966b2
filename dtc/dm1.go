// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dtc

// DM1RateLimitUS is the minimum interval between DM1 emissions (1000 ms).
const DM1RateLimitUS = 1_000_000

// LampField packs the four 2-bit lamp fields in the order
// [Protect|Amber|RedStop|MIL] from LSB, mirrored by the byte-level layout
// below (MIL occupies the two most-significant bits, the J1939 DM1
// "[MIL | RedStop | Amber | Protect]" left-to-right == MSB-to-LSB layout).
type LampField struct {
	Protect, Amber, RedStop, MIL Lamp
}

func packLampByte(l LampField) byte {
	return byte(l.MIL&0x3)<<6 | byte(l.RedStop&0x3)<<4 | byte(l.Amber&0x3)<<2 | byte(l.Protect&0x3)
}

// encodeDTC4 packs one DTC into the 4-byte J1939 layout:
// [SPN_low, SPN_mid, (SPN_high<<5)|(FMI & 0x1F), ((CM&1)<<7) | (OC & 0x7F)].
func encodeDTC4(e Entry, cm bool) [4]byte {
	spnLow := byte(e.SPN & 0xFF)
	spnMid := byte((e.SPN >> 8) & 0xFF)
	spnHigh := byte((e.SPN >> 16) & 0x07)
	b2 := spnHigh<<5 | (e.FMI & 0x1F)
	var cmBit byte
	if cm {
		cmBit = 1
	}
	b3 := cmBit<<7 | (e.OccurrenceCount & 0x7F)
	return [4]byte{spnLow, spnMid, b2, b3}
}

// BuildDM1 returns an active-DTC frame if at least DM1RateLimitUS has
// elapsed since the last emission, else nil. The frame is the lamp byte
// followed by 4 bytes per active DTC; an empty active set still emits the
// minimum 8-byte J1939 DM1 frame (lamp byte + reserved 0xFF + one all-FF
// DTC slot), padded up to 8 bytes total (see DESIGN.md).
func (m *Manager) BuildDM1(nowUS uint64) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.haveDM1 && nowUS-m.lastDM1US < DM1RateLimitUS {
		return nil
	}
	m.lastDM1US = nowUS
	m.haveDM1 = true

	lamp := m.lampFieldLocked()
	out := []byte{packLampByte(lamp)}
	active := 0
	for _, e := range m.entries {
		if e.State != Active {
			continue
		}
		b := encodeDTC4(e, false)
		out = append(out, b[:]...)
		active++
	}
	if active == 0 {
		out = append(out, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	}
	for len(out) < 8 {
		out = append(out, 0xFF)
	}
	return out
}

// BuildDM2 is the STORED-state mirror of DM1's encoding, polled rather than
// cyclic, so it carries no rate limit.
func (m *Manager) BuildDM2() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	lamp := m.lampFieldLocked()
	out := []byte{packLampByte(lamp)}
	stored := 0
	for _, e := range m.entries {
		if e.State != Stored {
			continue
		}
		b := encodeDTC4(e, false)
		out = append(out, b[:]...)
		stored++
	}
	if stored == 0 {
		out = append(out, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
	}
	for len(out) < 8 {
		out = append(out, 0xFF)
	}
	return out
}

// lampFieldLocked derives the four lamp fields from MIL severity; this
// engine does not separately model the protect/amber/red-stop categories,
// so those three are always off and only MIL carries the aggregate lamp.
func (m *Manager) lampFieldLocked() LampField {
	best := LampOff
	for _, e := range m.entries {
		if e.State == Active && lampPriority[e.Lamp] > lampPriority[best] {
			best = e.Lamp
		}
	}
	return LampField{Protect: LampOff, Amber: LampOff, RedStop: LampOff, MIL: best}
}
