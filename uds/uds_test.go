// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package uds

import (
	"bytes"
	"testing"

	"github.com/lucid-q/signalengine/signal"
)

type fixedSecurity struct{}

func (fixedSecurity) Seed(level byte, nowUS uint64) [4]byte {
	return [4]byte{0x11, 0x22, 0x33, 0x44}
}

func (fixedSecurity) CheckKey(level byte, seed [4]byte, key []byte) bool {
	return len(key) == 4 && key[0] == seed[0]^0xFF
}

func newTestServer() (*Server, *signal.Table) {
	tbl := signal.NewTable()
	dids := NewDIDTable()
	dids.Bind(0xF190, DIDEntry{SignalID: 3})
	dids.Bind(0xF1A0, DIDEntry{SignalID: 4, RequireSecurity: true, Writable: true})
	routines := NewRoutineTable()
	routines.Bind(0x0203, RoutineEntry{Fn: func(tbl *signal.Table, sub byte, params []byte, nowUS uint64) ([]byte, NRC) {
		return []byte{0x01}, 0
	}})
	return NewServer(tbl, dids, routines, fixedSecurity{}), tbl
}

func goodKey() []byte {
	seed := [4]byte{0x11, 0x22, 0x33, 0x44}
	return []byte{seed[0] ^ 0xFF, 0, 0, 0}
}

// TestSessionDecayAfterS3Silence reproduces the literal scenario: switch to
// EXTENDED at t=0; at t=5001ms, Periodic resets session and security.
func TestSessionDecayAfterS3Silence(t *testing.T) {
	s, _ := newTestServer()
	resp := s.Handle(0, []byte{SIDDiagnosticSessionControl, 3})
	if resp[0] != SIDDiagnosticSessionControl+0x40 {
		t.Fatalf("unexpected response %x", resp)
	}
	if s.Session() != SessionExtendedDiagnostic {
		t.Fatalf("Session() = %v, want ExtendedDiagnostic", s.Session())
	}

	s.Periodic(5_001_000)
	if s.Session() != SessionDefault {
		t.Fatalf("Session() = %v, want Default after S3 silence", s.Session())
	}
	if s.SecurityState() != SecurityLocked {
		t.Fatalf("SecurityState() = %v, want Locked after S3 silence", s.SecurityState())
	}
}

func TestSecurityAccessSeedKeyUnlocks(t *testing.T) {
	s, _ := newTestServer()
	s.Handle(0, []byte{SIDDiagnosticSessionControl, 3})

	seedResp := s.Handle(0, []byte{SIDSecurityAccess, 0x01})
	want := []byte{SIDSecurityAccess + 0x40, 0x01, 0x11, 0x22, 0x33, 0x44}
	if !bytes.Equal(seedResp, want) {
		t.Fatalf("seed response = %x, want %x", seedResp, want)
	}

	keyReq := append([]byte{SIDSecurityAccess, 0x02}, goodKey()...)
	keyResp := s.Handle(0, keyReq)
	if !bytes.Equal(keyResp, []byte{SIDSecurityAccess + 0x40, 0x02}) {
		t.Fatalf("key response = %x, want positive unlock response", keyResp)
	}
	if s.SecurityState() != SecurityUnlocked {
		t.Fatal("SecurityState() should be Unlocked after a correct key")
	}
}

func TestSecurityAccessThreeFailuresTriggersCooldown(t *testing.T) {
	s, _ := newTestServer()
	s.Handle(0, []byte{SIDDiagnosticSessionControl, 3})

	var last []byte
	for i := 0; i < 3; i++ {
		s.Handle(0, []byte{SIDSecurityAccess, 0x01})
		last = s.Handle(0, []byte{SIDSecurityAccess, 0x02, 0, 0, 0, 0}) // wrong key
	}
	if !bytes.Equal(last, negResponse(SIDSecurityAccess, NRCExceedNumberOfAttempts)) {
		t.Fatalf("3rd failed attempt = %x, want EXCEED_NUMBER_OF_ATTEMPTS", last)
	}

	resp := s.Handle(0, []byte{SIDSecurityAccess, 0x01})
	if !bytes.Equal(resp, negResponse(SIDSecurityAccess, NRCRequiredTimeDelayNotExpired)) {
		t.Fatalf("seed request during cooldown = %x, want REQUIRED_TIME_DELAY_NOT_EXPIRED", resp)
	}
}

func TestReadDataByIdentifierSecurityGate(t *testing.T) {
	s, tbl := newTestServer()
	tbl.Write(4, 0x2A, signal.OK, 0)
	s.Handle(0, []byte{SIDDiagnosticSessionControl, 3})

	resp := s.Handle(0, []byte{SIDReadDataByIdentifier, 0xF1, 0xA0})
	if !bytes.Equal(resp, negResponse(SIDReadDataByIdentifier, NRCSecurityAccessDenied)) {
		t.Fatalf("read of a security-gated DID while locked = %x, want SECURITY_ACCESS_DENIED", resp)
	}

	s.Handle(0, []byte{SIDSecurityAccess, 0x01})
	s.Handle(0, append([]byte{SIDSecurityAccess, 0x02}, goodKey()...))
	resp = s.Handle(0, []byte{SIDReadDataByIdentifier, 0xF1, 0xA0})
	want := []byte{SIDReadDataByIdentifier + 0x40, 0xF1, 0xA0, 0, 0, 0, 0x2A}
	if !bytes.Equal(resp, want) {
		t.Fatalf("read response = %x, want %x", resp, want)
	}
}

func TestWriteDataByIdentifierRequiresSessionAndSecurity(t *testing.T) {
	s, tbl := newTestServer()
	resp := s.Handle(0, []byte{SIDWriteDataByIdentifier, 0xF1, 0xA0, 0, 0, 0, 7})
	if !bytes.Equal(resp, negResponse(SIDWriteDataByIdentifier, NRCConditionsNotCorrect)) {
		t.Fatalf("write in DEFAULT session = %x, want CONDITIONS_NOT_CORRECT", resp)
	}

	s.Handle(0, []byte{SIDDiagnosticSessionControl, 3})
	s.Handle(0, []byte{SIDSecurityAccess, 0x01})
	s.Handle(0, append([]byte{SIDSecurityAccess, 0x02}, goodKey()...))
	resp = s.Handle(0, []byte{SIDWriteDataByIdentifier, 0xF1, 0xA0, 0, 0, 0, 7})
	if !bytes.Equal(resp, []byte{SIDWriteDataByIdentifier + 0x40, 0xF1, 0xA0}) {
		t.Fatalf("write response = %x, want positive ack", resp)
	}
	sig, _ := tbl.Get(4)
	if sig.Value != 7 {
		t.Fatalf("signal 4 = %d, want 7", sig.Value)
	}
}

func TestRoutineControl(t *testing.T) {
	s, _ := newTestServer()
	s.Handle(0, []byte{SIDDiagnosticSessionControl, 3})
	resp := s.Handle(0, []byte{SIDRoutineControl, 0x01, 0x02, 0x03})
	want := []byte{SIDRoutineControl + 0x40, 0x01, 0x02, 0x03, 0x01}
	if !bytes.Equal(resp, want) {
		t.Fatalf("routine response = %x, want %x", resp, want)
	}
}

func TestTesterPresentResetsTimerAndSuppressesResponse(t *testing.T) {
	s, _ := newTestServer()
	s.Handle(0, []byte{SIDDiagnosticSessionControl, 3})

	resp := s.Handle(4_000_000, []byte{SIDTesterPresent, 0x00})
	if !bytes.Equal(resp, []byte{SIDTesterPresent + 0x40, 0x00}) {
		t.Fatalf("TesterPresent response = %x, want positive ack", resp)
	}
	s.Periodic(8_000_000) // 4s since TesterPresent, under S3
	if s.Session() != SessionExtendedDiagnostic {
		t.Fatal("TesterPresent should have reset the S3 timer")
	}

	resp = s.Handle(8_000_000, []byte{SIDTesterPresent, 0x80})
	if resp != nil {
		t.Fatalf("suppressed TesterPresent should return nil, got %x", resp)
	}
}
