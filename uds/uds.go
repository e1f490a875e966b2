// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package uds implements a minimal ISO 14229 Unified Diagnostic Services
// server: session/security/DID/routine dispatch over an isotp.Channel.
package uds

import "github.com/lucid-q/signalengine/signal"

// Session is one of the four UDS diagnostic sessions.
type Session int

const (
	SessionDefault Session = iota
	SessionProgramming
	SessionExtendedDiagnostic
	SessionSafetySystem
)

// SecurityState is the server's unlock state.
type SecurityState int

const (
	SecurityLocked SecurityState = iota
	SecurityUnlocked
)

// NRC is a UDS negative response code.
type NRC byte

const (
	NRCServiceNotSupported         NRC = 0x11
	NRCSubFunctionNotSupported     NRC = 0x12
	NRCConditionsNotCorrect        NRC = 0x22
	NRCRequestOutOfRange           NRC = 0x31
	NRCSecurityAccessDenied        NRC = 0x33
	NRCInvalidKey                  NRC = 0x35
	NRCExceedNumberOfAttempts      NRC = 0x36
	NRCRequiredTimeDelayNotExpired NRC = 0x37
)

// Service identifiers.
const (
	SIDDiagnosticSessionControl = 0x10
	SIDSecurityAccess           = 0x27
	SIDReadDataByIdentifier     = 0x22
	SIDWriteDataByIdentifier    = 0x2E
	SIDRoutineControl           = 0x31
	SIDTesterPresent            = 0x3E
)

// DefaultS3US is the default non-default-session silence timeout.
const DefaultS3US = 5_000_000

// SecurityCooldownUS is the lockout after 3 failed key attempts.
const SecurityCooldownUS = 10_000_000

// DIDEntry binds one ReadDataByIdentifier/WriteDataByIdentifier identifier
// to a Signal Table entry.
type DIDEntry struct {
	SignalID        uint32
	RequireSecurity bool
	Writable        bool
}

// DIDTable binds UDS data identifiers to Signal Table entries.
type DIDTable struct {
	entries map[uint16]DIDEntry
}

// NewDIDTable returns an empty table.
func NewDIDTable() *DIDTable {
	return &DIDTable{entries: make(map[uint16]DIDEntry)}
}

// Bind registers one DID.
func (t *DIDTable) Bind(did uint16, e DIDEntry) {
	t.entries[did] = e
}

// Lookup returns the entry for did, if bound.
func (t *DIDTable) Lookup(did uint16) (DIDEntry, bool) {
	e, ok := t.entries[did]
	return e, ok
}

// RoutineFunc executes one RoutineControl sub-function. A non-zero NRC
// aborts the response with that negative response code.
type RoutineFunc func(tbl *signal.Table, subFunction byte, params []byte, nowUS uint64) (result []byte, nrc NRC)

// RoutineEntry binds one routine identifier to its implementation.
type RoutineEntry struct {
	RequireSecurity bool
	Fn              RoutineFunc
}

// RoutineTable maps routine identifiers to their implementations.
type RoutineTable struct {
	entries map[uint16]RoutineEntry
}

// NewRoutineTable returns an empty table.
func NewRoutineTable() *RoutineTable {
	return &RoutineTable{entries: make(map[uint16]RoutineEntry)}
}

// Bind registers one routine.
func (t *RoutineTable) Bind(routine uint16, e RoutineEntry) {
	t.entries[routine] = e
}

// Security computes and validates SecurityAccess seed/key pairs. It is an
// injected capability rather than a fixed algorithm: the transform itself
// is the caller's choice, independent of the session/security bookkeeping
// this package implements.
type Security interface {
	Seed(level byte, nowUS uint64) [4]byte
	CheckKey(level byte, seed [4]byte, key []byte) bool
}

// Server is a UDS diagnostic server bound to one Signal Table.
type Server struct {
	tbl       *signal.Table
	dids      *DIDTable
	routines  *RoutineTable
	sec       Security
	S3US      uint64

	session        Session
	secState       SecurityState
	lastActivityUS uint64

	pendingLevel byte
	pendingSeed  [4]byte
	haveSeed     bool
	failCount    int
	cooldownUS   uint64
}

// NewServer builds a server starting in SessionDefault/SecurityLocked.
func NewServer(tbl *signal.Table, dids *DIDTable, routines *RoutineTable, sec Security) *Server {
	return &Server{tbl: tbl, dids: dids, routines: routines, sec: sec, S3US: DefaultS3US}
}

// Session returns the server's current diagnostic session.
func (s *Server) Session() Session { return s.session }

// SecurityState returns the server's current unlock state.
func (s *Server) SecurityState() SecurityState { return s.secState }

// Periodic decays the session back to DEFAULT (clearing security) once
// S3US has elapsed since the last request, independent of whether a new
// request ever arrives — callable on its own from a housekeeping tick.
func (s *Server) Periodic(nowUS uint64) {
	if s.session != SessionDefault && nowUS-s.lastActivityUS >= s.S3US {
		s.session = SessionDefault
		s.secState = SecurityLocked
	}
}

func negResponse(sid byte, nrc NRC) []byte {
	return []byte{0x7F, sid, byte(nrc)}
}

// Handle processes one UDS request PDU and returns the response PDU, or
// nil for a suppressed positive response (TesterPresent sub-function 0x80).
func (s *Server) Handle(nowUS uint64, req []byte) []byte {
	s.Periodic(nowUS)
	if len(req) == 0 {
		return negResponse(0, NRCServiceNotSupported)
	}
	sid := req[0]
	s.lastActivityUS = nowUS

	switch sid {
	case SIDDiagnosticSessionControl:
		return s.handleSessionControl(req)
	case SIDSecurityAccess:
		return s.handleSecurityAccess(nowUS, req)
	case SIDReadDataByIdentifier:
		return s.handleReadDID(req)
	case SIDWriteDataByIdentifier:
		return s.handleWriteDID(nowUS, req)
	case SIDRoutineControl:
		return s.handleRoutineControl(nowUS, req)
	case SIDTesterPresent:
		return s.handleTesterPresent(req)
	default:
		return negResponse(sid, NRCServiceNotSupported)
	}
}

func sessionForSubFunction(sub byte) (Session, bool) {
	switch sub {
	case 1:
		return SessionDefault, true
	case 2:
		return SessionProgramming, true
	case 3:
		return SessionExtendedDiagnostic, true
	case 4:
		return SessionSafetySystem, true
	default:
		return SessionDefault, false
	}
}

func (s *Server) handleSessionControl(req []byte) []byte {
	if len(req) < 2 {
		return negResponse(SIDDiagnosticSessionControl, NRCRequestOutOfRange)
	}
	sess, ok := sessionForSubFunction(req[1])
	if !ok {
		return negResponse(SIDDiagnosticSessionControl, NRCSubFunctionNotSupported)
	}
	s.session = sess
	s.secState = SecurityLocked
	return []byte{SIDDiagnosticSessionControl + 0x40, req[1]}
}

func (s *Server) handleSecurityAccess(nowUS uint64, req []byte) []byte {
	if s.session == SessionDefault {
		return negResponse(SIDSecurityAccess, NRCConditionsNotCorrect)
	}
	if len(req) < 2 {
		return negResponse(SIDSecurityAccess, NRCRequestOutOfRange)
	}
	sub := req[1]
	if sub%2 == 1 {
		if nowUS < s.cooldownUS {
			return negResponse(SIDSecurityAccess, NRCRequiredTimeDelayNotExpired)
		}
		if s.secState == SecurityUnlocked {
			s.pendingLevel, s.haveSeed = 0, false
			return []byte{SIDSecurityAccess + 0x40, sub, 0, 0, 0, 0}
		}
		seed := s.sec.Seed(sub, nowUS)
		s.pendingLevel, s.pendingSeed, s.haveSeed = sub, seed, true
		return []byte{SIDSecurityAccess + 0x40, sub, seed[0], seed[1], seed[2], seed[3]}
	}

	if !s.haveSeed || sub != s.pendingLevel+1 {
		return negResponse(SIDSecurityAccess, NRCRequestOutOfRange)
	}
	key := req[2:]
	s.haveSeed = false
	if s.sec.CheckKey(s.pendingLevel, s.pendingSeed, key) {
		s.secState = SecurityUnlocked
		s.failCount = 0
		return []byte{SIDSecurityAccess + 0x40, sub}
	}
	s.failCount++
	if s.failCount >= 3 {
		s.cooldownUS = nowUS + SecurityCooldownUS
		s.failCount = 0
		return negResponse(SIDSecurityAccess, NRCExceedNumberOfAttempts)
	}
	return negResponse(SIDSecurityAccess, NRCInvalidKey)
}

func (s *Server) handleReadDID(req []byte) []byte {
	if len(req) < 3 {
		return negResponse(SIDReadDataByIdentifier, NRCRequestOutOfRange)
	}
	did := uint16(req[1])<<8 | uint16(req[2])
	entry, ok := s.dids.Lookup(did)
	if !ok {
		return negResponse(SIDReadDataByIdentifier, NRCRequestOutOfRange)
	}
	if entry.RequireSecurity && s.secState != SecurityUnlocked {
		return negResponse(SIDReadDataByIdentifier, NRCSecurityAccessDenied)
	}
	sig, ok := s.tbl.Get(entry.SignalID)
	if !ok {
		return negResponse(SIDReadDataByIdentifier, NRCRequestOutOfRange)
	}
	v := uint32(sig.Value)
	return []byte{SIDReadDataByIdentifier + 0x40, req[1], req[2],
		byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func (s *Server) handleWriteDID(nowUS uint64, req []byte) []byte {
	if s.session == SessionDefault {
		return negResponse(SIDWriteDataByIdentifier, NRCConditionsNotCorrect)
	}
	if s.secState != SecurityUnlocked {
		return negResponse(SIDWriteDataByIdentifier, NRCSecurityAccessDenied)
	}
	if len(req) < 7 {
		return negResponse(SIDWriteDataByIdentifier, NRCRequestOutOfRange)
	}
	did := uint16(req[1])<<8 | uint16(req[2])
	entry, ok := s.dids.Lookup(did)
	if !ok || !entry.Writable {
		return negResponse(SIDWriteDataByIdentifier, NRCRequestOutOfRange)
	}
	v := int32(uint32(req[3])<<24 | uint32(req[4])<<16 | uint32(req[5])<<8 | uint32(req[6]))
	s.tbl.Write(entry.SignalID, v, signal.OK, nowUS)
	return []byte{SIDWriteDataByIdentifier + 0x40, req[1], req[2]}
}

func (s *Server) handleRoutineControl(nowUS uint64, req []byte) []byte {
	if s.session == SessionDefault {
		return negResponse(SIDRoutineControl, NRCConditionsNotCorrect)
	}
	if len(req) < 4 {
		return negResponse(SIDRoutineControl, NRCRequestOutOfRange)
	}
	sub := req[1]
	routine := uint16(req[2])<<8 | uint16(req[3])
	entry, ok := s.routines.entries[routine]
	if !ok {
		return negResponse(SIDRoutineControl, NRCRequestOutOfRange)
	}
	if entry.RequireSecurity && s.secState != SecurityUnlocked {
		return negResponse(SIDRoutineControl, NRCSecurityAccessDenied)
	}
	result, nrc := entry.Fn(s.tbl, sub, req[4:], nowUS)
	if nrc != 0 {
		return negResponse(SIDRoutineControl, nrc)
	}
	resp := append([]byte{SIDRoutineControl + 0x40, sub, req[2], req[3]}, result...)
	return resp
}

func (s *Server) handleTesterPresent(req []byte) []byte {
	if len(req) < 2 {
		return negResponse(SIDTesterPresent, NRCRequestOutOfRange)
	}
	switch req[1] {
	case 0x00:
		return []byte{SIDTesterPresent + 0x40, 0x00}
	case 0x80:
		return nil
	default:
		return negResponse(SIDTesterPresent, NRCSubFunctionNotSupported)
	}
}
