// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package hil

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/lucid-q/signalengine/errno"
)

// NetTwin is a Twin that round-trips each Call over a net.Conn: one frame
// out (opcode byte, uint32 length, payload) and one frame back (uint32
// length, payload), so a test process on the other end of a TCP or Unix
// socket can stand in for the twin.
type NetTwin struct {
	mu   sync.Mutex
	conn net.Conn
}

// DialNetTwin connects to a twin listening at addr on network ("tcp" or
// "unix").
func DialNetTwin(network, addr string) (*NetTwin, error) {
	c, err := net.Dial(network, addr)
	if err != nil {
		return nil, errno.EIO
	}
	return &NetTwin{conn: c}, nil
}

// NewNetTwin wraps an already-established connection (e.g. from a listener
// Accept, for the twin side of a test harness).
func NewNetTwin(conn net.Conn) *NetTwin {
	return &NetTwin{conn: conn}
}

func (n *NetTwin) Close() error {
	return n.conn.Close()
}

func (n *NetTwin) Call(op opcode, req []byte) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	hdr := make([]byte, 5)
	hdr[0] = byte(op)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(req)))
	if _, err := n.conn.Write(hdr); err != nil {
		return nil, errno.EIO
	}
	if len(req) > 0 {
		if _, err := n.conn.Write(req); err != nil {
			return nil, errno.EIO
		}
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(n.conn, lenBuf[:]); err != nil {
		return nil, errno.EIO
	}
	n2 := binary.BigEndian.Uint32(lenBuf[:])
	if n2 == 0 {
		return nil, nil
	}
	resp := make([]byte, n2)
	if _, err := io.ReadFull(n.conn, resp); err != nil {
		return nil, errno.EIO
	}
	return resp, nil
}

// ServeTwinFrame reads one (opcode, request) frame from conn and returns it
// to the caller, which is expected to execute it against a real or
// simulated Platform and respond with RespondTwinFrame. Used on the twin
// side of the socket: a harness process loop that stands in for hardware.
func ServeTwinFrame(conn net.Conn) (op opcode, req []byte, err error) {
	hdr := make([]byte, 5)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return 0, nil, errno.EIO
	}
	op = opcode(hdr[0])
	n := binary.BigEndian.Uint32(hdr[1:])
	if n == 0 {
		return op, nil, nil
	}
	req = make([]byte, n)
	if _, err := io.ReadFull(conn, req); err != nil {
		return 0, nil, errno.EIO
	}
	return op, req, nil
}

// RespondTwinFrame writes one response frame for a request read via
// ServeTwinFrame.
func RespondTwinFrame(conn net.Conn, resp []byte) error {
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(resp)))
	if _, err := conn.Write(lenBuf); err != nil {
		return errno.EIO
	}
	if len(resp) > 0 {
		if _, err := conn.Write(resp); err != nil {
			return errno.EIO
		}
	}
	return nil
}
