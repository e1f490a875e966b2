// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build linux

// Package socketcan is a Linux AF_CAN/SocketCAN backed pal.CANBus.
//
// No cgo: a handful of hand-declared ioctl request numbers and structs
// matching the kernel ABI, and github.com/daedaluz/goioctl.Ioctl for the
// interface-index lookup.
package socketcan

import (
	"time"
	"unsafe"

	ioctl "github.com/daedaluz/goioctl"
	"github.com/lucid-q/signalengine/errno"
	"github.com/lucid-q/signalengine/pal"
	"golang.org/x/sys/unix"
)

// siocgifindex is the fixed Linux ioctl request number for resolving an
// interface name to its kernel index (net/if.h), used to bind an AF_CAN
// socket.
const siocgifindex = 0x8933

type ifreq struct {
	name [16]byte
	idx int32
	_ [16]byte // pad to sizeof(struct ifreq)
}

// Bus is a single SocketCAN interface (e.g. "can0", "vcan0").
type Bus struct {
	name string
	fd int
}

// Open binds a raw CAN_RAW socket to the named interface.
func Open(ifname string) (*Bus, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, errno.ENODEV
	}
	var ifr ifreq
	copy(ifr.name[:], ifname)
	if err := ioctl.Ioctl(uintptr(fd), siocgifindex, uintptr(unsafe.Pointer(&ifr))); err != nil {
		unix.Close(fd)
		return nil, errno.ENODEV
	}
	addr := &unix.SockaddrCAN{Ifindex: int(ifr.idx)}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, errno.ENODEV
	}
	return &Bus{name: ifname, fd: fd}, nil
}

func (b *Bus) String() string { return "socketcan(" + b.name + ")" }

func (b *Bus) Halt() error {
	return unix.Close(b.fd)
}

// canFrame mirrors struct can_frame from linux/can.h: 4-byte id, 1-byte len,
// 3 bytes padding, 8 bytes of data.
type canFrame struct {
	id uint32
	len uint8
	_ [3]byte
	data [8]byte
}

const canEFFFlag = 0x80000000

func (b *Bus) Send(id uint32, extended bool, data []byte) error {
	if len(data) > 8 {
		return errno.EINVAL
	}
	var f canFrame
	f.id = id
	if extended {
		f.id |= canEFFFlag
	}
	f.len = uint8(len(data))
	copy(f.data[:], data)
	buf := (*[unsafe.Sizeof(canFrame{})]byte)(unsafe.Pointer(&f))[:]
	_, err := unix.Write(b.fd, buf)
	if err != nil {
		return errno.EIO
	}
	return nil
}

func (b *Bus) Recv(timeoutMS uint32) (pal.CANFrame, bool, error) {
	if timeoutMS != pal.MaxTimeout {
		fds := []unix.PollFd{{Fd: int32(b.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, int(timeoutMS))
		if err != nil {
			return pal.CANFrame{}, false, errno.EIO
		}
		if n == 0 {
			return pal.CANFrame{}, false, nil
		}
	}
	var raw [unsafe.Sizeof(canFrame{})]byte
	n, err := unix.Read(b.fd, raw[:])
	if err != nil || n != len(raw) {
		return pal.CANFrame{}, false, errno.EIO
	}
	f := (*canFrame)(unsafe.Pointer(&raw[0]))
	out := pal.CANFrame{
		ID: f.id &^ canEFFFlag,
		Extended: f.id&canEFFFlag != 0,
		Len: f.len,
		Timestamp: uint64(time.Now().UnixNano() / 1000),
	}
	copy(out.Data[:], f.data[:])
	return out, true, nil
}
