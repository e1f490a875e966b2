// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package errno defines the negative-errno-style sentinel errors shared by
// every layer of the engine.
package errno

import "errors"

var (
	// EINVAL is returned for a null/out-of-range argument or a malformed frame.
	EINVAL = errors.New("errno: invalid argument")
	// ENOENT is returned when a referenced id (signal, config, DTC) does not exist.
	ENOENT = errors.New("errno: no such entry")
	// ENOMEM is returned when a fixed-capacity container is full.
	ENOMEM = errors.New("errno: no space left")
	// ETIMEDOUT is returned by any bounded wait that expires.
	ETIMEDOUT = errors.New("errno: timed out")
	// EAGAIN is returned by a non-blocking call that would otherwise block.
	EAGAIN = errors.New("errno: try again")
	// EIO is returned for a transport failure reported by the platform.
	EIO = errors.New("errno: i/o error")
	// ENODEV is returned when a backing device/bus is not present.
	ENODEV = errors.New("errno: no such device")
	// ENOTSUP is returned for an operation the backend does not implement.
	ENOTSUP = errors.New("errno: not supported")
)
