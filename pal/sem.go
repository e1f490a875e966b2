// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pal

import (
	"time"

	"github.com/lucid-q/signalengine/errno"
)

// Sem is a counting semaphore with a bounded-wait Take. It is the
// suspension point the engine task blocks on between ticks, and the
// signal producer tasks use it to wake the engine.
type Sem struct {
	c chan struct{}
}

// NewSem returns a semaphore with the given capacity, pre-loaded with n
// tokens.
func NewSem(capacity, n int) *Sem {
	s := &Sem{c: make(chan struct{}, capacity)}
	for i := 0; i < n; i++ {
		s.c <- struct{}{}
	}
	return s
}

// Give posts one token. Never blocks; if the semaphore is at capacity the
// extra post is silently dropped, matching a platform binary semaphore's
// saturating behavior.
func (s *Sem) Give() {
	select {
	case s.c <- struct{}{}:
	default:
	}
}

// Take waits up to timeoutUS microseconds for a token. timeoutUS == 0 is
// non-blocking (returns errno.EAGAIN immediately if no token is ready);
// MaxTimeout waits forever.
func (s *Sem) Take(timeoutUS uint32) error {
	if timeoutUS == 0 {
		select {
		case <-s.c:
			return nil
		default:
			return errno.EAGAIN
		}
	}
	if timeoutUS == MaxTimeout {
		<-s.c
		return nil
	}
	t := time.NewTimer(time.Duration(timeoutUS) * time.Microsecond)
	defer t.Stop()
	select {
	case <-s.c:
		return nil
	case <-t.C:
		return errno.ETIMEDOUT
	}
}
