// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package hwring implements the Hardware Input Ring: a
// producer-multi/consumer-single ring buffering raw samples from ISRs.
package hwring

import "github.com/lucid-q/signalengine/queue"

// DefaultCapacity is the minimum ring capacity ("capacity >= 128").
const DefaultCapacity = 128

// HwSample is the raw (source, value, timestamp) triple an ISR produces.
type HwSample struct {
	SourceID  uint8
	Value     uint32
	Timestamp uint64
}

// Clock supplies the monotonic microsecond timestamp; satisfied by
// pal.Platform.NowUS.
type Clock interface {
	NowUS() uint64
}

// Ring is the ISR-facing front end of the bounded queue: Push never blocks
// and silently drops on overflow, Pop/Pending drive the engine
// tick's drain step.
type Ring struct {
	q     *queue.Bounded[HwSample]
	clock Clock
}

// New returns a ring of the given capacity (rounded up to DefaultCapacity).
func New(capacity int, clock Clock) *Ring {
	if capacity < DefaultCapacity {
		capacity = DefaultCapacity
	}
	return &Ring{q: queue.NewBounded[HwSample](capacity, queue.DropNewest), clock: clock}
}

// Push stamps the sample with the current platform time and enqueues it.
// Producers run from ISR context and must never block; a full ring drops
// the sample silently and bumps the drop counter.
func (r *Ring) Push(sourceID uint8, value uint32) {
	r.q.Push(HwSample{SourceID: sourceID, Value: value, Timestamp: r.clock.NowUS()})
}

// Pop dequeues the oldest sample. ok is false if the ring was empty.
func (r *Ring) Pop() (HwSample, bool) {
	return r.q.Pop()
}

// Pending returns the number of samples currently queued.
func (r *Ring) Pending() int {
	return r.q.Len()
}

// Drops returns the cumulative count of silently-dropped samples.
func (r *Ring) Drops() uint64 {
	_, _, drops := r.q.Stats()
	return drops
}

// DrainAll pops every pending sample into out, up to len(out) items, returning the
// count drained. This is the engine tick's step (1), draining the hardware
// ring into ingest events.
func (r *Ring) DrainAll(out []HwSample) int {
	n := 0
	for n < len(out) {
		s, ok := r.q.Pop()
		if !ok {
			break
		}
		out[n] = s
		n++
	}
	return n
}
