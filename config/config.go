// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config implements the Config Registry:
// runtime add/read/write/remove of stage configs with a calibration mode and
// a post-calibration lock.
package config

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/lucid-q/signalengine/errno"
	"github.com/lucid-q/signalengine/stage"
)

// ErrConfigLocked is returned for any write attempted after ExitCalibration
// has latched config_locked.
var ErrConfigLocked = errors.New("config: SECURITY_ACCESS_DENIED: config_locked")

// Registry owns every stage's config slice for the lifetime of the engine.
// All mutation takes mu; config_version may be read lock-free via atomic.
type Registry struct {
	mu sync.Mutex

	remaps          []stage.Remap
	scales          []stage.Scale
	merges          []stage.Merge
	pids            []*stage.PID
	verifiedOutputs []*stage.VerifiedOutput
	faultMonitors   []*stage.FaultMonitor
	cyclicOutputs   []*stage.CyclicOutput
	gpioPatterns    []*stage.GpioPattern
	commutators     []stage.Commutator

	calibrating bool
	initialized bool
	locked      bool
	version     uint32
}

// New returns an empty registry, writable until Finalize; after that only
// while calibrating, and never once ExitCalibration latches it.
func New() *Registry {
	return &Registry{}
}

// Version returns config_version without taking the lock.
func (r *Registry) Version() uint32 {
	return atomic.LoadUint32(&r.version)
}

func (r *Registry) bumpVersion() {
	atomic.AddUint32(&r.version, 1)
}

// writable reports whether mutation is currently allowed: before engine init
// completes (before Finalize is called) or while calibrating, and never
// once config_locked has latched.
func (r *Registry) writable() bool {
	if r.locked {
		return false
	}
	return !r.initialized || r.calibrating
}

// Finalize is called once engine_init is done constructing the static
// config; subsequent writes require calibration mode.
func (r *Registry) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calibrating = false
	r.initialized = true
}

// EnterCalibration unlocks writes for runtime tuning.
func (r *Registry) EnterCalibration() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locked {
		return ErrConfigLocked
	}
	r.calibrating = true
	return nil
}

// ExitCalibration latches config_locked; all subsequent writes fail with
// SECURITY_ACCESS_DENIED until the next boot.
func (r *Registry) ExitCalibration() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calibrating = false
	r.locked = true
}

// Locked reports whether config_locked has latched.
func (r *Registry) Locked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.locked
}

// AddRemap appends a Remap record, shifting nothing (append keeps the
// active range contiguous by construction).
func (r *Registry) AddRemap(c stage.Remap) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.writable() {
		return ErrConfigLocked
	}
	r.remaps = append(r.remaps, c)
	r.bumpVersion()
	return nil
}

// RemoveRemap deletes index i, shifting trailing entries down to keep the
// active range contiguous.
func (r *Registry) RemoveRemap(i int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.writable() {
		return ErrConfigLocked
	}
	if i < 0 || i >= len(r.remaps) {
		return errno.ENOENT
	}
	r.remaps = append(r.remaps[:i], r.remaps[i+1:]...)
	r.bumpVersion()
	return nil
}

// Remaps returns a snapshot copy of the configured remap stages.
func (r *Registry) Remaps() []stage.Remap {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]stage.Remap, len(r.remaps))
	copy(out, r.remaps)
	return out
}

// AddScale validates then appends a Scale record (invalid clamp
// ranges are rejected at add time).
func (r *Registry) AddScale(c stage.Scale) error {
	if err := stage.ValidateScale(c); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.writable() {
		return ErrConfigLocked
	}
	r.scales = append(r.scales, c)
	r.bumpVersion()
	return nil
}

// WriteScale overwrites index i in place (used by calibration-mode tuning;
// limp-home goes through ScaleLimp, which writes the record directly).
func (r *Registry) WriteScale(i int, c stage.Scale) error {
	if err := stage.ValidateScale(c); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.writable() {
		return ErrConfigLocked
	}
	if i < 0 || i >= len(r.scales) {
		return errno.ENOENT
	}
	r.scales[i] = c
	r.bumpVersion()
	return nil
}

// RemoveScale deletes index i, shifting trailing entries down.
func (r *Registry) RemoveScale(i int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.writable() {
		return ErrConfigLocked
	}
	if i < 0 || i >= len(r.scales) {
		return errno.ENOENT
	}
	r.scales = append(r.scales[:i], r.scales[i+1:]...)
	r.bumpVersion()
	return nil
}

// Scales returns a snapshot copy.
func (r *Registry) Scales() []stage.Scale {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]stage.Scale, len(r.scales))
	copy(out, r.scales)
	return out
}

// AddMerge, AddPID, AddVerifiedOutput, AddFaultMonitor, AddCyclicOutput,
// AddGpioPattern, AddCommutator follow the same add/read shape; kept
// compact since the lifecycle contract is identical for every config kind.

func (r *Registry) AddMerge(c stage.Merge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.writable() {
		return ErrConfigLocked
	}
	r.merges = append(r.merges, c)
	r.bumpVersion()
	return nil
}

func (r *Registry) Merges() []stage.Merge {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]stage.Merge, len(r.merges))
	copy(out, r.merges)
	return out
}

func (r *Registry) AddPID(c *stage.PID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.writable() {
		return ErrConfigLocked
	}
	r.pids = append(r.pids, c)
	r.bumpVersion()
	return nil
}

func (r *Registry) PIDs() []*stage.PID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*stage.PID, len(r.pids))
	copy(out, r.pids)
	return out
}

func (r *Registry) AddVerifiedOutput(c *stage.VerifiedOutput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.writable() {
		return ErrConfigLocked
	}
	r.verifiedOutputs = append(r.verifiedOutputs, c)
	r.bumpVersion()
	return nil
}

func (r *Registry) VerifiedOutputs() []*stage.VerifiedOutput {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*stage.VerifiedOutput, len(r.verifiedOutputs))
	copy(out, r.verifiedOutputs)
	return out
}

func (r *Registry) AddFaultMonitor(c *stage.FaultMonitor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.writable() {
		return ErrConfigLocked
	}
	r.faultMonitors = append(r.faultMonitors, c)
	r.bumpVersion()
	return nil
}

func (r *Registry) FaultMonitors() []*stage.FaultMonitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*stage.FaultMonitor, len(r.faultMonitors))
	copy(out, r.faultMonitors)
	return out
}

func (r *Registry) AddCyclicOutput(c *stage.CyclicOutput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.writable() {
		return ErrConfigLocked
	}
	r.cyclicOutputs = append(r.cyclicOutputs, c)
	r.bumpVersion()
	return nil
}

func (r *Registry) CyclicOutputs() []*stage.CyclicOutput {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*stage.CyclicOutput, len(r.cyclicOutputs))
	copy(out, r.cyclicOutputs)
	return out
}

func (r *Registry) AddGpioPattern(c *stage.GpioPattern) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.writable() {
		return ErrConfigLocked
	}
	r.gpioPatterns = append(r.gpioPatterns, c)
	r.bumpVersion()
	return nil
}

func (r *Registry) GpioPatterns() []*stage.GpioPattern {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*stage.GpioPattern, len(r.gpioPatterns))
	copy(out, r.gpioPatterns)
	return out
}

func (r *Registry) AddCommutator(c stage.Commutator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.writable() {
		return ErrConfigLocked
	}
	r.commutators = append(r.commutators, c)
	r.bumpVersion()
	return nil
}

func (r *Registry) Commutators() []stage.Commutator {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]stage.Commutator, len(r.commutators))
	copy(out, r.commutators)
	return out
}
