// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import "github.com/lucid-q/signalengine/stage"

// ScaleLimp implements stage.LimpTarget over one of the registry's own
// Scale entries: a shadow-and-swap approach where the original values are
// kept alongside the limp values and swapped in place rather than mutating
// a single shadow copy.
type ScaleLimp struct {
	reg    *Registry
	index  int
	limp   stage.Scale
	orig   stage.Scale
	active bool
}

// NewScaleLimp builds a LimpTarget bound to registry index idx within
// reg.scales, with limp the values to apply on trip.
func NewScaleLimp(reg *Registry, idx int, limp stage.Scale) *ScaleLimp {
	return &ScaleLimp{reg: reg, index: idx, limp: limp}
}

func (s *ScaleLimp) Trip() {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	if s.index < 0 || s.index >= len(s.reg.scales) {
		return
	}
	s.orig = s.reg.scales[s.index]
	cur := s.orig
	cur.ScaleFactor = s.limp.ScaleFactor
	cur.HasClampMin = s.limp.HasClampMin
	cur.ClampMin = s.limp.ClampMin
	cur.HasClampMax = s.limp.HasClampMax
	cur.ClampMax = s.limp.ClampMax
	s.reg.scales[s.index] = cur
	s.active = true
	s.reg.bumpVersion()
}

func (s *ScaleLimp) Restore() {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	if !s.active || s.index < 0 || s.index >= len(s.reg.scales) {
		return
	}
	s.reg.scales[s.index] = s.orig
	s.active = false
	s.reg.bumpVersion()
}

func (s *ScaleLimp) Active() bool {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	return s.active
}

var _ stage.LimpTarget = (*ScaleLimp)(nil)
