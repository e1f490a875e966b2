// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stage

import (
	"math"

	"github.com/lucid-q/signalengine/errno"
	"github.com/lucid-q/signalengine/signal"
)

// Scale is a milli-unit linear transform with optional saturation.
type Scale struct {
	Enabled bool
	Input   uint32
	Output  uint32

	ScaleFactor int32 // milli-multiplier: 1000 == x1.0
	Offset      int32

	HasClampMin bool
	ClampMin    int32
	HasClampMax bool
	ClampMax    int32
}

// ValidateScale rejects configs with an inverted clamp range at add time.
func ValidateScale(c Scale) error {
	if c.HasClampMin && c.HasClampMax && c.ClampMin > c.ClampMax {
		return errno.EINVAL
	}
	return nil
}

// RunScale executes every enabled Scale record against tbl. The
// multiplication is done in 64-bit and saturated to int32 bounds before the
// configured clamp is applied, so INT32_MAX inputs never wrap.
func RunScale(tbl *signal.Table, cfgs []Scale, nowUS uint64) {
	for _, c := range cfgs {
		if !c.Enabled {
			continue
		}
		in, ok := tbl.Get(c.Input)
		if !ok {
			continue
		}
		if _, ok := tbl.Get(c.Output); !ok {
			continue
		}
		wide := int64(in.Value)*int64(c.ScaleFactor)/1000 + int64(c.Offset)
		v := saturateInt32(wide)
		if c.HasClampMin && v < c.ClampMin {
			v = c.ClampMin
		}
		if c.HasClampMax && v > c.ClampMax {
			v = c.ClampMax
		}
		tbl.Write(c.Output, v, in.Status, nowUS)
	}
}

func saturateInt32(v int64) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}
