// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package monitor implements a live terminal dashboard for a running engine:
// one colored block per watched signal (colored by signal.Status), plus the
// aggregated MIL lamp and limp-home state. A colorable writer is refreshed
// in place with a carriage return rather than scrolling, buffered so a
// refresh allocates nothing beyond the buffer's own growth.
package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"io"

	"github.com/maruel/ansi256"

	"github.com/lucid-q/signalengine/dtc"
	"github.com/lucid-q/signalengine/signal"
)

// statusColor maps a signal's health to an RGB swatch, green for healthy
// through red for faulted.
func statusColor(s signal.Status) color.NRGBA {
	switch s {
	case signal.OK:
		return color.NRGBA{R: 0, G: 200, B: 0, A: 255}
	case signal.DEGRADED, signal.INCONSISTENT:
		return color.NRGBA{R: 200, G: 160, B: 0, A: 255}
	default: // ERROR, TIMEOUT, OUT_OF_RANGE
		return color.NRGBA{R: 200, G: 0, B: 0, A: 255}
	}
}

// lampColor maps a J1939 lamp severity to an RGB swatch: off, amber,
// amber-flash, red-flash in increasing severity.
func lampColor(l dtc.Lamp) color.NRGBA {
	switch l {
	case dtc.LampOff:
		return color.NRGBA{R: 60, G: 60, B: 60, A: 255}
	case dtc.LampOn:
		return color.NRGBA{R: 200, G: 160, B: 0, A: 255}
	case dtc.LampSlowFlash:
		return color.NRGBA{R: 220, G: 120, B: 0, A: 255}
	default: // LampFastFlash
		return color.NRGBA{R: 220, G: 0, B: 0, A: 255}
	}
}

// Row is one watched signal's current state, as handed to Render.
type Row struct {
	Label  string
	Signal signal.Signal
}

// Dashboard renders Rows plus MIL/limp state to a terminal, one line
// refreshed in place per tick.
type Dashboard struct {
	w     io.Writer
	color bool
	buf   bytes.Buffer
}

// New returns a Dashboard writing to w. color gates ANSI escapes entirely:
// callers pass the result of isatty checking the underlying descriptor so a
// redirected-to-file or piped run gets plain text instead of escape codes.
func New(w io.Writer, color bool) *Dashboard {
	return &Dashboard{w: w, color: color}
}

// Render draws one dashboard frame: a labeled block per row, then the MIL
// lamp and limp-home indicator, refreshed over the previous frame.
func (d *Dashboard) Render(rows []Row, mil dtc.Lamp, limpActive bool) error {
	d.buf.Reset()
	if d.color {
		d.buf.WriteString("\r\033[0m")
	} else {
		d.buf.WriteString("\r")
	}
	for _, r := range rows {
		d.writeField(r.Label, statusColor(r.Signal.Status), r.Signal.Status.String())
	}
	d.writeField("MIL", lampColor(mil), milText(mil))
	limpText := "OK"
	limpSwatch := color.NRGBA{R: 0, G: 200, B: 0, A: 255}
	if limpActive {
		limpText = "LIMP"
		limpSwatch = color.NRGBA{R: 220, G: 120, B: 0, A: 255}
	}
	d.writeField("PWR", limpSwatch, limpText)
	if d.color {
		d.buf.WriteString("\033[0m ")
	} else {
		d.buf.WriteString(" ")
	}
	_, err := d.buf.WriteTo(d.w)
	return err
}

func (d *Dashboard) writeField(label string, swatch color.NRGBA, text string) {
	if d.color {
		io.WriteString(&d.buf, ansi256.Default.Block(swatch))
		fmt.Fprintf(&d.buf, "%s:%s ", label, text)
	} else {
		fmt.Fprintf(&d.buf, "[%s:%s] ", label, text)
	}
}

func milText(l dtc.Lamp) string {
	switch l {
	case dtc.LampOff:
		return "OFF"
	case dtc.LampOn:
		return "ON"
	case dtc.LampSlowFlash:
		return "SLOW"
	default:
		return "FAST"
	}
}

// Close clears the dashboard line, leaving the terminal in a clean state
// rather than mid-escape-sequence.
func (d *Dashboard) Close() error {
	if !d.color {
		_, err := d.w.Write([]byte("\n"))
		return err
	}
	_, err := d.w.Write([]byte("\n\033[0m"))
	return err
}
