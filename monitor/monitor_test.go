// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package monitor

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lucid-q/signalengine/dtc"
	"github.com/lucid-q/signalengine/signal"
)

func TestRenderPlainTextHasNoEscapes(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf, false)
	rows := []Row{
		{Label: "TORQUE", Signal: signal.Signal{Value: 500, Status: signal.OK}},
		{Label: "COOLANT", Signal: signal.Signal{Value: 9000, Status: signal.OUT_OF_RANGE}},
	}
	if err := d.Render(rows, dtc.LampOn, true); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Contains(out, "\033") {
		t.Fatalf("plain-text render contains an ANSI escape: %q", out)
	}
	for _, want := range []string{"TORQUE:OK", "COOLANT:OUT_OF_RANGE", "MIL:ON", "PWR:LIMP"} {
		if !strings.Contains(out, want) {
			t.Errorf("render output missing %q, got %q", want, out)
		}
	}
}

func TestRenderColorHasEscapes(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf, true)
	rows := []Row{{Label: "X", Signal: signal.Signal{Status: signal.OK}}}
	if err := d.Render(rows, dtc.LampOff, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "\033") {
		t.Fatal("color render should contain ANSI escapes")
	}
}

func TestClosePlainAndColor(t *testing.T) {
	var buf bytes.Buffer
	if err := New(&buf, false).Close(); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "\033") {
		t.Fatal("plain Close should not emit escapes")
	}

	buf.Reset()
	if err := New(&buf, true).Close(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "\033") {
		t.Fatal("color Close should emit a reset escape")
	}
}

func TestMilText(t *testing.T) {
	cases := map[dtc.Lamp]string{
		dtc.LampOff:       "OFF",
		dtc.LampOn:        "ON",
		dtc.LampSlowFlash: "SLOW",
		dtc.LampFastFlash: "FAST",
	}
	for lamp, want := range cases {
		if got := milText(lamp); got != want {
			t.Errorf("milText(%v) = %q, want %q", lamp, got, want)
		}
	}
}
