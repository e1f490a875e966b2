// Copyright 2018 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package signal

import "testing"

// Ingest writes value+timestamp for every in-range event.
func TestIngestWritesValue(t *testing.T) {
	tbl := NewTable()
	tbl.Ingest([]Event{{SourceID: 3, Value: 42, Status: OK, TimestampUS: 100}})
	s, ok := tbl.Get(3)
	if !ok || s.Value != 42 || s.TimestampUS != 100 {
		t.Fatalf("Get(3) = %+v, %v", s, ok)
	}
}

func TestIngestInvalidSourceDropped(t *testing.T) {
	tbl := NewTable()
	tbl.Ingest([]Event{{SourceID: N + 5, Value: 1, TimestampUS: 1}})
	// Nothing should panic or corrupt in-range signals.
	s, _ := tbl.Get(0)
	if s.Value != 0 {
		t.Fatalf("unexpected mutation: %+v", s)
	}
}

func TestIngestUpdatedFlag(t *testing.T) {
	tbl := NewTable()
	tbl.Ingest([]Event{{SourceID: 1, Value: 5, TimestampUS: 1}})
	s, _ := tbl.Get(1)
	if !s.Updated {
		t.Fatal("first write should set Updated")
	}
	tbl.Ingest([]Event{{SourceID: 1, Value: 5, TimestampUS: 2}})
	s, _ = tbl.Get(1)
	if s.Updated {
		t.Fatal("same value should not set Updated")
	}
}

// Staleness transitions to TIMEOUT past threshold, is unchanged below it.
func TestApplyStalenessTransitionsOnThreshold(t *testing.T) {
	tbl := NewTable()
	tbl.Ingest([]Event{{SourceID: 0, Value: 1, Status: OK, TimestampUS: 1000}})
	s, _ := tbl.Get(0)
	s.StaleThresholdUS = 500
	tbl.Set(0, s)

	tbl.ApplyStaleness(1400) // delta 400 < 500
	if s, _ := tbl.Get(0); s.Status != OK {
		t.Fatalf("status = %v, want OK", s.Status)
	}
	tbl.ApplyStaleness(1600) // delta 600 > 500
	if s, _ := tbl.Get(0); s.Status != TIMEOUT {
		t.Fatalf("status = %v, want TIMEOUT", s.Status)
	}
}

// ApplyStaleness is idempotent for a repeated now.
func TestApplyStalenessIdempotent(t *testing.T) {
	tbl := NewTable()
	tbl.Ingest([]Event{{SourceID: 0, Value: 1, TimestampUS: 0}})
	s, _ := tbl.Get(0)
	s.StaleThresholdUS = 10
	tbl.Set(0, s)
	tbl.ApplyStaleness(100)
	first, _ := tbl.Get(0)
	tbl.ApplyStaleness(100)
	second, _ := tbl.Get(0)
	if first != second {
		t.Fatalf("ApplyStaleness not idempotent: %+v vs %+v", first, second)
	}
}

func TestRangeWatcherWakesSynchronously(t *testing.T) {
	tbl := NewTable()
	var woke bool
	tbl.SetRangeWatchers([]RangeWatcher{
		{InputSignal: 7, Min: 0, Max: 100, Wake: func(id uint32, v int32) { woke = true }},
	})
	tbl.Ingest([]Event{{SourceID: 7, Value: 200, TimestampUS: 1}})
	if !woke {
		t.Fatal("out-of-range ingest should wake the range watcher before Ingest returns")
	}
}
